package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/internal/ledger"
)

// reserveScript 在一次调用内完成余额检查、累加和追加记录。
var reserveScript = goredis.NewScript(`
local cap = tonumber(redis.call('GET', KEYS[3]) or ARGV[2])
local total = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
if cap - total < amount then
  return {0, cap - total, 0}
end
redis.call('INCRBY', KEYS[1], amount)
local seq = redis.call('INCR', KEYS[4])
local entry = cjson.decode(ARGV[3])
entry['seq'] = seq
redis.call('RPUSH', KEYS[2], cjson.encode(entry))
return {1, cap - total - amount, seq}
`)

var _ ledger.Ledger = (*Ledger)(nil)

// LedgerConfig 描述 Redis 账本的连接参数。
type LedgerConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
	Cap      float64
	Costs    ledger.Costs
}

// Ledger 是基于 Redis 的共享账本。
type Ledger struct {
	client     *goredis.Client
	keys       keySet
	defaultCap int64
	costs      ledger.Costs
	now        func() time.Time
}

type keySet struct {
	total, entries, cap, seq string
}

func newKeySet(prefix string) keySet {
	if prefix == "" {
		prefix = "travelagent:ledger"
	}
	tag := "{" + prefix + "}"
	return keySet{total: tag + ":total", entries: tag + ":entries", cap: tag + ":cap", seq: tag + ":seq"}
}

// NewLedger 连接 Redis 并创建账本。
func NewLedger(ctx context.Context, cfg LedgerConfig) (*Ledger, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Redis 失败")
	}
	return NewLedgerWithClient(client, cfg.Key, cfg.Cap, cfg.Costs), nil
}

// NewLedgerWithClient 使用已有客户端创建账本。
func NewLedgerWithClient(client *goredis.Client, key string, cap float64, costs ledger.Costs) *Ledger {
	if len(costs) == 0 {
		costs = ledger.DefaultCosts()
	}
	return &Ledger{client: client, keys: newKeySet(key), defaultCap: micros(cap), costs: costs, now: time.Now}
}

type storedEntry struct {
	Seq       int64          `json:"seq"`
	Category  string         `json:"tool"`
	Amount    int64          `json:"amount_micros"`
	Metadata  map[string]any `json:"meta,omitempty"`
	Timestamp int64          `json:"ts"`
}

// Reserve 原子地检查余额并记录消费。
func (l *Ledger) Reserve(ctx context.Context, category string, metadata map[string]any) (ledger.Entry, error) {
	cost, ok := l.costs.Of(category)
	if !ok {
		return ledger.Entry{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown cost category %q", category))
	}
	now := l.now().UTC()
	payload, err := json.Marshal(storedEntry{Category: category, Amount: micros(cost), Metadata: metadata, Timestamp: now.UnixMilli()})
	if err != nil {
		return ledger.Entry{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化账本记录失败")
	}

	res, err := reserveScript.Run(ctx, l.client,
		[]string{l.keys.total, l.keys.entries, l.keys.cap, l.keys.seq},
		micros(cost), l.defaultCap, string(payload)).Int64Slice()
	if err != nil {
		return ledger.Entry{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 记账失败")
	}
	if len(res) != 3 {
		return ledger.Entry{}, xerrors.New(xerrors.CodeStorageFailure, "Redis 记账返回格式异常")
	}
	if res[0] == 0 {
		return ledger.Entry{}, &ledger.BudgetError{Category: category, Cost: cost, Remaining: dollars(res[1])}
	}
	return ledger.Entry{Seq: res[2], Category: category, Amount: cost, Metadata: metadata, Timestamp: now}, nil
}

func (l *Ledger) capAndTotal(ctx context.Context) (int64, int64, error) {
	vals, err := l.client.MGet(ctx, l.keys.cap, l.keys.total).Result()
	if err != nil {
		return 0, 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 账本失败")
	}
	cap, total := l.defaultCap, int64(0)
	if s, ok := vals[0].(string); ok {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			cap = v
		}
	}
	if s, ok := vals[1].(string); ok {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			total = v
		}
	}
	return cap, total, nil
}

// Remaining 返回剩余额度。
func (l *Ledger) Remaining(ctx context.Context) (float64, error) {
	cap, total, err := l.capAndTotal(ctx)
	if err != nil {
		return 0, err
	}
	return dollars(cap - total), nil
}

// Summary 返回账本汇总。
func (l *Ledger) Summary(ctx context.Context) (ledger.Summary, error) {
	cap, total, err := l.capAndTotal(ctx)
	if err != nil {
		return ledger.Summary{}, err
	}
	count, err := l.client.LLen(ctx, l.keys.entries).Result()
	if err != nil {
		return ledger.Summary{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 账本失败")
	}
	return ledger.Summary{Cap: dollars(cap), Total: dollars(total), Remaining: dollars(cap - total), Count: int(count)}, nil
}

// History 返回最近的 limit 条记录；limit<=0 表示全部。
func (l *Ledger) History(ctx context.Context, limit int) ([]ledger.Entry, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := l.client.LRange(ctx, l.keys.entries, start, -1).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 账本失败")
	}
	out := make([]ledger.Entry, 0, len(raw))
	for _, item := range raw {
		var stored storedEntry
		if err := json.Unmarshal([]byte(item), &stored); err != nil {
			continue
		}
		out = append(out, stored.toEntry())
	}
	return out, nil
}

// SetCap 调整消费上限。
func (l *Ledger) SetCap(ctx context.Context, cap float64) error {
	if math.IsNaN(cap) || math.IsInf(cap, 0) || cap < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid spend cap %v", cap))
	}
	if err := l.client.Set(ctx, l.keys.cap, micros(cap), 0).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Redis 账本失败")
	}
	return nil
}

// Close 关闭 Redis 连接。
func (l *Ledger) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}

func (s storedEntry) toEntry() ledger.Entry {
	return ledger.Entry{
		Seq:       s.Seq,
		Category:  s.Category,
		Amount:    dollars(s.Amount),
		Metadata:  s.Metadata,
		Timestamp: time.UnixMilli(s.Timestamp).UTC(),
	}
}

func micros(v float64) int64 { return int64(math.Round(v * 1e6)) }

func dollars(v int64) float64 { return float64(v) / 1e6 }
