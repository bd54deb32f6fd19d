package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"TravelAgent-Chain/internal/ledger"
	"TravelAgent-Chain/internal/llm"
	"TravelAgent-Chain/internal/llm/offline"
	"TravelAgent-Chain/internal/payment"
	"TravelAgent-Chain/internal/referral"
	"TravelAgent-Chain/internal/storage/ipfs"
	"TravelAgent-Chain/internal/storage/mysql"
	"TravelAgent-Chain/internal/tool"
	"TravelAgent-Chain/internal/travel"
)

// scriptedLLM 在规划阶段依次返回预设回复，在合成阶段回显工具结果。
type scriptedLLM struct {
	mu       sync.Mutex
	replies  []*llm.Response
	planErr  error
	synthErr error
	requests []llm.Request
}

func (s *scriptedLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if msg, ok := llm.LastOf(req.Messages, llm.RoleTool); ok {
		if s.synthErr != nil {
			return nil, s.synthErr
		}
		return &llm.Response{Content: "Summary: " + msg.Content}, nil
	}
	if s.planErr != nil {
		return nil, s.planErr
	}
	if len(s.replies) == 0 {
		return &llm.Response{}, nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type failingStore struct{ *ipfs.MemoryStore }

func (failingStore) Store(context.Context, map[string]any) (string, error) {
	return "", errors.New("pinata unavailable")
}

func (failingStore) Mode() string { return "live" }

type countingObserver struct {
	mu      sync.Mutex
	runs    map[string]int
	tools   map[string]int
	denials map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{runs: map[string]int{}, tools: map[string]int{}, denials: map[string]int{}}
}

func (o *countingObserver) ObserveRun(status string, _ time.Duration) {
	o.mu.Lock()
	o.runs[status]++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveTool(name, status string, _ time.Duration) {
	o.mu.Lock()
	o.tools[name+"/"+status]++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveDenial(category string) {
	o.mu.Lock()
	o.denials[category]++
	o.mu.Unlock()
}

type fixture struct {
	agent    *Agent
	llm      llm.Client
	ledger   *ledger.MemoryLedger
	store    *ipfs.MemoryStore
	rail     *payment.DemoRail
	index    *mysql.MemoryReferralIndex
	registry *tool.Registry
	observer *countingObserver
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	llm     llm.Client
	cap     float64
	content ipfs.Store
	extra   []tool.Tool
}

func withLLM(c llm.Client) fixtureOption        { return func(f *fixtureConfig) { f.llm = c } }
func withCap(cap float64) fixtureOption         { return func(f *fixtureConfig) { f.cap = cap } }
func withContent(s ipfs.Store) fixtureOption    { return func(f *fixtureConfig) { f.content = s } }
func withTools(tools ...tool.Tool) fixtureOption { return func(f *fixtureConfig) { f.extra = tools } }

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{llm: offline.New(), cap: ledger.DefaultCap}
	for _, opt := range opts {
		opt(&cfg)
	}
	store := ipfs.NewMemoryStore()
	var content ipfs.Store = store
	if cfg.content != nil {
		content = cfg.content
	}
	bookings, err := mysql.NewMemoryBookingRepository("")
	if err != nil {
		t.Fatalf("bookings: %v", err)
	}
	index, err := mysql.NewMemoryReferralIndex("")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	rail := &payment.DemoRail{}
	referrals := referral.NewService(store, index, nil)
	services := travel.Services{
		Weather:   travel.NewWeatherClient(travel.WeatherConfig{}),
		Search:    travel.NewSearch(nil),
		Desk:      travel.NewDesk(bookings),
		Payments:  payment.NewService(rail, payment.Config{}, nil),
		Wallet:    payment.NewWallet(payment.DemoBalances{Address: "0xagent"}, 0),
		Content:   content,
		Referrals: referrals,
	}
	registry := tool.NewRegistry()
	registry.MustRegister(travel.Tools(services)...)
	registry.MustRegister(cfg.extra...)
	registry.Freeze()

	led := ledger.NewMemoryLedger(cfg.cap, nil)
	obs := newCountingObserver()
	ag, err := New(Deps{Registry: registry, Ledger: led, LLM: cfg.llm, Content: content, Referrals: referrals}, WithObserver(obs))
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	return &fixture{agent: ag, llm: cfg.llm, ledger: led, store: store, rail: rail, index: index, registry: registry, observer: obs}
}
