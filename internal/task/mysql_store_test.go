package task

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"

	"TravelAgent-Chain/internal/agent"
	xerrors "TravelAgent-Chain/internal/errors"
)

// scriptDriver 按顺序返回预设结果并记录 SQL 与参数。
type scriptDriver struct {
	steps   []scriptStep
	idx     int
	queries []string
	args    [][]driver.NamedValue
}

type scriptStep struct {
	affected int64
	columns  []string
	rows     [][]driver.Value
	err      error
}

var scriptSeq atomic.Int32

func newScriptDB(t *testing.T, steps ...scriptStep) (*sql.DB, *scriptDriver) {
	t.Helper()
	drv := &scriptDriver{steps: steps}
	name := fmt.Sprintf("travelagent-task-%d", scriptSeq.Add(1))
	sql.Register(name, drv)
	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db, drv
}

func (d *scriptDriver) Open(string) (driver.Conn, error) { return &scriptConn{d: d}, nil }

func (d *scriptDriver) next(query string, args []driver.NamedValue) (scriptStep, error) {
	d.queries = append(d.queries, strings.Join(strings.Fields(query), " "))
	d.args = append(d.args, args)
	if d.idx >= len(d.steps) {
		return scriptStep{}, fmt.Errorf("unexpected statement: %s", query)
	}
	step := d.steps[d.idx]
	d.idx++
	return step, step.err
}

type scriptConn struct{ d *scriptDriver }

func (c *scriptConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}
func (c *scriptConn) Close() error              { return nil }
func (c *scriptConn) Begin() (driver.Tx, error) { return nil, errors.New("tx not supported") }

func (c *scriptConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	step, err := c.d.next(query, args)
	if err != nil {
		return nil, err
	}
	return driver.RowsAffected(step.affected), nil
}

func (c *scriptConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	step, err := c.d.next(query, args)
	if err != nil {
		return nil, err
	}
	return &scriptRows{columns: step.columns, values: step.rows}, nil
}

type scriptRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *scriptRows) Columns() []string { return r.columns }
func (r *scriptRows) Close() error      { return nil }
func (r *scriptRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

var runColumnNames = strings.Split(strings.ReplaceAll(runColumns, " ", ""), ",")

func runRow(id string, status Status, attempts, maxRetries int, result string) []driver.Value {
	var res driver.Value
	if result != "" {
		res = result
	}
	return []driver.Value{id, "weather in Paris", "0xref", `["hi"]`, string(status), int64(attempts), int64(maxRetries), nil, "", res, int64(100), int64(200)}
}

func fixedNow(s *MySQLStore) {
	s.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
}

func TestMySQLStoreCreate(t *testing.T) {
	db, drv := newScriptDB(t,
		scriptStep{affected: 1},
		scriptStep{err: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}},
	)
	store, err := NewMySQLStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	fixedNow(store)
	run := &Run{ID: "r1", Input: "weather in Paris", Referrer: "0xref", ChatHistory: []string{"hi"}, Status: StatusPending, MaxRetries: 3}
	if err := store.Create(context.Background(), run); err != nil {
		t.Fatalf("create: %v", err)
	}
	if run.CreatedAt != 1_700_000_000 || run.UpdatedAt != 1_700_000_000 {
		t.Fatalf("timestamps not stamped: %+v", run)
	}
	if !strings.HasPrefix(drv.queries[0], "INSERT INTO agent_runs") {
		t.Fatalf("unexpected query %s", drv.queries[0])
	}
	history, ok := drv.args[0][3].Value.(string)
	if !ok || history != `["hi"]` {
		t.Fatalf("chat history should be stored as JSON, got %#v", drv.args[0][3].Value)
	}
	if err := store.Create(context.Background(), run); !errors.Is(err, ErrRunConflict) {
		t.Fatalf("duplicate key should map to conflict, got %v", err)
	}
}

func TestMySQLStoreGetDecodesRow(t *testing.T) {
	db, _ := newScriptDB(t,
		scriptStep{columns: runColumnNames, rows: [][]driver.Value{runRow("r1", StatusSucceeded, 1, 3, `{"status":"success","response":"sunny","tool":"get_weather"}`)}},
		scriptStep{columns: runColumnNames},
	)
	store, _ := NewMySQLStore(db)
	run, err := store.Get(context.Background(), "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if run.Status != StatusSucceeded || run.Result == nil || run.Result.Tool != "get_weather" || len(run.ChatHistory) != 1 || run.LastError != "" {
		t.Fatalf("unexpected run %+v", run)
	}
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMySQLStoreClaimExhausted(t *testing.T) {
	db, drv := newScriptDB(t,
		scriptStep{affected: 0},
		scriptStep{columns: runColumnNames, rows: [][]driver.Value{runRow("r1", StatusFailed, 3, 3, "")}},
	)
	store, _ := NewMySQLStore(db)
	run, err := store.Claim(context.Background(), "r1")
	if !errors.Is(err, ErrRunExhausted) || run == nil || run.Attempts != 3 {
		t.Fatalf("expected exhausted, got %+v %v", run, err)
	}
	if !strings.Contains(drv.queries[0], "attempts < max_retries") {
		t.Fatalf("claim must guard retries: %s", drv.queries[0])
	}
}

func TestMySQLStoreMarkFailedTerminal(t *testing.T) {
	db, drv := newScriptDB(t, scriptStep{affected: 1}, scriptStep{affected: 0})
	store, _ := NewMySQLStore(db)
	outcome := agent.Outcome{Status: "error", ErrorCode: "UNKNOWN_TOOL"}
	if err := store.MarkFailed(context.Background(), "r1", xerrors.CodeUnknownTool, "unknown tool", &outcome, true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if !strings.Contains(drv.queries[0], "attempts = max_retries") {
		t.Fatalf("terminal failure should exhaust retries: %s", drv.queries[0])
	}
	if encoded, _ := drv.args[0][3].Value.(string); !strings.Contains(encoded, `"error_code":"UNKNOWN_TOOL"`) {
		t.Fatalf("outcome should be stored, got %#v", drv.args[0][3].Value)
	}
	if err := store.MarkFailed(context.Background(), "r2", xerrors.CodeStorageFailure, "x", nil, false); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMySQLStoreListBuildsFilters(t *testing.T) {
	db, drv := newScriptDB(t, scriptStep{columns: runColumnNames, rows: [][]driver.Value{
		runRow("r2", StatusFailed, 1, 3, ""),
		runRow("r1", StatusPending, 0, 3, ""),
	}})
	store, _ := NewMySQLStore(db)
	runs, err := store.List(context.Background(), BuildListOptions(WithStatuses(StatusPending, StatusFailed), WithReferrer("0xREF"), WithLimit(5)))
	if err != nil || len(runs) != 2 || runs[0].ID != "r2" {
		t.Fatalf("unexpected runs %v %v", ids(runs), err)
	}
	want := "SELECT " + runColumns + " FROM agent_runs WHERE status IN (?,?) AND LOWER(referrer_wallet) = LOWER(?) ORDER BY updated_at DESC, created_at DESC, id DESC LIMIT ? OFFSET ?"
	if drv.queries[0] != want {
		t.Fatalf("unexpected query:\n%s\nwant:\n%s", drv.queries[0], want)
	}
	if len(drv.args[0]) != 5 || drv.args[0][3].Value != int64(5) {
		t.Fatalf("unexpected args %v", drv.args[0])
	}
}
