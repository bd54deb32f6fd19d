package mysql

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	mysqldriver "github.com/go-sql-driver/mysql"

	xerrors "TravelAgent-Chain/internal/errors"
)

func TestMemoryBookingRepositoryLifecycle(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	repo, err := NewMemoryBookingRepository(dir)
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	ctx := context.Background()

	record := &BookingRecord{ID: "TRV-1A2B3C4D", FlightID: "FL-1", PassengerName: "Ada", PassengerEmail: "ada@example.com"}
	if err := repo.Create(ctx, record); err != nil {
		t.Fatalf("create: %v", err)
	}
	if record.Status != BookingPending || record.PaymentStatus != PaymentPending || record.PaymentAmount != 0.10 || record.PaymentCurrency != "USDC" {
		t.Fatalf("defaults not applied: %+v", record)
	}
	if err := repo.Create(ctx, record); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	updated, err := repo.UpdateStatus(ctx, record.ID, BookingUpdate{Status: BookingConfirmed, PaymentStatus: PaymentCompleted, TxHash: "0xabc"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != BookingConfirmed || updated.TxHash != "0xabc" || updated.PassengerName != "Ada" {
		t.Fatalf("unexpected update result %+v", updated)
	}
	if _, err := repo.UpdateStatus(ctx, record.ID, BookingUpdate{Status: "lost"}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("invalid status should be rejected, got %v", err)
	}
	if _, err := repo.GetByID(ctx, "TRV-MISSING"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	reopened, err := NewMemoryBookingRepository(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	restored, err := reopened.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("restored get: %v", err)
	}
	if restored.Status != BookingConfirmed || restored.PaymentStatus != PaymentCompleted {
		t.Fatalf("journal replay should keep the latest state: %+v", restored)
	}
}

func TestMemoryPlanRepositoryListByWallet(t *testing.T) {
	t.Parallel()
	repo, err := NewMemoryPlanRepository("")
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	ctx := context.Background()
	for i, id := range []string{"p1", "p2", "p3"} {
		wallet := "0xAbC"
		if id == "p3" {
			wallet = "0xother"
		}
		rec := &PlanRecord{ID: id, UserWallet: wallet, Destination: "Paris", Budget: 1000, CreatedAt: int64(10 + i)}
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	list, err := repo.ListByWallet(ctx, "0xabc", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "p2" || string(list[0].PlanData) != "{}" {
		t.Fatalf("unexpected list %+v", list)
	}

	if _, err := repo.UpdateStatus(ctx, "p1", PlanConfirmed); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := repo.UpdateStatus(ctx, "missing", PlanConfirmed); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	bad := &PlanRecord{ID: "p4", Destination: "Rome", PlanData: json.RawMessage("{oops")}
	if err := repo.Create(ctx, bad); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("invalid plan data should be rejected, got %v", err)
	}
}

func TestMemoryReferralIndexMatchesEitherSide(t *testing.T) {
	t.Parallel()
	idx, err := NewMemoryReferralIndex(t.TempDir())
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	ctx := context.Background()
	if err := idx.Add(ctx, ReferralIndexRecord{CID: "QmA", ReferrerWallet: "0xREF", RefereeWallet: "0xbuyer"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := idx.Add(ctx, ReferralIndexRecord{CID: "QmB", ReferrerWallet: "0xbuyer", RefereeWallet: "0xsomeone"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := idx.Add(ctx, ReferralIndexRecord{CID: "QmA"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate cid should conflict, got %v", err)
	}

	got, _ := idx.ListByWallet(ctx, "0xBUYER")
	if len(got) != 2 || got[0].CID != "QmA" || got[1].CID != "QmB" {
		t.Fatalf("unexpected matches %+v", got)
	}
	got, _ = idx.ListByWallet(ctx, "0xref")
	if len(got) != 1 {
		t.Fatalf("referrer lookup should be case-insensitive: %+v", got)
	}
}

func bookingRow(status string) mockRowsData {
	return mockRowsData{
		columns: []string{"id", "flight_id", "passenger_name", "passenger_email", "payment_method", "payment_amount", "payment_currency", "status", "payment_status", "plan_id", "tx_hash", "created_at", "updated_at"},
		values:  [][]driver.Value{{"TRV-00FF00FF", "FL-9", "Lin", "lin@example.com", "crypto", 0.1, "USDC", status, "completed", "", "0xfeed", int64(1), int64(2)}},
	}
}

func TestSQLBookingRepository(t *testing.T) {
	t.Parallel()

	insert := "INSERT INTO bookings (" + bookingColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	selectByID := "SELECT " + bookingColumns + " FROM bookings WHERE id = ?"
	update := `UPDATE bookings SET status = COALESCE(NULLIF(?, ''), status),
    payment_status = COALESCE(NULLIF(?, ''), payment_status),
    tx_hash = COALESCE(NULLIF(?, ''), tx_hash), updated_at = ? WHERE id = ?`

	db, drv := newMockDB(t, []mockOperation{
		execOp(insert, mockResult{rowsAffected: 1}),
		failingExecOp(insert, &mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry"}),
		execOp(update, mockResult{rowsAffected: 1}),
		queryOp(selectByID, bookingRow(BookingConfirmed)),
		queryOp(selectByID, mockRowsData{columns: bookingRow("").columns}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := NewSQLBookingRepository(db)
	ctx := context.Background()
	rec := &BookingRecord{ID: "TRV-00FF00FF", FlightID: "FL-9", PassengerName: "Lin", PassengerEmail: "lin@example.com"}
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if drv.argAt(0, 6) != "USDC" {
		t.Fatalf("currency default not sent: %v", drv.argAt(0, 6))
	}
	if err := repo.Create(ctx, rec); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, err := repo.UpdateStatus(ctx, rec.ID, BookingUpdate{Status: BookingConfirmed, PaymentStatus: PaymentCompleted, TxHash: "0xfeed"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Status != BookingConfirmed || got.TxHash != "0xfeed" || got.PaymentAmount != 0.1 {
		t.Fatalf("unexpected booking %+v", got)
	}

	if _, err := repo.GetByID(ctx, "TRV-NOPE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSQLPlanRepository(t *testing.T) {
	t.Parallel()

	columns := []string{"id", "user_wallet", "destination", "budget", "plan_data", "status", "ipfs_hash", "created_at", "updated_at"}
	db, drv := newMockDB(t, []mockOperation{
		execOp("INSERT INTO travel_plans ("+planColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", mockResult{rowsAffected: 1}),
		queryOp("SELECT "+planColumns+" FROM travel_plans WHERE user_wallet = ? ORDER BY created_at DESC, id DESC LIMIT ?", mockRowsData{
			columns: columns,
			values: [][]driver.Value{
				{"plan-2", "0xabc", "Tokyo", int64(2000), `{"days":3}`, "generated", "QmPlan", int64(20), int64(20)},
				{"plan-1", "0xabc", "Paris", int64(1000), `{}`, "confirmed", "", int64(10), int64(11)},
			},
		}),
		execOp("UPDATE travel_plans SET status = ?, updated_at = ? WHERE id = ?", mockResult{rowsAffected: 1}),
		queryOp("SELECT "+planColumns+" FROM travel_plans WHERE id = ?", mockRowsData{
			columns: columns,
			values:  [][]driver.Value{{"plan-2", "0xabc", "Tokyo", int64(2000), `{"days":3}`, "cancelled", "QmPlan", int64(20), int64(30)}},
		}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := NewSQLPlanRepository(db)
	ctx := context.Background()
	if err := repo.Create(ctx, &PlanRecord{ID: "plan-2", UserWallet: "0xABC", Destination: "Tokyo", Budget: 2000, PlanData: json.RawMessage(`{"days":3}`)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if drv.argAt(0, 1) != "0xabc" {
		t.Fatalf("wallet should be stored lower-case, got %v", drv.argAt(0, 1))
	}

	list, err := repo.ListByWallet(ctx, "0xABC", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "plan-2" || string(list[0].PlanData) != `{"days":3}` {
		t.Fatalf("unexpected list %+v", list)
	}
	if drv.argAt(1, 1) != int64(20) {
		t.Fatalf("default limit should be 20, got %v", drv.argAt(1, 1))
	}

	plan, err := repo.UpdateStatus(ctx, "plan-2", PlanCancelled)
	if err != nil || plan.Status != PlanCancelled {
		t.Fatalf("update: %+v %v", plan, err)
	}
	if _, err := repo.UpdateStatus(ctx, "plan-2", "archived"); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("invalid status should be rejected before SQL, got %v", err)
	}
}

func TestSQLReferralIndex(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp("INSERT INTO referral_index (cid, referrer_wallet, referee_wallet, created_at) VALUES (?, ?, ?, ?)", mockResult{lastInsertID: 1, rowsAffected: 1}),
		queryOp("SELECT cid, referrer_wallet, referee_wallet, created_at FROM referral_index WHERE referrer_wallet = ? OR referee_wallet = ? ORDER BY id ASC", mockRowsData{
			columns: []string{"cid", "referrer_wallet", "referee_wallet", "created_at"},
			values:  [][]driver.Value{{"QmRef", "0xref", "0xbuyer", int64(5)}},
		}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	idx := NewSQLReferralIndex(db)
	if err := idx.Add(context.Background(), ReferralIndexRecord{CID: "QmRef", ReferrerWallet: "0xREF", RefereeWallet: "0xBuyer"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if drv.argAt(0, 1) != "0xref" || drv.argAt(0, 2) != "0xbuyer" {
		t.Fatalf("wallets should be normalized: %v %v", drv.argAt(0, 1), drv.argAt(0, 2))
	}
	got, err := idx.ListByWallet(context.Background(), "0xBUYER")
	if err != nil || len(got) != 1 || got[0].CID != "QmRef" {
		t.Fatalf("unexpected lookup %+v %v", got, err)
	}
}

const schemaVersionsDDL = `CREATE TABLE IF NOT EXISTS travel_schema_versions (
        version INT NOT NULL PRIMARY KEY,
        name VARCHAR(255) NOT NULL,
        checksum CHAR(64) NOT NULL,
        applied_at BIGINT NOT NULL
)`

func TestMigrateSchemaAppliesPendingSteps(t *testing.T) {
	t.Parallel()

	steps, err := loadSchemaSteps(embeddedSchema)
	if err != nil {
		t.Fatalf("load steps: %v", err)
	}
	if len(steps) != 4 || steps[0].version != 1 || steps[3].version != 4 {
		t.Fatalf("unexpected step set %+v", steps)
	}
	if len(steps[3].tables) != 1 || steps[3].tables[0] != "agent_runs" {
		t.Fatalf("step 4 should create agent_runs, got %v", steps[3].tables)
	}

	ops := []mockOperation{
		execOp(schemaVersionsDDL, mockResult{}),
		queryOp(`SELECT version, checksum FROM travel_schema_versions`, mockRowsData{
			columns: []string{"version", "checksum"},
			values:  [][]driver.Value{{int64(1), steps[0].checksum}},
		}),
	}
	for _, step := range steps[1:] {
		ops = append(ops, beginOp())
		for _, stmt := range step.statements {
			ops = append(ops, execOp(stmt, mockResult{}))
		}
		ops = append(ops,
			execOp(`INSERT INTO travel_schema_versions (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)`, mockResult{rowsAffected: 1}),
			commitOp(),
		)
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := migrateSchema(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if drv.argAt(3, 1) != "0002_create_plans.sql" {
		t.Fatalf("step name should be recorded, got %v", drv.argAt(3, 1))
	}
}

func TestMigrateSchemaRejectsEditedStep(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(schemaVersionsDDL, mockResult{}),
		queryOp(`SELECT version, checksum FROM travel_schema_versions`, mockRowsData{
			columns: []string{"version", "checksum"},
			values:  [][]driver.Value{{int64(1), "stale"}},
		}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	err := migrateSchema(context.Background(), db)
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure || !strings.Contains(err.Error(), "0001_create_bookings.sql") {
		t.Fatalf("edited step should be rejected, got %v", err)
	}
}

func TestLoadSchemaStepsOrdersNumerically(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"10_create_agent_runs.sql": {Data: []byte("CREATE TABLE IF NOT EXISTS agent_runs (id INT);")},
		"2_create_plans.sql":       {Data: []byte("-- 行程表; 注释中的分号不应切分\nCREATE TABLE travel_plans (id INT);\nCREATE TABLE IF NOT EXISTS `referral_index` (id INT);")},
		"1_create_bookings.sql":    {Data: []byte("CREATE TABLE IF NOT EXISTS bookings (id INT);")},
		"README.md":                {Data: []byte("not a migration")},
	}
	steps, err := loadSchemaSteps(fsys)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(steps) != 3 || steps[0].version != 1 || steps[1].version != 2 || steps[2].version != 10 {
		t.Fatalf("steps should sort by number, got %+v", steps)
	}
	if len(steps[1].statements) != 2 || strings.Join(steps[1].tables, ",") != "travel_plans,referral_index" {
		t.Fatalf("comment lines should be dropped, got %+v", steps[1])
	}
}

func TestLoadSchemaStepsRejectsBrokenSets(t *testing.T) {
	t.Parallel()

	full := func() fstest.MapFS {
		return fstest.MapFS{
			"0001_bookings.sql":  {Data: []byte("CREATE TABLE bookings (id INT)")},
			"0002_plans.sql":     {Data: []byte("CREATE TABLE travel_plans (id INT)")},
			"0003_referrals.sql": {Data: []byte("CREATE TABLE referral_index (id INT)")},
			"0004_runs.sql":      {Data: []byte("CREATE TABLE agent_runs (id INT)")},
		}
	}
	cases := map[string]func(fstest.MapFS){
		"missing table":     func(f fstest.MapFS) { delete(f, "0004_runs.sql") },
		"duplicate version": func(f fstest.MapFS) { f["04_more.sql"] = &fstest.MapFile{Data: []byte("SELECT 1")} },
		"no version":        func(f fstest.MapFS) { f["latest.sql"] = &fstest.MapFile{Data: []byte("SELECT 1")} },
	}
	for name, mutate := range cases {
		fsys := full()
		mutate(fsys)
		if _, err := loadSchemaSteps(fsys); xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
			t.Fatalf("%s: expected storage failure, got %v", name, err)
		}
	}
	if _, err := loadSchemaSteps(full()); err != nil {
		t.Fatalf("complete set should load: %v", err)
	}
}

func TestFailedMigrationRollsBack(t *testing.T) {
	t.Parallel()

	steps, err := loadSchemaSteps(embeddedSchema)
	if err != nil {
		t.Fatalf("load steps: %v", err)
	}
	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		failingExecOp(steps[0].statements[0], errors.New("syntax error")),
		rollbackOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	err = applyStep(context.Background(), db, steps[0])
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
}
