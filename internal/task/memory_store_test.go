package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"TravelAgent-Chain/internal/agent"
	xerrors "TravelAgent-Chain/internal/errors"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	run := &Run{ID: "r1", Input: "weather in Paris", ChatHistory: []string{"hi"}, Status: StatusPending, MaxRetries: 2}
	if err := store.Create(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, run); !errors.Is(err, ErrRunConflict) {
		t.Fatalf("duplicate create should conflict, got %v", err)
	}

	claimed, err := store.Claim(ctx, "r1")
	if err != nil || claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("claim: %+v %v", claimed, err)
	}
	if _, err := store.Claim(ctx, "r1"); !errors.Is(err, ErrRunConflict) {
		t.Fatalf("running run should not be claimed twice, got %v", err)
	}

	if err := store.MarkFailed(ctx, "r1", xerrors.CodeStorageFailure, "disk full", nil, false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "r1"); err != nil {
		t.Fatalf("retryable failure should be claimable: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "r1", agent.Outcome{Status: "success", Response: "sunny", Warnings: []string{"w"}}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if _, err := store.Claim(ctx, "r1"); !errors.Is(err, ErrRunCompleted) {
		t.Fatalf("completed run should not be claimed, got %v", err)
	}

	got, err := store.Get(ctx, "r1")
	if err != nil || got.Result == nil || got.Result.Response != "sunny" || !got.Terminal() {
		t.Fatalf("unexpected run %+v %v", got, err)
	}
	got.ChatHistory[0] = "mutated"
	got.Result.Warnings[0] = "mutated"
	again, _ := store.Get(ctx, "r1")
	if again.ChatHistory[0] != "hi" || again.Result.Warnings[0] != "w" {
		t.Fatalf("store should return copies")
	}
	if _, err := store.Get(ctx, "missing"); !IsRunError(err, CodeRunNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreTerminalFailureExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Create(ctx, &Run{ID: "r1", Input: "x", Status: StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Claim(ctx, "r1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	outcome := agent.Outcome{Status: "error", Response: "Error: Unknown tool 'x'", ErrorCode: "UNKNOWN_TOOL"}
	if err := store.MarkFailed(ctx, "r1", xerrors.CodeUnknownTool, "unknown tool", &outcome, true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	run, _ := store.Get(ctx, "r1")
	if !run.Terminal() || run.Attempts != 3 || run.Result == nil || run.ErrorCode != "UNKNOWN_TOOL" {
		t.Fatalf("unexpected run %+v", run)
	}
	if _, err := store.Claim(ctx, "r1"); !errors.Is(err, ErrRunExhausted) {
		t.Fatalf("terminal run should be exhausted, got %v", err)
	}
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"r1", "r2", "r3", "r4"} {
		stamp := base.Add(time.Duration(i) * time.Minute)
		store.now = func() time.Time { return stamp }
		referrer := ""
		if i%2 == 1 {
			referrer = "0xABC"
		}
		if err := store.Create(ctx, &Run{ID: id, Input: id, Referrer: referrer, Status: StatusPending, MaxRetries: 3}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	store.now = func() time.Time { return base.Add(10 * time.Minute) }
	if err := store.MarkSucceeded(ctx, "r2", agent.Outcome{Status: "success"}); err != nil {
		t.Fatalf("mark: %v", err)
	}

	all, err := store.List(ctx, BuildListOptions())
	if err != nil || len(all) != 4 || all[0].ID != "r2" || all[1].ID != "r4" {
		t.Fatalf("unexpected order %v %v", ids(all), err)
	}
	asc, _ := store.List(ctx, BuildListOptions(WithSortOrder(SortByUpdatedAsc), WithLimit(2)))
	if len(asc) != 2 || asc[0].ID != "r1" || asc[1].ID != "r3" {
		t.Fatalf("unexpected ascending page %v", ids(asc))
	}
	page, _ := store.List(ctx, BuildListOptions(WithOffset(3)))
	if len(page) != 1 || page[0].ID != "r1" {
		t.Fatalf("unexpected offset page %v", ids(page))
	}
	succeeded, _ := store.List(ctx, BuildListOptions(WithStatuses(StatusSucceeded, "bogus")))
	if len(succeeded) != 1 || succeeded[0].ID != "r2" {
		t.Fatalf("unexpected status filter %v", ids(succeeded))
	}
	referred, _ := store.List(ctx, BuildListOptions(WithReferrer("0xabc")))
	if len(referred) != 2 {
		t.Fatalf("referrer filter should be case-insensitive: %v", ids(referred))
	}
	recent, _ := store.List(ctx, BuildListOptions(WithUpdatedSince(base.Add(2*time.Minute))))
	if len(recent) != 3 {
		t.Fatalf("unexpected updated filter %v", ids(recent))
	}

	stats, err := store.Stats(ctx, BuildListOptions())
	if err != nil || stats.Total != 4 || stats.Pending != 3 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats %+v %v", stats, err)
	}
	if stats.OldestUpdatedAt != base.Unix() || stats.NewestUpdatedAt != base.Add(10*time.Minute).Unix() {
		t.Fatalf("unexpected stats range %+v", stats)
	}
}

func TestBuildListOptionsClampsLimit(t *testing.T) {
	if opts := BuildListOptions(WithLimit(1000), WithOffset(-5)); opts.Limit != MaxListLimit || opts.Offset != 0 {
		t.Fatalf("unexpected options %+v", opts)
	}
	if opts := BuildListOptions(); opts.Limit != DefaultListLimit || opts.Order != SortByUpdatedDesc {
		t.Fatalf("unexpected defaults %+v", opts)
	}
}

func ids(runs []*Run) []string {
	out := make([]string, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.ID)
	}
	return out
}
