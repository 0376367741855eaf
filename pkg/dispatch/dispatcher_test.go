package dispatch

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/linetools/linecheck/pkg/client"
	"github.com/linetools/linecheck/pkg/progress"
	"github.com/linetools/linecheck/pkg/session"
)

// stubCaller is a scriptable Caller for engine tests.
type stubCaller struct {
	mu      sync.Mutex
	calls   map[string]int
	fail    map[string]bool
	panicOn map[string]bool
}

func newStubCaller(failing ...string) *stubCaller {
	fail := make(map[string]bool)
	for _, item := range failing {
		fail[item] = true
	}
	return &stubCaller{
		calls:   make(map[string]int),
		fail:    fail,
		panicOn: make(map[string]bool),
	}
}

func (s *stubCaller) Check(ctx context.Context, item string, cred session.Credential) client.Result {
	s.mu.Lock()
	s.calls[item]++
	shouldPanic := s.panicOn[item]
	shouldFail := s.fail[item]
	s.mu.Unlock()

	if shouldPanic {
		panic("stub caller panic for " + item)
	}
	if shouldFail {
		return client.Result{Username: item}
	}
	return client.Result{
		Username: item,
		Response: json.RawMessage(`[{"status": "ok"}]`),
	}
}

func (s *stubCaller) callCount(item string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[item]
}

func newTestDispatcher(t *testing.T, caller Caller, cfg Config) (*Dispatcher, *progress.Tracker) {
	t.Helper()

	tracker := progress.NewTracker(filepath.Join(t.TempDir(), "progress.json"), zerolog.Nop())

	d, err := New(caller, tracker, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create dispatcher: %v", err)
	}
	return d, tracker
}

func sortedUsernames(results []client.Result) []string {
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Username)
	}
	sort.Strings(names)
	return names
}

func TestNew_Validation(t *testing.T) {
	tracker := progress.NewTracker(filepath.Join(t.TempDir(), "progress.json"), zerolog.Nop())
	caller := newStubCaller()

	valid := Config{BatchSize: 2, BatchWorkers: 1, ItemWorkers: 1, SaveInterval: 10}

	tests := []struct {
		name    string
		caller  Caller
		tracker *progress.Tracker
		mutate  func(*Config)
	}{
		{name: "nil caller", tracker: tracker, mutate: func(c *Config) {}},
		{name: "nil tracker", caller: caller, mutate: func(c *Config) {}},
		{name: "zero batch size", caller: caller, tracker: tracker, mutate: func(c *Config) { c.BatchSize = 0 }},
		{name: "zero batch workers", caller: caller, tracker: tracker, mutate: func(c *Config) { c.BatchWorkers = 0 }},
		{name: "zero item workers", caller: caller, tracker: tracker, mutate: func(c *Config) { c.ItemWorkers = 0 }},
		{name: "zero save interval", caller: caller, tracker: tracker, mutate: func(c *Config) { c.SaveInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if _, err := New(tt.caller, tt.tracker, cfg, zerolog.Nop()); err == nil {
				t.Error("Expected error but got nil")
			}
		})
	}

	if _, err := New(caller, tracker, valid, zerolog.Nop()); err != nil {
		t.Errorf("Unexpected error for valid config: %v", err)
	}
}

// Work list a,b,c,d with batch size 2 and single workers: b always fails,
// lands in the failed set, and stays terminally failed after a retry pass
// against a still-failing caller.
func TestDispatch_EndToEnd(t *testing.T) {
	caller := newStubCaller("b")
	d, _ := newTestDispatcher(t, caller, Config{
		BatchSize:    2,
		BatchWorkers: 1,
		ItemWorkers:  1,
		SaveInterval: 100,
	})

	cred := session.Credential{"session": "abc"}
	successes, failed := d.Dispatch(context.Background(), []string{"a", "b", "c", "d"}, cred)

	if got := sortedUsernames(successes); len(got) != 3 || got[0] != "a" || got[1] != "c" || got[2] != "d" {
		t.Errorf("Successes = %v, want [a c d]", got)
	}
	for _, res := range successes {
		if res.Failed() {
			t.Errorf("Success entry %s has no payload", res.Username)
		}
	}
	if len(failed) != 1 || failed[0] != "b" {
		t.Fatalf("Failed = %v, want [b]", failed)
	}

	recovered, stillFailed := d.RetryFailed(context.Background(), failed, cred)
	if len(recovered) != 0 {
		t.Errorf("Recovered = %v, want empty (caller still failing)", sortedUsernames(recovered))
	}
	if len(stillFailed) != 1 || stillFailed[0] != "b" {
		t.Errorf("Still failed = %v, want [b]", stillFailed)
	}
}

// Every item entering the dispatcher ends up in exactly one of the success
// or failed sets, across batch boundaries and parallel runners.
func TestDispatch_CompleteCoverage(t *testing.T) {
	items := make([]string, 53)
	for i := range items {
		items[i] = string(rune('a'+i%26)) + string(rune('0'+i/26))
	}

	caller := newStubCaller(items[3], items[17], items[40])
	d, _ := newTestDispatcher(t, caller, Config{
		BatchSize:    7,
		BatchWorkers: 3,
		ItemWorkers:  4,
		SaveInterval: 10,
	})

	successes, failed := d.Dispatch(context.Background(), items, session.Credential{"c": "v"})

	if len(successes)+len(failed) != len(items) {
		t.Fatalf("successes(%d) + failed(%d) != items(%d)", len(successes), len(failed), len(items))
	}

	seen := make(map[string]int)
	for _, res := range successes {
		seen[res.Username]++
	}
	for _, item := range failed {
		seen[item]++
	}
	for _, item := range items {
		if seen[item] != 1 {
			t.Errorf("Item %s seen %d times across result sets, want exactly once", item, seen[item])
		}
	}
	if len(failed) != 3 {
		t.Errorf("Failed count = %d, want 3", len(failed))
	}
}

// A checkpoint whose last entry matches position i means re-dispatch only
// touches items at positions > i.
func TestDispatch_Resume(t *testing.T) {
	caller := newStubCaller()
	d, tracker := newTestDispatcher(t, caller, Config{
		BatchSize:    2,
		BatchWorkers: 1,
		ItemWorkers:  1,
		SaveInterval: 100,
	})

	checkpointed := []client.Result{
		{Username: "a", Response: json.RawMessage(`[{"status": "ok"}]`)},
		{Username: "b", Response: json.RawMessage(`[{"status": "ok"}]`)},
	}
	if err := tracker.Checkpoint(checkpointed); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}

	successes, failed := d.Dispatch(context.Background(), []string{"a", "b", "c", "d"}, session.Credential{})

	if len(failed) != 0 {
		t.Fatalf("Failed = %v, want empty", failed)
	}
	if got := sortedUsernames(successes); len(got) != 2 || got[0] != "c" || got[1] != "d" {
		t.Errorf("Successes = %v, want [c d]", got)
	}
	for _, item := range []string{"a", "b"} {
		if n := caller.callCount(item); n != 0 {
			t.Errorf("Item %s called %d times after resume, want 0", item, n)
		}
	}
}

// A panicking call is isolated to its item: the item is failed, siblings
// in the same batch still succeed.
func TestDispatch_PanicIsolation(t *testing.T) {
	caller := newStubCaller()
	caller.panicOn["c"] = true

	d, _ := newTestDispatcher(t, caller, Config{
		BatchSize:    2,
		BatchWorkers: 2,
		ItemWorkers:  2,
		SaveInterval: 100,
	})

	successes, failed := d.Dispatch(context.Background(), []string{"a", "b", "c", "d"}, session.Credential{})

	if len(failed) != 1 || failed[0] != "c" {
		t.Fatalf("Failed = %v, want [c]", failed)
	}
	if got := sortedUsernames(successes); len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "d" {
		t.Errorf("Successes = %v, want [a b d]", got)
	}
}

func TestDispatch_ChecksCheckpointCadence(t *testing.T) {
	caller := newStubCaller()
	d, tracker := newTestDispatcher(t, caller, Config{
		BatchSize:    2,
		BatchWorkers: 1,
		ItemWorkers:  1,
		SaveInterval: 2,
	})

	items := []string{"a", "b", "c", "d", "e"}
	successes, _ := d.Dispatch(context.Background(), items, session.Credential{})

	if len(successes) != 5 {
		t.Fatalf("Successes = %d, want 5", len(successes))
	}

	// The save interval fired at least once, so a restart resumes past
	// the checkpointed tail.
	loaded := tracker.Load()
	if len(loaded) == 0 {
		t.Fatal("Expected a checkpoint to have been written")
	}
	offset := tracker.ResumeOffset(items, loaded)
	if offset == 0 {
		t.Errorf("Resume offset = 0, want > 0 after checkpointed successes")
	}
}

// Cancellation must not drop items: everything still queued comes back as
// a failed result so it reaches the failed set and the retry pass.
func TestRunner_CancelledContextFailsRemainingItems(t *testing.T) {
	caller := newStubCaller()
	runner := NewRunner(caller, 2, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := []string{"a", "b", "c", "d", "e"}
	results := runner.Run(ctx, items, session.Credential{})

	if len(results) != len(items) {
		t.Fatalf("Result count = %d, want %d (one per item)", len(results), len(items))
	}
	for _, res := range results {
		if !res.Failed() {
			t.Errorf("Item %s succeeded under a cancelled context, want failed", res.Username)
		}
	}
	for _, item := range items {
		if n := caller.callCount(item); n != 0 {
			t.Errorf("Item %s called %d times under a cancelled context, want 0", item, n)
		}
	}
}

func TestDispatch_CancelledContextRoutesItemsToFailed(t *testing.T) {
	caller := newStubCaller()
	d, _ := newTestDispatcher(t, caller, Config{
		BatchSize:    2,
		BatchWorkers: 2,
		ItemWorkers:  2,
		SaveInterval: 100,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := []string{"a", "b", "c", "d"}
	successes, failed := d.Dispatch(ctx, items, session.Credential{})

	if len(successes)+len(failed) != len(items) {
		t.Fatalf("successes(%d) + failed(%d) != items(%d)", len(successes), len(failed), len(items))
	}
	if len(failed) != len(items) {
		t.Errorf("Failed = %v, want all items under a cancelled context", failed)
	}
}

func TestRetryFailed_RecoversFlappingItems(t *testing.T) {
	caller := newStubCaller("b")
	d, _ := newTestDispatcher(t, caller, Config{
		BatchSize:    2,
		BatchWorkers: 1,
		ItemWorkers:  2,
		SaveInterval: 100,
	})

	_, failed := d.Dispatch(context.Background(), []string{"a", "b"}, session.Credential{})
	if len(failed) != 1 {
		t.Fatalf("Failed = %v, want [b]", failed)
	}

	// The item starts working before the retry pass.
	caller.mu.Lock()
	caller.fail["b"] = false
	caller.mu.Unlock()

	recovered, stillFailed := d.RetryFailed(context.Background(), failed, session.Credential{})
	if len(recovered) != 1 || recovered[0].Username != "b" {
		t.Errorf("Recovered = %v, want [b]", sortedUsernames(recovered))
	}
	if len(stillFailed) != 0 {
		t.Errorf("Still failed = %v, want empty", stillFailed)
	}
}

func TestRetryFailed_EmptySet(t *testing.T) {
	caller := newStubCaller()
	d, _ := newTestDispatcher(t, caller, Config{
		BatchSize:    2,
		BatchWorkers: 1,
		ItemWorkers:  1,
		SaveInterval: 100,
	})

	recovered, stillFailed := d.RetryFailed(context.Background(), nil, session.Credential{})
	if recovered != nil || stillFailed != nil {
		t.Errorf("Retry of empty set = (%v, %v), want (nil, nil)", recovered, stillFailed)
	}
}
