// Package progress persists the resumable-progress checkpoint: a bounded
// tail of recent successful results used only to compute a resume offset
// after a restart. It is a tripwire, not an append-only success log.
package progress

import (
	"encoding/json"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/linetools/linecheck/pkg/client"
)

var checkpointsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "linecheck_checkpoints_total",
	Help: "Total number of progress checkpoint writes",
})

// DefaultTail is the number of most recent successes the checkpoint keeps.
const DefaultTail = 100

// Tracker reads and writes the progress checkpoint file.
// The file is written only by the dispatcher's completion loop, never by
// worker goroutines, so no locking is needed.
type Tracker struct {
	path   string
	tail   int
	logger zerolog.Logger
}

// NewTracker creates a progress tracker backed by the given file path.
func NewTracker(path string, logger zerolog.Logger) *Tracker {
	return &Tracker{
		path:   path,
		tail:   DefaultTail,
		logger: logger,
	}
}

// Load reads the checkpoint file if present. A missing or corrupt file
// means a full run from the start and returns an empty sequence.
func (t *Tracker) Load() []client.Result {
	data, err := os.ReadFile(t.path)
	if err != nil {
		t.logger.Info().Str("path", t.path).Msg("No progress checkpoint, starting fresh")
		return nil
	}

	var entries []client.Result
	if err := json.Unmarshal(data, &entries); err != nil {
		t.logger.Warn().Err(err).Str("path", t.path).Msg("Progress checkpoint corrupted, starting fresh")
		return nil
	}

	t.logger.Info().Str("path", t.path).Int("entries", len(entries)).Msg("Progress checkpoint loaded")
	return entries
}

// Checkpoint overwrites the checkpoint file with the most recent tail of
// the accumulated successes. Writing the same tail twice produces
// byte-identical files.
func (t *Tracker) Checkpoint(successes []client.Result) error {
	tail := successes
	if len(tail) > t.tail {
		tail = tail[len(tail)-t.tail:]
	}

	data, err := json.Marshal(tail)
	if err != nil {
		return err
	}
	if err := os.WriteFile(t.path, data, 0o644); err != nil {
		return err
	}

	checkpointsTotal.Inc()
	t.logger.Info().Int("entries", len(tail)).Msg("Progress saved")
	return nil
}

// ResumeOffset locates the position immediately after the last
// checkpointed item in the work list. An empty checkpoint resumes from 0.
// A last item missing from the current work list means the list changed
// since the checkpoint was written; the run restarts from the beginning
// (the remote calls are idempotent reads, so redoing work is safe).
func (t *Tracker) ResumeOffset(items []string, loaded []client.Result) int {
	if len(loaded) == 0 {
		return 0
	}

	last := loaded[len(loaded)-1].Username
	for i, item := range items {
		if item == last {
			t.logger.Info().Str("username", last).Int("offset", i+1).Msg("Resuming after last checkpointed item")
			return i + 1
		}
	}

	t.logger.Warn().
		Str("username", last).
		Msg("Checkpointed item not in current work list, restarting from the beginning")
	return 0
}
