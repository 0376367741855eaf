package dispatch

import (
	"context"

	"github.com/linetools/linecheck/pkg/client"
	"github.com/linetools/linecheck/pkg/session"
)

// RetryFailed re-runs every failed item once more through the inner worker
// pool, with no batching and no further retry rounds. It returns the
// recovered successes and the identifiers still failing afterwards; those
// are terminally failed and excluded from the final result set.
func (d *Dispatcher) RetryFailed(ctx context.Context, failed []string, cred session.Credential) (recovered []client.Result, stillFailed []string) {
	if len(failed) == 0 {
		return nil, nil
	}

	d.logger.Info().Int("items", len(failed)).Msg("Retrying items with no response")

	results := d.runner.Run(ctx, failed, cred.Clone())
	for _, res := range results {
		if res.Failed() {
			itemsTotal.WithLabelValues("terminally_failed").Inc()
			stillFailed = append(stillFailed, res.Username)
			continue
		}
		itemsTotal.WithLabelValues("recovered").Inc()
		recovered = append(recovered, res)
	}

	d.logger.Info().
		Int("recovered", len(recovered)).
		Int("terminally_failed", len(stillFailed)).
		Msg("Retry pass complete")

	return recovered, stillFailed
}
