package scheduler

import (
	"context"
	"fmt"
)

// Refresher reloads the dataset when the underlying file changed.
type Refresher interface {
	Refresh(ctx context.Context) (bool, error)
}

// RefreshAndWarm returns a Task that refreshes the dataset and, when a new
// version was installed, runs warm. A failed refresh leaves the previous
// dataset serving and skips the warm step.
func RefreshAndWarm(r Refresher, warm func(ctx context.Context) error) Task {
	return func(ctx context.Context) error {
		changed, err := r.Refresh(ctx)
		if err != nil {
			return fmt.Errorf("refresh dataset: %w", err)
		}
		if !changed || warm == nil {
			return nil
		}
		if err := warm(ctx); err != nil {
			return fmt.Errorf("warm after refresh: %w", err)
		}
		return nil
	}
}
