package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// UserLister enumerates users whose artifacts are pre-generated.
type UserLister interface {
	Usernames(ctx context.Context) ([]string, error)
}

// UserFunc produces one artifact for one user.
type UserFunc func(ctx context.Context, username string, now time.Time) error

// ForEachUser returns a Job that calls every fn for every listed user.
// A failure for one user is logged and does not stop the others; the
// job reports the failures joined.
func ForEachUser(users UserLister, logger *slog.Logger, fns ...UserFunc) Job {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, day time.Time) error {
		names, err := users.Usernames(ctx)
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		var errs []error
		for _, name := range names {
			for _, fn := range fns {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if err := fn(ctx, name, day); err != nil {
					logger.Warn("pre-generation failed", "username", name, "error", err)
					errs = append(errs, fmt.Errorf("%s: %w", name, err))
				}
			}
		}
		logger.Info("pre-generation finished", "users", len(names), "failures", len(errs))
		return errors.Join(errs...)
	}
}
