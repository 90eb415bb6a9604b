package scheduler

import (
	"context"
)

// Default housekeeping schedules.
const (
	HoldSweepSchedule    = "@every 1m"
	CacheCleanupSchedule = "@every 10m"
)

// HoldSweeper drops expired credit holds.
type HoldSweeper interface {
	SweepExpired() int
}

// LimiterCleaner drops idle rate limiter entries.
type LimiterCleaner interface {
	Cleanup() int
}

// TokenCacheCleaner drops expired verified-token cache entries.
type TokenCacheCleaner interface {
	Cleanup()
}

// Housekeeping lists the components with periodic cleanup. Nil fields are
// skipped.
type Housekeeping struct {
	Holds   HoldSweeper
	Limiter LimiterCleaner
	Tokens  TokenCacheCleaner
}

// RegisterHousekeeping adds the cleanup jobs for h to s.
func RegisterHousekeeping(s *Scheduler, h Housekeeping) error {
	if h.Holds != nil {
		err := s.Add("sweep-credit-holds", HoldSweepSchedule, func(ctx context.Context) error {
			if n := h.Holds.SweepExpired(); n > 0 {
				s.logger.WithField("expired", n).Info("swept expired credit holds")
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	if h.Limiter != nil {
		err := s.Add("cleanup-rate-limiter", CacheCleanupSchedule, func(ctx context.Context) error {
			if n := h.Limiter.Cleanup(); n > 0 {
				s.logger.WithField("removed", n).Debug("rate limiter cleanup")
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	if h.Tokens != nil {
		err := s.Add("cleanup-token-cache", CacheCleanupSchedule, func(ctx context.Context) error {
			h.Tokens.Cleanup()
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
