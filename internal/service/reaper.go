package service

import (
	"context"
	"log/slog"
	"time"

	"authgate/internal/observability"
	"authgate/internal/repository"
)

// Reaper is the durable cleanup sweep. Revoked and expired sessions linger
// for a grace period so the validation endpoint can keep answering invalid
// before the row disappears; stale one-time tokens go as soon as a sweep
// sees them past their deadline. Because the sweep reads only persisted
// timestamps, a restart never loses pending deletions.
type Reaper struct {
	sessions      repository.SessionRepository
	tfTokens      repository.TwoFactorTokenRepository
	verifications repository.VerificationRepository
	logger        *slog.Logger
	grace         time.Duration
	interval      time.Duration
}

func NewReaper(
	sessions repository.SessionRepository,
	tfTokens repository.TwoFactorTokenRepository,
	verifications repository.VerificationRepository,
	logger *slog.Logger,
	grace, interval time.Duration,
) *Reaper {
	return &Reaper{
		sessions:      sessions,
		tfTokens:      tfTokens,
		verifications: verifications,
		logger:        logger,
		grace:         grace,
		interval:      interval,
	}
}

// SweepOnce runs a single pass and reports how many rows it removed. Errors
// from one table do not stop the others.
func (r *Reaper) SweepOnce(now time.Time) int64 {
	var total int64

	if n, err := r.sessions.DeleteRevokedBefore(now.Add(-r.grace)); err != nil {
		r.logger.Error("reaper: revoked session sweep failed", "error", err)
	} else if n > 0 {
		observability.RecordReaperDeleted("revoked_session", n)
		total += n
	}

	if n, err := r.sessions.DeleteExpiredBefore(now.Add(-r.grace)); err != nil {
		r.logger.Error("reaper: expired session sweep failed", "error", err)
	} else if n > 0 {
		observability.RecordReaperDeleted("expired_session", n)
		total += n
	}

	if n, err := r.tfTokens.DeleteExpiredBefore(now); err != nil {
		r.logger.Error("reaper: two-factor token sweep failed", "error", err)
	} else if n > 0 {
		observability.RecordReaperDeleted("twofactor_token", n)
		total += n
	}

	if n, err := r.verifications.DeleteExpiredTokensBefore(now); err != nil {
		r.logger.Error("reaper: verification token sweep failed", "error", err)
	} else if n > 0 {
		observability.RecordReaperDeleted("verification_token", n)
		total += n
	}

	if total > 0 {
		r.logger.Info("reaper sweep complete", "deleted", total)
	}
	return total
}

// Run sweeps on the configured interval until the context is cancelled. One
// pass runs immediately on startup to catch anything that aged out while
// the process was down.
func (r *Reaper) Run(ctx context.Context) {
	r.SweepOnce(time.Now().UTC())
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepOnce(time.Now().UTC())
		}
	}
}
