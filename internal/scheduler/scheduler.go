package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/learnhub-io/identity/internal/config"
	"github.com/learnhub-io/identity/internal/session"
	"github.com/learnhub-io/identity/internal/store"

	"github.com/appleboy/graceful"
)

// GrantJanitor removes expired authorization grants. Implemented by
// the authorization server storage adapter.
type GrantJanitor interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Scheduler owns the background maintenance loops: a frequent scan
// that proactively refreshes sessions whose upstream access token is
// about to expire, and a slower cleanup that purges expired sessions
// and grants. Both loops stop when the graceful manager cancels their
// context; both can also be triggered manually.
type Scheduler struct {
	config   *config.Config
	store    *store.Store
	sessions *session.Service
	grants   GrantJanitor
}

func New(cfg *config.Config, st *store.Store, sessions *session.Service, grants GrantJanitor) *Scheduler {
	return &Scheduler{
		config:   cfg,
		store:    st,
		sessions: sessions,
		grants:   grants,
	}
}

// Register attaches both loops to the graceful manager as running
// jobs. Each loop fires once at startup and then on its interval.
func (s *Scheduler) Register(m *graceful.Manager) {
	m.AddRunningJob(func(ctx context.Context) error {
		ticker := time.NewTicker(s.config.RefreshScanInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.RunRefreshScan(ctx)
			case <-ctx.Done():
				return nil
			}
		}
	})

	m.AddRunningJob(func(ctx context.Context) error {
		ticker := time.NewTicker(s.config.CleanupInterval)
		defer ticker.Stop()

		s.RunCleanup(ctx)

		for {
			select {
			case <-ticker.C:
				s.RunCleanup(ctx)
			case <-ctx.Done():
				return nil
			}
		}
	})
}

// RunRefreshScan refreshes sessions whose access token falls within
// the refresh threshold. Per-session failures are logged and do not
// stop the scan; the session service deactivates sessions whose
// refresh possibilities are exhausted.
func (s *Scheduler) RunRefreshScan(ctx context.Context) {
	const batchSize = 100

	candidates, err := s.store.SessionsNeedingRefresh(s.config.RefreshThreshold, batchSize)
	if err != nil {
		log.Printf("[Scheduler] Refresh scan query failed: %v", err)
		return
	}

	refreshed := 0
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return
		}
		if err := s.sessions.Refresh(ctx, candidate.Token); err != nil {
			log.Printf("[Scheduler] Background refresh failed for session of identity %d: %v",
				candidate.IdentityID, err)
			continue
		}
		refreshed++
	}

	if refreshed > 0 {
		log.Printf("[Scheduler] Background refresh renewed %d session(s)", refreshed)
	}
}

// RunCleanup purges expired sessions and expired or orphaned grants.
func (s *Scheduler) RunCleanup(ctx context.Context) {
	sessions, err := s.sessions.CleanupExpired(ctx)
	if err != nil {
		log.Printf("[Scheduler] Session cleanup failed: %v", err)
	} else if sessions > 0 {
		log.Printf("[Scheduler] Removed %d expired session(s)", sessions)
	}

	if s.grants == nil {
		return
	}
	grants, err := s.grants.CleanupExpired(ctx)
	if err != nil {
		log.Printf("[Scheduler] Grant cleanup failed: %v", err)
	} else if grants > 0 {
		log.Printf("[Scheduler] Removed %d expired grant(s)", grants)
	}
}
