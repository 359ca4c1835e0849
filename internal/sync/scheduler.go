package sync

import (
	"context"
	"log"
)

// UserLister enumerates the users to sync. *store.Store implements it.
type UserLister interface {
	ListUserIDs() ([]string, error)
}

// Scheduler drives one sync pass over all users. It is invoked
// unattended on a fixed interval, so RunOnce never returns an error:
// every failure is logged and contained to the user it belongs to.
type Scheduler struct {
	engine *Engine
	users  UserLister
}

// NewScheduler creates a Scheduler over the given engine and user
// source.
func NewScheduler(engine *Engine, users UserLister) *Scheduler {
	return &Scheduler{engine: engine, users: users}
}

// RunOnce syncs every known user sequentially. A failure in one user's
// sync does not prevent the remaining users from being processed. When
// the context expires (the run's time budget), the in-flight user
// finishes but no further users are started; the next scheduled run
// picks them up.
func (s *Scheduler) RunOnce(ctx context.Context) {
	userIDs, err := s.users.ListUserIDs()
	if err != nil {
		log.Printf("sync run aborted: failed to list users: %v", err)
		return
	}

	log.Printf("starting sync run for %d user(s)", len(userIDs))
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			log.Printf("sync run time budget exhausted, skipping remaining users: %v", ctx.Err())
			return
		}
		s.syncOne(ctx, userID)
	}
	log.Printf("sync run complete")
}

// syncOne runs a single user's sync, containing panics and errors.
// The run context gates admission only: once a user's sync has
// started it runs to completion, so budget expiry mid-user cannot
// leave that user half-pushed.
func (s *Scheduler) syncOne(ctx context.Context, userID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[user %s] sync panicked: %v", userID, r)
		}
	}()

	result, err := s.engine.SyncUser(context.WithoutCancel(ctx), userID)
	if err != nil {
		log.Printf("[user %s] sync failed: %v", userID, err)
		return
	}

	logItemFailures(userID, result)
	log.Printf("[user %s] sync %s", userID, result.Summary())
}
