package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/sparklemanager/calsync/internal/store"
)

// fakeUserLister is a fixed user list for scheduler tests.
type fakeUserLister struct {
	userIDs []string
	err     error
}

func (f *fakeUserLister) ListUserIDs() ([]string, error) {
	return f.userIDs, f.err
}

// perUserCredentials lets individual users fail or panic while others
// succeed.
type perUserCredentials struct {
	errs   map[string]error
	panics map[string]bool
	served []string
}

func (p *perUserCredentials) EnsureValid(ctx context.Context, userID string) (*oauth2.Token, error) {
	if p.panics[userID] {
		panic("credential lookup blew up")
	}
	if err := p.errs[userID]; err != nil {
		return nil, err
	}
	p.served = append(p.served, userID)
	return &oauth2.Token{AccessToken: "valid", Expiry: time.Now().Add(time.Hour)}, nil
}

func TestRunOnce_OneUserFailingDoesNotStopOthers(t *testing.T) {
	creds := &perUserCredentials{
		errs: map[string]error{"u1": errors.New("token endpoint unreachable")},
	}
	engine := newTestEngine(newFakeEventStore(), creds, newFakeCalendarAPI())
	scheduler := NewScheduler(engine, &fakeUserLister{userIDs: []string{"u1", "u2", "u3"}})

	scheduler.RunOnce(context.Background())

	if len(creds.served) != 2 || creds.served[0] != "u2" || creds.served[1] != "u3" {
		t.Errorf("Expected u2 and u3 to sync despite u1 failing, got %v", creds.served)
	}
}

func TestRunOnce_PanicContained(t *testing.T) {
	creds := &perUserCredentials{
		panics: map[string]bool{"u1": true},
	}
	engine := newTestEngine(newFakeEventStore(), creds, newFakeCalendarAPI())
	scheduler := NewScheduler(engine, &fakeUserLister{userIDs: []string{"u1", "u2"}})

	// Must not propagate the panic.
	scheduler.RunOnce(context.Background())

	if len(creds.served) != 1 || creds.served[0] != "u2" {
		t.Errorf("Expected u2 to sync after u1 panicked, got %v", creds.served)
	}
}

func TestRunOnce_ExpiredBudgetStartsNoUsers(t *testing.T) {
	creds := &perUserCredentials{}
	engine := newTestEngine(newFakeEventStore(), creds, newFakeCalendarAPI())
	scheduler := NewScheduler(engine, &fakeUserLister{userIDs: []string{"u1", "u2"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	scheduler.RunOnce(ctx)

	if len(creds.served) != 0 {
		t.Errorf("Expected no users to be synced after the budget expired, got %v", creds.served)
	}
}

// expiringCalendarAPI cancels the run context after the first insert
// and fails any call whose context has already been cancelled.
type expiringCalendarAPI struct {
	*fakeCalendarAPI
	cancel context.CancelFunc
}

func (e *expiringCalendarAPI) Insert(ctx context.Context, calendarID string, event *gcal.Event) (*gcal.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	created, err := e.fakeCalendarAPI.Insert(ctx, calendarID, event)
	e.cancel()
	return created, err
}

func TestRunOnce_MidUserExpiryFinishesUser(t *testing.T) {
	eventStore := newFakeEventStore()
	eventStore.events["u1"] = []store.Event{
		testEvent("a", "u1", "Event A", ""),
		testEvent("b", "u1", "Event B", ""),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	creds := &perUserCredentials{}
	api := &expiringCalendarAPI{fakeCalendarAPI: newFakeCalendarAPI(), cancel: cancel}
	engine := newTestEngine(eventStore, creds, api)
	scheduler := NewScheduler(engine, &fakeUserLister{userIDs: []string{"u1", "u2"}})

	scheduler.RunOnce(ctx)

	// The budget expired after u1's first insert: u1 still finishes
	// both events, and u2 is left for the next cycle.
	if len(api.insertedIDs) != 2 {
		t.Errorf("Expected u1's sync to finish both events, got inserts %v", api.insertedIDs)
	}
	if len(creds.served) != 1 || creds.served[0] != "u1" {
		t.Errorf("Expected only u1 to be admitted, got %v", creds.served)
	}
}

func TestRunOnce_ListFailureAborts(t *testing.T) {
	creds := &perUserCredentials{}
	engine := newTestEngine(newFakeEventStore(), creds, newFakeCalendarAPI())
	scheduler := NewScheduler(engine, &fakeUserLister{err: errors.New("database locked")})

	scheduler.RunOnce(context.Background())

	if len(creds.served) != 0 {
		t.Errorf("Expected the run to abort, got syncs for %v", creds.served)
	}
}
