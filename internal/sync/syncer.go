// Package sync implements the reconciliation between the local booking
// store and each user's remote calendar. The local store is
// authoritative: local events are pushed out, and remote events with no
// local counterpart are pruned. Remote-originated edits are never
// imported back.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/sparklemanager/calsync/internal/auth"
	"github.com/sparklemanager/calsync/internal/calendar"
	"github.com/sparklemanager/calsync/internal/store"
)

// EventStore is the slice of the local store the engine needs.
type EventStore interface {
	ListEventsForUser(userID string) ([]store.Event, error)
	SetRemoteLink(eventID, remoteID string) error
}

// CredentialSource hands out valid access tokens, refreshing as needed.
type CredentialSource interface {
	EnsureValid(ctx context.Context, userID string) (*oauth2.Token, error)
}

// CalendarAPI is the remote calendar surface the engine consumes.
// *calendar.Client implements it.
type CalendarAPI interface {
	ListUpcoming(ctx context.Context, calendarID string, from time.Time, maxResults int64) ([]*gcal.Event, error)
	Insert(ctx context.Context, calendarID string, event *gcal.Event) (*gcal.Event, error)
	Update(ctx context.Context, calendarID, eventID string, event *gcal.Event) (*gcal.Event, error)
	Delete(ctx context.Context, calendarID, eventID string) error
}

// ClientFactory builds a calendar client from a credential. A fresh
// client per sync run keeps credentials from leaking across users.
type ClientFactory func(ctx context.Context, token *oauth2.Token) (CalendarAPI, error)

// Engine reconciles one user's local events against their remote
// calendar.
type Engine struct {
	store      EventStore
	creds      CredentialSource
	newClient  ClientFactory
	calendarID string
	maxResults int64
	now        func() time.Time
}

// NewEngine creates an Engine. calendarID is usually "primary".
func NewEngine(eventStore EventStore, creds CredentialSource, newClient ClientFactory, calendarID string) *Engine {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Engine{
		store:      eventStore,
		creds:      creds,
		newClient:  newClient,
		calendarID: calendarID,
		maxResults: calendar.DefaultMaxResults,
		now:        time.Now,
	}
}

// SyncUser reconciles a single user. A Result is returned for every
// completed run, including auth-skipped ones; a non-nil error means the
// run could not proceed at all (credential refresh or listing failed)
// and should be retried on the next cycle.
//
// Item-level failures never abort the run: each local event and each
// prune candidate is processed independently and failures land in
// Result.Failed.
func (e *Engine) SyncUser(ctx context.Context, userID string) (*Result, error) {
	result := &Result{}

	token, err := e.creds.EnsureValid(ctx, userID)
	if err != nil {
		if errors.Is(err, auth.ErrAuthRequired) {
			result.AuthRequired = true
			return result, nil
		}
		return nil, fmt.Errorf("failed to obtain credential: %w", err)
	}

	client, err := e.newClient(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar client: %w", err)
	}

	localEvents, err := e.store.ListEventsForUser(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list local events: %w", err)
	}

	remoteEvents, err := client.ListUpcoming(ctx, e.calendarID, e.now(), e.maxResults)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote events: %w", err)
	}

	// Ids of remote events not yet matched to a local event. Whatever
	// is left after the push phase has no local counterpart and gets
	// pruned.
	remoteIndex := make(map[string]bool, len(remoteEvents))
	for _, remote := range remoteEvents {
		remoteIndex[remote.Id] = true
	}

	for _, local := range localEvents {
		e.pushEvent(ctx, client, local, remoteIndex, result)
	}

	for remoteID := range remoteIndex {
		if err := client.Delete(ctx, e.calendarID, remoteID); err != nil {
			if errors.Is(err, calendar.ErrNotFound) {
				// Already gone; nothing to prune.
				continue
			}
			result.fail(remoteID, "delete", err)
			continue
		}
		result.Deleted = append(result.Deleted, remoteID)
	}

	return result, nil
}

// pushEvent creates or updates the remote mirror of one local event.
// Matched remote ids are removed from remoteIndex so the prune phase
// leaves them alone.
func (e *Engine) pushEvent(ctx context.Context, client CalendarAPI, local store.Event, remoteIndex map[string]bool, result *Result) {
	body, err := buildRemoteEvent(local)
	if err != nil {
		result.fail(local.ID, "validate", err)
		return
	}

	if local.RemoteID != "" && remoteIndex[local.RemoteID] {
		// Matched: even if the update fails, the remote event mirrors
		// this local event and must not be pruned.
		delete(remoteIndex, local.RemoteID)

		_, err := client.Update(ctx, e.calendarID, local.RemoteID, body)
		if err == nil {
			result.Updated = append(result.Updated, local.ID)
			return
		}
		if !errors.Is(err, calendar.ErrNotFound) {
			result.fail(local.ID, "update", err)
			return
		}
		// The remote event disappeared between the listing and the
		// update call. Fall through and re-create it.
	}

	created, err := client.Insert(ctx, e.calendarID, body)
	if err != nil {
		result.fail(local.ID, "create", err)
		return
	}

	if err := e.store.SetRemoteLink(local.ID, created.Id); err != nil {
		// The remote event exists but the link was not saved. The next
		// run sees an unlinked local event and creates a duplicate;
		// accepted over losing the booking.
		result.fail(local.ID, "persist-link", err)
		return
	}

	result.Created = append(result.Created, local.ID)
}

// buildRemoteEvent maps a local booking onto a calendar event body.
func buildRemoteEvent(local store.Event) (*gcal.Event, error) {
	if strings.TrimSpace(local.Title) == "" {
		return nil, &ValidationError{Reason: "title is empty"}
	}
	if local.Start.IsZero() || local.End.IsZero() {
		return nil, &ValidationError{Reason: "start or end time is not set"}
	}
	if !local.End.After(local.Start) {
		return nil, &ValidationError{Reason: "end time is not after start time"}
	}

	timezone := local.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	return &gcal.Event{
		Summary:     local.Title,
		Location:    local.Location,
		Description: buildDescription(local),
		Start: &gcal.EventDateTime{
			DateTime: local.Start.UTC().Format(time.RFC3339),
			TimeZone: timezone,
		},
		End: &gcal.EventDateTime{
			DateTime: local.End.UTC().Format(time.RFC3339),
			TimeZone: timezone,
		},
	}, nil
}

// buildDescription appends booking details to the free-form
// description so the mirrored event is useful on its own.
func buildDescription(local store.Event) string {
	var b strings.Builder
	b.WriteString(local.Description)

	details := make([]string, 0, 3)
	if local.ClientName != "" {
		details = append(details, "Client: "+local.ClientName)
	}
	if local.PhoneNumber != "" {
		details = append(details, "Phone: "+local.PhoneNumber)
	}
	if local.Theme != "" {
		details = append(details, "Theme: "+local.Theme)
	}

	if len(details) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.Join(details, "\n"))
	}
	return b.String()
}

// logItemFailures writes one line per failed item with enough context
// to diagnose without crashing anything.
func logItemFailures(userID string, result *Result) {
	for _, item := range result.Failed {
		log.Printf("[user %s] %s failed for event %s: %v", userID, item.Op, item.EventID, item.Err)
	}
}
