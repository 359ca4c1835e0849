// Package calendar wraps the Google Calendar API for the sync engine.
// A Client is built fresh from a credential for each sync run; it holds
// no shared mutable state.
package calendar

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// DefaultMaxResults caps how many upcoming events a single list
// request asks for. Large enough that the target scale fits in one
// page, but ListUpcoming follows page tokens anyway.
const DefaultMaxResults = 2500

// Client is a wrapper around the Google Calendar API service,
// authenticated with a single user's access token.
type Client struct {
	service *calendar.Service
	retry   retryPolicy
}

// NewClient creates a calendar client authenticated with the given
// token. The token is used as-is; refreshing is the token manager's
// job, not the client's. Extra options (such as option.WithEndpoint
// for tests) are appended after the credential option.
func NewClient(ctx context.Context, token *oauth2.Token, opts ...option.ClientOption) (*Client, error) {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))

	allOpts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := calendar.NewService(ctx, allOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &Client{service: service, retry: defaultRetryPolicy}, nil
}

// ListUpcoming retrieves events starting at or after from, with
// recurring events expanded to individual instances, ordered by start
// time. It follows page tokens so the cap is per request, not a hard
// ceiling on the result.
func (c *Client) ListUpcoming(ctx context.Context, calendarID string, from time.Time, maxResults int64) ([]*calendar.Event, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	var events []*calendar.Event
	pageToken := ""
	for {
		call := c.service.Events.List(calendarID).
			Context(ctx).
			TimeMin(from.Format(time.RFC3339)).
			SingleEvents(true). // Expand recurring events
			OrderBy("startTime").
			MaxResults(maxResults)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var page *calendar.Events
		err := c.withRetry(ctx, func() error {
			var err error
			page, err = call.Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list events: %w", err)
		}

		events = append(events, page.Items...)
		pageToken = page.NextPageToken
		if pageToken == "" {
			return events, nil
		}
	}
}

// Insert creates a new event and returns it with the id the remote
// service assigned.
func (c *Client) Insert(ctx context.Context, calendarID string, event *calendar.Event) (*calendar.Event, error) {
	var created *calendar.Event
	err := c.withRetry(ctx, func() error {
		var err error
		created, err = c.service.Events.Insert(calendarID, event).
			Context(ctx).
			SendUpdates("none"). // Disable notifications
			Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}
	return created, nil
}

// Update overwrites an existing event. Returns ErrNotFound when the
// remote no longer knows the id (stale link).
func (c *Client) Update(ctx context.Context, calendarID, eventID string, event *calendar.Event) (*calendar.Event, error) {
	var updated *calendar.Event
	err := c.withRetry(ctx, func() error {
		var err error
		updated, err = c.service.Events.Update(calendarID, eventID, event).
			Context(ctx).
			SendUpdates("none").
			Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update event: %w", err)
	}
	return updated, nil
}

// Delete removes an event. Returns ErrNotFound when the remote no
// longer knows the id.
func (c *Client) Delete(ctx context.Context, calendarID, eventID string) error {
	err := c.withRetry(ctx, func() error {
		return c.service.Events.Delete(calendarID, eventID).
			Context(ctx).
			SendUpdates("none").
			Do()
	})
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}
