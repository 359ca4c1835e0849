package calendar

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"google.golang.org/api/googleapi"
)

// ErrNotFound indicates that the referenced remote event no longer
// exists. Callers treat this as a stale link, not a failure: the event
// is re-created instead of updated.
var ErrNotFound = errors.New("remote event not found")

// IsTransient reports whether an API failure is worth retrying:
// rate limiting, server errors, timeouts, or plain network trouble.
func IsTransient(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusRequestTimeout, http.StatusTooManyRequests:
			return true
		}
		return apiErr.Code >= 500
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// classify maps a raw API error onto the package's taxonomy: gone
// events become ErrNotFound, everything else passes through (transient
// failures are recognized by IsTransient).
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone {
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}
	return err
}
