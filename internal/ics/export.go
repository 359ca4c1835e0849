// Package ics renders a user's bookings as an iCalendar feed, so they
// can be subscribed to from any calendar application without the
// Google account link.
package ics

import (
	"fmt"
	"io"

	"github.com/emersion/go-ical"

	"github.com/sparklemanager/calsync/internal/store"
)

const productID = "-//Sparkle Manager//calsync//EN"

// Export writes the events as a single VCALENDAR to w.
func Export(w io.Writer, events []store.Event) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	for _, event := range events {
		vevent, err := toVEvent(event)
		if err != nil {
			return fmt.Errorf("failed to convert event %s: %w", event.ID, err)
		}
		cal.Children = append(cal.Children, vevent)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

// toVEvent converts a booking into a VEVENT component.
func toVEvent(event store.Event) (*ical.Component, error) {
	if event.Start.IsZero() || event.End.IsZero() {
		return nil, fmt.Errorf("event has no start or end time")
	}

	vevent := ical.NewComponent(ical.CompEvent)
	vevent.Props.SetText(ical.PropUID, event.ID+"@calsync")
	vevent.Props.SetText(ical.PropSummary, event.Title)
	if event.Location != "" {
		vevent.Props.SetText(ical.PropLocation, event.Location)
	}
	if desc := description(event); desc != "" {
		vevent.Props.SetText(ical.PropDescription, desc)
	}

	vevent.Props.SetDateTime(ical.PropDateTimeStart, event.Start.UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeEnd, event.End.UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, event.Start.UTC())

	return vevent, nil
}

func description(event store.Event) string {
	desc := event.Description
	if event.ClientName != "" {
		if desc != "" {
			desc += "\n"
		}
		desc += "Client: " + event.ClientName
	}
	if event.Theme != "" {
		if desc != "" {
			desc += "\n"
		}
		desc += "Theme: " + event.Theme
	}
	return desc
}
