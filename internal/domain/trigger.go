package domain

import (
	"fmt"
	"time"
)

// TriggerEvent is the inbound notification that asks for one ingestion worker.
type TriggerEvent struct {
	ID        string    // delivery id from the trigger system, may be empty
	Timestamp time.Time // event time, drives the worker name
}

// timestampLayouts are tried in order by ParseTimestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses an ISO-8601 timestamp. Offset-less values are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: not ISO-8601", s)
}
