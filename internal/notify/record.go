// Package notify reads the host notification list and turns raw platform
// notifications into records.
package notify

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultAppName labels notifications whose app name is unavailable.
const DefaultAppName = "通知"

var (
	// ErrAccessDenied means the listener cannot be used at all. It is fatal at startup.
	ErrAccessDenied = errors.New("notification access denied")
	// ErrSourceUnavailable wraps transient listing failures.
	ErrSourceUnavailable = errors.New("notification source unavailable")
)

// Notification is a live platform notification as the listener reports it.
type Notification struct {
	ID    string
	App   string
	AppID string
	// Texts holds the notification's text elements in display order.
	Texts []string
}

// Record is the normalised view of one notification.
type Record struct {
	ID         string
	App        string
	AppID      string
	Title      string
	Body       string
	ObservedAt time.Time
}

// Source is the platform notification listener.
type Source interface {
	// RequestAccess checks that notifications can be read. A denial wraps ErrAccessDenied.
	RequestAccess(ctx context.Context) error
	// List returns the notifications currently held by the platform.
	List(ctx context.Context) ([]Notification, error)
}

// Extract derives a Record: the first non-empty text element is the title
// and the remaining non-empty elements, joined by a space, are the body.
func Extract(n Notification, observedAt time.Time) Record {
	rec := Record{
		ID:         n.ID,
		App:        strings.TrimSpace(n.App),
		AppID:      strings.TrimSpace(n.AppID),
		ObservedAt: observedAt,
	}
	if rec.App == "" {
		rec.App = DefaultAppName
	}

	var rest []string
	for _, text := range n.Texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if rec.Title == "" {
			rec.Title = text
			continue
		}
		rest = append(rest, text)
	}
	rec.Body = strings.Join(rest, " ")

	return rec
}

// IDs returns the ids of ns in order.
func IDs(ns []Notification) []string {
	ids := make([]string, 0, len(ns))
	for _, n := range ns {
		ids = append(ids, n.ID)
	}
	return ids
}
