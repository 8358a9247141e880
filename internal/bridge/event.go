// Package bridge is the line-delimited JSON channel to the parent process:
// events out on stdout, commands in on stdin.
package bridge

import (
	"fmt"
	"time"

	"github.com/lexiqai/tospeak-bridge/internal/notify"
)

// Event types written to the parent.
const (
	TypeReady             = "ready"
	TypeAvailableVoices   = "available_voices"
	TypeNotification      = "notification"
	TypePastNotifications = "past_notifications"
	TypeInfo              = "info"
	TypeDebug             = "debug"
	TypeError             = "error"
)

// Event is one outbound line. Source and Timestamp are filled by the Emitter.
type Event struct {
	Type   string `json:"type"`
	Source string `json:"source"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text,omitempty"`

	*NotificationRef

	Volume        *int                  `json:"volume,omitempty"`
	Voices        *[]string             `json:"voices,omitempty"`
	Notifications []NotificationPayload `json:"notifications,omitempty"`
	Timestamp     string                `json:"timestamp"`
}

// NotificationRef carries the notification fields of a notification event.
type NotificationRef struct {
	App            string `json:"app"`
	AppID          string `json:"app_id"`
	NotificationID string `json:"notification_id"`
}

// NotificationPayload is one entry of a past_notifications event.
type NotificationPayload struct {
	App            string `json:"app"`
	AppID          string `json:"app_id"`
	Title          string `json:"title"`
	Text           string `json:"text"`
	NotificationID string `json:"notification_id"`
	Timestamp      string `json:"timestamp"`
}

// FormatTime renders t the way every event timestamp is written.
func FormatTime(t time.Time) string {
	return t.Local().Format(time.RFC3339Nano)
}

// Info builds an info event.
func Info(title, text string) Event {
	return Event{Type: TypeInfo, Title: title, Text: text}
}

// Debug builds a debug event.
func Debug(text string) Event {
	return Event{Type: TypeDebug, Text: text}
}

// Debugf builds a debug event from a format string.
func Debugf(format string, args ...any) Event {
	return Debug(fmt.Sprintf(format, args...))
}

// Error builds an error event.
func Error(text string) Event {
	return Event{Type: TypeError, Text: text}
}

// Ready announces that startup finished.
func Ready(volume int) Event {
	return Event{Type: TypeReady, Title: "お知らせ", Text: "ToSpeak の起動を完了しました", Volume: &volume}
}

// AvailableVoices lists installed voices.
func AvailableVoices(voices []string) Event {
	if voices == nil {
		voices = []string{}
	}
	return Event{Type: TypeAvailableVoices, Voices: &voices}
}

// Notification describes a newly observed notification. Text is the body,
// or the title when the body is empty.
func Notification(rec notify.Record) Event {
	text := rec.Body
	if text == "" {
		text = rec.Title
	}
	return Event{
		Type:  TypeNotification,
		Title: rec.Title,
		Text:  text,
		NotificationRef: &NotificationRef{
			App:            rec.App,
			AppID:          rec.AppID,
			NotificationID: rec.ID,
		},
	}
}

// PastNotifications summarises notifications present at startup.
func PastNotifications(recs []notify.Record) Event {
	payload := make([]NotificationPayload, 0, len(recs))
	for _, rec := range recs {
		payload = append(payload, NotificationPayload{
			App:            rec.App,
			AppID:          rec.AppID,
			Title:          rec.Title,
			Text:           rec.Body,
			NotificationID: rec.ID,
			Timestamp:      FormatTime(rec.ObservedAt),
		})
	}
	return Event{
		Type:          TypePastNotifications,
		Title:         "過去の通知",
		Text:          fmt.Sprintf("%d件の過去の通知があります", len(recs)),
		Notifications: payload,
	}
}
