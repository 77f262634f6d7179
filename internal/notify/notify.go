// Package notify fans push notifications out to per-user topics.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Message is the payload handed to a Sink.
type Message struct {
	Notification Notification      `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type Options struct {
	// CollapseKey makes a newer message replace an undelivered one with the same key.
	CollapseKey string `json:"collapseKey,omitempty"`
}

// Sink delivers a message to every device subscribed to topic.
type Sink interface {
	SendToTopic(ctx context.Context, topic string, msg Message, opts Options) error
}

// Topic is the per-user topic name.
func Topic(userID string) string {
	return "user_" + userID
}

// Request describes one notification before addressing.
type Request struct {
	RecipientID string
	ActorID     string
	Title       string
	Body        string
	// Collection and ID form the deeplink, e.g. offers/<id> or threads/<id>.
	Collection  string
	ID          string
	CollapseKey string
}

type Dispatcher struct {
	Sink   Sink
	Scheme string
	Log    zerolog.Logger
}

const defaultScheme = "app"

func NewDispatcher(sink Sink, scheme string, log zerolog.Logger) *Dispatcher {
	if scheme == "" {
		scheme = defaultScheme
	}
	return &Dispatcher{Sink: sink, Scheme: scheme, Log: log}
}

func (d *Dispatcher) Deeplink(collection, id string) string {
	scheme := strings.TrimSuffix(d.Scheme, "://")
	if scheme == "" {
		scheme = defaultScheme
	}
	return fmt.Sprintf("%s://%s/%s", scheme, collection, id)
}

// Notify sends r to the recipient's topic. It reports false without sending when the
// recipient is unknown or is the acting user.
func (d *Dispatcher) Notify(ctx context.Context, r Request) (bool, error) {
	if r.RecipientID == "" || r.RecipientID == r.ActorID {
		d.Log.Debug().Str("recipient", r.RecipientID).Str("actor", r.ActorID).Msg("notification suppressed")
		return false, nil
	}
	if d.Sink == nil {
		return false, fmt.Errorf("notification sink not configured")
	}
	msg := Message{
		Notification: Notification{Title: r.Title, Body: r.Body},
		Data:         map[string]string{"deeplink": d.Deeplink(r.Collection, r.ID)},
	}
	topic := Topic(r.RecipientID)
	if err := d.Sink.SendToTopic(ctx, topic, msg, Options{CollapseKey: r.CollapseKey}); err != nil {
		return false, fmt.Errorf("send to %s: %w", topic, err)
	}
	d.Log.Debug().Str("topic", topic).Str("collapse_key", r.CollapseKey).Msg("notification sent")
	return true, nil
}
