package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// LogSink writes every message to the logger. It is the fallback when no push
// backend is configured.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) SendToTopic(_ context.Context, topic string, msg Message, opts Options) error {
	s.Log.Info().
		Str("topic", topic).
		Str("title", msg.Notification.Title).
		Str("body", msg.Notification.Body).
		Str("deeplink", msg.Data["deeplink"]).
		Str("collapse_key", opts.CollapseKey).
		Msg("push")
	return nil
}

// Delivery is one message captured by MemorySink.
type Delivery struct {
	Topic   string
	Message Message
	Options Options
}

// MemorySink records deliveries in memory.
type MemorySink struct {
	mu   sync.Mutex
	sent []Delivery
	Err  error
}

func (s *MemorySink) SendToTopic(_ context.Context, topic string, msg Message, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.sent = append(s.sent, Delivery{Topic: topic, Message: msg, Options: opts})
	return nil
}

// Sent returns every delivery, optionally restricted to one topic.
func (s *MemorySink) Sent(topic string) []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []Delivery
	for _, d := range s.sent {
		if topic == "" || d.Topic == topic {
			res = append(res, d)
		}
	}
	return res
}

// Pending applies collapse semantics: for each collapse key only the newest
// delivery survives, while un-keyed deliveries stack.
func (s *MemorySink) Pending(topic string) []Delivery {
	sent := s.Sent(topic)
	latest := map[string]int{}
	for i, d := range sent {
		if d.Options.CollapseKey != "" {
			latest[d.Options.CollapseKey] = i
		}
	}
	var res []Delivery
	for i, d := range sent {
		if d.Options.CollapseKey != "" && latest[d.Options.CollapseKey] != i {
			continue
		}
		res = append(res, d)
	}
	return res
}
