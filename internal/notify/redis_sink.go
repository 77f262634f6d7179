package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Envelope is the stored and published form of a message.
type Envelope struct {
	Topic       string    `json:"topic"`
	Message     Message   `json:"message"`
	CollapseKey string    `json:"collapseKey,omitempty"`
	SentAt      time.Time `json:"sentAt"`
}

// RedisSink keeps undelivered messages per topic in Redis and publishes each one on
// the topic channel. Un-keyed messages queue in a list; keyed messages live in a
// hash field so a newer message replaces the pending one.
type RedisSink struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

const defaultPendingTTL = 7 * 24 * time.Hour

// NewRedisSink connects to redisURL and verifies the connection.
func NewRedisSink(redisURL string) (*RedisSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisSinkWithClient(client), nil
}

func NewRedisSinkWithClient(client *redis.Client) *RedisSink {
	return &RedisSink{client: client, prefix: "push:", ttl: defaultPendingTTL}
}

func (s *RedisSink) queueKey(topic string) string     { return s.prefix + topic + ":queue" }
func (s *RedisSink) collapsedKey(topic string) string { return s.prefix + topic + ":collapsed" }
func (s *RedisSink) channel(topic string) string      { return s.prefix + topic }

func (s *RedisSink) SendToTopic(ctx context.Context, topic string, msg Message, opts Options) error {
	env := Envelope{Topic: topic, Message: msg, CollapseKey: opts.CollapseKey, SentAt: time.Now().UTC()}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if opts.CollapseKey != "" {
			pipe.HSet(ctx, s.collapsedKey(topic), opts.CollapseKey, data)
			pipe.Expire(ctx, s.collapsedKey(topic), s.ttl)
		} else {
			pipe.RPush(ctx, s.queueKey(topic), data)
			pipe.Expire(ctx, s.queueKey(topic), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store pending message: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel(topic), data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Pending returns the undelivered messages for topic, oldest first.
func (s *RedisSink) Pending(ctx context.Context, topic string) ([]Envelope, error) {
	queued, err := s.client.LRange(ctx, s.queueKey(topic), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	collapsed, err := s.client.HGetAll(ctx, s.collapsedKey(topic)).Result()
	if err != nil {
		return nil, fmt.Errorf("read collapsed: %w", err)
	}
	res := make([]Envelope, 0, len(queued)+len(collapsed))
	raw := append([]string{}, queued...)
	for _, v := range collapsed {
		raw = append(raw, v)
	}
	for _, v := range raw {
		var env Envelope
		if err := json.Unmarshal([]byte(v), &env); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		res = append(res, env)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].SentAt.Before(res[j].SentAt) })
	return res, nil
}

// Ack drops everything pending for topic.
func (s *RedisSink) Ack(ctx context.Context, topic string) error {
	return s.client.Del(ctx, s.queueKey(topic), s.collapsedKey(topic)).Err()
}

// Subscribe streams messages published for topic until ctx is done.
func (s *RedisSink) Subscribe(ctx context.Context, topic string) (<-chan Envelope, error) {
	sub := s.client.Subscribe(ctx, s.channel(topic))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	out := make(chan Envelope)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
