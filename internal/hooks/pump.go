package hooks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"helpling/internal/domain"
	"helpling/internal/repo"
)

const (
	defaultInterval    = 2 * time.Second
	defaultBatch       = 100
	defaultMaxAttempts = 5
	DefaultConsumer    = "hooks"
)

// Handler reacts to one event. A non-nil error leaves the event undelivered.
type Handler func(ctx context.Context, evt domain.Event) error

// Pump feeds committed events to handlers in id order. Every event type has its
// own persisted cursor that only moves past an event once its handler succeeded or
// the event was parked after MaxAttempts failures, so every event is delivered at
// least once or ends up in the parked list.
type Pump struct {
	Repo     repo.Repo
	Consumer string
	Interval time.Duration
	Batch    int
	// MaxAttempts bounds deliveries of one event before it is parked.
	MaxAttempts int
	Log         zerolog.Logger
	handlers    map[string]Handler
}

func NewPump(r repo.Repo, consumer string, log zerolog.Logger) *Pump {
	if consumer == "" {
		consumer = DefaultConsumer
	}
	return &Pump{
		Repo:     r,
		Consumer: consumer,
		Interval: defaultInterval,
		Batch:    defaultBatch,
		Log:      log,
		handlers: make(map[string]Handler),
	}
}

func (p *Pump) Handle(evtType string, h Handler) {
	p.handlers[evtType] = h
}

func (p *Pump) types() []string {
	res := make([]string, 0, len(p.handlers))
	for t := range p.handlers {
		res = append(res, t)
	}
	sort.Strings(res)
	return res
}

// Register wires the cleanup and activity handlers to their event types.
func Register(p *Pump, c Cleanup, a Activity) {
	p.Handle(domain.EventItemDeleted, c.handleItemDeleted)
	p.Handle(domain.EventMessageCreated, a.handleMessageCreated)
	p.Handle(domain.EventCommentCreated, a.handleCommentCreated)
}

// cursorName is the persisted cursor of one event type. Each type advances on its
// own, so a handler that keeps failing never holds back the others.
func (p *Pump) cursorName(evtType string) string {
	return p.Consumer + ":" + evtType
}

func (p *Pump) cursor(ctx context.Context, name string) (int64, error) {
	cur, err := p.Repo.Cursor(ctx, name)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, nil
	}
	return cur, err
}

func (p *Pump) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return p.MaxAttempts
}

// RunOnce delivers one batch per event type and returns how many events were
// handled or parked. Errors of the individual types are joined.
func (p *Pump) RunOnce(ctx context.Context) (int, error) {
	return p.round(ctx, map[string]error{})
}

// round runs one batch for every type not yet in failed and records the types
// that stopped on an error.
func (p *Pump) round(ctx context.Context, failed map[string]error) (int, error) {
	var errs []error
	total := 0
	for _, evtType := range p.types() {
		if _, ok := failed[evtType]; ok {
			continue
		}
		n, err := p.runType(ctx, evtType)
		total += n
		if err != nil {
			failed[evtType] = err
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

func (p *Pump) runType(ctx context.Context, evtType string) (int, error) {
	name := p.cursorName(evtType)
	cur, err := p.cursor(ctx, name)
	if err != nil {
		return 0, err
	}
	batch := p.Batch
	if batch <= 0 {
		batch = defaultBatch
	}
	evts, err := p.Repo.EventsAfter(ctx, cur, batch, evtType)
	if err != nil {
		return 0, err
	}
	h := p.handlers[evtType]
	done := 0
	for _, evt := range evts {
		if herr := h(ctx, evt); herr != nil {
			attempts, err := p.Repo.RecordFailure(ctx, name, evt.ID, herr.Error())
			if err != nil {
				return done, err
			}
			if attempts < p.maxAttempts() {
				return done, fmt.Errorf("event %d (%s) attempt %d: %w", evt.ID, evt.Type, attempts, herr)
			}
			if err := p.Repo.ParkEvent(ctx, name, evt.ID); err != nil {
				return done, err
			}
			p.Log.Error().Err(herr).Int64("event", evt.ID).Str("type", evt.Type).Int("attempts", attempts).Msg("event parked")
		} else if err := p.Repo.ClearFailure(ctx, name, evt.ID); err != nil {
			return done, err
		}
		if err := p.Repo.SetCursor(ctx, name, evt.ID); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

// Run polls until ctx is cancelled. A full batch is followed immediately by the
// next one.
func (p *Pump) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	p.Log.Info().Str("consumer", p.Consumer).Strs("events", p.types()).Dur("interval", interval).Msg("event pump started")
	for {
		n, err := p.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			p.Log.Error().Err(err).Str("consumer", p.Consumer).Msg("event pump: delivery failed")
		}
		if err == nil && n > 0 && n >= p.Batch {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Drain runs batches until nothing is left. A type whose handler fails is not
// retried again within the same drain; the others keep going.
func (p *Pump) Drain(ctx context.Context) (int, error) {
	failed := map[string]error{}
	total := 0
	for {
		n, _ := p.round(ctx, failed)
		total += n
		if n == 0 || ctx.Err() != nil {
			break
		}
	}
	errs := make([]error, 0, len(failed))
	for _, t := range p.types() {
		if err, ok := failed[t]; ok {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}
