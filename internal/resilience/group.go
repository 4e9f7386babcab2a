package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend in a [Group] failed or was
// skipped by its breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// Backend is one named entry of a [Group].
type Backend[T any] struct {
	Name    string
	Value   T
	breaker *Breaker
}

// Breaker exposes the entry's circuit breaker.
func (b *Backend[T]) Breaker() *Breaker { return b.breaker }

// Group holds a primary backend and ordered fallbacks, each guarded by its
// own [Breaker]. Entries must be added before the group is shared.
type Group[T any] struct {
	cfg      BreakerConfig
	backends []*Backend[T]
	observe  func(ctx context.Context, backend string, err error)
}

// NewGroup creates a group whose first entry is primary. cfg is the
// template for every entry's breaker; its Name is replaced per entry.
func NewGroup[T any](name string, primary T, cfg BreakerConfig) *Group[T] {
	g := &Group[T]{cfg: cfg}
	g.Add(name, primary)
	return g
}

// Add appends a fallback backend.
func (g *Group[T]) Add(name string, v T) {
	bc := g.cfg
	bc.Name = name
	g.backends = append(g.backends, &Backend[T]{Name: name, Value: v, breaker: NewBreaker(bc)})
}

// Observe registers fn to be told the outcome of every backend attempt.
// Attempts skipped by an open breaker are not reported.
func (g *Group[T]) Observe(fn func(ctx context.Context, backend string, err error)) {
	g.observe = fn
}

// Backends returns the entries in priority order.
func (g *Group[T]) Backends() []*Backend[T] { return g.backends }

// Call tries each backend of g in order and returns the first success.
// Backends whose breaker is open are skipped. If ctx ends the loop stops
// and ctx's error is returned. Otherwise, when nothing succeeded, the
// returned error wraps [ErrAllFailed] together with each backend's error.
func Call[T, R any](ctx context.Context, g *Group[T], fn func(ctx context.Context, v T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i, b := range g.backends {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var out R
		err := b.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, b.Value)
			return err
		})
		if g.observe != nil && !errors.Is(err, ErrCircuitOpen) {
			g.observe(ctx, b.Name, err)
		}
		if err == nil {
			if i > 0 {
				slog.Info("resilience: served by fallback", "backend", b.Name, "position", i)
			}
			return out, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}
		if !errors.Is(err, ErrCircuitOpen) {
			slog.Warn("resilience: backend failed", "backend", b.Name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.Name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
