// Package notify delivers job lifecycle events to external endpoints.
// Delivery is best effort: one attempt per notifier, failures are logged.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ahmethakanbesel/pricewatch/internal/job"
	"github.com/ahmethakanbesel/pricewatch/internal/metrics"
)

const defaultTimeout = 10 * time.Second

type Notifier interface {
	Name() string
	Notify(ctx context.Context, event string, j job.Job) error
}

// Dispatcher fans events out to notifiers on tracked goroutines so the
// caller never waits on the network.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	metrics   *metrics.Metrics
	wg        sync.WaitGroup
}

func NewDispatcher(notifiers []Notifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		notifiers: notifiers,
		timeout:   defaultTimeout,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

type Option func(*Dispatcher)

// WithTimeout bounds each delivery attempt.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatch implements job.EventSink.
func (d *Dispatcher) Dispatch(event string, j job.Job) {
	for _, n := range d.notifiers {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("notify: panic", "notifier", n.Name(), "event", event, "job", j.ID, "panic", r)
				}
			}()

			// Detached from the job's context: a cancelled job still reports.
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()

			if err := n.Notify(ctx, event, j); err != nil {
				slog.Warn("notify: delivery failed", "notifier", n.Name(), "event", event, "job", j.ID, "error", err)
				d.metrics.NotifyError(n.Name())
			}
		}()
	}
}

// Wait blocks until every dispatched delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
