package notify

import (
	"context"
	"sync"

	"github.com/authwatchio/authwatch/pkg/core"
	"github.com/authwatchio/authwatch/pkg/errors"
	"github.com/authwatchio/authwatch/pkg/metrics"
)

// Enqueuer accepts a failed delivery for later retry. The retry queue
// implements this.
type Enqueuer interface {
	Enqueue(channel string, payload *Payload, cause error) error
}

// Dispatcher delivers payloads to the channels the gate approved.
type Dispatcher struct {
	transports map[string]Transport
	queue      Enqueuer
	logger     core.Logger
	collector  metrics.Collector
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRetryQueue makes the dispatcher enqueue retryable failures.
func WithRetryQueue(queue Enqueuer) DispatcherOption {
	return func(d *Dispatcher) { d.queue = queue }
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger core.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithDispatcherCollector sets the metrics collector delivery durations
// are reported to.
func WithDispatcherCollector(collector metrics.Collector) DispatcherOption {
	return func(d *Dispatcher) { d.collector = collector }
}

// NewDispatcher creates a dispatcher over the given transports, keyed by
// their channel names.
func NewDispatcher(transports []Transport, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		transports: make(map[string]Transport, len(transports)),
		logger:     core.NewDefaultLogger("dispatch", core.LogLevelInfo),
		collector:  metrics.GetDefaultCollector(),
	}
	for _, t := range transports {
		d.transports[t.Name()] = t
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers the payload to every channel whose decision is
// ActionSent, concurrently. It returns the final decisions: deliveries
// that fail are rewritten to ActionFailed with the error as reason, and
// retryable failures are handed to the retry queue when one is set.
// Skipped decisions pass through untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, payload *Payload, decisions map[string]ChannelDecision) map[string]ChannelDecision {
	final := make(map[string]ChannelDecision, len(decisions))

	// Settle everything that needs no delivery first, so final sees no
	// writes outside mu once the send goroutines exist.
	sends := make(map[string]Transport, len(decisions))
	for name, decision := range decisions {
		if decision.Action != ActionSent {
			final[name] = decision
			continue
		}

		transport, ok := d.transports[name]
		if !ok {
			final[name] = ChannelDecision{
				Channel: name,
				Action:  ActionFailed,
				Reason:  "no transport configured",
			}
			continue
		}
		sends[name] = transport
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, transport := range sends {
		wg.Add(1)
		go func(name string, transport Transport) {
			defer wg.Done()

			timer := metrics.NewTimer(d.collector, metrics.NotificationSendDuration.Name, "channel", name)
			err := transport.Send(ctx, payload)
			timer.ObserveDuration()

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				final[name] = ChannelDecision{Channel: name, Action: ActionSent}
				return
			}

			d.logger.Warn("delivery to %s failed: %v", name, err)
			final[name] = ChannelDecision{
				Channel: name,
				Action:  ActionFailed,
				Reason:  err.Error(),
			}
			if d.queue != nil && errors.IsRetryable(err) {
				if qErr := d.queue.Enqueue(name, payload, err); qErr != nil {
					d.logger.Error("enqueue retry for %s: %v", name, qErr)
				}
			}
		}(name, transport)
	}

	wg.Wait()
	return final
}
