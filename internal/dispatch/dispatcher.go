package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/auditstream/internal/admission"
	"github.com/mattjoyce/auditstream/internal/audit"
	"github.com/mattjoyce/auditstream/internal/delivery"
	"github.com/mattjoyce/auditstream/internal/events"
	"github.com/mattjoyce/auditstream/internal/format"
	"github.com/mattjoyce/auditstream/internal/log"
	"github.com/mattjoyce/auditstream/internal/metrics"
)

//go:generate mockgen -destination=mocks/mock_dispatch.go -package=mocks github.com/mattjoyce/auditstream/internal/dispatch Resolver,Sender

// Resolver returns the destinations configured for a scope.
type Resolver interface {
	Resolve(ctx context.Context, scope audit.Scope) ([]audit.Destination, error)
}

// Sender delivers one payload to one destination. A nil error means the
// destination accepted it.
type Sender interface {
	Send(ctx context.Context, dest audit.Destination, d delivery.Delivery) error
}

// target is one (scope, destination) pair with its formatted payload.
type target struct {
	scope   audit.Scope
	dest    audit.Destination
	payload []byte
}

// Dispatcher streams audit events to their configured destinations.
type Dispatcher struct {
	resolver   Resolver
	formatters *format.Set
	admission  *admission.Controller
	sender     Sender

	events  events.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithEvents publishes dispatch outcomes to p.
func WithEvents(p events.Publisher) Option {
	return func(d *Dispatcher) { d.events = p }
}

// WithMetrics records dispatch and delivery metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates a Dispatcher.
func New(resolver Resolver, formatters *format.Set, adm *admission.Controller, sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		resolver:   resolver,
		formatters: formatters,
		admission:  adm,
		sender:     sender,
		logger:     log.WithComponent("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// LogEventOrThrow streams ev to every destination of its scope chain and
// returns once every delivery has finished. It returns nil only when all
// destinations accepted the event, including when there are none.
//
// Cancelling ctx does not abort deliveries already admitted; each is bounded
// by the delivery client's request timeout instead.
func (d *Dispatcher) LogEventOrThrow(ctx context.Context, actor *audit.User, ev audit.Event) error {
	ev = ev.Normalized()
	logger := d.logger.With("event_id", ev.ID, "action", ev.Action)

	targets, err := d.resolve(ctx, ev)
	if err != nil {
		logger.Error("resolve destinations failed", "error", err)
		d.finish(metrics.OutcomeError, events.TypeFailed, ev, err, nil)
		return err
	}
	if len(targets) == 0 {
		logger.Debug("no destinations configured")
		d.countDispatch(metrics.OutcomeEmpty)
		return nil
	}

	for i := range targets {
		payload, err := d.formatters.Format(format.Request{Scope: targets[i].scope, Actor: actor, Event: ev})
		if err != nil {
			logger.Error("format failed", "destination_id", targets[i].dest.ID, "error", err)
			d.finish(metrics.OutcomeError, events.TypeFailed, ev, err, nil)
			return err
		}
		targets[i].payload = payload
	}

	if err := d.admission.TryAcquire(len(targets)); err != nil {
		logger.Warn("dispatch rejected", "targets", len(targets), "error", err)
		if d.metrics != nil {
			d.metrics.IncAdmissionRejected()
		}
		serr := &StreamingError{Action: ev.Action, EventID: ev.ID, Cause: err}
		d.finish(metrics.OutcomeRejected, events.TypeRejected, ev, serr, nil)
		return serr
	}
	d.gaugeInFlight()

	failures := d.deliver(context.WithoutCancel(ctx), ev, targets)
	if len(failures) == 0 {
		logger.Info("event streamed", "destinations", len(targets))
		d.finish(metrics.OutcomeStreamed, events.TypeStreamed, ev, nil, targets)
		return nil
	}

	serr := &StreamingError{Action: ev.Action, EventID: ev.ID, Failures: failures}
	logger.Warn("event streamed with failures",
		"destinations", len(targets), "failed", len(failures), "error", serr)
	d.finish(metrics.OutcomeFailed, events.TypeFailed, ev, serr, targets)
	return serr
}

// resolve flattens the destinations of the scope chain in chain order.
func (d *Dispatcher) resolve(ctx context.Context, ev audit.Event) ([]target, error) {
	var targets []target
	for _, scope := range ev.Scopes() {
		dests, err := d.resolver.Resolve(ctx, scope)
		if err != nil {
			return nil, err
		}
		for _, dest := range dests {
			targets = append(targets, target{scope: scope, dest: dest})
		}
	}
	return targets, nil
}

// deliver sends every target concurrently. The caller has already taken one
// admission slot per target; each goroutine gives its slot back when done.
// Failures are returned in target order.
func (d *Dispatcher) deliver(ctx context.Context, ev audit.Event, targets []target) []*delivery.Failure {
	results := make([]*delivery.Failure, len(targets))

	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			defer func() {
				d.admission.Release(1)
				d.gaugeInFlight()
			}()

			start := time.Now()
			err := d.sender.Send(ctx, t.dest, delivery.Delivery{
				EventID: ev.ID,
				Action:  ev.Action,
				Payload: t.payload,
			})
			if d.metrics != nil {
				d.metrics.ObserveDelivery(string(t.scope.Kind), err == nil, time.Since(start))
			}
			if err != nil {
				results[i] = asFailure(t.dest.ID, err)
				d.logger.Debug("delivery failed",
					"event_id", ev.ID, "destination_id", t.dest.ID, "scope", t.scope.Key(), "error", err)
			}
			// Never abort siblings.
			return nil
		})
	}
	_ = g.Wait()

	var failures []*delivery.Failure
	for _, f := range results {
		if f != nil {
			failures = append(failures, f)
		}
	}
	return failures
}

func asFailure(destID string, err error) *delivery.Failure {
	var f *delivery.Failure
	if errors.As(err, &f) {
		return f
	}
	return &delivery.Failure{DestinationID: destID, Err: err}
}

// outcome is the payload published on the events hub.
type outcome struct {
	EventID      string   `json:"event_id"`
	Action       string   `json:"action"`
	Destinations int      `json:"destinations"`
	Failed       []string `json:"failed,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func (d *Dispatcher) finish(metricOutcome, eventType string, ev audit.Event, err error, targets []target) {
	d.countDispatch(metricOutcome)
	if d.events == nil {
		return
	}
	o := outcome{EventID: ev.ID, Action: ev.Action, Destinations: len(targets)}
	if err != nil {
		o.Error = err.Error()
		var serr *StreamingError
		if errors.As(err, &serr) {
			o.Failed = serr.FailedDestinations()
		}
	}
	d.events.Publish(eventType, o)
}

func (d *Dispatcher) countDispatch(outcome string) {
	if d.metrics != nil {
		d.metrics.IncDispatch(outcome)
	}
}

func (d *Dispatcher) gaugeInFlight() {
	if d.metrics != nil {
		d.metrics.SetInFlight(d.admission.InFlight())
	}
}

// Describe renders a short human summary of a dispatch error for CLI output.
func Describe(err error) string {
	var serr *StreamingError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, admission.ErrAdmissionExceeded):
		return fmt.Sprintf("rejected: %v", err)
	case errors.As(err, &serr):
		return fmt.Sprintf("%d destination(s) failed: %v", len(serr.Failures), err)
	case errors.Is(err, format.ErrNoFormatter):
		return fmt.Sprintf("no formatter: %v", err)
	default:
		return fmt.Sprintf("error: %v", err)
	}
}
