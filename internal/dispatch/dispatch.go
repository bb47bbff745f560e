// Package dispatch fans published alerts out to every known identity:
// live connections get the alert on their send queue, offline devices with
// a push token go through the push pipeline, the rest are recorded as
// unreachable. Publish never blocks on delivery.
package dispatch

import (
	"context"
	"sync"
	"time"

	"alertd/internal/eventbus"
	"alertd/internal/registry"
	"alertd/internal/storage"
	"alertd/internal/store"
	"alertd/internal/transport"
	"alertd/pkg/alert"
	"alertd/pkg/logx"
)

// PushNotifier is the slice of the push pipeline the dispatcher needs.
type PushNotifier interface {
	Notify(ctx context.Context, token string, a alert.Alert) error
	Enabled() bool
}

// PublishEvent is the bus payload for dispatch lifecycle events.
type PublishEvent struct {
	AlertID     int64  `json:"alert_id"`
	Type        string `json:"type,omitempty"`
	IdentityID  string `json:"identity_id,omitempty"`
	Delivered   int    `json:"delivered,omitempty"`
	Pushed      int    `json:"pushed,omitempty"`
	Unreachable int    `json:"unreachable,omitempty"`
	Error       string `json:"error,omitempty"`
}

type Dispatcher struct {
	// mu serializes append+enumeration so every send queue sees alerts
	// in id order across concurrent publishes. Socket writes themselves
	// happen per connection, outside this lock.
	mu sync.Mutex

	reg     *registry.Registry
	ring    *store.Store
	push    PushNotifier
	archive storage.Store // optional
	bus     eventbus.Bus
	log     logx.Logger
}

func New(reg *registry.Registry, ring *store.Store, push PushNotifier, archive storage.Store, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{reg: reg, ring: ring, push: push, archive: archive, bus: bus, log: log}
}

// Publish validates, stores, and fans out one alert. Validation failures
// leave the store untouched. Delivery failures never surface as errors here;
// they are logged and published on the event bus.
func (d *Dispatcher) Publish(ctx context.Context, cand alert.Candidate) (alert.Alert, error) {
	if err := cand.Validate(); err != nil {
		return alert.Alert{}, err
	}

	type pushTarget struct {
		identity string
		token    string
	}
	var (
		pushTargets []pushTarget
		unreachable []string
		delivered   int
		sendErrs    []PublishEvent
	)

	d.mu.Lock()
	a := d.ring.Append(cand)
	// One encoding shared by every connection keeps the critical section to
	// pure enqueues.
	frame, encErr := transport.EncodeAlert(a)
	for id := range d.reg.All() {
		switch {
		case id.Online():
			err := encErr
			if err == nil {
				err = id.Conn.SendFrame(frame)
			}
			if err != nil {
				sendErrs = append(sendErrs, PublishEvent{
					AlertID: a.ID, IdentityID: id.ID, Error: err.Error(),
				})
			} else {
				delivered++
			}
		case id.PushToken != "":
			pushTargets = append(pushTargets, pushTarget{identity: id.ID, token: id.PushToken})
		default:
			unreachable = append(unreachable, id.ID)
		}
	}
	d.mu.Unlock()

	for _, ev := range sendErrs {
		d.log.Warn("socket delivery failed",
			logx.String("identity", ev.IdentityID), logx.Int64("alert_id", a.ID), logx.String("err", ev.Error))
		d.publish(eventbus.TypeDeliveryFailed, ev)
	}

	pushed := 0
	if d.push != nil && d.push.Enabled() {
		for _, t := range pushTargets {
			if err := d.push.Notify(ctx, t.token, a); err != nil {
				d.log.Warn("push enqueue failed",
					logx.String("identity", t.identity), logx.Int64("alert_id", a.ID), logx.Err(err))
				d.publish(eventbus.TypeDeliveryFailed, PublishEvent{AlertID: a.ID, IdentityID: t.identity, Error: err.Error()})
				continue
			}
			pushed++
		}
	}

	for _, id := range unreachable {
		d.publish(eventbus.TypeUnreachable, PublishEvent{AlertID: a.ID, IdentityID: id})
	}
	if n := len(unreachable); n > 0 {
		d.log.Debug("identities unreachable", logx.Int64("alert_id", a.ID), logx.Int("count", n))
	}

	d.log.Info("alert published",
		logx.Int64("id", a.ID), logx.String("type", string(a.Type)),
		logx.Int("delivered", delivered), logx.Int("pushed", pushed), logx.Int("unreachable", len(unreachable)))
	d.publish(eventbus.TypeAlertPublished, PublishEvent{
		AlertID: a.ID, Type: string(a.Type),
		Delivered: delivered, Pushed: pushed, Unreachable: len(unreachable),
	})

	d.archiveAlert(a, delivered, pushed)
	return a, nil
}

// Recent exposes the store's backfill view to the transports.
func (d *Dispatcher) Recent(limit int) []alert.Alert {
	return d.ring.Recent(limit)
}

func (d *Dispatcher) publish(typ string, ev PublishEvent) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func (d *Dispatcher) archiveAlert(a alert.Alert, delivered, pushed int) {
	if d.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := d.archive.AppendAlert(ctx, storage.AlertRecord{
		ID: a.ID, At: a.Timestamp,
		Title: a.Title, Message: a.Message, Type: string(a.Type),
		Delivered: delivered, Pushed: pushed,
	})
	if err != nil {
		d.log.Debug("alert archive write failed", logx.Int64("id", a.ID), logx.Err(err))
	}
}
