// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package sensor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	json "github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tomtom215/millwright/internal/config"
	"github.com/tomtom215/millwright/internal/logging"
	"github.com/tomtom215/millwright/internal/metrics"
	"github.com/tomtom215/millwright/internal/models"
	"github.com/tomtom215/millwright/internal/notify"
	"github.com/tomtom215/millwright/internal/validation"
)

const (
	// Redelivery limit before JetStream parks a message. Storage failures
	// are transient; five attempts over ackWait spans multi-minute outages.
	maxDeliver    = 5
	ackWait       = 30 * time.Second
	maxAckPending = 256
	closeTimeout  = 30 * time.Second
	maxReconnects = 60

	// Outer reconnect backoff bounds for the consume loop.
	initialBackoff = time.Second
	maxBackoff     = 2 * time.Minute
)

// CutStore persists cut events. Insert reports false for duplicates.
type CutStore interface {
	InsertCutEvent(ctx context.Context, event *models.CutEvent) (bool, error)
}

// Notifier accepts events for the live-notification surface.
type Notifier interface {
	Notify(event notify.Event)
}

// cutMessage is the wire format PLC gateways publish on the cut subject.
type cutMessage struct {
	MachineID    string    `json:"machine_id" validate:"required,max=64"`
	TimestampUTC time.Time `json:"timestamp_utc" validate:"required"`
	// Zero counts are legitimate heartbeat samples; only negatives are
	// rejected.
	CutCount int `json:"cut_count" validate:"min=0"`
}

// Listener consumes cut events from the bus, stores them idempotently, and
// notifies the broadcast surface for each newly stored event.
type Listener struct {
	cfg      config.NATSConfig
	store    CutStore
	notifier Notifier
	logger   zerolog.Logger

	connected atomic.Bool
	lastEvent atomic.Int64 // unix nanos of last stored event; 0 = never
}

// NewListener builds a listener. The notifier may be a no-op in tools that
// ingest without broadcasting.
func NewListener(cfg *config.NATSConfig, store CutStore, notifier Notifier) *Listener {
	return &Listener{
		cfg:      *cfg,
		store:    store,
		notifier: notifier,
		logger:   logging.WithComponent("sensor"),
	}
}

// String names the listener in supervisor logs.
func (l *Listener) String() string {
	return "sensor-listener"
}

// IsConnected reports whether the bus subscription is currently live.
func (l *Listener) IsConnected() bool {
	return l.connected.Load()
}

// LastEventAt returns when the last cut event was stored, or nil if none
// has been since startup.
func (l *Listener) LastEventAt() *time.Time {
	nanos := l.lastEvent.Load()
	if nanos == 0 {
		return nil
	}
	t := time.Unix(0, nanos).UTC()
	return &t
}

// Serve consumes the cut subject until the context is cancelled. Bus
// failures trigger reconnection with exponential backoff; the durable
// consumer resumes from the last acknowledged message, so nothing published
// during the gap is lost.
func (l *Listener) Serve(ctx context.Context) error {
	backoff := initialBackoff

	for {
		err := l.consume(ctx)
		wasConnected := l.connected.Swap(false)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if wasConnected {
			backoff = initialBackoff
		}

		metrics.RecordSensorReconnect()
		l.logger.Warn().
			Err(err).
			Dur("backoff", backoff).
			Str("url", l.cfg.URL).
			Msg("Sensor bus connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// consume runs one subscription session: connect, drain messages, return on
// failure or cancellation.
func (l *Listener) consume(ctx context.Context) error {
	sub, err := l.newSubscriber()
	if err != nil {
		return fmt.Errorf("create subscriber: %w", err)
	}
	defer sub.Close()

	messages, err := sub.Subscribe(ctx, l.cfg.Subject)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", l.cfg.Subject, err)
	}

	l.connected.Store(true)
	l.logger.Info().
		Str("subject", l.cfg.Subject).
		Str("durable", l.cfg.DurableName).
		Str("queue_group", l.cfg.QueueGroup).
		Msg("Sensor listener connected")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("subscription channel closed")
			}
			l.handleMessage(ctx, msg)
		}
	}
}

func (l *Listener) newSubscriber() (message.Subscriber, error) {
	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(maxReconnects),
		natsgo.ReconnectWait(l.cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				l.logger.Warn().Err(err).Msg("Sensor bus disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			l.logger.Info().Str("url", nc.ConnectedUrl()).Msg("Sensor bus reconnected")
		}),
	}

	subOpts := []natsgo.SubOpt{
		natsgo.MaxDeliver(maxDeliver),
		natsgo.MaxAckPending(maxAckPending),
		natsgo.AckWait(ackWait),
		natsgo.BindStream(StreamName),
		// The durable consumer's ack floor decides the resume point;
		// DeliverNew applies only on first creation.
		natsgo.DeliverNew(),
	}

	return wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              l.cfg.URL,
		QueueGroupPrefix: l.cfg.QueueGroup,
		SubscribersCount: l.cfg.SubscribersCount,
		AckWaitTimeout:   ackWait,
		CloseTimeout:     closeTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision:    false,
			AckAsync:         false,
			SubscribeOptions: subOpts,
			DurablePrefix:    l.cfg.DurableName,
		},
	}, logging.NewWatermillAdapter())
}

// handleMessage processes one bus message. Malformed payloads are counted
// and acknowledged: they will never parse on redelivery, so nacking would
// only wedge the consumer. Storage failures are nacked for redelivery.
func (l *Listener) handleMessage(ctx context.Context, msg *message.Message) {
	start := time.Now()

	var cut cutMessage
	if err := json.Unmarshal(msg.Payload, &cut); err != nil {
		l.dropMalformed(msg, err)
		return
	}
	if verr := validation.ValidateStruct(&cut); verr != nil {
		l.dropMalformed(msg, verr)
		return
	}

	event := &models.CutEvent{
		MachineID:    cut.MachineID,
		TimestampUTC: cut.TimestampUTC.UTC(),
		CutCount:     cut.CutCount,
	}

	inserted, err := l.store.InsertCutEvent(ctx, event)
	if err != nil {
		metrics.RecordSensorEvent(time.Since(start), err)
		l.logger.Error().
			Err(err).
			Str("machine_id", cut.MachineID).
			Str("message_uuid", msg.UUID).
			Msg("Failed to store cut event")
		msg.Nack()
		return
	}

	l.lastEvent.Store(time.Now().UnixNano())
	metrics.RecordSensorEvent(time.Since(start), nil)

	if inserted {
		l.notifier.Notify(notify.NewProductionMetricUpdate(notify.ProductionMetricPayload{
			MachineID:  cut.MachineID,
			Metric:     "cut_count",
			Value:      float64(cut.CutCount),
			ObservedAt: event.TimestampUTC,
		}))
	} else {
		l.logger.Debug().
			Str("machine_id", cut.MachineID).
			Time("timestamp_utc", event.TimestampUTC).
			Msg("Duplicate cut event skipped")
	}

	msg.Ack()
}

// dropMalformed acks a message that can never be processed.
func (l *Listener) dropMalformed(msg *message.Message, err error) {
	metrics.RecordSensorMalformed()
	l.logger.Warn().
		Err(err).
		Str("message_uuid", msg.UUID).
		Int("payload_bytes", len(msg.Payload)).
		Msg("Malformed cut event dropped")
	msg.Ack()
}
