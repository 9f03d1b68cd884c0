// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package sensor

import (
	"context"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamName is the JetStream stream holding raw cut events.
const StreamName = "SENSOR_CUTS"

// EnsureStream creates or updates the cut-event stream so the durable
// consumer always has somewhere to bind. Safe to call on every startup.
func EnsureStream(ctx context.Context, url, subject string) error {
	nc, err := natsgo.Connect(url,
		natsgo.RetryOnFailedConnect(true),
		natsgo.Timeout(10*time.Second),
	)
	if err != nil {
		return fmt.Errorf("connect for stream provisioning: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	streamCfg := jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{subject},
		// Cut events are append-only and re-derivable from storage once
		// ingested; a week of retention covers any realistic outage.
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
		Discard:   jetstream.DiscardOld,
		// Gateway retries inside this window collapse to one message.
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	}

	if _, err := js.Stream(ctx, StreamName); err == nil {
		if _, err := js.UpdateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		return nil
	}

	if _, err := js.CreateStream(ctx, streamCfg); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	return nil
}
