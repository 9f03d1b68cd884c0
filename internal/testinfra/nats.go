// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NATSContainer wraps a JetStream-enabled NATS broker for integration
// tests that exercise the sensor path against a real external server
// instead of the embedded one.
type NATSContainer struct {
	testcontainers.Container
	url string
}

// natsConfig holds container options.
type natsConfig struct {
	image        string
	startTimeout time.Duration
}

// NATSOption customizes the broker container.
type NATSOption func(*natsConfig)

// WithNATSImage overrides the broker image.
func WithNATSImage(image string) NATSOption {
	return func(c *natsConfig) {
		c.image = image
	}
}

// WithNATSStartTimeout overrides the readiness timeout.
func WithNATSStartTimeout(timeout time.Duration) NATSOption {
	return func(c *natsConfig) {
		c.startTimeout = timeout
	}
}

// NewNATSContainer starts a NATS broker with JetStream enabled and waits
// until it accepts client connections.
func NewNATSContainer(ctx context.Context, opts ...NATSOption) (*NATSContainer, error) {
	cfg := &natsConfig{
		image:        "nats:2.10-alpine",
		startTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	req := testcontainers.ContainerRequest{
		Image:        cfg.image,
		Cmd:          []string{"--jetstream"},
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor: wait.ForLog("Server is ready").
			WithStartupTimeout(cfg.startTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("start NATS container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve NATS host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		return nil, fmt.Errorf("resolve NATS port: %w", err)
	}

	return &NATSContainer{
		Container: container,
		url:       fmt.Sprintf("nats://%s:%s", host, port.Port()),
	}, nil
}

// URL returns the client connection URL.
func (c *NATSContainer) URL() string {
	return c.url
}
