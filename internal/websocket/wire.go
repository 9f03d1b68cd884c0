// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package websocket

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/millwright/internal/notify"
)

// clientMessage is the single inbound frame shape. Subscriptions is used by
// subscribe/unsubscribe; Timestamp is echoed back by ping and kept raw so
// clients get back exactly what they sent.
type clientMessage struct {
	Type          string          `json:"type"`
	Subscriptions []string        `json:"subscriptions,omitempty"`
	Timestamp     json.RawMessage `json:"timestamp,omitempty"`
}

// serverMessage is the outbound frame. Event frames carry Type and Data;
// protocol frames fill the fields relevant to their type and omit the rest.
type serverMessage struct {
	Type          string          `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
	ConnectionID  string          `json:"connection_id,omitempty"`
	Subscriptions []string        `json:"subscriptions,omitempty"`
	Accepted      []string        `json:"accepted,omitempty"`
	Rejected      []string        `json:"rejected,omitempty"`
	Code          string          `json:"code,omitempty"`
	Message       string          `json:"message,omitempty"`
	Echo          json.RawMessage `json:"echo,omitempty"`
	Data          interface{}     `json:"data,omitempty"`
}

func topicNames(topics []notify.Topic) []string {
	names := make([]string, len(topics))
	for i, t := range topics {
		names[i] = string(t)
	}
	return names
}

// newEventMessage wraps a broadcast event. The event type is the frame type,
// so clients dispatch on a single field for both protocol and data frames.
func newEventMessage(event notify.Event) serverMessage {
	return serverMessage{
		Type:      string(event.Type),
		Timestamp: event.Timestamp,
		Data:      event.Data,
	}
}

func newConnectionEstablished(connID string, topics []notify.Topic) serverMessage {
	return serverMessage{
		Type:          "connection_established",
		Timestamp:     timeNow().UTC(),
		ConnectionID:  connID,
		Subscriptions: topicNames(topics),
	}
}

func newSubscriptionConfirmed(added []notify.Topic, rejected []string, current []notify.Topic) serverMessage {
	return serverMessage{
		Type:          "subscription_confirmed",
		Timestamp:     timeNow().UTC(),
		Accepted:      topicNames(added),
		Rejected:      rejected,
		Subscriptions: topicNames(current),
	}
}

func newUnsubscriptionConfirmed(removed []notify.Topic, rejected []string, current []notify.Topic) serverMessage {
	return serverMessage{
		Type:          "unsubscription_confirmed",
		Timestamp:     timeNow().UTC(),
		Accepted:      topicNames(removed),
		Rejected:      rejected,
		Subscriptions: topicNames(current),
	}
}

func newPong(echo json.RawMessage) serverMessage {
	return serverMessage{
		Type:      "pong",
		Timestamp: timeNow().UTC(),
		Echo:      echo,
	}
}

func newStatusResponse(data interface{}) serverMessage {
	return serverMessage{
		Type:      "status_response",
		Timestamp: timeNow().UTC(),
		Data:      data,
	}
}

func newErrorMessage(code, message string) serverMessage {
	return serverMessage{
		Type:      "error",
		Timestamp: timeNow().UTC(),
		Code:      code,
		Message:   message,
	}
}
