// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

// Package notify defines the broadcast event vocabulary and the bridge that
// carries events from the sync and ingestion paths to the live-notification
// broadcaster.

package notify

import (
	"time"
)

// Topic identifies a subscription channel on the live-notification surface.
type Topic string

// The five valid topics form a closed set. New connections are subscribed
// to TopicAll until they say otherwise.
const (
	TopicMachines    Topic = "machines"
	TopicMaintenance Topic = "maintenance"
	TopicProduction  Topic = "production"
	TopicDashboard   Topic = "dashboard"
	TopicAll         Topic = "all"
)

// Topics returns the valid topics in stable order.
func Topics() []Topic {
	return []Topic{TopicMachines, TopicMaintenance, TopicProduction, TopicDashboard, TopicAll}
}

// IsValidTopic reports whether name is one of the five subscription topics.
func IsValidTopic(name string) bool {
	switch Topic(name) {
	case TopicMachines, TopicMaintenance, TopicProduction, TopicDashboard, TopicAll:
		return true
	}
	return false
}

// EventType discriminates the broadcast event union.
type EventType string

// Event type constants. Each type routes to exactly one default topic.
const (
	// EventMachineStatusUpdate signals a machine changing classification.
	EventMachineStatusUpdate EventType = "machine_status_update"
	// EventMaintenanceAlert signals an urgent maintenance condition.
	EventMaintenanceAlert EventType = "maintenance_alert"
	// EventProductionMetricUpdate carries a single production metric sample.
	EventProductionMetricUpdate EventType = "production_metric_update"
	// EventDashboardRefresh tells dashboard clients to re-query their views.
	EventDashboardRefresh EventType = "dashboard_refresh"
	// EventTicketStatusChange signals a maintenance ticket moving between states.
	EventTicketStatusChange EventType = "ticket_status_change"
	// EventTicketCreated signals a new maintenance ticket.
	EventTicketCreated EventType = "ticket_created"
	// EventSystemAlert is an operator-level broadcast to every connection.
	EventSystemAlert EventType = "system_alert"
)

// Event is the envelope broadcast to subscribed connections. Data holds one
// of the typed payload structs below; the wire shape is
// {"type": ..., "data": {...}, "timestamp": ...}.
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Topic returns the default topic events of this type are published to.
// Unknown types fall back to TopicAll so nothing silently disappears.
func (e Event) Topic() Topic {
	switch e.Type {
	case EventMachineStatusUpdate:
		return TopicMachines
	case EventMaintenanceAlert, EventTicketStatusChange, EventTicketCreated:
		return TopicMaintenance
	case EventProductionMetricUpdate:
		return TopicProduction
	case EventDashboardRefresh:
		return TopicDashboard
	default:
		return TopicAll
	}
}

// MachineStatusPayload reports a machine changing classification.
type MachineStatusPayload struct {
	MachineID      string    `json:"machine_id"`
	Name           string    `json:"name,omitempty"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	Utilization    float64   `json:"utilization"`
	Since          time.Time `json:"since"`
}

// MaintenanceAlertPayload reports an urgent maintenance condition.
type MaintenanceAlertPayload struct {
	TicketID  string `json:"ticket_id"`
	MachineID string `json:"machine_id"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
}

// ProductionMetricPayload carries one production metric sample.
type ProductionMetricPayload struct {
	MachineID  string    `json:"machine_id"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
}

// DashboardRefreshPayload tells dashboard clients to re-query their views.
type DashboardRefreshPayload struct {
	Reason          string `json:"reason"`
	MachinesSynced  int    `json:"machines_synced"`
	RecordsIngested int    `json:"records_ingested"`
}

// TicketStatusChangePayload reports a maintenance ticket moving between states.
type TicketStatusChangePayload struct {
	TicketID  string `json:"ticket_id"`
	MachineID string `json:"machine_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// TicketCreatedPayload reports a new maintenance ticket.
type TicketCreatedPayload struct {
	TicketID  string `json:"ticket_id"`
	MachineID string `json:"machine_id"`
	Title     string `json:"title"`
	Priority  string `json:"priority"`
}

// SystemAlertPayload is an operator-level broadcast.
type SystemAlertPayload struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Source   string `json:"source,omitempty"`
}

func newEvent(t EventType, data interface{}) Event {
	return Event{Type: t, Data: data, Timestamp: time.Now().UTC()}
}

// NewMachineStatusUpdate builds a machine_status_update event.
func NewMachineStatusUpdate(p MachineStatusPayload) Event {
	return newEvent(EventMachineStatusUpdate, p)
}

// NewMaintenanceAlert builds a maintenance_alert event.
func NewMaintenanceAlert(p MaintenanceAlertPayload) Event {
	return newEvent(EventMaintenanceAlert, p)
}

// NewProductionMetricUpdate builds a production_metric_update event.
func NewProductionMetricUpdate(p ProductionMetricPayload) Event {
	return newEvent(EventProductionMetricUpdate, p)
}

// NewDashboardRefresh builds a dashboard_refresh event.
func NewDashboardRefresh(p DashboardRefreshPayload) Event {
	return newEvent(EventDashboardRefresh, p)
}

// NewTicketStatusChange builds a ticket_status_change event.
func NewTicketStatusChange(p TicketStatusChangePayload) Event {
	return newEvent(EventTicketStatusChange, p)
}

// NewTicketCreated builds a ticket_created event.
func NewTicketCreated(p TicketCreatedPayload) Event {
	return newEvent(EventTicketCreated, p)
}

// NewSystemAlert builds a system_alert event.
func NewSystemAlert(severity, message, source string) Event {
	return newEvent(EventSystemAlert, SystemAlertPayload{
		Severity: severity,
		Message:  message,
		Source:   source,
	})
}

// Publisher delivers an event to every connection subscribed to the topic.
// Implementations handle per-connection failures internally; a Publish call
// never reports delivery errors back to the producer side.
type Publisher interface {
	Publish(topic Topic, event Event)
}
