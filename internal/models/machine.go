// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package models

import (
	"time"
)

// Machine identifies one monitored asset on the factory floor.
// The fleet is static configuration; machines are never created or
// mutated at runtime.
type Machine struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MachineStatus is the live view of a machine assembled from its newest
// status period and recent sensor activity. It backs the machine_status_update
// broadcast payload and the dashboard's machine cards.
//
// IsActive follows the cut-activity rule: a machine counts as active when a
// cut event arrived within the last ten minutes, regardless of what the
// telemetry classification says. Utilization is the productive share of
// tracked time since startup, in the range 0-100.
type MachineStatus struct {
	MachineID   string     `json:"machine_id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Utilization float64    `json:"utilization"`
	IsActive    bool       `json:"is_active"`
	ChangedAt   time.Time  `json:"changed_at"`
	LastCutAt   *time.Time `json:"last_cut_at,omitempty"`
}
