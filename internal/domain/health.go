package domain

import "time"

// Component names a monitored subsystem.
type Component string

const (
	ComponentFrontend  Component = "frontend"
	ComponentBackend   Component = "backend"
	ComponentDatabase  Component = "database"
	ComponentWebSocket Component = "websocket"
	ComponentSystem    Component = "system"
)

// HealthStatus is the traffic-light state of a component.
type HealthStatus string

const (
	StatusGreen   HealthStatus = "green"
	StatusYellow  HealthStatus = "yellow"
	StatusRed     HealthStatus = "red"
	StatusUnknown HealthStatus = "unknown"
)

// HealthRecord is one probe result for one component. The most recent record
// per component is the authoritative current status.
type HealthRecord struct {
	ID             string             `json:"id"`
	Timestamp      time.Time          `json:"timestamp"`
	Component      Component          `json:"component"`
	Status         HealthStatus       `json:"status"`
	ResponseTimeMS float64            `json:"response_time_ms"`
	UptimeSeconds  float64            `json:"uptime_seconds"`
	Message        string             `json:"message,omitempty"`
	ErrorMessage   string             `json:"error_message,omitempty"`
	Metrics        map[string]float64 `json:"metrics,omitempty"`
}

// Kind reports the record discriminant.
func (r HealthRecord) Kind() RecordKind { return KindHealth }

// RecordedAt reports the creation timestamp.
func (r HealthRecord) RecordedAt() time.Time { return r.Timestamp }
