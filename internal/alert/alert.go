// Package alert scans the pipeline for alertable conditions and delivers
// idempotent notifications to a webhook sink: one notification when a
// condition trips, at most one resolution when it clears.
package alert

import (
	"context"
	"time"
)

// Severity classifies an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one active or resolving condition.
type Alert struct {
	ID          string         `json:"id"`
	Severity    Severity       `json:"severity"`
	Type        string         `json:"type"`
	Message     string         `json:"message"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Service     string         `json:"service"`
	Environment string         `json:"environment"`
}

// Sink delivers alert notifications.
type Sink interface {
	Send(ctx context.Context, alert Alert) error
	Resolve(ctx context.Context, alert Alert) error
}
