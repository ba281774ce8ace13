package rpc

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/priceverse/priceverse/internal/domain"
	"github.com/priceverse/priceverse/internal/health"
)

// HealthService serves check, live, and ready.
type HealthService struct {
	probe *health.Probe
}

// NewHealthService creates the health service over the given probe.
func NewHealthService(probe *health.Probe) *HealthService {
	return &HealthService{probe: probe}
}

// CheckOutput is the aggregated health wire shape.
type CheckOutput struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    float64                `json:"uptime"` // seconds
	Version   string                 `json:"version"`
	Checks    map[string]CheckDetail `json:"checks"`
	Latency   int64                  `json:"latency"` // milliseconds
}

// CheckDetail is one named probe result.
type CheckDetail struct {
	Status  string `json:"status"`
	Latency int64  `json:"latency,omitempty"` // milliseconds
	Message string `json:"message,omitempty"`
}

// Handle dispatches one method call.
func (s *HealthService) Handle(ctx context.Context, method string, input json.RawMessage) (any, error) {
	switch method {
	case "check":
		return s.check(ctx), nil
	case "live":
		return map[string]string{"status": "up"}, nil
	case "ready":
		up, message := s.probe.Ready(ctx)
		status := "up"
		if !up {
			status = "down"
		}
		return map[string]string{"status": status, "message": message}, nil
	default:
		return nil, domain.ErrInvalidParams.Wrap(fmt.Errorf("unknown method %q", method))
	}
}

func (s *HealthService) check(ctx context.Context) CheckOutput {
	summary := s.probe.Check(ctx)

	checks := make(map[string]CheckDetail, len(summary.Checks))
	for name, c := range summary.Checks {
		checks[name] = CheckDetail{
			Status:  string(c.Status),
			Latency: c.Latency.Milliseconds(),
			Message: c.Message,
		}
	}

	return CheckOutput{
		Status:    string(summary.Status),
		Timestamp: summary.Timestamp.Format(time.RFC3339),
		Uptime:    summary.Uptime.Seconds(),
		Version:   summary.Version,
		Checks:    checks,
		Latency:   summary.Latency.Milliseconds(),
	}
}
