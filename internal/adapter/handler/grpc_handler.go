package handler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/rl1809/vouch-desk/internal/port"
)

// ServicePrefix namespaces the per-dependency health entries, e.g.
// "vouchdesk.inventory".
const ServicePrefix = "vouchdesk."

// GRPCHandler serves the standard gRPC health protocol. The overall status
// ("") is SERVING only while every dependency answers its ping.
type GRPCHandler struct {
	health   *health.Server
	checks   map[string]port.HealthChecker
	interval time.Duration
	log      zerolog.Logger
}

func NewGRPCHandler(checks map[string]port.HealthChecker, interval time.Duration, log zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		health:   health.NewServer(),
		checks:   checks,
		interval: interval,
		log:      log.With().Str("component", "grpc_health").Logger(),
	}
}

func (h *GRPCHandler) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.health)
	reflection.Register(s)
}

// Run refreshes statuses every interval until ctx ends, then reports
// NOT_SERVING for everything.
func (h *GRPCHandler) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return nil
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

// Refresh pings every dependency once and publishes the result.
func (h *GRPCHandler) Refresh(ctx context.Context) {
	overall := healthpb.HealthCheckResponse_SERVING

	for name, check := range h.checks {
		pingCtx, cancel := context.WithTimeout(ctx, healthTimeout)
		err := check.Ping(pingCtx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = healthpb.HealthCheckResponse_NOT_SERVING
			h.log.Warn().Err(err).Str("dependency", name).Msg("health check failed")
		}
		h.health.SetServingStatus(ServicePrefix+name, status)
	}

	h.health.SetServingStatus("", overall)
}
