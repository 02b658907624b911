package grpc

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/jhologic12/eshop-mvp/pkg/logger"
)

// ServiceName is the name orchestrators probe besides the overall "" service.
const ServiceName = "eshop.Checkout"

const (
	defaultProbeEvery   = 5 * time.Second
	defaultProbeTimeout = 2 * time.Second
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthReporter keeps the gRPC health status in line with the database.
type HealthReporter struct {
	health     *health.Server
	pinger     Pinger
	probeEvery time.Duration
	log        *logger.Logger
}

func NewHealthReporter(pinger Pinger, log *logger.Logger) *HealthReporter {
	if log == nil {
		log = logger.Nop()
	}
	return &HealthReporter{
		health:     health.NewServer(),
		pinger:     pinger,
		probeEvery: defaultProbeEvery,
		log:        log,
	}
}

// NewServer builds the gRPC server with health and reflection registered.
func NewServer(hr *HealthReporter) *grpc.Server {
	s := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthpb.RegisterHealthServer(s, hr.health)
	// Enable reflection for grpcurl/grpcui
	reflection.Register(s)
	return s
}

// Probe pings once and publishes the result.
func (h *HealthReporter) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := h.pinger.Ping(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		h.log.Warn(ctx, "database ping failed", "error", err)
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
	return status
}

func (h *HealthReporter) Run(ctx context.Context) {
	h.Probe(ctx)
	ticker := time.NewTicker(h.probeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.Probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown reports NOT_SERVING to every watcher before the server stops.
func (h *HealthReporter) Shutdown() {
	h.health.Shutdown()
}
