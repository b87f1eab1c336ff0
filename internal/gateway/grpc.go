// ABOUTME: gRPC server exposing the standard health checking service
// ABOUTME: Lets orchestrators probe the gateway over gRPC alongside HTTP /health

package gateway

import (
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// HealthService is the service name reported by the gRPC health server in
// addition to the overall ("") status.
const HealthService = "querynox.Gateway"

func newHealthServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	return server, hs
}

// setServing flips every registered health status between SERVING and
// NOT_SERVING.
func (g *Gateway) setServing(serving bool) {
	if serving {
		g.health.Resume()
		return
	}
	g.health.Shutdown()
}
