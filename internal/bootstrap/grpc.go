package bootstrap

import (
	"context"
	"log/slog"
	"net"

	"github.com/eleven-am/medverify/internal/detector"
	"go.uber.org/fx"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// verifierService is the name orchestrators check for pipeline readiness.
const verifierService = "medverify.Verifier"

func NewGRPCServer() *grpc.Server {
	return grpc.NewServer()
}

func ProvideGRPCHealthServer() *grpchealth.Server {
	return grpchealth.NewServer()
}

// RegisterHealthService reports SERVING once the model is loaded; fx only
// reaches this after ProvideModel succeeded.
func RegisterHealthService(server *grpc.Server, hs *grpchealth.Server, model *detector.Model, logger *slog.Logger) {
	healthpb.RegisterHealthServer(server, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(verifierService, healthpb.HealthCheckResponse_SERVING)
	logger.Info("gRPC health serving", "model_source", model.Source())
}

func StartGRPCServer(lc fx.Lifecycle, server *grpc.Server, hs *grpchealth.Server, cfg *Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				return err
			}
			go func() {
				logger.Info("gRPC server starting", "addr", cfg.GRPCAddr)
				if err := server.Serve(lis); err != nil {
					logger.Error("gRPC server error", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			hs.Shutdown()
			server.GracefulStop()
			return nil
		},
	})
}

var GRPCModule = fx.Options(
	fx.Provide(
		NewGRPCServer,
		ProvideGRPCHealthServer,
	),
	fx.Invoke(RegisterHealthService),
	fx.Invoke(StartGRPCServer),
)
