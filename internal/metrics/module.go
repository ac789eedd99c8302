package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-voice-pipeline/internal/config"
)

// Module provides the metrics registry and exposition server.
var Module = fx.Module("metrics",
	fx.Provide(NewRegistry),
	fx.Provide(func(reg *prometheus.Registry) prometheus.Registerer { return reg }),
	fx.Provide(NewMetrics),
	fx.Invoke(registerServer),
)

// NewRegistry creates a registry preloaded with the standard process
// and Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// registerServerParams holds dependencies for registerServer.
type registerServerParams struct {
	fx.In
	Cfg    *config.Config
	Reg    *prometheus.Registry
	Logger *zap.Logger
	LC     fx.Lifecycle
}

// registerServer starts the /metrics endpoint when metrics are
// enabled.
func registerServer(params registerServerParams) {
	if !params.Cfg.Metrics.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(params.Reg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              params.Cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	params.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				params.Logger.Info("metrics server listening", zap.String("addr", server.Addr))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					params.Logger.Error("metrics server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
