// Package coordinator wires the engine together at startup and runs its HTTP server until
// shutdown.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/darkace1998/content-transformer/internal/composite"
	"github.com/darkace1998/content-transformer/internal/config"
	"github.com/darkace1998/content-transformer/internal/metrics"
	"github.com/darkace1998/content-transformer/internal/options"
	"github.com/darkace1998/content-transformer/internal/registry"
	"github.com/darkace1998/content-transformer/internal/server"
	"github.com/darkace1998/content-transformer/internal/transformer"
	"github.com/darkace1998/content-transformer/internal/translog"
	"github.com/darkace1998/content-transformer/internal/workspace"
)

// Engine is a booted transformation engine.
type Engine struct {
	Settings *config.Settings
	Registry *registry.Registry
	Log      *translog.Log
	metrics  *metrics.Metrics
	work     *workspace.Manager
	server   *server.Server
}

// Boot builds an engine from props in two phases: the option schema first, then the
// composites, registry and workers that reference it. Any configuration problem aborts the boot.
func Boot(props *config.Properties) (*Engine, error) {
	settings, err := config.NewSettings(props)
	if err != nil {
		return nil, err
	}

	schema, err := options.Build(props)
	if err != nil {
		return nil, fmt.Errorf("failed to build option schema: %w", err)
	}
	slog.Debug("Option schema built", "profiles", len(schema.Names()))

	store, err := composite.Load(props)
	if err != nil {
		return nil, fmt.Errorf("failed to load composite transformers: %w", err)
	}
	reg, err := registry.New(schema, props, store)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	workers, err := transformer.Build(props)
	if err != nil {
		return nil, fmt.Errorf("failed to build workers: %w", err)
	}
	for _, t := range workers.Transformers {
		if err := reg.RegisterTransformer(t); err != nil {
			return nil, fmt.Errorf("failed to register transformer: %w", err)
		}
	}
	for _, e := range workers.Extracters {
		if err := reg.RegisterMetadataExtracter(e); err != nil {
			return nil, fmt.Errorf("failed to register metadata extracter: %w", err)
		}
	}

	composites := exportedComposites(reg)
	m := metrics.New()
	m.SetRegistryCounts(len(workers.Transformers), len(workers.Extracters), composites)
	slog.Info("Registry ready",
		"transformers", reg.TransformerNames(),
		"metadata_extracters", reg.MetadataExtracterNames(),
		"exported_composites", composites)

	tlog, err := translog.New(settings.Host, settings.LogMaxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create transformation log: %w", err)
	}

	live, err := server.LoadProbes(props, server.ProbeLive)
	if err != nil {
		return nil, err
	}
	ready, err := server.LoadProbes(props, server.ProbeReady)
	if err != nil {
		return nil, err
	}
	for _, p := range slices.Concat(live, ready) {
		if settings.WorkDirMaxAge > 0 && p.Timeout >= settings.WorkDirMaxAge {
			return nil, config.Errorf("probe."+p.Kind+"."+p.Transformer+".transformTimeout",
				"must be less than %s (%dms)", config.KeyWorkDirMaxAge, settings.WorkDirMaxAge.Milliseconds())
		}
	}

	work := workspace.New(settings.TempDir, settings.WorkDirMaxAge)
	swept, err := work.Sweep()
	if err != nil {
		slog.Warn("Initial work directory sweep failed", "error", err)
	} else {
		m.RecordSweep(swept.Removed, swept.RemainingBytes)
	}

	srv := server.New(server.Options{
		Registry:  reg,
		Log:       tlog,
		Settings:  settings,
		Metrics:   m,
		Workspace: work,
		Live:      live,
		Ready:     ready,
	})

	return &Engine{
		Settings: settings,
		Registry: reg,
		Log:      tlog,
		metrics:  m,
		work:     work,
		server:   srv,
	}, nil
}

func exportedComposites(reg *registry.Registry) int {
	n := 0
	for _, d := range reg.ExportConfig().Transformers {
		if len(d.TransformerPipeline) > 0 || len(d.TransformerFailover) > 0 {
			n++
		}
	}
	return n
}

// Handler returns the engine's HTTP handler without starting a listener.
func (e *Engine) Handler() http.Handler {
	return e.server.Handler()
}

// Run serves HTTP until ctx is cancelled or the process receives SIGINT or SIGTERM, then
// shuts the server down within application.shutdownTimeout.
func (e *Engine) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	e.server.SetAccepting(true)
	g.Go(e.server.Start)

	g.Go(func() error {
		return e.work.Run(gctx, e.Settings.SweepInterval, func(r workspace.SweepResult) {
			e.metrics.RecordSweep(r.Removed, r.RemainingBytes)
		})
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Stopping transformation engine")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), e.Settings.ShutdownTimeout)
		defer cancel()
		if err := e.server.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
			return err
		}
		return nil
	})

	return g.Wait()
}
