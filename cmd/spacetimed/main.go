package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/config"
	"github.com/cuemby/spacetimed/pkg/controlplane"
	"github.com/cuemby/spacetimed/pkg/energy"
	"github.com/cuemby/spacetimed/pkg/gateway"
	"github.com/cuemby/spacetimed/pkg/identity"
	"github.com/cuemby/spacetimed/pkg/log"
	"github.com/cuemby/spacetimed/pkg/metrics"
	"github.com/cuemby/spacetimed/pkg/reducerhost"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "spacetimed",
	Short:   "spacetimed - a single-node SpacetimeDB-style database runtime",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"spacetimed version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error), overrides config")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format, overrides config")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the spacetimed server: control plane, gateway, and metrics endpoints",
	RunE:  runServer,
}

func runServer(_ *cobra.Command, _ []string) error {
	configPath, _ := rootCmd.PersistentFlags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if lvl, _ := rootCmd.PersistentFlags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = log.Level(lvl)
	}
	if json, _ := rootCmd.PersistentFlags().GetBool("log-json"); json {
		cfg.LogJSON = true
	}

	log.Init(log.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("server")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("spacetimed: create data dir %q: %w", cfg.DataDir, err)
	}

	registry := controlplane.New(cfg.DataDir)

	owner := identity.Derive(identity.Claims{Issuer: "spacetimed", Subject: "bootstrap-owner"})
	rec, err := publishQuickstart(registry, owner, cfg)
	if err != nil {
		return fmt.Errorf("spacetimed: publish quickstart database: %w", err)
	}
	logger.Info().Str("database", rec.Name).Str("id", rec.ID.Abbreviate()).Msg("quickstart database published")

	rt, _, _ := registry.Resolve(rec.ID)
	gw := gateway.New(rt.Datastore, rt.Host, rt.Broker, gateway.Config{
		Owner:             owner,
		Budget:            energy.DefaultReducerBudget,
		KeepaliveInterval: cfg.KeepaliveInterval,
		HighWatermark:     cfg.HighWatermark,
		HardWatermark:     cfg.HardWatermark,
		Resolve:           rt.Resolve,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/database/"+rec.Name+"/subscribe", gw.Upgrade)

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	metrics.SetVersion(Version)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.Handle("/health", metrics.HealthHandler())
	metricsMux.Handle("/ready", metrics.ReadyHandler())
	metricsMux.Handle("/live", metrics.LivenessHandler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	errCh := make(chan error, 2)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("gateway server: %w", err)
		}
	}()
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	logger.Info().Str("addr", cfg.ListenAddr).Msg("gateway listening")
	logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
	}

	_ = server.Close()
	_ = metricsServer.Close()
	if err := registry.Shutdown(); err != nil {
		return fmt.Errorf("spacetimed: shutdown: %w", err)
	}
	logger.Info().Msg("shutdown complete")
	return nil
}

// publishQuickstart publishes a minimal person(id, name) table at boot
// so the gateway has something to serve out of the box, together with a
// "say_hello" reducer (each call logs one line and commits one commitlog
// record) and an "insert_person" reducer. Publishing dispatches neither.
func publishQuickstart(registry *controlplane.Registry, owner identity.Identity, cfg config.Config) (*controlplane.Record, error) {
	schema := algebra.ProductType{Fields: []algebra.Field{
		{Name: "id", Type: algebra.I32()},
		{Name: "name", Type: algebra.String()},
	}}

	module := reducerhost.NewModule()
	err := module.RegisterReducer("say_hello", algebra.ProductType{}, func(ctx *reducerhost.ReducerContext, _ algebra.ProductValue) error {
		log.WithReducer("say_hello").Info().Msg("Hello, World!")
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = module.RegisterReducer("insert_person", schema, func(ctx *reducerhost.ReducerContext, args algebra.ProductValue) error {
		_, err := ctx.Insert(1, args)
		return err
	})
	if err != nil {
		return nil, err
	}

	return registry.Publish(controlplane.PublishSpec{
		Owner:  owner,
		Name:   "quickstart",
		Module: module,
		Tables: []controlplane.TableSpec{
			{
				Name:   "person",
				Schema: schema,
				Public: true,
				Indexes: []controlplane.IndexSpec{
					{Name: "person_id", Columns: []int{0}, Unique: true, Kind: controlplane.IndexBTree, KeyType: algebra.I32()},
				},
			},
		},
		SchedulerInterval: cfg.SchedulerInterval,
		SnapshotInterval:  cfg.SnapshotInterval,
	})
}
