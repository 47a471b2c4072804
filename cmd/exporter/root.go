package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"neo4j-query-exporter/internal/collector"
	"neo4j-query-exporter/internal/config"
	"neo4j-query-exporter/internal/exporter"
	"neo4j-query-exporter/internal/logging"
	"neo4j-query-exporter/internal/querier"
	"neo4j-query-exporter/internal/registry"
	"neo4j-query-exporter/internal/system"
	"neo4j-query-exporter/pkg/neo4j"
)

type rootFlags struct {
	configFile    string
	metricsFile   string
	neo4jURI      string
	neo4jUser     string
	neo4jPassword string
	listenAddr    string
	debug         bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "neo4j-query-exporter",
		Short:         "Prometheus exporter that turns Cypher queries into gauges",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags)
		},
	}

	cmd.Flags().StringVar(&flags.configFile, "config", "", "Path to configuration file")
	cmd.Flags().StringVar(&flags.metricsFile, "metrics", "", "Path to metric definition file")
	cmd.Flags().StringVar(&flags.neo4jURI, "neo4j-uri", "", "Neo4j bolt URI")
	cmd.Flags().StringVar(&flags.neo4jUser, "neo4j-user", "", "Neo4j username")
	cmd.Flags().StringVar(&flags.neo4jPassword, "neo4j-password", "", "Neo4j password")
	cmd.Flags().StringVar(&flags.listenAddr, "web.listen-address", "", "Address to listen on for telemetry")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "Enable debug logs")

	return cmd
}

func run(flags *rootFlags) error {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return err
	}
	applyFlags(cfg, flags)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}

	reg, err := registry.Load(cfg.Collector.MetricsFile)
	if err != nil {
		return err
	}
	log.WithField("metrics", reg.Len()).Info("loaded metric definitions")

	client, err := neo4j.NewClient(neo4j.Config{
		URI:      cfg.Neo4j.URI,
		Username: cfg.Neo4j.Username,
		Password: cfg.Neo4j.Password,
		Database: cfg.Neo4j.Database,
	})
	if err != nil {
		return err
	}
	defer client.Close(context.Background())

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = client.Ping(pingCtx)
	cancel()
	if err != nil {
		if cfg.Neo4j.StrictStartup {
			return fmt.Errorf("neo4j unreachable at %s: %w", cfg.Neo4j.URI, err)
		}
		log.WithError(err).Warn("neo4j unreachable at startup, continuing degraded")
	} else {
		log.WithField("uri", cfg.Neo4j.URI).Info("connected to neo4j")
	}

	promReg := prometheus.NewRegistry()
	executor := querier.NewExecutor(client, cfg.Collector.QueryTimeout)
	coll := collector.New(reg, executor, cfg.Collector.Concurrency, log)
	exp := exporter.New(coll, reg, client, log)
	promReg.MustRegister(exp)

	if cfg.System.Enabled {
		sys, err := system.NewCollector(log)
		if err != nil {
			return fmt.Errorf("system collector: %w", err)
		}
		promReg.MustRegister(sys)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Collector.Interval > 0 {
		go refreshLoop(ctx, exp, cfg.Collector.Interval, log)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", healthzHandler(client))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "This exporter only serves %s and /healthz\n", cfg.Server.Path)
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}
	if flags.listenAddr != "" {
		server.Addr = flags.listenAddr
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": server.Addr, "path": cfg.Server.Path}).Info("server started")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// applyFlags layers CLI values over everything else; flags always win.
func applyFlags(cfg *config.Config, flags *rootFlags) {
	if flags.metricsFile != "" {
		cfg.Collector.MetricsFile = flags.metricsFile
	}
	if flags.neo4jURI != "" {
		cfg.Neo4j.URI = flags.neo4jURI
	}
	if flags.neo4jUser != "" {
		cfg.Neo4j.Username = flags.neo4jUser
	}
	if flags.neo4jPassword != "" {
		cfg.Neo4j.Password = flags.neo4jPassword
	}
	if flags.debug {
		cfg.Logging.Level = "debug"
	}
	if flags.listenAddr != "" {
		if host, port, ok := splitListenAddr(flags.listenAddr); ok {
			cfg.Server.Host = host
			cfg.Server.Port = port
		}
	}
}

func splitListenAddr(addr string) (string, int, bool) {
	u, err := url.Parse("//" + addr)
	if err != nil || u.Port() == "" {
		return "", 0, false
	}
	var port int
	if _, err := fmt.Sscanf(u.Port(), "%d", &port); err != nil {
		return "", 0, false
	}
	return u.Hostname(), port, true
}

func healthzHandler(pinger exporter.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := pinger.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"status": "Unhealthy"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "Healthy"})
	}
}

func refreshLoop(ctx context.Context, exp *exporter.Exporter, interval time.Duration, log *logrus.Logger) {
	log.WithField("interval", interval).Info("starting background refresh loop")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	exp.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			exp.Refresh(ctx)
		}
	}
}
