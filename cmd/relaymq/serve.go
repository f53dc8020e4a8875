package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cuemby/relaymq/pkg/broker/config"
	"github.com/cuemby/relaymq/pkg/broker/mq"
	"github.com/cuemby/relaymq/pkg/broker/router"
	"github.com/cuemby/relaymq/pkg/log"
	"github.com/cuemby/relaymq/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the broker routing runtime",
	Long: `Load a relaymq configuration file, bring up the configured
application and network managers, and bridge uplink/downlink traffic
between them until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "relaymq.yaml", "Path to the relaymq config file")
	serveCmd.Flags().String("metrics-addr", "", "Address to serve Prometheus metrics on (disabled if empty)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	buffer, err := router.NewBuffer(cfg.BufferPath)
	if err != nil {
		return fmt.Errorf("open downlink buffer: %w", err)
	}
	defer buffer.Close()

	r := router.New(router.Config{
		Devices: unresolvedDeviceRepository{},
		Buffer:  buffer,
	})

	metrics.SetVersion(Version)
	metrics.RegisterComponent("pool", true, "")
	metrics.RegisterComponent("router", true, "")

	collector := metrics.NewCollector(r)
	collector.Start()
	defer collector.Stop()

	pool := mq.NewPool()

	var applications []*mq.ApplicationMgr
	for _, app := range cfg.Applications {
		mgr, err := mq.NewApplicationMgr(pool, app.HostURI, mq.Options{
			UnitID:   app.UnitID,
			UnitCode: app.UnitCode,
			ID:       app.ID,
			Name:     app.Name,
		}, r)
		if err != nil {
			return fmt.Errorf("start application manager %q: %w", app.ID, err)
		}
		r.RegisterApplication(mgr)
		applications = append(applications, mgr)
	}

	var networks []*mq.NetworkMgr
	for _, net := range cfg.Networks {
		mgr, err := mq.NewNetworkMgr(pool, net.HostURI, mq.Options{
			UnitID:   net.UnitID,
			UnitCode: net.UnitCode,
			ID:       net.ID,
			Name:     net.Name,
		}, r.NetworkHandler())
		if err != nil {
			return fmt.Errorf("start network manager %q: %w", net.ID, err)
		}
		r.RegisterNetwork(mgr)
		networks = append(networks, mgr)
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Logger.Error().Err(err).Msg("metrics server exited")
			}
		}()
		log.Logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")
	}

	log.Logger.Info().
		Int("applications", len(applications)).
		Int("networks", len(networks)).
		Msg("relaymq serve started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Logger.Info().Msg("shutting down")
	metrics.UpdateComponent("router", false, "shutting down")
	metrics.UpdateComponent("pool", false, "shutting down")
	for _, mgr := range applications {
		if err := mgr.Close(); err != nil {
			log.Logger.Error().Err(err).Str("id", mgr.ID()).Msg("close application manager failed")
		}
	}
	for _, mgr := range networks {
		if err := mgr.Close(); err != nil {
			log.Logger.Error().Err(err).Str("id", mgr.ID()).Msg("close network manager failed")
		}
	}
	return nil
}
