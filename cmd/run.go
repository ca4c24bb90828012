package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aerowinx/frankenrouter/access"
	"github.com/aerowinx/frankenrouter/cache"
	"github.com/aerowinx/frankenrouter/config"
	"github.com/aerowinx/frankenrouter/httpapi"
	frenv "github.com/aerowinx/frankenrouter/internal/env"
	"github.com/aerowinx/frankenrouter/internal/panics"
	"github.com/aerowinx/frankenrouter/protocol"
	"github.com/aerowinx/frankenrouter/router"
	"github.com/aerowinx/frankenrouter/rules"
	"github.com/aerowinx/frankenrouter/statusdisplay"
	"github.com/aerowinx/frankenrouter/trafficlog"
	"github.com/aerowinx/frankenrouter/upstream"
)

// RunCmd replaces the teacher's start.go: same
// signal.NotifyContext/graceful-shutdown/setFileLimit shape, now wiring
// router.Router instead of bare transport.TCP.
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the frankenrouter service",
	Long: `Start the frankenrouter service

Usage
	frankenrouter run --config-file frankenrouter.toml
`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		log, err := frenv.MakeLogger()
		if err != nil {
			return err
		}

		fileLimit, err := setFileLimit()
		if err != nil {
			log.Warn("could not raise file descriptor limit", zap.Error(err))
		} else {
			log.Info("set file limit", zap.Uint64("fileLimit", fileLimit))
		}

		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}

		secrets, err := config.LoadSecrets(ctx)
		if err != nil {
			return err
		}
		config.ApplySecrets(cfg, secrets)

		varsPath := cfg.PSX.VariablesPath
		if variablesFile != "" {
			varsPath = variablesFile
		}
		varsData, err := os.ReadFile(varsPath)
		if err != nil {
			return fmt.Errorf("run: reading variables file %s: %w", varsPath, err)
		}
		cat, err := protocol.ParseCatalog(string(varsData), nil)
		if err != nil {
			return fmt.Errorf("run: parsing variables file %s: %w", varsPath, err)
		}

		store := cache.NewStore(cat)
		defer store.Close()

		var trafficLogger *trafficlog.Logger
		if cfg.Log.Traffic || logTraffic {
			trafficLogger, err = trafficlog.New(trafficlog.Options{
				Log:      log.Named("trafficlog"),
				Path:     cfg.Log.Directory + "/traffic.log",
				MaxBytes: cfg.Log.TrafficMaxSize,
			})
			if err != nil {
				return err
			}
			defer trafficLogger.Close()
		}

		upstreams := make([]upstream.Target, 0, len(cfg.Upstreams))
		for _, u := range cfg.Upstreams {
			upstreams = append(upstreams, upstream.Target{
				Address:  net.JoinHostPort(u.Host, fmt.Sprintf("%d", u.Port)),
				Password: u.Password,
			})
		}

		checks := make([]router.CheckRule, 0, len(cfg.Checks))
		for _, chk := range cfg.Checks {
			var pattern *regexp.Regexp
			if chk.Regexp != "" {
				pattern, err = regexp.Compile(chk.Regexp)
				if err != nil {
					return fmt.Errorf("run: compiling [[check]] regexp %q: %w", chk.Regexp, err)
				}
			}
			checks = append(checks, router.CheckRule{
				Type:     chk.Type,
				Pattern:  pattern,
				LimitMin: chk.LimitMin,
				LimitMax: chk.LimitMax,
				Comment:  chk.Comment,
			})
		}

		rtr, err := router.New(router.Options{
			Log:      log.Named("router"),
			Catalog:  cat,
			Cache:    store,
			Identity: router.Identity{Simulator: cfg.Identity.Simulator, RouterName: cfg.Identity.Router, StopMinded: cfg.Identity.StopMinded},
			AccessRules: withDefaultAccess(cfg.AccessRules()),
			Filters: rules.Filters{
				Elevation:      cfg.PSX.FilterElevation,
				Traffic:        cfg.PSX.FilterTraffic,
				FlightControls: cfg.PSX.FilterFlightControls,
			},
			Upstreams:  upstreams,
			TrafficLog: trafficLogger,
			WarnBytes:  cfg.Performance.WriteBufferWarnBytes,
			Panics:     panics.Policy{StopMinded: cfg.Identity.StopMinded, Log: log.Named("panics")},
			Checks:     checks,
		})
		if err != nil {
			return err
		}

		go rtr.Run(ctx)

		listener := router.NewListener(fmt.Sprintf(":%d", cfg.Listen.Port), rtr, log.Named("listener"))
		listenerErrs := make(chan error, 1)
		go func() { listenerErrs <- listener.Listen(ctx) }()

		display := statusdisplay.New(statusdisplay.Options{
			Out:      os.Stdout,
			Store:    store,
			Snapshot: func() statusdisplay.Snapshot { return routerSnapshot(rtr) },
		})
		go display.Run(ctx)

		var httpServer *http.Server
		if cfg.Listen.RestAPIPort != 0 {
			engine := httpapi.NewEngine(rtr, log.Named("httpapi"), debugHTTP)
			httpServer = &http.Server{
				Addr:    fmt.Sprintf(":%d", cfg.Listen.RestAPIPort),
				Handler: engine,
			}
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server errored", zap.Error(err))
				}
			}()
		}

		log.Info("frankenrouter listening",
			zap.Int("port", cfg.Listen.Port),
			zap.Int("restAPIPort", cfg.Listen.RestAPIPort),
			zap.String("router", cfg.Identity.Router))

		select {
		case <-ctx.Done():
		case err := <-listenerErrs:
			if err != nil {
				log.Error("tcp listener errored", zap.Error(err))
			}
		}

		signalStop()
		log.Info("shutting down gracefully")

		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpServer.SetKeepAlivesEnabled(false)
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Error("http server forced to shutdown", zap.Error(err))
			}
		}

		log.Info("exiting")
		return nil
	},
}

// withDefaultAccess appends a catch-all "blocked" rule if the operator's
// [[access]] list doesn't already end in one, so an incomplete config
// fails closed rather than silently open (spec §4.6: "No match ->
// blocked").
func withDefaultAccess(rules []*access.Rule) []*access.Rule {
	if len(rules) == 0 {
		return rules
	}
	last := rules[len(rules)-1]
	if len(last.MatchIPv4) == 1 && last.MatchIPv4[0] == "ANY" {
		return rules
	}
	return append(rules, &access.Rule{DisplayName: "default-deny", MatchIPv4: []string{"ANY"}, Level: access.LevelBlocked})
}

// routerSnapshot adapts router.Router's httpapi.Core-shaped accessors
// into the small view statusdisplay.Display renders.
func routerSnapshot(rtr *router.Router) statusdisplay.Snapshot {
	stats := rtr.Stats()
	clients := rtr.Clients()
	rows := make([]statusdisplay.ClientRow, 0, len(clients))
	for _, c := range clients {
		depth := stats.QueueDepths[fmt.Sprintf("%d", c.ID)]
		rows = append(rows, statusdisplay.ClientRow{
			ID:          c.ID,
			DisplayName: c.DisplayName,
			QueueDepth:  depth,
		})
	}
	return statusdisplay.Snapshot{UpstreamState: stats.UpstreamState, Clients: rows}
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}
	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}
	return rLimit.Cur, nil
}
