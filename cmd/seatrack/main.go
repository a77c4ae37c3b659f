// Command seatrack is the multi-event GPS tracking server for watersports
// races. It listens for position packets on UDP and HTTP, keeps a live
// fleet snapshot per event, appends daily track logs, and serves the
// admin/manager API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seatrack-dev/seatrack/internal/config"
	"github.com/seatrack-dev/seatrack/internal/course"
	"github.com/seatrack-dev/seatrack/internal/handlers"
	"github.com/seatrack-dev/seatrack/internal/ingest"
	"github.com/seatrack-dev/seatrack/internal/layout"
	"github.com/seatrack-dev/seatrack/internal/live"
	"github.com/seatrack-dev/seatrack/internal/logger"
	"github.com/seatrack-dev/seatrack/internal/overrides"
	"github.com/seatrack-dev/seatrack/internal/registry"
	"github.com/seatrack-dev/seatrack/internal/scheduler"
	"github.com/seatrack-dev/seatrack/internal/store"
)

// shutdownGrace bounds how long in-flight work may run after a signal.
const shutdownGrace = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.GetLogger()

	lay := layout.Layout{Root: cfg.DataDir, Single: !cfg.MultiEvent()}

	regOpts := registry.Options{
		Layout:            lay,
		EventsPath:        cfg.EventsFile,
		ManagerPassword:   cfg.ManagerPassword,
		OwnTracksFallback: cfg.OwnTracksPassword,
		FailLimit:         cfg.AuthFailLimit,
		FailWindow:        cfg.AuthFailWindow,
		FailCooldown:      cfg.AuthFailCooldown,
	}

	var reg *registry.Registry
	if cfg.MultiEvent() {
		reg, err = registry.New(regOpts)
		if err != nil {
			log.Error().Err(err).Msg("loading event registry failed")
			return 1
		}
	} else {
		reg = registry.NewSingleEvent(cfg.AdminPassword, cfg.OwnTracksPassword, regOpts)
	}

	users := overrides.New(lay)
	courses := course.New(lay)
	st := store.New(store.Options{
		Layout:        lay,
		Overrides:     users,
		AssistEnabled: reg.AssistEnabledFor,
		TrackLogs:     !cfg.NoTrackLogs,
		Snapshots:     !cfg.NoCurrent,
		SyncEveryLine: cfg.SyncTrackLogs,
	})
	hub := live.NewHub()
	st.OnAccept(hub.Broadcast)

	reg.OnDelete(st.Purge)
	reg.OnDelete(users.Purge)
	reg.OnDelete(courses.Purge)
	reg.OnDelete(hub.Purge)

	disp := ingest.NewDispatcher(reg, st, cfg.Workers, cfg.QueueDepth)
	disp.Start()

	sched := scheduler.New(st, reg)
	if err := sched.Start(); err != nil {
		log.Error().Err(err).Msg("starting scheduler failed")
		return 1
	}

	udpCtx, stopUDP := context.WithCancel(context.Background())
	udp, err := ingest.NewUDPServer(cfg.Port, disp)
	if err != nil {
		log.Error().Err(err).Int("port", cfg.Port).Msg("binding udp socket failed")
		stopUDP()
		return 1
	}
	go udp.Run(udpCtx)
	log.Info().Int("port", cfg.Port).Msg("udp ingest listening")

	var httpSrv *http.Server
	if !cfg.NoHTTP {
		router := handlers.NewRouter(handlers.RouterConfig{
			Registry:     reg,
			Store:        st,
			Courses:      courses,
			Users:        users,
			Disp:         disp,
			Hub:          hub,
			Layout:       lay,
			StaticDir:    cfg.StaticDir,
			OwnTracksEID: cfg.OwnTracksEID,
		})
		httpSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler: router,
		}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("http server failed")
			}
		}()
		log.Info().Int("port", cfg.HTTPPort).Msg("http listening")
	}

	// Block until asked to stop.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	// Stop accepting new traffic, then drain and flush.
	stopUDP()
	if httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		httpSrv.Shutdown(ctx)
	}
	disp.Stop()
	sched.Stop()
	st.Close()
	hub.Close()

	if dropped := disp.Dropped(); dropped > 0 {
		log.Warn().Uint64("dropped", dropped).Msg("datagrams dropped over process lifetime")
	}
	log.Info().Msg("shutdown complete")
	return 0
}
