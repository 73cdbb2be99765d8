// Command videocore-server is the process entrypoint: it wires the
// inference worker, source manager, viewer hub, phone ingress and REST
// control surface together and serves them over a single HTTP listener.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/jaldrishti/videocore/internal/config"
	"github.com/jaldrishti/videocore/internal/inference"
	"github.com/jaldrishti/videocore/internal/metrics"
	"github.com/jaldrishti/videocore/internal/phoneingress"
	"github.com/jaldrishti/videocore/internal/restapi"
	"github.com/jaldrishti/videocore/internal/sourcemgr"
	"github.com/jaldrishti/videocore/internal/viewerhub"
)

func main() {
	cfg, showVersion, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if showVersion {
		fmt.Printf("videocore-server %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	l := setupLogger(cfg.LogFormat, cfg.LogLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.LogMetricsEvery, l, &wg)

	hub := viewerhub.New(true,
		viewerhub.WithSendDeadline(cfg.ViewerSendDeadline),
		viewerhub.WithMaxViewers(cfg.MaxViewers),
	)

	client := inference.NewClient(cfg.MLEngineURL,
		inference.WithHealthInterval(cfg.MLHealthInterval),
		inference.WithMaxFailuresBeforeSafeMode(cfg.MLMaxFailuresBeforeSafeMode),
		inference.WithTimeouts(cfg.MLTimeoutCold, cfg.MLTimeoutWarm),
	)
	if perr := client.Probe(ctx); perr != nil {
		l.Warn("inference_initial_probe_failed", "error", perr)
	}
	worker := inference.NewWorker(ctx, client)

	mgr := sourcemgr.New(worker, hub, cfg.TargetFPS, cfg.ClearResultOnDetach,
		sourcemgr.WithCameraStallTimeout(cfg.CameraStallTimeout),
		sourcemgr.WithWatchdogInterval(cfg.WatchdogInterval),
	)
	defer mgr.Shutdown()

	phoneEP := phoneingress.New(mgr, cfg.PhoneTargetFPS)
	api := restapi.New(mgr, hub, cfg.UploadDir)

	router := api.Router()
	router.HandleFunc("/ws/viewer", hub.ServeWS)
	router.HandleFunc("/ws/phone", phoneEP.ServeHTTP)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		l.Error("listen_failed", "error", err)
		os.Exit(1)
	}
	httpSrv := &http.Server{Handler: router}
	go func() {
		if serveErr := httpSrv.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			l.Error("http_server_error", "error", serveErr)
			cancel()
		}
	}()
	l.Info("http_listen", "addr", ln.Addr().String())

	go func() {
		port := listenPort(ln.Addr().String())
		cleanupMDNS, merr := startMDNS(ctx, cfg, port)
		if merr != nil {
			l.Warn("mdns_start_failed", "error", merr)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.MDNSName, "port", port)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.MetricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metricsSrv := metrics.StartHTTP(cfg.MetricsAddr)
		defer func() { _ = metricsSrv.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()

	shutdownCtx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer scancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	wg.Wait()
}

func listenPort(addr string) int {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	return 0
}
