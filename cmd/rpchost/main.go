// Command rpchost is the process entry point for the RPC host: it loads
// configuration, hosts the example services, starts the TCP listener
// and an admin /metrics + /healthz endpoint, and handles SIGINT/SIGTERM
// for graceful shutdown.
//
// Grounded on the teacher's cmd/rtmp-server/main.go (flag parsing,
// logger.Init, signal.NotifyContext shutdown shape), generalised from
// one RTMP server.New/Start/Stop call to this repo's config.Load +
// rpcserver.New/Start/Stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/veloxdb/rpc/examples/echo"
	"github.com/veloxdb/rpc/internal/config"
	protoerr "github.com/veloxdb/rpc/internal/errors"
	"github.com/veloxdb/rpc/internal/host"
	"github.com/veloxdb/rpc/internal/logger"
	"github.com/veloxdb/rpc/internal/metrics"
	"github.com/veloxdb/rpc/internal/rpcserver"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(*configPath, flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger.Init()
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		fmt.Printf("warning: invalid log level %q, using default\n", cfg.LogLevel)
	}
	log := logger.Logger().With("component", "cli")

	registry := host.NewRegistry()
	if _, err := host.HostService(registry, echo.ServiceName, echo.New(), reflect.TypeOf(protoerr.OperationError{})); err != nil {
		log.Error("failed to host example service", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	srv := rpcserver.New(*cfg, registry, m)
	if err := srv.Start(); err != nil {
		log.Error("failed to start rpc host", "error", err)
		os.Exit(1)
	}
	log.Info("rpc host started", "addr", srv.Addr().String(), "version", version)

	admin := &http.Server{Addr: cfg.MetricsAddr}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "connections=%d\n", srv.ConnectionCount())
	})
	admin.Handler = mux
	go func() {
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("admin listener stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = admin.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		if err := srv.Stop(); err != nil {
			log.Error("rpc host stop error", "error", err)
		}
		close(done)
	}()
	select {
	case <-done:
		log.Info("rpc host stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}
