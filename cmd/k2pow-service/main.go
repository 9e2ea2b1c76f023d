// Command k2pow-service runs the out-of-process K2-PoW HTTP worker
// described in spec.md section 4.7/6.1.
//
// Usage:
//
//	k2pow-service [-config path]
//
// Flags:
//
//	-config  Path to a YAML config file (default: K2POW_CONFIG_PATH env, or built-in defaults)
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spacemeshos/post-rs/config"
	"github.com/spacemeshos/post-rs/k2powservice"
	"github.com/spacemeshos/post-rs/randomx"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.LoadK2PowConfig(*configPath)
	if err != nil {
		log.Printf("invalid configuration: %v", err)
		return 1
	}

	log.Printf("k2pow-service starting")
	log.Printf("  listen:  %s", cfg.ListenAddr)
	log.Printf("  mode:    %s", cfg.Mode)
	log.Printf("  threads: %d", cfg.Threads)

	mode := randomx.ModeLight
	if cfg.Mode == "fast" {
		mode = randomx.ModeFast
	}

	sched := k2powservice.NewScheduler(mode, cfg.Threads)
	defer sched.Close()

	mux := http.NewServeMux()
	mux.Handle("/", k2powservice.NewHandler(sched))
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received signal %v, shutting down...", sig)
	case err := <-errCh:
		log.Printf("server error: %v", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("error during shutdown: %v", err)
		return 1
	}

	fmt.Println("shutdown complete")
	return 0
}
