// Command certifier runs the PoST signing oracle described in spec.md
// section 4.8/6.2.
//
// Usage:
//
//	certifier [-config path]
//	certifier generate-keys
//
// Flags:
//
//	-config  Path to a YAML config file (default: CERTIFIER_CONFIG_PATH env, or built-in defaults)
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spacemeshos/post-rs/certifier"
	"github.com/spacemeshos/post-rs/config"
	"github.com/spacemeshos/post-rs/randomx"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) > 1 && os.Args[1] == "generate-keys" {
		return generateKeys()
	}

	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.LoadCertifierConfig(*configPath)
	if err != nil {
		log.Printf("invalid configuration: %v", err)
		return 1
	}

	seed, err := decodeSigningSeed(cfg.SigningKeySeedB64)
	if err != nil {
		log.Printf("invalid signing_key_seed: %v", err)
		return 1
	}

	maxConcurrent := cfg.MaxConcurrentReqs
	if maxConcurrent <= 0 {
		maxConcurrent = runtime.NumCPU()
	}
	ttl := time.Duration(cfg.CertificateTTLSecs) * time.Second

	log.Printf("certifier starting")
	log.Printf("  listen:          %s", cfg.ListenAddr)
	log.Printf("  metrics:         %s", cfg.MetricsAddr)
	log.Printf("  max_concurrent:  %d", maxConcurrent)
	log.Printf("  max_pending:     %d", cfg.MaxPendingReqs)

	pow := randomx.NewEngine(randomx.ModeLight)
	defer pow.Close()

	svc := certifier.NewService(seed, cfg.Init, cfg.Post, pow, ttl)
	gate := certifier.NewGate(maxConcurrent, cfg.MaxPendingReqs)
	handler := certifier.NewHandler(svc, gate, cfg.MaxBodySize)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}

	errCh := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
	_ = metricsSrv.Shutdown(ctx)

	fmt.Println("shutdown complete")
	return 0
}

func decodeSigningSeed(b64 string) ([32]byte, error) {
	var seed [32]byte
	if b64 == "" {
		return seed, fmt.Errorf("signing_key_seed must be set")
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return seed, err
	}
	if len(raw) != 32 {
		return seed, fmt.Errorf("expected a 32-byte seed, got %d bytes", len(raw))
	}
	copy(seed[:], raw)
	return seed, nil
}

// generateKeys implements the `generate-keys` subcommand (spec.md
// section 6.3): emit a fresh Ed25519 keypair as base64 JSON and exit 0.
func generateKeys() int {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		log.Printf("key generation failed: %v", err)
		return 1
	}
	out := struct {
		PublicKey string `json:"public_key"`
		SecretKey string `json:"secret_key"`
	}{
		PublicKey: base64.StdEncoding.EncodeToString(pub),
		SecretKey: base64.StdEncoding.EncodeToString(priv.Seed()),
	}
	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(out); err != nil {
		log.Printf("failed to write output: %v", err)
		return 1
	}
	return 0
}
