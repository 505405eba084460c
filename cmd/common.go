package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	imageagent "github.com/httprunner/ImageAgent"
	"github.com/httprunner/ImageAgent/internal/metrics"
	"github.com/httprunner/ImageAgent/pkg/controller"
)

func loadConfig() imageagent.Config {
	cfg := imageagent.LoadConfig()
	if url := strings.TrimSpace(rootControllerURL); url != "" {
		cfg.Controller.BaseURL = url
	}
	return cfg
}

func newSender(cfg imageagent.Config) (controller.Sender, error) {
	client, err := cfg.NewSender()
	if err != nil {
		return nil, err
	}
	return client, nil
}

// startMetrics registers the waiter metrics and, when --metrics-addr is set,
// serves them until the returned stop func is called.
func startMetrics() (*metrics.WaitMetrics, func()) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	wm := metrics.NewWaitMetrics(reg)
	addr := strings.TrimSpace(rootMetricsAddr)
	if addr == "" {
		return wm, func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	return wm, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
