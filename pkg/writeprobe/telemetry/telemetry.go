// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

// Package telemetry exposes the write probe counters in the prometheus format
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DataDog/vfs-write-probe/pkg/util/log"
	"github.com/DataDog/vfs-write-probe/pkg/writeprobe/tracepipe"
)

const namespace = "write_probe"

// Telemetry owns a prometheus registry with the probe metrics
type Telemetry struct {
	registry       *prometheus.Registry
	protectedPaths prometheus.Gauge
}

// New returns a Telemetry with the process and go collectors registered
func New() *Telemetry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)

	t := &Telemetry{
		registry: reg,
		protectedPaths: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "protected_paths",
			Help:      "Paths installed in the registry by the policy controller.",
		}),
	}
	reg.MustRegister(t.protectedPaths)
	return t
}

// SetProtectedPaths records the number of installed paths. It fits controller.WithSyncHook.
func (t *Telemetry) SetProtectedPaths(n int) {
	t.protectedPaths.Set(float64(n))
}

// RegisterTraceReader exposes the trace pipe reader counters
func (t *Telemetry) RegisterTraceReader(stats func() tracepipe.ReaderStats) {
	counter := func(name, help string, value func(tracepipe.ReaderStats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trace",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(stats())) })
	}
	t.registry.MustRegister(
		counter("protected_writes_total", "Writes to protected files reported by the kernel.",
			func(s tracepipe.ReaderStats) uint64 { return s.Events }),
		counter("lost_events_total", "Trace events the kernel dropped before they were read.",
			func(s tracepipe.ReaderStats) uint64 { return s.LostEvents }),
		counter("parse_errors_total", "Trace pipe lines that could not be parsed.",
			func(s tracepipe.ReaderStats) uint64 { return s.ParseErrors }),
	)
}

// RegisterRegistry exposes the size of the registry and its failed lookups
func (t *Telemetry) RegisterRegistry(entries func() int, lookupFailures func() uint64) {
	t.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "entries",
			Help:      "Keys currently in the protected file registry.",
		}, func() float64 { return float64(entries()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "lookup_failures_total",
			Help:      "Registry lookups from user space that failed for a reason other than a missing key.",
		}, func() float64 { return float64(lookupFailures()) }),
	)
}

// Gatherer returns the underlying registry
func (t *Telemetry) Gatherer() prometheus.Gatherer {
	return t.registry
}

// Handler serves the metrics in the prometheus text format
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.Gatherer(), promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func (t *Telemetry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", t.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = log.Warnf("shutting down telemetry server: %s", err)
		}
	})
	defer stop()

	log.Infof("serving metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
