// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes daemon action counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/daemonrunner/internal/log"
	"github.com/tombee/daemonrunner/pkg/runner"
)

// Recorder holds the daemonrunner collectors. It implements
// runner.Observer.
type Recorder struct {
	registry *prometheus.Registry

	// actions tracks action outcomes
	actions *prometheus.CounterVec

	// actionDuration tracks how long each action took
	actionDuration *prometheus.HistogramVec

	// staleLocks tracks pid locks broken because their holder was gone
	staleLocks prometheus.Counter

	// heartbeats tracks ticks of the example daemon
	heartbeats prometheus.Counter
}

// NewRecorder registers the collectors on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		actions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "daemonrunner_actions_total",
				Help: "Total controller actions by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		actionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "daemonrunner_action_duration_seconds",
				Help:    "Controller action duration by action",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"action"},
		),
		staleLocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "daemonrunner_stale_locks_broken_total",
			Help: "Total stale pid locks removed",
		}),
		heartbeats: factory.NewCounter(prometheus.CounterOpts{
			Name: "daemonrunner_heartbeats_total",
			Help: "Total heartbeat ticks logged by the daemon",
		}),
	}
}

// Registry returns the registry backing the recorder.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Observe implements runner.Observer.
func (r *Recorder) Observe(_ context.Context, ev runner.Event) {
	r.actions.WithLabelValues(string(ev.Action), string(ev.Outcome)).Inc()
	if ev.Outcome == runner.OutcomeStaleCleared {
		r.staleLocks.Inc()
	}
	if ev.Duration > 0 {
		r.actionDuration.WithLabelValues(string(ev.Action)).Observe(ev.Duration.Seconds())
	}
}

// RecordHeartbeat increments the heartbeat counter.
func (r *Recorder) RecordHeartbeat() {
	r.heartbeats.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled. Requests are
// logged to logger when it is not nil.
func (r *Recorder) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           log.HTTPMiddleware(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
