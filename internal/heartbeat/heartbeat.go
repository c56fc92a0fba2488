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

// Package heartbeat is the built-in daemon body: it logs a message on a
// fixed interval until cancelled and optionally serves metrics.
package heartbeat

import (
	"context"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tombee/daemonrunner/internal/log"
	"github.com/tombee/daemonrunner/internal/metrics"
)

// DefaultInterval is used when Config.Interval is not positive.
const DefaultInterval = 10 * time.Second

// Config configures a Beater.
type Config struct {
	Interval time.Duration
	Message  string

	// MetricsAddr serves /metrics while beating. Empty disables it.
	MetricsAddr string
}

// Beater emits heartbeats.
type Beater struct {
	cfg      Config
	logger   *slog.Logger
	recorder *metrics.Recorder
}

// New returns a Beater. A nil recorder disables heartbeat metrics and the
// metrics endpoint.
func New(cfg Config, logger *slog.Logger, recorder *metrics.Recorder) *Beater {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Beater{
		cfg:      cfg,
		logger:   log.WithComponent(logger, "heartbeat"),
		recorder: recorder,
	}
}

// Run beats once immediately and then on every tick. It returns nil when
// ctx is cancelled, or the metrics server's error if it fails to serve.
func (b *Beater) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if b.cfg.MetricsAddr != "" && b.recorder != nil {
		g.Go(func() error {
			b.logger.Info("serving metrics", slog.String("addr", b.cfg.MetricsAddr))
			return b.recorder.Serve(ctx, b.cfg.MetricsAddr, b.logger)
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(b.cfg.Interval)
		defer ticker.Stop()

		b.beat(ctx)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				b.beat(ctx)
			}
		}
	})

	return g.Wait()
}

func (b *Beater) beat(ctx context.Context) {
	b.logger.InfoContext(ctx, b.cfg.Message, slog.Int(log.PIDKey, os.Getpid()))
	if b.recorder != nil {
		b.recorder.RecordHeartbeat()
	}
}
