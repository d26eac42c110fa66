// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kadirpekel/agentkernel/pkg/audit"
	"github.com/kadirpekel/agentkernel/pkg/checkpoint"
	"github.com/kadirpekel/agentkernel/pkg/config"
	"github.com/kadirpekel/agentkernel/pkg/errs"
	"github.com/kadirpekel/agentkernel/pkg/metrics"
	"github.com/kadirpekel/agentkernel/pkg/policy"
	"github.com/kadirpekel/agentkernel/pkg/ratelimit"
	"github.com/kadirpekel/agentkernel/pkg/runtime"
	"github.com/kadirpekel/agentkernel/pkg/server"
	"github.com/kadirpekel/agentkernel/pkg/store"
)

// ServeCmd builds a Runtime from a config file, spawns every manifest
// found in its manifest directory, recovers any persisted checkpoints,
// and serves the HTTP surface until interrupted.
type ServeCmd struct {
	Config string `short:"c" help:"Path to runtime config file (JSON or YAML)." type:"path" required:""`
	Watch  bool   `help:"Hot-reload the policy file on change." default:"true" negatable:""`
}

func loadPolicy(path string) (*policy.PolicySet, error) {
	return policy.LoadFile(path)
}

func (c *ServeCmd) Run() error {
	_ = config.LoadEnvFiles()
	cfg, err := config.LoadFile(c.Config)
	if err != nil {
		return err
	}

	ps, err := policy.Build(policy.DecisionBlock, nil, nil, nil, nil)
	if err != nil {
		return errs.Wrap(errs.Internal, "build default policy set", err)
	}
	if cfg.PolicyFile != "" {
		if ps, err = loadPolicy(cfg.PolicyFile); err != nil {
			return err
		}
	}

	limiter, err := ratelimit.NewDefaultLimiter(cfg.RateLimit, buildRateLimitStore(cfg.RateLimitStore))
	if err != nil {
		return errs.Wrap(errs.InvalidConfiguration, "build rate limiter", err)
	}

	sinks, closeSinks, err := buildAuditSinks(cfg.AuditSinks)
	if err != nil {
		return err
	}
	defer closeSinks()
	pipeline := audit.New(sinks)

	ckptStore, err := buildCheckpointStore(cfg.Store)
	if err != nil {
		return err
	}
	ckptMgr := checkpoint.NewManager(cfg.Checkpoint, ckptStore)

	m := metrics.New()
	rt := runtime.New(
		runtime.WithPolicy(ps),
		runtime.WithLimiter(limiter),
		runtime.WithAudit(pipeline),
		runtime.WithCheckpoints(ckptMgr),
		runtime.WithMetrics(m),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if n, err := rt.Recover(ctx); err != nil {
		return errs.Wrap(errs.StorageFailure, "recover checkpoints", err)
	} else if n > 0 {
		slog.Info("recovered agents from checkpoint", "count", n)
	}

	if cfg.ManifestDir != "" {
		manifests, err := config.LoadManifestDir(cfg.ManifestDir)
		if err != nil {
			return err
		}
		for _, man := range manifests {
			if _, err := rt.Spawn(ctx, man); err != nil {
				return errs.Wrap(errs.InvalidConfiguration, "spawn manifest agent", err).WithDetail("manifest_id", man.ID)
			}
		}
		slog.Info("spawned agents from manifest directory", "count", len(manifests))
	}

	if c.Watch && cfg.PolicyFile != "" {
		w := config.NewWatcher(cfg.PolicyFile)
		defer w.Close()
		if err := w.Watch(ctx, func(*config.RuntimeConfig) {
			reloaded, err := loadPolicy(cfg.PolicyFile)
			if err != nil {
				slog.Error("policy reload failed", "error", err)
				return
			}
			rt.ReloadPolicy(reloaded)
			slog.Info("policy reloaded", "path", cfg.PolicyFile)
		}); err != nil {
			slog.Warn("policy hot-reload disabled", "error", err)
		}
	}

	addr := cfg.MetricsAddr
	if addr == "" {
		addr = ":8080"
	}
	httpSrv := &http.Server{Addr: addr, Handler: server.New(rt, m)}
	go func() {
		slog.Info("serving", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	_ = httpSrv.Shutdown(context.Background())
	return rt.Shutdown(context.Background())
}

func buildRateLimitStore(sc config.RateLimitStoreConfig) ratelimit.Store {
	if sc.Backend != config.RateLimitStoreRedis {
		return ratelimit.NewMemoryStore()
	}
	client := goredis.NewClient(&goredis.Options{Addr: sc.Addr})
	return ratelimit.NewRedisStore(client, time.Hour)
}

func buildAuditSinks(sinkCfgs []config.AuditSinkConfig) ([]audit.Sink, func(), error) {
	var sinks []audit.Sink
	var pools []*pgxpool.Pool

	for _, sc := range sinkCfgs {
		switch sc.Kind {
		case "console", "":
			sinks = append(sinks, audit.NewConsoleSink(slog.Default()))
		case "memory":
			sinks = append(sinks, audit.NewMemorySink(sc.Capacity))
		case "file":
			fs, err := audit.NewFileSink(sc.Path)
			if err != nil {
				return nil, nil, errs.Wrap(errs.StorageFailure, "open file audit sink", err)
			}
			sinks = append(sinks, fs)
		case "postgres":
			pool, err := pgxpool.New(context.Background(), sc.DSN)
			if err != nil {
				return nil, nil, errs.Wrap(errs.StorageFailure, "connect postgres audit sink", err)
			}
			pools = append(pools, pool)
			sinks = append(sinks, audit.NewPostgresSink(pool, "agent"))
		default:
			return nil, nil, errs.New(errs.InvalidConfiguration, "unknown audit sink kind").WithDetail("kind", sc.Kind)
		}
	}

	closeFn := func() {
		for _, p := range pools {
			p.Close()
		}
	}
	return sinks, closeFn, nil
}

func buildCheckpointStore(sc config.StoreConfig) (checkpoint.Store, error) {
	switch sc.Backend {
	case config.BackendFile:
		return store.NewFileCheckpointStore(sc.Dir)
	case config.BackendPostgres:
		if err := store.MigrateUp(sc.DSN, migrationsSource); err != nil {
			return nil, err
		}
		pool, err := pgxpool.New(context.Background(), sc.DSN)
		if err != nil {
			return nil, errs.Wrap(errs.StorageFailure, "connect postgres checkpoint store", err)
		}
		return store.NewPgCheckpointStore(pool), nil
	default:
		return store.NewMemCheckpointStore(), nil
	}
}

// migrationsSource is the golang-migrate file source for the
// agents/agent_state_history/audit_log schema, relative to the process
// working directory (mirrors how the config file path itself is resolved).
const migrationsSource = "file://migrations"
