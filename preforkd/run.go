// Copyright 2026 The Prefork Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gdamore/prefork"
	"github.com/gdamore/prefork/config"
	"github.com/gdamore/prefork/rest"
)

func (d *daemon) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the master and its workers",
		Args:  cobra.NoArgs,
		RunE:  d.run,
	}
	f := cmd.Flags()
	f.IntP("workers", "n", 0, "number of workers, 0 for one per CPU")
	f.Int("max-workers", 0, "upper bound on the number of workers")
	f.String("control-listen", "127.0.0.1:8321", "address of the control API")
	f.Bool("watch-enabled", false, "restart workers when the source tree changes")
	f.String("watch-root", ".", "source tree to watch")
	return cmd
}

// workerArgs builds the command line a worker is started with.  Flags
// given to the master that also apply to workers are passed on.
func (d *daemon) workerArgs(flags *pflag.FlagSet) []string {
	args := []string{"worker"}
	if d.path != "" {
		args = append(args, "--config", d.path)
	}
	for _, name := range []string{"listen", "max-conns"} {
		if f := flags.Lookup(name); f != nil && f.Changed {
			args = append(args, "--"+name, f.Value.String())
		}
	}
	return args
}

func (d *daemon) run(cmd *cobra.Command, args []string) error {
	cfg, e := d.load(cmd)
	if e != nil {
		return e
	}

	opts := cfg.MasterOptions()
	sp, e := prefork.NewExecSpawner(d.workerArgs(cmd.Flags())...)
	if e != nil {
		return e
	}
	opts.Spawner = sp
	opts.Log = prefork.NewLog(0)
	m, e := prefork.NewMaster(opts)
	if e != nil {
		return e
	}
	logger := m.Logger()

	shutdown := make(chan string, 1)
	m.Control().SubscribeAsync(prefork.TopicShutdownRequested, func(reason string) {
		select {
		case shutdown <- reason:
		default:
		}
	}, false)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)
	go func() {
		for sig := range sigs {
			if sig == syscall.SIGHUP {
				m.RequestRestart(prefork.PendingRestart{
					Scope:  prefork.ScopeAllWorkers,
					Reason: "hangup signal",
				})
				continue
			}
			logger.Printf("Received %v", sig)
			// Abandon a startup still in progress.
			cancel()
			m.RequestShutdown(sig.String())
		}
	}()

	h := rest.NewHandler(m, logger)
	if cfg.Control.User != "" {
		h.SetAuth(cfg.Control.User, cfg.Control.PasswordHash)
	}
	srv := &http.Server{Addr: cfg.Control.Listen, Handler: h}
	go func() {
		logger.Printf("Control API on %s", cfg.Control.Listen)
		if e := srv.ListenAndServe(); e != nil && !errors.Is(e, http.ErrServerClosed) {
			logger.Printf("Control API failed: %v", e)
			m.RequestShutdown("control API failed")
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	if e := m.Start(ctx); e != nil {
		logger.Printf("Failed to start: %v", e)
		return e
	}

	if cfg.Watch.Enabled {
		c, e := prefork.NewCoordinator(cfg.CoordinatorConfig(logger), m)
		if e != nil {
			logger.Printf("Not watching for changes: %v", e)
		} else if w, e := c.Watch(); e != nil {
			logger.Printf("Not watching for changes: %v", e)
		} else {
			defer w.Close()
		}
	}
	if d.v.ConfigFileUsed() != "" {
		config.Watch(d.v, logger, func(*config.Config) {
			m.RequestRestart(prefork.PendingRestart{
				Scope:  prefork.ScopeAllWorkers,
				Reason: "configuration changed",
			})
		})
	}

	reason := <-shutdown
	logger.Printf("Shutting down: %s", reason)
	if code := m.Shutdown(); code != 0 {
		logger.Printf("Workers exited with status %d", code)
		return exitCode(code)
	}
	logger.Printf("Shutdown complete")
	return nil
}
