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
	"github.com/spf13/cobra"

	"github.com/gdamore/prefork"
)

func (d *daemon) workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Serve as a worker; started by the master",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE:   d.worker,
	}
}

func (d *daemon) worker(cmd *cobra.Command, args []string) error {
	w, e := prefork.WorkerFromEnv()
	if e != nil {
		return e
	}
	cfg, e := d.load(cmd)
	if e != nil {
		w.Logger().Printf("Bad configuration: %v", e)
		return e
	}
	w.SetListenAddr("tcp", cfg.Listen)
	w.SetMaxConns(cfg.MaxConns)
	return w.Run(cmd.Context(), newApp(w.ID(), w.Slot(), w.Logger()))
}
