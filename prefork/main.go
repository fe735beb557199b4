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


// Command prefork is the operator's client for preforkd.  It talks to the
// daemon's control API.
//
// The flags are
//
//	-a <address>	- the control address, default is
//			  http://127.0.0.1:8321
//	-u <user:pass>	- user name & password for basic auth
//
// Subcommands are
//
//	status [-o table|json|yaml]	- master, host and pool status
//	workers				- list the workers
//	restart [<id>]			- restart one worker, or all of them in turn
//	log [-f] [--source <src>]	- the consolidated log
//	events				- stream cluster events as JSON lines
//	top				- the terminal UI (the default)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gdamore/prefork"
	"github.com/gdamore/prefork/prefork/ui"
	"github.com/gdamore/prefork/prefork/util"
	"github.com/gdamore/prefork/rest"
)

type cli struct {
	addr   string
	auth   string
	client *rest.Client
}

func (c *cli) connect(cmd *cobra.Command, args []string) error {
	c.client = rest.NewClient(nil, c.addr)
	if c.auth != "" {
		a := strings.SplitN(c.auth, ":", 2)
		if len(a) != 2 {
			return errors.New("bad user:pass supplied")
		}
		c.client.SetAuth(a[0], a[1])
	}
	return nil
}

func writeWorkers(w io.Writer, items []prefork.WorkerInfo, now time.Time) error {
	util.SortWorkers(items)
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSLOT\tPID\tSTATUS\tUPTIME\tADDRESS")
	for i := range items {
		info := &items[i]
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%s\n",
			info.ID, info.Slot, info.Pid, util.Status(info),
			util.FormatDuration(util.Uptime(info, now)), info.Addr)
	}
	return tw.Flush()
}

func writeStatus(w io.Writer, st *prefork.Status, format string, now time.Time) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if e := enc.Encode(st); e != nil {
			return e
		}
		return enc.Close()
	case "table", "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	h := st.Host
	fmt.Fprintf(w, "Master:  pid %d, %s, %d workers\n", st.Pid, st.State, st.Size)
	if !st.Started.IsZero() {
		d := now.Sub(st.Started)
		fmt.Fprintf(w, "Uptime:  %s\n", util.FormatDuration(d-d%time.Second))
	}
	fmt.Fprintf(w, "Load:    %.2f %.2f %.2f\n", h.LoadAvg[0], h.LoadAvg[1], h.LoadAvg[2])
	fmt.Fprintf(w, "Memory:  %s free of %s\n",
		util.FormatBytes(h.MemFree), util.FormatBytes(h.MemTotal))
	fmt.Fprintln(w)
	return writeWorkers(w, st.Workers, now)
}

func writeRecords(w io.Writer, recs []prefork.LogRecord) {
	for _, r := range recs {
		fmt.Fprintf(w, "%s %-10s %s\n",
			r.Time.Format(time.StampMilli), r.Source, r.Text)
	}
}

func (c *cli) statusCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show master, host and pool status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			st, e := c.client.Status(ctx)
			if e != nil {
				return e
			}
			return writeStatus(cmd.OutOrStdout(), st, output, time.Now())
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}

func (c *cli) workersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "List the workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			items, e := c.client.Workers(ctx)
			if e != nil {
				return e
			}
			return writeWorkers(cmd.OutOrStdout(), items, time.Now())
		},
	}
}

func (c *cli) restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart [id]",
		Short: "Restart one worker, or every worker in turn",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			var acc *rest.Accepted
			var e error
			if len(args) == 0 {
				acc, e = c.client.Restart(ctx)
			} else {
				id, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("bad worker id %q", args[0])
				}
				acc, e = c.client.RestartWorker(ctx, id)
			}
			if e != nil {
				return e
			}
			if acc.Scope == prefork.ScopeSingleWorker {
				fmt.Fprintf(cmd.OutOrStdout(), "Restart of worker %d requested\n", acc.WorkerID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Restart of %s requested\n", acc.Scope)
			}
			return nil
		},
	}
}

func (c *cli) logCmd() *cobra.Command {
	var follow bool
	var source string
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the consolidated log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w := cmd.OutOrStdout()
			info, e := c.client.GetLog(ctx, source)
			if e != nil {
				return e
			}
			writeRecords(w, info.Records)
			for follow {
				next, e := c.client.WatchLog(ctx, source, info)
				if e != nil {
					if ctx.Err() != nil {
						return nil
					}
					return e
				}
				writeRecords(w, newRecords(info, next))
				info = next
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new records")
	cmd.Flags().StringVar(&source, "source", "", "only records from this source, e.g. worker-3")
	return cmd
}

// newRecords returns the records of next that were not in last.
func newRecords(last, next *rest.LogInfo) []prefork.LogRecord {
	if last == nil || len(last.Records) == 0 {
		return next.Records
	}
	seen := last.Records[len(last.Records)-1].Id
	for i, r := range next.Records {
		if r.Id > seen {
			return next.Records[i:]
		}
	}
	return nil
}

func (c *cli) eventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Stream cluster events as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			e := c.client.Events(cmd.Context(), func(r rest.EventRecord) {
				enc.Encode(r)
			})
			if errors.Is(e, context.Canceled) {
				return nil
			}
			return e
		},
	}
}

func (c *cli) topCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "top",
		Short: "Watch and control the pool in a terminal UI",
		Args:  cobra.NoArgs,
		RunE:  c.top,
	}
}

func (c *cli) top(cmd *cobra.Command, args []string) error {
	return ui.NewApp(c.client, c.addr).Run()
}

func newRootCmd() *cobra.Command {
	c := &cli{addr: "http://127.0.0.1:8321"}
	root := &cobra.Command{
		Use:               "prefork",
		Short:             "Control a preforkd master",
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		PersistentPreRunE: c.connect,
		RunE:              c.top,
	}
	root.PersistentFlags().StringVarP(&c.addr, "address", "a", c.addr, "preforkd control address")
	root.PersistentFlags().StringVarP(&c.auth, "user", "u", "", "user:pass authentication")
	root.AddCommand(c.statusCmd(), c.workersCmd(), c.restartCmd(),
		c.logCmd(), c.eventsCmd(), c.topCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if e := newRootCmd().ExecuteContext(ctx); e != nil {
		os.Exit(1)
	}
}
