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


// Command preforkd runs a pool of identical worker processes that share
// one listening port.  "preforkd run" starts the master, which runs
// itself again as "preforkd worker" once per worker.
//
// Settings come from prefork.yaml in the current directory (or the file
// named by --config), then PREFORK_ environment variables, then flags.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gdamore/prefork/config"
)

// exitCode ends the program with a status other than 1.
type exitCode int

func (e exitCode) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

type daemon struct {
	path string
	v    *viper.Viper
}

// load reads the configuration, with the command's flags bound over it.
func (d *daemon) load(cmd *cobra.Command) (*config.Config, error) {
	d.v = config.New(d.path)
	if e := config.BindFlags(d.v, cmd.Flags()); e != nil {
		return nil, e
	}
	return config.Load(d.v)
}

func newRootCmd() *cobra.Command {
	d := &daemon{}
	root := &cobra.Command{
		Use:           "preforkd",
		Short:         "Prefork process supervisor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&d.path, "config", "c", "", "configuration file (default ./prefork.yaml)")
	root.PersistentFlags().String("listen", ":8080", "address the workers listen on")
	root.PersistentFlags().Int("max-conns", 0, "connections served at once by each worker, 0 for no limit")
	root.AddCommand(d.runCmd(), d.workerCmd())
	return root
}

func main() {
	e := newRootCmd().Execute()
	if e == nil {
		return
	}
	var code exitCode
	if errors.As(e, &code) {
		os.Exit(int(code))
	}
	fmt.Fprintf(os.Stderr, "preforkd: %v\n", e)
	os.Exit(1)
}
