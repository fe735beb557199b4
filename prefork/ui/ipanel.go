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


package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/gdamore/prefork"
	"github.com/gdamore/prefork/prefork/util"
)

// InfoPanel shows one worker in detail, followed by the master and the
// host it runs on.
type InfoPanel struct {
	text   *views.TextArea
	worker int // worker ID, or -1 for the master alone
	info   *prefork.WorkerInfo

	Panel
}

func NewInfoPanel(app *App) *InfoPanel {
	i := &InfoPanel{worker: -1}
	i.Panel.Init(app)

	i.text = views.NewTextArea()
	i.text.EnableCursor(false)
	i.text.SetStyle(StyleNormal)
	i.SetContent(i.text)
	i.SetKeys([]string{"[ESC] Main", "[H] Help"})

	return i
}

func (i *InfoPanel) Draw() {
	i.update()
	i.Panel.Draw()
}

func (i *InfoPanel) HandleEvent(ev tcell.Event) bool {
	info := i.info
	app := i.App()
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			app.ShowMain()
			return true
		case tcell.KeyF1:
			app.ShowHelp()
			return true
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				app.ShowMain()
				return true
			case 'H', 'h':
				app.ShowHelp()
				return true
			case 'L', 'l':
				if info != nil {
					app.ShowLog(fmt.Sprintf("worker-%d", info.ID))
				} else {
					app.ShowLog("master")
				}
				return true
			case 'R', 'r':
				if info != nil {
					app.RestartWorker(info.ID)
					return true
				}
			}
		}
	}
	return i.Panel.HandleEvent(ev)
}

func (i *InfoPanel) SetWorker(id int) {
	i.worker = id
	i.info = nil
}

func formatLoad(l [3]float64) string {
	return fmt.Sprintf("%.2f %.2f %.2f", l[0], l[1], l[2])
}

func formatCPUs(cpus []float64) string {
	parts := make([]string, 0, len(cpus))
	for _, c := range cpus {
		parts = append(parts, fmt.Sprintf("%3.0f%%", c*100))
	}
	return strings.Join(parts, " ")
}

func workerLines(w *prefork.WorkerInfo, now time.Time) []string {
	lines := make([]string, 0, 8)
	lines = append(lines, fmt.Sprintf("%13s %d", "Worker:", w.ID))
	lines = append(lines, fmt.Sprintf("%13s %d", "Slot:", w.Slot))
	lines = append(lines, fmt.Sprintf("%13s %d", "Pid:", w.Pid))
	lines = append(lines, fmt.Sprintf("%13s %s", "Status:", util.Status(w)))
	lines = append(lines, fmt.Sprintf("%13s %s", "Address:", w.Addr))
	lines = append(lines, fmt.Sprintf("%13s %v", "Started:",
		w.Started.Format(time.RFC3339)))
	lines = append(lines, fmt.Sprintf("%13s %s", "Uptime:",
		util.FormatDuration(util.Uptime(w, now))))
	if w.Exit != nil {
		lines = append(lines, fmt.Sprintf("%13s %s", "Exit:", w.Exit))
	}
	return lines
}

func masterLines(st *prefork.Status, now time.Time) []string {
	h := st.Host
	lines := make([]string, 0, 8)
	lines = append(lines, fmt.Sprintf("%13s %d", "Master pid:", st.Pid))
	lines = append(lines, fmt.Sprintf("%13s %s", "State:", st.State))
	lines = append(lines, fmt.Sprintf("%13s %d", "Pool size:", st.Size))
	if !st.Started.IsZero() {
		d := now.Sub(st.Started)
		lines = append(lines, fmt.Sprintf("%13s %s", "Uptime:",
			util.FormatDuration(d-d%time.Second)))
	}
	lines = append(lines, fmt.Sprintf("%13s %s", "Load:", formatLoad(h.LoadAvg)))
	lines = append(lines, fmt.Sprintf("%13s %s free of %s", "Memory:",
		util.FormatBytes(h.MemFree), util.FormatBytes(h.MemTotal)))
	lines = append(lines, fmt.Sprintf("%13s %s", "CPUs:", formatCPUs(h.CPUs)))
	return lines
}

// update must be called from the application's event loop.
func (i *InfoPanel) update() {

	app := i.App()
	st, e := app.GetStatus()
	words := []string{"[ESC] Main", "[H] Help", "[L] Log"}

	if i.worker < 0 {
		i.SetTitle("Master")
	} else {
		i.SetTitle(fmt.Sprintf("Details for worker %d", i.worker))
	}

	if st == nil {
		if e != nil {
			i.SetStatus(fmt.Sprintf("No data: %v", e))
			i.SetHealth(HealthError)
		} else {
			i.SetStatus("Loading...")
			i.SetHealth(HealthNormal)
		}
		i.text.SetLines(nil)
		i.SetKeys(words)
		return
	}

	now := time.Now()
	var lines []string
	i.info = nil
	if i.worker >= 0 {
		w, e := app.GetItem(i.worker)
		if e != nil {
			i.SetStatus(fmt.Sprintf("Worker %d: %v", i.worker, e))
			i.SetHealth(HealthWarn)
		} else {
			i.info = w
			i.SetStatus("")
			i.SetHealth(workerHealth(w))
			lines = append(lines, workerLines(w, now)...)
			lines = append(lines, "")
			words = append(words, "[R] Restart")
		}
	} else {
		i.SetStatus("")
		i.SetHealth(HealthNormal)
	}
	lines = append(lines, masterLines(st, now)...)

	i.text.SetLines(lines)
	i.SetKeys(words)
}
