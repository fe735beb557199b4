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
	"strconv"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"
)

type LogPanel struct {
	text   *views.TextArea
	source string // "" for the consolidated log
	worker int    // worker ID, or -1
	err    error  // last error retrieving the log

	Panel
}

func NewLogPanel(app *App) *LogPanel {
	p := &LogPanel{worker: -1}

	p.Panel.Init(app)

	p.SetKeys([]string{"[Q] Quit", "[H] Help"})

	p.text = views.NewTextArea()
	p.text.EnableCursor(false)
	p.text.SetStyle(tcell.StyleDefault.
		Foreground(tcell.ColorSilver).Background(tcell.ColorBlack))
	p.SetContent(p.text)

	return p
}

func (p *LogPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *LogPanel) HandleEvent(ev tcell.Event) bool {
	app := p.app
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
			case 'I', 'i':
				app.ShowInfo(p.worker)
				return true
			case 'R', 'r':
				if p.worker >= 0 {
					app.RestartWorker(p.worker)
					return true
				}
			}
		}
	}
	return p.Panel.HandleEvent(ev)
}

// SetSource selects whose log is shown.
func (p *LogPanel) SetSource(source string) {
	p.SetTitle("Loading")
	p.text.SetLines(nil)
	p.source = source
	p.err = nil
	p.worker = -1
	if id, e := strconv.Atoi(strings.TrimPrefix(source, "worker-")); e == nil {
		p.worker = id
	}
}

// update must be called from the application's event loop.
func (p *LogPanel) update() {

	loginfo, e := p.app.GetLog(p.source)
	p.err = e

	words := []string{"[ESC] Main", "[H] Help", "[I] Info"}

	if p.source == "" {
		p.SetTitle("Consolidated Log")
	} else {
		p.SetTitle("Log for " + p.source)
	}
	if p.worker >= 0 {
		words = append(words, "[R] Restart")
	}
	p.SetKeys(words)

	if loginfo == nil {
		if p.err != nil {
			p.SetStatus(fmt.Sprintf("No data: %v", p.err))
			p.SetHealth(HealthError)
		} else {
			p.SetStatus("Loading ...")
			p.SetHealth(HealthNormal)
		}
		p.text.SetLines([]string{""})
		return
	}

	p.SetStatus(fmt.Sprintf("%d records", len(loginfo.Records)))
	p.SetHealth(HealthNormal)
	if p.worker >= 0 {
		if w, e := p.app.GetItem(p.worker); e != nil {
			// The worker has been replaced; its log remains.
			p.SetHealth(HealthWarn)
		} else {
			p.SetHealth(workerHealth(w))
		}
	}

	lines := make([]string, 0, len(loginfo.Records))
	for _, r := range loginfo.Records {
		var line string
		if p.source == "" {
			line = fmt.Sprintf("%s %-10s %s",
				r.Time.Format(time.StampMilli), r.Source, r.Text)
		} else {
			line = fmt.Sprintf("%s %s",
				r.Time.Format(time.StampMilli), r.Text)
		}
		lines = append(lines, line)
	}
	p.text.SetLines(lines)
}
