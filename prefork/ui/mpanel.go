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
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/gdamore/prefork"
	"github.com/gdamore/prefork/prefork/util"
)

func workerHealth(w *prefork.WorkerInfo) Health {
	switch {
	case w.Exit != nil && !w.Exit.Clean():
		return HealthError
	case w.State == prefork.StateListening:
		return HealthGood
	case w.State == prefork.StateStarting:
		return HealthWarn
	}
	return HealthNormal
}

// MainPanel implements a Widget as a Panel, but provides the data
// model and handling for the content area, using the worker list loaded
// from the master's REST API.
type MainPanel struct {
	content    *views.CellView
	selected   *prefork.WorkerInfo
	nlistening int
	nstarting  int
	nfailed    int
	width      int
	height     int
	curx       int
	cury       int
	lines      []string
	health     []Health
	items      []prefork.WorkerInfo

	Panel
}

// mainModel provides the model for a CellArea.
type mainModel struct {
	m *MainPanel
}

func NewMainPanel(app *App, server string) *MainPanel {
	m := &MainPanel{}

	m.Panel.Init(app)
	m.content = views.NewCellView()
	m.SetContent(m.content)

	m.content.SetModel(&mainModel{m})
	m.content.SetStyle(StyleNormal)

	m.SetTitle(server)
	m.SetKeys([]string{"[Q] Quit"})

	return m
}

func (m *MainPanel) Draw() {
	m.update()
	m.Panel.Draw()
}

func (m *MainPanel) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			m.unselect()
			return true
		case tcell.KeyF1:
			m.App().ShowHelp()
			return true
		case tcell.KeyEnter:
			if m.selected != nil {
				m.App().ShowInfo(m.selected.ID)
				return true
			}
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				m.App().Quit()
				return true
			case 'H', 'h':
				m.App().ShowHelp()
				return true
			case 'I', 'i':
				if m.selected != nil {
					m.App().ShowInfo(m.selected.ID)
				} else {
					m.App().ShowInfo(-1)
				}
				return true
			case 'L', 'l':
				if m.selected != nil {
					m.App().ShowLog(fmt.Sprintf("worker-%d", m.selected.ID))
				} else {
					m.App().ShowLog("")
				}
				return true
			case 'R', 'r':
				if m.selected != nil {
					m.App().RestartWorker(m.selected.ID)
					return true
				}
			case 'A', 'a':
				m.App().RestartAll()
				return true
			}
		}
	}
	return m.Panel.HandleEvent(ev)
}

// Model items
func (model *mainModel) GetCell(x, y int) (rune, tcell.Style, []rune, int) {
	var ch rune
	var style tcell.Style

	m := model.m

	if y < 0 || y >= len(m.lines) {
		return ch, StyleNormal, nil, 1
	}

	if x >= 0 && x < len(m.lines[y]) {
		ch = rune(m.lines[y][x])
	} else {
		ch = ' '
	}
	style = lineStyles[m.health[y]]
	if m.selected != nil && m.items[y].ID == m.selected.ID {
		style = style.Reverse(true)
	}
	return ch, style, nil, 1
}

func (model *mainModel) GetBounds() (int, int) {
	// This assumes that all content is displayable runes of width 1.
	m := model.m
	y := len(m.lines)
	x := 0
	for _, l := range m.lines {
		if x < len(l) {
			x = len(l)
		}
	}
	return x, y
}

func (model *mainModel) GetCursor() (int, int, bool, bool) {
	m := model.m
	return m.curx, m.cury, true, false
}

func (model *mainModel) MoveCursor(offx, offy int) {

	m := model.m
	m.curx += offx
	m.cury += offy
	m.updateCursor(true)
}

func (model *mainModel) SetCursor(x, y int) {
	m := model.m
	m.curx = x
	m.cury = y
	m.updateCursor(true)
}

func (m *MainPanel) unselect() {
	m.cury = 0
	m.curx = 0
	m.updateCursor(false)
}

func (m *MainPanel) updateCursor(selected bool) {
	if m.curx > m.width-1 {
		m.curx = m.width - 1
	}
	if m.cury > m.height-1 {
		m.cury = m.height - 1
	}
	if m.curx < 0 {
		m.curx = 0
	}
	if m.cury < 0 {
		m.cury = 0
	}
	if selected && m.height > 0 {
		if m.selected == nil {
			m.curx = 0
			m.cury = 0
		}
		m.selected = &m.items[m.cury]
	} else {
		m.selected = nil
	}
}

// update is called to update content, e.g. in response to Draw() or
// as part of another update.  It is called from the application's
// event loop.
func (m *MainPanel) update() {

	items, err := m.App().GetItems()
	m.items = items

	// preserve selected item, which may have been replaced
	if sel := m.selected; sel != nil {
		m.selected = nil
		for i := range m.items {
			if m.items[i].ID == sel.ID {
				m.selected = &m.items[i]
				m.cury = i
			}
		}
	}
	if err != nil {
		if needsAuth(err) {
			m.App().ShowAuth()
			return
		}
		m.SetHealth(HealthError)
		m.SetStatus(fmt.Sprintf("Cannot load workers: %v", err))
		m.lines = []string{}
		m.health = nil
		m.height = 0
		m.width = 0
		return
	}

	lines := make([]string, 0, len(m.items))
	health := make([]Health, 0, len(m.items))

	m.nlistening = 0
	m.nstarting = 0
	m.nfailed = 0

	m.height = 0
	m.width = 0

	now := time.Now()
	for i := range m.items {
		info := &m.items[i]
		line := fmt.Sprintf("%6d %4d %8d  %-12s %10s   %s",
			info.ID, info.Slot, info.Pid, util.Status(info),
			util.FormatDuration(util.Uptime(info, now)), info.Addr)

		if len(line) > m.width {
			m.width = len(line)
		}
		m.height++

		lines = append(lines, line)
		switch {
		case info.Exit != nil && !info.Exit.Clean():
			m.nfailed++
		case info.State == prefork.StateListening:
			m.nlistening++
		case info.State == prefork.StateStarting:
			m.nstarting++
		}
		health = append(health, workerHealth(info))
	}

	m.lines = lines
	m.health = health

	status := fmt.Sprintf(
		"%6d Workers %6d Listening %6d Starting %6d Failed",
		len(m.items), m.nlistening, m.nstarting, m.nfailed)
	if notice := m.App().GetNotice(); notice != "" {
		status += "   " + notice
	}
	m.SetStatus(status)

	switch {
	case m.nfailed > 0:
		m.SetHealth(HealthError)
	case m.nstarting > 0 || m.nlistening < len(m.items):
		m.SetHealth(HealthWarn)
	case m.nlistening > 0:
		m.SetHealth(HealthGood)
	default:
		m.SetHealth(HealthNormal)
	}

	words := []string{"[Q] Quit", "[H] Help", "[I] Info", "[L] Log"}
	if m.selected != nil {
		words = append(words, "[R] Restart")
	}
	words = append(words, "[A] Restart All")
	m.SetKeys(words)
}
