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
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"
)

const maxFieldLen = 256

// field is one line of the credentials form.
type field struct {
	label  string
	value  []rune
	secret bool
	text   *views.Text
}

// render shows the label and the tail of the value in width cells, with
// a cursor mark when focused.
func (f *field) render(focused bool, width int) string {
	shown := []rune(strings.Repeat("*", len(f.value)))
	if !f.secret {
		shown = append([]rune{}, f.value...)
	}
	if focused {
		shown = append(shown, '_')
	}
	if len(shown) > width {
		shown = shown[len(shown)-width:]
		shown[0] = '<'
	}
	return f.label + string(shown) + strings.Repeat(" ", width-len(shown))
}

// AuthPanel asks for credentials when the master refuses ours.
type AuthPanel struct {
	form   *views.BoxLayout
	fields []*field
	focus  int

	Panel
}

func NewAuthPanel(app *App, server string) *AuthPanel {
	a := &AuthPanel{
		fields: []*field{
			{label: "Username: "},
			{label: "Password: ", secret: true},
		},
	}
	a.Panel.Init(app)

	a.form = views.NewBoxLayout(views.Vertical)
	a.form.SetStyle(StyleNormal)
	a.form.AddWidget(views.NewSpacer(), 1.0)
	for _, f := range a.fields {
		f.text = views.NewText()
		f.text.SetAlignment(views.HAlignCenter)
		a.form.AddWidget(f.text, 0.0)
	}
	a.form.AddWidget(views.NewSpacer(), 1.0)

	a.SetTitle(server)
	a.SetStatus("Authentication Required")
	a.SetKeys([]string{"[ESC] Quit", "[TAB] Next field", "[ENTER] Log in"})
	a.SetContent(a.form)

	return a
}

func (a *AuthPanel) ResetFields() {
	a.focus = 0
	for _, f := range a.fields {
		f.value = f.value[:0]
	}
}

func (a *AuthPanel) Draw() {
	a.update()
	a.Panel.Draw()
}

func (a *AuthPanel) submit() {
	a.App().SetUserPassword(string(a.fields[0].value), string(a.fields[1].value))
	a.App().ShowMain()
}

func (a *AuthPanel) HandleEvent(ev tcell.Event) bool {
	ek, ok := ev.(*tcell.EventKey)
	if !ok {
		return a.Panel.HandleEvent(ev)
	}
	f := a.fields[a.focus]
	switch ek.Key() {
	case tcell.KeyEsc:
		a.App().Quit()
	case tcell.KeyEnter:
		if a.focus == len(a.fields)-1 {
			a.submit()
		} else {
			a.focus++
		}
	case tcell.KeyTab, tcell.KeyDown:
		a.focus = (a.focus + 1) % len(a.fields)
	case tcell.KeyBacktab, tcell.KeyUp:
		a.focus = (a.focus + len(a.fields) - 1) % len(a.fields)
	case tcell.KeyCtrlU, tcell.KeyCtrlW:
		f.value = f.value[:0]
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		if n := len(f.value); n > 0 {
			f.value = f.value[:n-1]
		}
	case tcell.KeyRune:
		if len(f.value) < maxFieldLen {
			f.value = append(f.value, ek.Rune())
		}
	default:
		return false
	}
	return true
}

// update must be called from the application's event loop.
func (a *AuthPanel) update() {
	a.SetHealth(HealthError)
	focus := tcell.StyleDefault.
		Foreground(tcell.ColorWhite).Background(tcell.ColorNavy)
	for i, f := range a.fields {
		f.text.SetText(f.render(i == a.focus, 16))
		if i == a.focus {
			f.text.SetStyle(focus)
		} else {
			f.text.SetStyle(StyleNormal)
		}
	}
}
