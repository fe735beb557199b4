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

// Bar styles.  Text bars use %N for the normal style and %A for the
// accent.
var (
	BarStyle = tcell.StyleDefault.
			Foreground(tcell.ColorBlack).
			Background(tcell.ColorSilver)
	BarAccentStyle = BarStyle.Foreground(tcell.ColorNavy).Bold(true)
)

// Health says how well things are going.  It picks the color of status
// bars and of list lines.
type Health int

const (
	HealthNormal Health = iota
	HealthGood
	HealthWarn
	HealthError
)

var statusStyles = map[Health]tcell.Style{
	HealthNormal: BarStyle,
	HealthGood: tcell.StyleDefault.
		Foreground(tcell.ColorWhite).
		Background(tcell.ColorGreen).
		Bold(true),
	HealthWarn: tcell.StyleDefault.
		Foreground(tcell.ColorBlack).
		Background(tcell.ColorYellow),
	HealthError: tcell.StyleDefault.
		Foreground(tcell.ColorWhite).
		Background(tcell.ColorMaroon).
		Bold(true),
}

// StyleNormal is the style of screen content.
var StyleNormal = tcell.StyleDefault.
	Foreground(tcell.ColorSilver).
	Background(tcell.ColorBlack)

var lineStyles = map[Health]tcell.Style{
	HealthNormal: StyleNormal,
	HealthGood:   StyleNormal.Foreground(tcell.ColorGreen),
	HealthWarn:   StyleNormal.Foreground(tcell.ColorYellow),
	HealthError:  StyleNormal.Foreground(tcell.ColorMaroon),
}

func escapePercent(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}

func newTextBar(style tcell.Style) *views.SimpleStyledTextBar {
	bar := views.NewSimpleStyledTextBar()
	bar.SetStyle(style)
	for _, r := range []rune{'N', 'A'} {
		s := style
		if r == 'A' {
			s = BarAccentStyle.Background(bgOf(style))
		}
		bar.RegisterLeftStyle(r, s)
		bar.RegisterCenterStyle(r, s)
		bar.RegisterRightStyle(r, s)
	}
	return bar
}

func bgOf(s tcell.Style) tcell.Color {
	_, bg, _ := s.Decompose()
	return bg
}

// TitleBar names the screen in the center and the program on the right.
type TitleBar struct {
	*views.SimpleStyledTextBar
}

func NewTitleBar() *TitleBar {
	return &TitleBar{newTextBar(BarStyle)}
}

// StatusBar is like a titlebar, but its color follows the health of what
// the screen shows.  A red background means something has failed.
type StatusBar struct {
	text string
	*views.SimpleStyledTextBar
}

func NewStatusBar() *StatusBar {
	return &StatusBar{SimpleStyledTextBar: newTextBar(BarStyle)}
}

func (sb *StatusBar) SetHealth(h Health) {
	style := statusStyles[h]
	sb.SetStyle(style)
	sb.RegisterLeftStyle('N', style)
	sb.SetLeft(sb.text)
}

// SetText replaces the status text, which is shown literally.
func (sb *StatusBar) SetText(text string) {
	sb.text = escapePercent(text)
	sb.SetLeft(sb.text)
}

// KeyBar lists the keys available on a screen.  The key itself, written
// in brackets, is highlighted.
type KeyBar struct {
	*views.SimpleStyledTextBar
}

func NewKeyBar() *KeyBar {
	return &KeyBar{newTextBar(BarStyle)}
}

// keyMarkup converts words like "[Q] Quit" to style escapes.
func keyMarkup(words []string) string {
	var sb strings.Builder
	for i, w := range words {
		if i != 0 && w != "" {
			sb.WriteByte(' ')
		}
		inKey := false
		for _, r := range w {
			switch {
			case r == '%':
				sb.WriteString("%%")
			case r == '[' && !inKey:
				sb.WriteString("[%A")
				inKey = true
			case r == ']' && inKey:
				sb.WriteString("%N]")
				inKey = false
			default:
				sb.WriteRune(r)
			}
		}
	}
	return sb.String()
}

func (k *KeyBar) SetKeys(words []string) {
	k.SetLeft(keyMarkup(words))
}
