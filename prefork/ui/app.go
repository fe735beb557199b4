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


// Package ui is the terminal interface of the prefork command.
package ui

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/gdamore/prefork"
	"github.com/gdamore/prefork/prefork/util"
	"github.com/gdamore/prefork/rest"
)

// ErrWorkerNotFound is reported for a worker that has left the pool.
var ErrWorkerNotFound = errors.New("Worker not found")

// RefreshInterval is how often the master's status is polled.
var RefreshInterval = 2 * time.Second

type App struct {
	app       *views.Application
	view      views.View
	panel     views.Widget
	info      *InfoPanel
	help      *HelpPanel
	log       *LogPanel
	main      *MainPanel
	auth      *AuthPanel
	client    *rest.Client
	logger    *log.Logger
	err       error
	status    *prefork.Status
	items     []prefork.WorkerInfo
	notice    string
	logSource string
	logInfo   *rest.LogInfo
	logErr    error
	logCancel context.CancelFunc
	ctx       context.Context
	cancel    context.CancelFunc

	views.WidgetWatchers
}

func (a *App) show(w views.Widget) {
	if w != a.panel {
		a.panel.SetView(nil)
		a.panel = w
	}
	a.panel.SetView(a.view)
	a.panel.Resize()
	a.app.Refresh()
}

func (a *App) ShowHelp() {
	a.show(a.help)
}

// ShowInfo shows the details of a worker.  A negative id shows only the
// master and its host.
func (a *App) ShowInfo(id int) {
	a.info.SetWorker(id)
	a.show(a.info)
}

// ShowLog shows the log of one source, such as "worker-3".  An empty
// source is the consolidated log.
func (a *App) ShowLog(source string) {
	if a.logCancel != nil {
		a.logCancel()
	}
	ctx, cancel := context.WithCancel(a.ctx)
	a.logInfo = nil
	a.logErr = nil
	a.logSource = source
	a.logCancel = cancel
	a.log.SetSource(source)
	go a.refreshLog(ctx, source)

	a.show(a.log)
}

func (a *App) ShowMain() {
	a.show(a.main)
}

func (a *App) ShowAuth() {
	a.auth.ResetFields()
	a.show(a.auth)
}

func (a *App) SetUserPassword(user, pass string) {
	a.client.SetAuth(user, pass)
	a.err = nil
	a.notice = ""
	go a.fetch()
}

func (a *App) setNotice(s string) {
	a.app.PostFunc(func() {
		a.notice = s
		a.app.Update()
	})
}

// RestartWorker asks the master to replace one worker.  The request runs
// in the background and its outcome is shown as a notice.
func (a *App) RestartWorker(id int) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
		defer cancel()
		if _, e := a.client.RestartWorker(ctx, id); e != nil {
			a.setNotice(fmt.Sprintf("Restart of worker %d failed: %v", id, e))
			return
		}
		a.setNotice(fmt.Sprintf("Restart of worker %d requested", id))
	}()
}

// RestartAll asks for a rolling restart of the pool.
func (a *App) RestartAll() {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
		defer cancel()
		if _, e := a.client.Restart(ctx); e != nil {
			a.setNotice(fmt.Sprintf("Rolling restart failed: %v", e))
			return
		}
		a.setNotice("Rolling restart requested")
	}()
}

func (a *App) Quit() {
	/* This just posts the quit event. */
	a.app.Quit()
}

func (a *App) SetLogger(logger *log.Logger) {
	a.logger = logger
	if logger != nil {
		logger.Printf("Start logger")
	}
}

func (a *App) Logf(fmt string, v ...interface{}) {
	if a.logger != nil {
		a.logger.Printf(fmt, v...)
	}
}

func (a *App) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		// Intercept a few control keys up front, for global handling.
		case tcell.KeyCtrlC:
			a.Quit()
			return true
		case tcell.KeyCtrlL:
			a.app.Refresh()
			return true
		}
	}

	if a.panel != nil {
		return a.panel.HandleEvent(ev)
	}
	return false
}

func (a *App) Draw() {
	if a.panel != nil {
		a.panel.Draw()
	}
}

func (a *App) Resize() {
	if a.panel != nil {
		a.panel.Resize()
	}
}

func (a *App) SetView(view views.View) {
	a.view = view
	if a.panel != nil {
		a.panel.SetView(view)
	}
}

func (a *App) Size() (int, int) {
	if a.panel != nil {
		return a.panel.Size()
	}
	return 0, 0
}

func (a *App) GetClient() *rest.Client {
	return a.client
}

func (a *App) GetAppName() string {
	return "Prefork v1.0"
}

func NewApp(client *rest.Client, url string) *App {

	app := &App{}
	app.app = &views.Application{}
	app.ctx, app.cancel = context.WithCancel(context.Background())
	app.client = client
	app.info = NewInfoPanel(app)
	app.help = NewHelpPanel(app)
	app.log = NewLogPanel(app)
	app.main = NewMainPanel(app, url)
	app.auth = NewAuthPanel(app, url)
	app.panel = app.main

	return app
}

// fetch loads the master's status once and posts it to the UI.
func (a *App) fetch() {
	ctx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
	st, e := a.client.Status(ctx)
	cancel()

	var items []prefork.WorkerInfo
	if st != nil {
		items = append(items, st.Workers...)
		util.SortWorkers(items)
	}
	a.app.PostFunc(func() {
		a.status = st
		a.items = items
		a.err = e
		a.app.Update()
	})
}

// refresh keeps the app items current
func (a *App) refresh() {
	for {
		a.fetch()
		select {
		case <-a.ctx.Done():
			return
		case <-time.After(RefreshInterval):
		}
	}
}

func (a *App) refreshLog(ctx context.Context, source string) {
	info, e := a.client.GetLog(ctx, source)

	for {
		a.app.PostFunc(func() {
			if a.logSource == source {
				a.logInfo = info
				a.logErr = e
				a.app.Update()
			}
		})
		select {
		case <-ctx.Done():
			return
		default:
		}
		if e != nil {
			// Do not spin against a server that is down.
			select {
			case <-ctx.Done():
				return
			case <-time.After(RefreshInterval):
			}
			info, e = a.client.GetLog(ctx, source)
			continue
		}
		info, e = a.client.WatchLog(ctx, source, info)
	}
}

func (a *App) GetItems() ([]prefork.WorkerInfo, error) {
	return a.items, a.err
}

func (a *App) GetItem(id int) (*prefork.WorkerInfo, error) {
	if a.err != nil {
		return nil, a.err
	}
	for i := range a.items {
		if a.items[i].ID == id {
			return &a.items[i], nil
		}
	}
	return nil, ErrWorkerNotFound
}

func (a *App) GetStatus() (*prefork.Status, error) {
	return a.status, a.err
}

// GetNotice returns the outcome of the last restart request.
func (a *App) GetNotice() string {
	return a.notice
}

func (a *App) GetLog(source string) (*rest.LogInfo, error) {
	if a.logSource == source {
		return a.logInfo, a.logErr
	}
	return nil, nil
}

// needsAuth reports whether the server refused our credentials.
func needsAuth(e error) bool {
	var re *rest.Error
	return errors.As(e, &re) && re.Code == 401
}

func (a *App) Run() error {
	a.Logf("Starting up user interface")
	defer a.cancel()
	a.app.SetRootWidget(a)
	a.ShowMain()
	go a.refresh()
	go func() {
		// Give us periodic updates, for the uptime column.
		for {
			select {
			case <-a.ctx.Done():
				return
			case <-time.After(time.Second):
				a.app.Update()
			}
		}
	}()
	a.Logf("Starting app loop")
	return a.app.Run()
}
