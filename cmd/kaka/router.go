package main

import (
	"io"
	"strings"
)

// CommandHandler writes its reply to w, usually the connection's buffered
// writer.
type CommandHandler func(w io.Writer, args []string)

type Router struct {
	handlers map[string]CommandHandler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]CommandHandler)}
}

// Handle registers h under the upper-cased name.
func (r *Router) Handle(name string, h CommandHandler) {
	r.handlers[strings.ToUpper(name)] = h
}

// Dispatch runs the handler for parts[0]. Names are case-insensitive.
func (r *Router) Dispatch(app *application, w io.Writer, parts []string) {
	if len(parts) == 0 {
		return
	}
	app.metrics.TotalCommands.Add(1)

	name := strings.ToUpper(parts[0])
	h, ok := r.handlers[name]
	if !ok {
		app.unknownCommandResponse(w, name)
		return
	}
	h(w, parts[1:])
}

// commands lists every command the server answers.
func (app *application) commands() *Router {
	r := NewRouter()

	r.Handle("PING", app.handlePing)
	r.Handle("INFO", app.handleInfo)
	r.Handle("SAVE", app.handleSave)

	r.Handle("URL.ADD", app.handleURLAdd)
	r.Handle("URL.MADD", app.handleURLMAdd)
	r.Handle("URL.EXISTS", app.handleURLExists)
	r.Handle("URL.MEXISTS", app.handleURLMExists)
	r.Handle("URL.NORMALIZE", app.handleURLNormalize)

	r.Handle("SIM.ADD", app.handleSimAdd)
	r.Handle("SIM.QUERY", app.handleSimQuery)
	r.Handle("SIM.DIST", app.handleSimDist)

	return r
}
