// URL commands. Every URL is normalized by the engine before it touches the
// filter, so "HTTP://Example.com/a/" and "http://example.com/a" are the same
// key.
//
// Multi-key replies use -1 for a URL that fails normalization, so one bad
// entry does not discard the rest of the batch.

package main

import (
	"io"
)

// handleURLAdd handles URL.ADD url [content].
// Returns 1 if the URL was new, 0 if it was (probably) seen before. content is
// required when the engine fingerprints content.
func (app *application) handleURLAdd(w io.Writer, args []string) {
	if len(args) < 1 || len(args) > 2 {
		app.wrongNumberOfArgsResponse(w, "URL.ADD")
		return
	}
	var content []byte
	if len(args) == 2 {
		content = []byte(args[1])
	}

	dup, err := app.engine.CheckAndInsert(args[0], content)
	if err != nil {
		app.engineErrorResponse(w, err)
		return
	}
	_ = app.writeBoolResponse(w, !dup)
}

// handleURLMAdd handles URL.MADD url [url ...]. URLs go into the exact filter
// only; with content fingerprinting on, use URL.ADD to index bodies.
func (app *application) handleURLMAdd(w io.Writer, args []string) {
	if len(args) == 0 {
		app.wrongNumberOfArgsResponse(w, "URL.MADD")
		return
	}
	out := make([]int, len(args))
	for i, u := range args {
		fresh, err := app.engine.InsertURL(u)
		switch {
		case err != nil:
			out[i] = -1
		case fresh:
			out[i] = 1
		}
	}
	_ = app.writeIntegerArrayResponse(w, out)
}

// handleURLExists handles URL.EXISTS url.
func (app *application) handleURLExists(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "URL.EXISTS")
		return
	}
	ok, err := app.engine.Contains(args[0])
	if err != nil {
		app.engineErrorResponse(w, err)
		return
	}
	_ = app.writeBoolResponse(w, ok)
}

// handleURLMExists handles URL.MEXISTS url [url ...].
func (app *application) handleURLMExists(w io.Writer, args []string) {
	if len(args) == 0 {
		app.wrongNumberOfArgsResponse(w, "URL.MEXISTS")
		return
	}
	out := make([]int, len(args))
	for i, u := range args {
		ok, err := app.engine.Contains(u)
		switch {
		case err != nil:
			out[i] = -1
		case ok:
			out[i] = 1
		}
	}
	_ = app.writeIntegerArrayResponse(w, out)
}

// handleURLNormalize handles URL.NORMALIZE url and returns the canonical
// form without touching the filter.
func (app *application) handleURLNormalize(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "URL.NORMALIZE")
		return
	}
	canon, err := app.engine.Normalize(args[0])
	if err != nil {
		app.engineErrorResponse(w, err)
		return
	}
	_ = app.writeBulkStringResponse(w, canon)
}
