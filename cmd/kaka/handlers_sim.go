// Content similarity commands. They need engine.simhash_enabled; without it
// every SIM.* command replies with a CONFIG error.

package main

import (
	"io"
	"strconv"

	"kaka.lopezb.com/internal/kaka/lshbloom"
)

func (app *application) requireSimHash(w io.Writer) bool {
	if !app.engine.Config().SimHashEnabled {
		_ = app.writeErrorResponse(w, "CONFIG content similarity is disabled")
		return false
	}
	return true
}

// defaultThreshold is the design threshold of the primary index.
func (app *application) defaultThreshold() float64 {
	cfg := app.engine.Config()
	return lshbloom.Threshold(cfg.Bands, cfg.FingerprintWidth/cfg.Bands)
}

// handleSimAdd handles SIM.ADD id content. The fingerprint goes into every
// LSH index under id; the URL filter is untouched.
func (app *application) handleSimAdd(w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "SIM.ADD")
		return
	}
	if !app.requireSimHash(w) {
		return
	}
	fp, err := app.engine.Fingerprint([]byte(args[1]))
	if err != nil {
		app.engineErrorResponse(w, err)
		return
	}
	if err := app.engine.InsertWithHash(args[0], fp); err != nil {
		app.engineErrorResponse(w, err)
		return
	}
	_ = app.writeSimpleStringResponse(w, "OK")
}

// handleSimQuery handles SIM.QUERY content [threshold].
// Returns 1 if similar content has likely been added.
func (app *application) handleSimQuery(w io.Writer, args []string) {
	if len(args) < 1 || len(args) > 2 {
		app.wrongNumberOfArgsResponse(w, "SIM.QUERY")
		return
	}
	if !app.requireSimHash(w) {
		return
	}
	threshold := app.defaultThreshold()
	if len(args) == 2 {
		t, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			_ = app.writeErrorResponse(w, "ERR threshold is not a valid float")
			return
		}
		threshold = t
	}

	ok, err := app.engine.FindSimilar([]byte(args[0]), threshold)
	if err != nil {
		app.engineErrorResponse(w, err)
		return
	}
	_ = app.writeBoolResponse(w, ok)
}

// handleSimDist handles SIM.DIST a b and returns the fingerprint similarity
// of the two contents as a decimal bulk string in [0, 1].
func (app *application) handleSimDist(w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "SIM.DIST")
		return
	}
	if !app.requireSimHash(w) {
		return
	}
	s, err := app.engine.Similarity([]byte(args[0]), []byte(args[1]))
	if err != nil {
		app.engineErrorResponse(w, err)
		return
	}
	_ = app.writeBulkStringResponse(w, strconv.FormatFloat(s, 'f', 4, 64))
}
