// Server-level commands: PING, INFO and SAVE.

package main

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// handlePing handles PING.
func (app *application) handlePing(w io.Writer, args []string) {
	if len(args) != 0 {
		app.wrongNumberOfArgsResponse(w, "PING")
		return
	}
	_ = app.writeSimpleStringResponse(w, "PONG")
}

// handleInfo handles INFO. The reply is Redis-style: "# Section" headers and
// key:value lines, CRLF terminated.
func (app *application) handleInfo(w io.Writer, args []string) {
	if len(args) != 0 {
		app.wrongNumberOfArgsResponse(w, "INFO")
		return
	}

	st := app.engine.Stats()
	var b strings.Builder
	line := func(k string, v any) { fmt.Fprintf(&b, "%s:%v\r\n", k, v) }

	b.WriteString("# Server\r\n")
	line("connections_total", app.metrics.TotalConnections.Load())
	line("connections_active", len(app.connLimiter))
	line("connections_rejected", app.metrics.Rejected.Load())
	line("commands_processed_total", app.metrics.TotalCommands.Load())

	b.WriteString("# Persistence\r\n")
	line("snapshot_path", app.config.snapshotPath)
	line("snapshot_in_progress", boolInt(app.isSaving.Load()))
	line("last_save_time", app.lastSave.Load())

	b.WriteString("# Engine\r\n")
	line("total_checked", st.TotalChecked)
	line("duplicates_found", st.DuplicatesFound)
	line("urls_inserted", st.URLsInserted)
	line("content_inserted", st.ContentInserted)
	line("similar_queries", st.SimilarQueries)
	line("similar_hits", st.SimilarHits)
	line("filter_bits", st.FilterBits)
	line("filter_probes", st.FilterProbes)
	line("fill_ratio", fmt.Sprintf("%.6f", st.FillRatio))
	line("estimated_fpr", fmt.Sprintf("%.6g", st.EstimatedFPR))
	line("memory_bytes", st.MemoryBytes)
	line("simhash_enabled", boolInt(st.SimHashEnabled))
	if st.SimHashEnabled {
		line("fingerprint_width", st.FingerprintWidth)
		th := make([]string, len(st.IndexThresholds))
		for i, t := range st.IndexThresholds {
			th[i] = fmt.Sprintf("%.4f", t)
		}
		line("index_thresholds", strings.Join(th, ","))
	}

	_ = app.writeBulkStringResponse(w, b.String())
}

// handleSave handles SAVE. The snapshot is written in the background and the
// outcome only reaches the log, as with Redis BGSAVE.
func (app *application) handleSave(w io.Writer, args []string) {
	if len(args) != 0 {
		app.wrongNumberOfArgsResponse(w, "SAVE")
		return
	}
	if app.config.snapshotPath == "" {
		_ = app.writeErrorResponse(w, "ERR persistence is disabled, nothing to save")
		return
	}
	if !app.isSaving.CompareAndSwap(false, true) {
		_ = app.writeErrorResponse(w, "ERR background save already in progress")
		return
	}

	go func() {
		defer app.isSaving.Store(false)
		start := time.Now()
		if err := app.saveSnapshot(); err != nil {
			app.logger.Error().Err(err).Msg("background save failed")
			return
		}
		app.logger.Info().Dur("duration", time.Since(start)).Msg("background save finished")
	}()

	_ = app.writeSimpleStringResponse(w, "Background saving started")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
