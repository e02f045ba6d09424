// Snapshot persistence for the server.
//
// The engine has no journal: every structure is a monotonic bit array, so a
// periodic full snapshot loses at most one interval of inserts and restoring
// it is a single OR-merge. Saves go through a temp file that is fsynced and
// then renamed over the old snapshot, so a crash mid-save leaves either the
// previous snapshot or the new one, never a torn file.

package main

import (
	"bufio"
	"context"
	"os"
	"time"

	"github.com/pkg/errors"

	"kaka.lopezb.com/internal/kaka/engine"
)

// saveSnapshot writes the engine to config.snapshotPath.
func (app *application) saveSnapshot() error {
	err := writeSnapshotFile(app.engine, app.config.snapshotPath)
	if err != nil {
		app.metrics.SavesFailed.Add(1)
		return err
	}
	app.metrics.SavesOK.Add(1)
	app.lastSave.Store(time.Now().Unix())
	return nil
}

func writeSnapshotFile(e *engine.Engine, path string) error {
	tmpName := path + ".tmp"
	f, err := os.Create(tmpName)
	if err != nil {
		return errors.Wrap(err, "create temp snapshot")
	}

	var closed, renamed bool
	defer func() {
		if !closed {
			_ = f.Close()
		}
		if !renamed {
			_ = os.Remove(tmpName)
		}
	}()

	bw := bufio.NewWriter(f)
	if err := e.WriteSnapshot(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "flush snapshot")
	}
	if err := f.Sync(); err != nil {
		return errors.Wrap(err, "fsync snapshot")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close snapshot")
	}
	closed = true

	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "rename snapshot")
	}
	renamed = true
	return nil
}

// loadSnapshotFile merges the snapshot at path into e. A missing file is not
// an error: the first start of a node has nothing to restore.
func loadSnapshotFile(e *engine.Engine, path string) (bool, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	if err := e.LoadSnapshot(f); err != nil {
		return false, errors.Wrapf(err, "load %s", path)
	}
	return true, nil
}

// runSaver saves every interval until ctx is done. Ticks that land while a
// SAVE is running are skipped.
func (app *application) runSaver(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !app.isSaving.CompareAndSwap(false, true) {
				continue
			}
			if err := app.saveSnapshot(); err != nil {
				app.logger.Error().Err(err).Msg("periodic save failed")
			}
			app.isSaving.Store(false)
		}
	}
}
