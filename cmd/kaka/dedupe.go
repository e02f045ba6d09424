package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"kaka.lopezb.com/internal/kaka/engine"
	"kaka.lopezb.com/internal/kaka/kakaerr"
)

type dedupeOptions struct {
	workers  int
	unique   bool
	snapshot string
}

type dedupeStats struct {
	checked    atomic.Uint64
	fresh      atomic.Uint64
	duplicates atomic.Uint64
	invalid    atomic.Uint64
}

func newDedupeCmd(gf *globalFlags) *cobra.Command {
	var opts dedupeOptions

	cmd := &cobra.Command{
		Use:   "dedupe [file...]",
		Short: "Report new and duplicate URLs from files or stdin",
		Long: `Reads one URL per line, optionally followed by a tab and the page content,
and prints NEW or DUP for each. Content is fingerprinted only when
engine.simhash_enabled is set; URL-only lines always work. With several
workers output order does not follow input order. Lines that fail
normalization are counted as invalid and logged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gf.loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			e, err := engine.New(cfg.EngineConfig(), engine.WithLogger(logger))
			if err != nil {
				return err
			}
			if opts.snapshot != "" {
				if _, err := loadSnapshotFile(e, opts.snapshot); err != nil {
					return err
				}
			}

			inputs, closeAll, err := openInputs(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			defer closeAll()

			var st dedupeStats
			out := bufio.NewWriter(cmd.OutOrStdout())
			err = runDedupe(cmd.Context(), e, inputs, out, opts, &st, func(line string, err error) {
				logger.Warn().Err(err).Str("line", line).Msg("skipping line")
			})
			if ferr := out.Flush(); err == nil {
				err = ferr
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "checked %d, new %d, duplicates %d, invalid %d\n",
				st.checked.Load(), st.fresh.Load(), st.duplicates.Load(), st.invalid.Load())

			if opts.snapshot != "" {
				return writeSnapshotFile(e, opts.snapshot)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", runtime.GOMAXPROCS(0), "Concurrent workers")
	cmd.Flags().BoolVarP(&opts.unique, "unique", "u", false, "Print only new URLs, without the NEW prefix")
	cmd.Flags().StringVarP(&opts.snapshot, "snapshot", "s", "", "Load this snapshot first and save it afterwards")
	return cmd
}

func openInputs(stdin io.Reader, paths []string) ([]io.Reader, func(), error) {
	if len(paths) == 0 {
		return []io.Reader{stdin}, func() {}, nil
	}
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	readers := make([]io.Reader, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		files = append(files, f)
		readers = append(readers, f)
	}
	return readers, closeAll, nil
}

// runDedupe feeds every line of inputs through the engine on opts.workers
// goroutines. Lines whose URL fails to normalize go to onInvalid; any other
// engine error stops the run.
func runDedupe(ctx context.Context, e *engine.Engine, inputs []io.Reader, out io.Writer, opts dedupeOptions, st *dedupeStats, onInvalid func(string, error)) error {
	workers := opts.workers
	if workers <= 0 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	lines := make(chan string, 4*workers)

	g.Go(func() error {
		defer close(lines)
		for _, r := range inputs {
			sc := bufio.NewScanner(r)
			sc.Buffer(make([]byte, 64*1024), MaxBulkLength)
			for sc.Scan() {
				line := strings.TrimRight(sc.Text(), "\r")
				if strings.TrimSpace(line) == "" {
					continue
				}
				select {
				case lines <- line:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if err := sc.Err(); err != nil {
				return errors.Wrap(err, "read input")
			}
		}
		return nil
	})

	var mu sync.Mutex
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for line := range lines {
				url, content, hasContent := strings.Cut(line, "\t")
				url = strings.TrimSpace(url)

				var dup bool
				var err error
				if hasContent {
					dup, err = e.CheckAndInsert(url, []byte(content))
				} else {
					var fresh bool
					fresh, err = e.InsertURL(url)
					dup = !fresh
				}
				if errors.Is(err, kakaerr.ErrNormalize) {
					st.invalid.Add(1)
					onInvalid(line, err)
					continue
				}
				if err != nil {
					return errors.Wrapf(err, "dedupe %s", url)
				}
				st.checked.Add(1)

				mu.Lock()
				switch {
				case dup:
					st.duplicates.Add(1)
					if !opts.unique {
						_, err = fmt.Fprintf(out, "DUP\t%s\n", url)
					}
				default:
					st.fresh.Add(1)
					if opts.unique {
						_, err = fmt.Fprintln(out, url)
					} else {
						_, err = fmt.Fprintf(out, "NEW\t%s\n", url)
					}
				}
				mu.Unlock()
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
