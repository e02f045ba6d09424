package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"kaka.lopezb.com/internal/kaka/bloom"
	"kaka.lopezb.com/internal/kaka/engine"
	"kaka.lopezb.com/internal/kaka/lshbloom"
)

func newInspectCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "inspect <snapshot>",
		Short: "Verify a snapshot file and print its parameters",
		Long: `Checks the magic, every section and the CRC-64 trailer of a snapshot file.
Corruption is reported with the byte offset at which it was detected, and the
command exits non-zero.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			fmt.Fprintf(cmd.OutOrStdout(), "Checking snapshot %s\n", args[0])
			return inspectSnapshot(cmd.OutOrStdout(), f, verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every band filter")
	return cmd
}

// inspectSnapshot decodes r and writes a report to w.
func inspectSnapshot(w io.Writer, r io.Reader, verbose bool) error {
	start := time.Now()
	s, err := engine.DecodeSnapshot(r)
	if err != nil {
		fmt.Fprintf(w, "[err] %v\n", err)
		return err
	}
	fmt.Fprintln(w, "[ok] magic, sections and checksum verified")

	fmt.Fprintln(w, "\nExact filter:")
	if err := describeFilter(w, "  ", s.Exact); err != nil {
		return err
	}

	if !s.SimHashEnabled {
		fmt.Fprintln(w, "\nContent similarity: disabled")
	} else {
		fmt.Fprintf(w, "\nContent similarity: width %d, seed %#x, %d index(es)\n",
			s.FingerprintWidth, s.SimHashSeed, len(s.Indexes))
		for _, is := range s.Indexes {
			idx, err := lshbloom.FromSnapshot(is)
			if err != nil {
				fmt.Fprintf(w, "[err] %v\n", err)
				return err
			}
			fmt.Fprintf(w, "  Index b=%d r=%d threshold=%.4f count~%d fill=%.4f bytes=%d\n",
				idx.Bands(), idx.Rows(), idx.Threshold(), idx.Count(), idx.FillRatio(), idx.MemoryBytes())
			if !verbose {
				continue
			}
			for i, fs := range is.Filters {
				if err := describeFilter(w, fmt.Sprintf("    band %d: ", i), fs); err != nil {
					return err
				}
			}
		}
	}

	fmt.Fprintf(w, "\nProcess Time: %v\n", time.Since(start))
	return nil
}

func describeFilter(w io.Writer, prefix string, s bloom.Snapshot) error {
	f, err := bloom.FromSnapshot(s)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%sm=%d k=%d count~%d fill=%.4f fpr~%.3g bytes=%d\n",
		prefix, f.M(), f.K(), f.Count(), f.FillRatio(), f.EstimatedFalsePositiveRate(), f.MemoryBytes())
	return nil
}
