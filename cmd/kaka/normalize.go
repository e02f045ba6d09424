package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"kaka.lopezb.com/internal/kaka/normalizer"
)

func newNormalizeCmd() *cobra.Command {
	var keepFragment, keepWWW bool

	cmd := &cobra.Command{
		Use:   "normalize [url...]",
		Short: "Print the canonical form of URLs given as arguments or on stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := normalizer.DefaultConfig()
			cfg.RemoveFragment = !keepFragment
			cfg.RemoveWWW = !keepWWW
			n := normalizer.NewWithConfig(cfg)

			if len(args) == 0 {
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					if s := strings.TrimSpace(sc.Text()); s != "" {
						args = append(args, s)
					}
				}
				if err := sc.Err(); err != nil {
					return err
				}
			}

			var failed int
			for _, raw := range args {
				canon, err := n.Normalize(raw)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", raw, err)
					failed++
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), canon)
			}
			if failed > 0 {
				return errors.Errorf("%d of %d URLs failed to normalize", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&keepFragment, "keep-fragment", false, "Keep #fragments")
	cmd.Flags().BoolVar(&keepWWW, "keep-www", false, "Keep a leading www. on hosts")
	return cmd
}
