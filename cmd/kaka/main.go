// kaka is the command-line front end to the deduplication engine.
//
// Subcommands
// ===========
//
//	kaka serve               run the RESP server
//	kaka dedupe [file...]    stream URLs and report new and duplicate ones
//	kaka normalize [url...]  print canonical forms
//	kaka inspect <snapshot>  verify a snapshot file and print its parameters
//
// Configuration
// =============
//
// Every subcommand reads the same settings: built-in defaults, then the YAML
// file named by --config, then KAKA_ environment variables. Flags given on the
// command line win over all three. See internal/kaka/config.
//
// Exit Codes
// ==========
//
// 0 on success, 1 on any error. inspect also exits 1 when the file is corrupt.

package main

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"gopkg.in/natefinch/lumberjack.v2"

	"kaka.lopezb.com/internal/kaka/config"
)

type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var gf globalFlags

	root := &cobra.Command{
		Use:          "kaka",
		Short:        "Probabilistic URL and content deduplication",
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&gf.configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&gf.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(&gf),
		newDedupeCmd(&gf),
		newNormalizeCmd(),
		newInspectCmd(),
	)
	return root
}

// loadConfig applies the global flags on top of config.Load.
func (gf *globalFlags) loadConfig() (config.Config, error) {
	cfg, err := config.Load(gf.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if gf.logLevel != "" {
		cfg.Log.Level = gf.logLevel
	}
	return cfg, nil
}

// newLogger builds the process logger. With log.file set, output goes to a
// rotating file; otherwise to w, as JSON or as console text.
func newLogger(c config.Log, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil {
		return zerolog.Nop(), errors.Wrapf(err, "log level %q", c.Level)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := w
	switch {
	case c.File != "":
		out = &lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAgeDays,
			Compress:   true,
		}
	case !c.JSON:
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}
