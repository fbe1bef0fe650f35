// Package logging builds the zap logger shared by every ledgerctl component.
//
// Verbosity follows the CLI flags: without flags only warnings and errors are
// written, --verbose adds info and --debug adds debug output. Logs go to
// stderr so command output on stdout stays machine-readable.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	Level   string // debug, info, warn, error; empty means warn
	Format  string // console or json
	Verbose bool
	Debug   bool
}

// New returns a logger writing to stderr.
func New(opts Options) (*zap.Logger, error) {
	level, err := resolveLevel(opts)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	return zap.New(core), nil
}

func resolveLevel(opts Options) (zapcore.Level, error) {
	switch {
	case opts.Debug:
		return zapcore.DebugLevel, nil
	case opts.Verbose:
		return zapcore.InfoLevel, nil
	case opts.Level == "":
		return zapcore.WarnLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(opts.Level)); err != nil {
		return lvl, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}
	return lvl, nil
}
