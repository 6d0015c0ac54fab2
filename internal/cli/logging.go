package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"confsite/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger writes structured logs to w (stderr), keeping stdout for JSON results.
func newLogger(w io.Writer, lc config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if s := strings.TrimSpace(lc.Level); s != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
			return nil, fmt.Errorf("logging.level: %w", err)
		}
	}
	if verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(lc.Format)) {
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("logging.format: unknown format %q (want console or json)", lc.Format)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller()), nil
}

// newFileLogger is used by the TUI, which owns the terminal. An empty path disables logging.
func newFileLogger(path string, verbose bool) (*zap.Logger, func(), error) {
	if strings.TrimSpace(path) == "" {
		return zap.NewNop(), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	log, err := newLogger(f, config.LoggingConfig{Format: "json"}, verbose)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return log, func() {
		_ = log.Sync()
		_ = f.Close()
	}, nil
}
