package config

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const logFilePrefix = "trading_"

// InitLogger initializes the global logger. With a non-empty dir the
// output is mirrored into logs/trading_<YYYYMMDD>.log as JSON lines,
// after entries older than the retention window are trimmed.
func InitLogger(level, format, dir string, retentionHours int) {
	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var output io.Writer = os.Stdout
	if format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			NoColor:    false,
		}
	}
	if dir != "" {
		if file := openLogFile(dir, retentionHours); file != nil {
			output = zerolog.MultiLevelWriter(output, file)
		}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()

	log.Info().
		Str("level", logLevel.String()).
		Str("format", format).
		Msg("日志已初始化")
}

// NewLogger creates a logger tagged with a component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// openLogFile trims stale entries from the existing log files and opens
// today's file for appending. Failures fall back to console only.
func openLogFile(dir string, retentionHours int) io.Writer {
	if retentionHours <= 0 {
		retentionHours = 3
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil
	}
	trimOldLogs(dir, time.Duration(retentionHours)*time.Hour)

	name := filepath.Join(dir, logFilePrefix+time.Now().Format("20060102")+".log")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil
	}
	return f
}

// trimOldLogs rewrites each log file keeping only entries newer than
// the cutoff. Lines without a parsable timestamp share the fate of the
// preceding entry.
func trimOldLogs(dir string, retention time.Duration) {
	cutoff := time.Now().Add(-retention)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil || len(data) == 0 {
			continue
		}

		var kept [][]byte
		removed := 0
		recent := false
		for _, line := range bytes.Split(data, []byte("\n")) {
			if len(line) == 0 {
				continue
			}
			if ts, ok := lineTime(line); ok {
				recent = ts.After(cutoff)
			}
			if recent {
				kept = append(kept, line)
			} else {
				removed++
			}
		}
		if removed == 0 {
			continue
		}
		var out []byte
		if len(kept) > 0 {
			out = append(bytes.Join(kept, []byte("\n")), '\n')
		}
		_ = os.WriteFile(path, out, 0o644)
	}
}

// lineTime extracts the zerolog timestamp from a JSON log line.
func lineTime(line []byte) (time.Time, bool) {
	var entry struct {
		Time string `json:"time"`
	}
	if err := json.Unmarshal(line, &entry); err != nil || entry.Time == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, entry.Time)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
