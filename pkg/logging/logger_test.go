package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dougsko/audiohook/pkg/config"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   LevelDebug,
		"misc":    LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"fatal":   LevelFatal,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestWriterLogger(t *testing.T) {
	t.Run("Level Filtering", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWriterLogger(&buf, LevelWarn)

		logger.Info("hook", "hidden")
		logger.Debugf("hook", "hidden %d", 1)
		logger.Warn("hook", "shown")

		out := buf.String()
		if strings.Contains(out, "hidden") {
			t.Errorf("Expected info and debug lines to be filtered, got %q", out)
		}
		if !strings.Contains(out, "[WARN] hook: shown") {
			t.Errorf("Expected warn line, got %q", out)
		}
	})

	t.Run("Fields Are Sorted", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWriterLogger(&buf, LevelDebug)

		logger.Info("proaudio", "driver loaded", Fields{"name": "Simulated", "id": 0})
		if !strings.Contains(buf.String(), "driver loaded [id=0 name=Simulated]") {
			t.Errorf("Unexpected line: %q", buf.String())
		}
	})

	t.Run("Field Logger", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWriterLogger(&buf, LevelDebug)

		logger.WithFields(Fields{"session": "abc"}).Warnf("hook", "stop returned %s", "S_FALSE")
		if !strings.Contains(buf.String(), "stop returned S_FALSE [session=abc]") {
			t.Errorf("Unexpected line: %q", buf.String())
		}
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("Structured File Output", func(t *testing.T) {
		dir, err := os.MkdirTemp("", "audiohook_log_test")
		if err != nil {
			t.Fatalf("Failed to create temp dir: %v", err)
		}
		defer os.RemoveAll(dir)

		cfg := config.Default()
		cfg.Logging.File = filepath.Join(dir, "logs", "audiohook.log")
		cfg.Logging.Structured = true
		cfg.Logging.Level = "debug"

		logger, err := NewLogger(cfg)
		if err != nil {
			t.Fatalf("Failed to create logger: %v", err)
		}
		logger.Debug("engine", "started", Fields{"socket": "/tmp/x.sock"})
		if err := logger.Close(); err != nil {
			t.Fatalf("Failed to close logger: %v", err)
		}

		data, err := os.ReadFile(cfg.Logging.File)
		if err != nil {
			t.Fatalf("Failed to read log file: %v", err)
		}
		line := string(data)
		for _, want := range []string{`"level":"DEBUG"`, `"component":"engine"`, `"message":"started"`, `"socket":"/tmp/x.sock"`} {
			if !strings.Contains(line, want) {
				t.Errorf("Expected %s in %q", want, line)
			}
		}
	})

	t.Run("Global Logger", func(t *testing.T) {
		var buf bytes.Buffer
		SetGlobalLogger(NewWriterLogger(&buf, LevelInfo))
		defer SetGlobalLogger(nil)

		Infof("main", "version %s", "0.1.0-dev")
		if !strings.Contains(buf.String(), "[INFO] main: version 0.1.0-dev") {
			t.Errorf("Unexpected global output: %q", buf.String())
		}
	})
}
