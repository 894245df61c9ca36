package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		l, err := NewLogger(LogLevelInfo, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer l.Close()
		if l.level != LogLevelInfo {
			t.Errorf("level = %d, want %d", l.level, LogLevelInfo)
		}
		if l.file != nil {
			t.Error("file should be nil when no path given")
		}
	})

	t.Run("with file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.log")
		l, err := NewLogger(LogLevelDebug, path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer l.Close()
		if l.file == nil {
			t.Error("file should not be nil")
		}
		if l.fileLog == nil {
			t.Error("fileLog should not be nil")
		}
	})

	t.Run("invalid path", func(t *testing.T) {
		_, err := NewLogger(LogLevelInfo, "/nonexistent/dir/test.log")
		if err == nil {
			t.Error("expected error for invalid path")
		}
	})
}

func TestNewLoggerWithOptions(t *testing.T) {
	l, err := NewLoggerWithOptions(LogLevelVerbose, "", "json", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Close()

	if l.format != "json" {
		t.Errorf("format = %q, want %q", l.format, "json")
	}
	if l.logEvery != 5 {
		t.Errorf("logEvery = %d, want 5", l.logEvery)
	}
}

func TestNewLoggerWithOptions_Defaults(t *testing.T) {
	l, err := NewLoggerWithOptions(LogLevelInfo, "", "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Close()

	if l.format != "text" {
		t.Errorf("format = %q, want %q", l.format, "text")
	}
	if l.logEvery != 1 {
		t.Errorf("logEvery = %d, want 1", l.logEvery)
	}
}

func TestNewLoggerWithOptions_BadFormat(t *testing.T) {
	if _, err := NewLoggerWithOptions(LogLevelInfo, "", "xml", 1); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"", LogLevelInfo, false},
		{"silent", LogLevelSilent, false},
		{"ERROR", LogLevelError, false},
		{"verbose", LogLevelVerbose, false},
		{" debug ", LogLevelDebug, false},
		{"loud", LogLevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestLoggerLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	l, err := NewLogger(LogLevelInfo, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	l.Error("error msg")
	l.Info("info msg")
	l.Verbose("verbose msg")
	l.Debug("debug msg")

	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)

	if !strings.Contains(content, "error msg") {
		t.Error("log should contain error message")
	}
	if !strings.Contains(content, "info msg") {
		t.Error("log should contain info message")
	}
	if strings.Contains(content, "verbose msg") {
		t.Error("log should NOT contain verbose message at Info level")
	}
	if strings.Contains(content, "debug msg") {
		t.Error("log should NOT contain debug message at Info level")
	}
}

func TestLoggerSilentLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	l, err := NewLogger(LogLevelSilent, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	l.Error("should not appear")
	l.Info("should not appear")
	l.Close()

	data, _ := os.ReadFile(path)
	if len(strings.TrimSpace(string(data))) > 0 {
		t.Error("silent logger should produce no output")
	}
}

func TestLoggerDebugLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	l, err := NewLogger(LogLevelDebug, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	l.Error("e-line")
	l.Info("i-line")
	l.Verbose("v-line")
	l.Debug("d-line")
	l.Close()

	data, _ := os.ReadFile(path)
	content := string(data)

	want := map[string]string{
		"e-line": `"level":"error"`,
		"i-line": `"level":"info"`,
		"v-line": `"level":"debug"`,
		"d-line": `"level":"trace"`,
	}
	for msg, level := range want {
		found := false
		for _, line := range strings.Split(content, "\n") {
			if strings.Contains(line, msg) {
				found = true
				if !strings.Contains(line, level) {
					t.Errorf("line %q should carry %s", line, level)
				}
			}
		}
		if !found {
			t.Errorf("log should contain %q, got: %s", msg, content)
		}
	}
}

func TestLoggerConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(LogLevelInfo, &buf, "text")

	l.Info("hidden at info")
	l.Error("shown %d", 1)
	if strings.Contains(buf.String(), "hidden at info") {
		t.Error("info should not reach the console below verbose")
	}
	if !strings.Contains(buf.String(), "shown 1") {
		t.Errorf("console = %q, want error line", buf.String())
	}

	l.SetLevel(LogLevelVerbose)
	l.Verbose("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Errorf("console = %q, want verbose line", buf.String())
	}
}

func TestNewWriterLogger_UnknownFormat(t *testing.T) {
	for _, format := range []string{"xml", "JSON", " text"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewWriterLogger(LogLevelError, &buf, format)
			if l == nil {
				t.Fatal("NewWriterLogger returned nil")
			}
			if l.format != "text" {
				t.Errorf("format = %q, want text", l.format)
			}
			l.Error("still logged")
			if !strings.Contains(buf.String(), "still logged") {
				t.Errorf("output = %q, want error line", buf.String())
			}
		})
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(LogLevelError, &buf, "json")

	l.Error("test message")

	content := buf.String()
	if !strings.Contains(content, `"level":"error"`) {
		t.Errorf("JSON output should contain level, got: %s", content)
	}
	if !strings.Contains(content, `"message":"test message"`) {
		t.Errorf("JSON output should contain message key, got: %s", content)
	}
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(LogLevelVerbose, &buf, "json")
	child := l.With("session", "abc123")

	child.Verbose("tagged")
	l.Verbose("untagged")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"session":"abc123"`) {
		t.Errorf("child line = %s, want session field", lines[0])
	}
	if strings.Contains(lines[1], "session") {
		t.Errorf("parent line = %s, should not carry child field", lines[1])
	}
}

func TestSetGetLevel(t *testing.T) {
	l, _ := NewLogger(LogLevelInfo, "")
	defer l.Close()

	if l.GetLevel() != LogLevelInfo {
		t.Errorf("GetLevel() = %d, want %d", l.GetLevel(), LogLevelInfo)
	}

	l.SetLevel(LogLevelDebug)
	if l.GetLevel() != LogLevelDebug {
		t.Errorf("GetLevel() = %d, want %d", l.GetLevel(), LogLevelDebug)
	}
}

func TestLogOperation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	l, err := NewLogger(LogLevelVerbose, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	l.LogOperation("set_value", 3, "cmdval", true, 1.234, 0x00, nil)
	l.LogOperation("set_value", 4, "drive", false, 5.678, 0xFF, nil)
	l.Close()

	data, _ := os.ReadFile(path)
	content := string(data)

	if !strings.Contains(content, "SUCCESS") {
		t.Error("should contain SUCCESS")
	}
	if !strings.Contains(content, "FAILED") {
		t.Error("should contain FAILED")
	}
	if !strings.Contains(content, "cmdval") {
		t.Error("should contain key name")
	}
	if !strings.Contains(content, "1.234ms") {
		t.Error("should contain RTT")
	}
}

func TestLogStartup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	l, err := NewLogger(LogLevelVerbose, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	l.LogStartup("socketcan", "can0", 127, 64, "servobus.yaml")
	l.Close()

	data, _ := os.ReadFile(path)
	content := string(data)

	if !strings.Contains(content, "Starting servobus") {
		t.Error("should contain startup message")
	}
	if !strings.Contains(content, "can0") {
		t.Error("should contain interface name")
	}
}

func TestLogHex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	l, err := NewLogger(LogLevelDebug, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	l.LogHex("frame", []byte{0xDE, 0xAD, 0xBE, 0xEF})
	l.Close()

	data, _ := os.ReadFile(path)
	content := string(data)

	if !strings.Contains(content, "de ad be ef") {
		t.Errorf("should contain hex dump, got: %s", content)
	}
}

func TestLogHex_Sampling(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(LogLevelDebug, &buf, &buf, "json", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 9; i++ {
		l.LogHex("frame", []byte{byte(i)})
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Errorf("sampled dumps = %d, want 3", len(lines))
	}
}

func TestLogHex_SkipsAtLowLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	l, err := NewLogger(LogLevelInfo, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	l.LogHex("frame", []byte{0xDE, 0xAD})
	l.Close()

	data, _ := os.ReadFile(path)
	if len(strings.TrimSpace(string(data))) > 0 {
		t.Error("LogHex at Info level should produce no output")
	}
}

func TestFormatHex(t *testing.T) {
	if got := FormatHex([]byte{0x01, 0xAB}); got != "01 ab" {
		t.Errorf("FormatHex = %q, want %q", got, "01 ab")
	}
	if got := FormatHex(nil); got != "" {
		t.Errorf("FormatHex(nil) = %q, want empty", got)
	}
}

func TestClose_NilFile(t *testing.T) {
	l, _ := NewLogger(LogLevelInfo, "")
	if err := l.Close(); err != nil {
		t.Errorf("Close with nil file should not error: %v", err)
	}
}
