package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn", false)

	log.Info().Msg("hidden")
	log.Warn().Str("component", "test").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered: %s", out)
	}
	if !strings.Contains(out, `"component":"test"`) {
		t.Errorf("expected structured field, got %s", out)
	}
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "loud", false)

	log.Debug().Msg("debug")
	log.Info().Msg("info")

	if strings.Contains(buf.String(), `"message":"debug"`) {
		t.Errorf("debug should be filtered at info level")
	}
	if !strings.Contains(buf.String(), `"message":"info"`) {
		t.Errorf("expected info line, got %s", buf.String())
	}
}
