package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestFromContextFallsBackToGlobal(t *testing.T) {
	var buf bytes.Buffer
	Log = zerolog.New(&buf)

	FromContext(context.Background()).Info().Str("k", "v").Msg("fallback")

	if !strings.Contains(buf.String(), `"k":"v"`) {
		t.Fatalf("expected fallback logger output, got %q", buf.String())
	}
}

func TestFromContextUsesStoredLogger(t *testing.T) {
	var global, scoped bytes.Buffer
	Log = zerolog.New(&global)

	ctx := WithContext(context.Background(), zerolog.New(&scoped))
	FromContext(ctx).Error().Msg("scoped")

	if global.Len() != 0 {
		t.Fatalf("global logger written unexpectedly: %q", global.String())
	}
	if !strings.Contains(scoped.String(), "scoped") {
		t.Fatalf("expected scoped logger output, got %q", scoped.String())
	}
}
