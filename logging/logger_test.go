package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestIDAttached(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := New(zap.New(core))

	ctx := ContextWithRequestID(context.Background(), "req-1")
	l.Info(ctx, "hello", zap.String("k", "v"))
	l.Info(context.Background(), "no id")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if got := entries[0].ContextMap()[requestIDField]; got != "req-1" {
		t.Errorf("expected request id req-1, got %v", got)
	}
	if _, ok := entries[1].ContextMap()[requestIDField]; ok {
		t.Errorf("entry without request id should not carry one")
	}
}

func TestRequestIDFromContextEmpty(t *testing.T) {
	if _, ok := RequestIDFromContext(ContextWithRequestID(context.Background(), "")); ok {
		t.Errorf("empty request id should not be reported")
	}
}
