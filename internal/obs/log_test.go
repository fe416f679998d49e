package obs

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogRequestUsesSharedLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := SetLogger(zap.New(core))
	defer restore()

	LogRequest(map[string]any{"method": "GET", "path": "/healthz", "status": 200})

	entries := logs.FilterMessage("request_complete").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["path"] != "/healthz" {
		t.Fatalf("unexpected path field: %v", fields["path"])
	}
	if fields["status"] != int64(200) {
		t.Fatalf("unexpected status field: %#v", fields["status"])
	}
}
