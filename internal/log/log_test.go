package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLogger_ComponentField(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Component: ComponentEngine, Handler: slog.NewTextHandler(&buf, nil)})

	l.Info("Run finished", FieldScheduleID, "s-1")

	out := buf.String()
	if !strings.Contains(out, "component=engine") || !strings.Contains(out, "id=s-1") {
		t.Errorf("log line = %q", out)
	}

	buf.Reset()
	l.WithComponent(ComponentLedger).With(FieldScheduleID, "s-2").Info("Exported")
	out = buf.String()
	if strings.Count(out, "component=") != 1 || !strings.Contains(out, "component=ledger") {
		t.Errorf("retagged log line = %q", out)
	}
}

func TestLogFields(t *testing.T) {
	fields := NewFields().
		WithSchedule("s-1", "acc-1", "12.50").
		WithAttempt("2024-01-01", "executed", "").
		WithError(errors.New("boom"))

	if fields[FieldAccountID] != "acc-1" || fields[FieldOutcome] != "executed" || fields[FieldError] != "boom" {
		t.Errorf("fields = %v", fields)
	}
	if _, ok := fields[FieldTransactionID]; ok {
		t.Error("empty transaction id should be omitted")
	}
	slice := fields.ToSlice()
	if len(slice) != 2*len(fields) {
		t.Fatalf("ToSlice() len = %d, want %d", len(slice), 2*len(fields))
	}
	for i := 2; i < len(slice); i += 2 {
		if slice[i-2].(string) > slice[i].(string) {
			t.Errorf("ToSlice() keys out of order: %v", slice)
		}
	}
}

func TestMiddleware_FromContext(t *testing.T) {
	if got := FromContext(context.Background()); got.Component() != "unknown" {
		t.Errorf("FromContext() without logger component = %q", got.Component())
	}

	base := New(Config{Component: ComponentApp, Handler: slog.NewTextHandler(&bytes.Buffer{}, nil)})
	var seen string
	h := Middleware(base)(ComponentMiddleware(ComponentHTTP)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context()).Component()
	})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if seen != ComponentHTTP {
		t.Errorf("component in handler = %q, want %q", seen, ComponentHTTP)
	}
}
