package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"ricorrenti/internal/core"
)

type fakeNotifier struct {
	got []core.Event
	err error
}

func (f *fakeNotifier) Notify(_ context.Context, e core.Event) error {
	f.got = append(f.got, e)
	return f.err
}

func TestFanoutDeliversToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("broker down")
	a := &fakeNotifier{}
	b := &fakeNotifier{err: boom}
	c := &fakeNotifier{}

	err := Fanout{a, b, nil, c}.Notify(context.Background(), core.Event{ID: "e1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(a.got) != 1 || len(b.got) != 1 || len(c.got) != 1 {
		t.Fatalf("every notifier should receive the event")
	}
}

func TestLogNotifierLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	n := NewLogNotifier(logger)

	_ = n.Notify(context.Background(), core.Event{ID: "e1", Type: core.EventExecuted})
	_ = n.Notify(context.Background(), core.Event{ID: "e2", Type: core.EventInsufficientFunds})

	out := buf.String()
	if !strings.Contains(out, "level=INFO") || !strings.Contains(out, "level=WARN") {
		t.Fatalf("unexpected log output: %s", out)
	}
	if !strings.Contains(out, "event_id=e2") {
		t.Fatalf("missing event id: %s", out)
	}
}
