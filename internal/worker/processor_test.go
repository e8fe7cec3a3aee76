package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewProcessorDefaults(t *testing.T) {
	p := NewProcessor(func(context.Context) error { return nil }, ProcessorConfig{})

	if p.config.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", p.config.PollInterval)
	}
	if p.config.Name != "processor" {
		t.Errorf("Name = %q", p.config.Name)
	}
	if p.IsRunning() {
		t.Error("processor should not be running initially")
	}
}

func TestProcessor_RunsTaskPeriodically(t *testing.T) {
	var calls int32
	p := NewProcessor(func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("ignored")
	}, ProcessorConfig{Name: "test", PollInterval: 5 * time.Millisecond, RunOnStart: true})

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(ctx); err == nil {
		t.Error("expected error when starting a running processor")
	}

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&calls) < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if atomic.LoadInt32(&calls) < 3 {
		t.Errorf("calls = %d, want at least 3", calls)
	}
	if p.IsRunning() {
		t.Error("processor should be stopped")
	}
}

func TestProcessor_StopNotRunning(t *testing.T) {
	p := NewProcessor(func(context.Context) error { return nil }, ProcessorConfig{})
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
