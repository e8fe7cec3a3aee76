package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Task is one unit of periodic work.
type Task func(ctx context.Context) error

// ProcessorConfig holds configuration for a Processor
type ProcessorConfig struct {
	// Name identifies the processor in logs
	Name string

	// PollInterval is how often the task runs (default: 30s)
	PollInterval time.Duration

	// RunOnStart runs the task once before the first tick
	RunOnStart bool
}

// Processor runs a task on a fixed interval until stopped.
type Processor struct {
	task   Task
	config ProcessorConfig

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewProcessor(task Task, config ProcessorConfig) *Processor {
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	if config.Name == "" {
		config.Name = "processor"
	}
	return &Processor{task: task, config: config}
}

// Start begins the processing loop. Returns an error if already running.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("%s is already running", p.config.Name)
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.runLoop(ctx, stopCh, doneCh)

	slog.InfoContext(ctx, "Processor started",
		"name", p.config.Name,
		"poll_interval", p.config.PollInterval)

	return nil
}

// Stop signals the loop and waits for the running task to finish.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Processor stopped gracefully", "name", p.config.Name)
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Processor stop timed out", "name", p.config.Name)
		return ctx.Err()
	}
}

// IsRunning returns whether the processor is currently running
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	if p.config.RunOnStart {
		p.runOnce(ctx)
	}

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Processor) runOnce(ctx context.Context) {
	start := time.Now()
	if err := p.task(ctx); err != nil {
		slog.ErrorContext(ctx, "Processor task failed",
			"name", p.config.Name,
			"error", err)
		return
	}
	slog.DebugContext(ctx, "Processor task complete",
		"name", p.config.Name,
		"duration", time.Since(start))
}
