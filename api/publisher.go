package api

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

// Publisher forwards change events to the event sink without blocking the
// request path. When the buffer saturates, publishing falls back to an
// inline enqueue so events are not silently dropped on bursts.
type Publisher struct {
	sink    EventSink
	logger  *log.Logger
	jobs    chan []domain.Event
	timeout time.Duration
	handoff time.Duration

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPublisher starts the worker goroutines. Worker count and buffer size
// come from EVENT_WORKERS and EVENT_BUFFER.
func NewPublisher(sink EventSink, logger *log.Logger) *Publisher {
	if logger == nil {
		panic("Logger is not initialized")
	}
	workers := envInt("EVENT_WORKERS", 8)
	buf := envInt("EVENT_BUFFER", 1024)
	p := &Publisher{
		sink:    sink,
		logger:  logger,
		jobs:    make(chan []domain.Event, buf),
		timeout: envDur("EVENT_TIMEOUT", 30*time.Second),
		handoff: envDur("EVENT_HANDOFF_TIMEOUT", 10*time.Millisecond),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Infof("event publisher started, workers: %d, buffer: %d", workers, buf)
	return p
}

func (p *Publisher) worker(id int) {
	defer p.wg.Done()
	for events := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.sink.EnqueueEvents(ctx, events)
		cancel()
		if err != nil {
			p.logger.Errorf("event enqueue failed, err: %v, count: %d, worker: %d", err, len(events), id)
		}
	}
}

// Publish hands events to a worker, falling back to an inline enqueue when
// the buffer is saturated. A nil Publisher discards events.
func (p *Publisher) Publish(c echo.Context, events ...domain.Event) {
	if p == nil || len(events) == 0 {
		return
	}

	select {
	case p.jobs <- events:
		return
	default:
	}

	if p.handoff > 0 {
		timer := time.NewTimer(p.handoff)
		select {
		case p.jobs <- events:
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	p.logger.Warn("event buffer saturated; publishing inline")
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.sink.EnqueueEvents(ctx, events); err != nil {
		c.Logger().Errorf("inline event enqueue failed: %v", err)
	}
}

// Shutdown drains buffered events and stops the workers.
func (p *Publisher) Shutdown() {
	if p == nil {
		return
	}
	p.closeOnce.Do(func() {
		close(p.jobs)
	})
	p.wg.Wait()
}

func envInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envDur(name string, def time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
