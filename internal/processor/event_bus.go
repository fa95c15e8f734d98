package processor

import (
	"context"
	"sync"
	"time"

	"github.com/treehealth/ndvi-monitor/internal/logger"
	"github.com/treehealth/ndvi-monitor/internal/models"
)

// RunEvent is published after every processing run
type RunEvent struct {
	Run       *models.RunResult
	Alerts    []models.Alert
	Timestamp time.Time
}

// HighSeverity returns the alerts classified high
func (e *RunEvent) HighSeverity() []models.Alert {
	out := make([]models.Alert, 0)
	for _, a := range e.Alerts {
		if a.Severity == models.SeverityHigh {
			out = append(out, a)
		}
	}
	return out
}

// RunObserver receives run events (Observer Pattern)
type RunObserver interface {
	OnRun(ctx context.Context, event *RunEvent) error
}

// EventBus distributes run events to observers (Pub/Sub pattern)
type EventBus struct {
	observers []RunObserver
	mu        sync.RWMutex
	eventChan chan *RunEvent
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewEventBus() *EventBus {
	return &EventBus{
		observers: make([]RunObserver, 0),
		eventChan: make(chan *RunEvent, 64),
		stopCh:    make(chan struct{}),
	}
}

// Subscribe adds an observer
func (eb *EventBus) Subscribe(observer RunObserver) {
	eb.mu.Lock()
	eb.observers = append(eb.observers, observer)
	eb.mu.Unlock()
	logger.Info().Msg("Observer subscribed to event bus")
}

// Publish queues an event; it never blocks the run that produced it
func (eb *EventBus) Publish(event *RunEvent) {
	select {
	case eb.eventChan <- event:
	default:
		logger.Warn().Msg("Event bus channel full, dropping event")
	}
}

// Start begins processing events
func (eb *EventBus) Start(ctx context.Context) {
	logger.Info().Msg("Starting run event bus")

	eb.wg.Add(1)
	go eb.dispatcher(ctx)
}

func (eb *EventBus) dispatcher(ctx context.Context) {
	defer eb.wg.Done()

	for {
		select {
		case event := <-eb.eventChan:
			eb.notifyObservers(ctx, event)
		case <-eb.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// notifyObservers fans the event out concurrently and waits for all observers
func (eb *EventBus) notifyObservers(ctx context.Context, event *RunEvent) {
	eb.mu.RLock()
	observers := make([]RunObserver, len(eb.observers))
	copy(observers, eb.observers)
	eb.mu.RUnlock()

	var wg sync.WaitGroup
	for _, observer := range observers {
		wg.Add(1)
		go func(obs RunObserver) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			if err := obs.OnRun(ctx, event); err != nil {
				logger.Error().Err(err).Msg("Observer notification failed")
			}
		}(observer)
	}
	wg.Wait()
}

func (eb *EventBus) Stop() {
	eb.stopOnce.Do(func() { close(eb.stopCh) })
	eb.wg.Wait()
}
