// Package events provides the Brain's internal pub/sub fan-out: decision,
// risk, governance, and reconciliation notifications delivered to dashboard
// subscribers and the websocket layer, over a goroutine worker pool
// draining a buffered channel, with panic-recovering handlers and latency
// tracking.
package events

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/brainhouse/capital-brain/pkg/types"
)

// EventType defines the category of a Brain notification.
type EventType string

const (
	EventTypeDecision           EventType = "decision"
	EventTypeRiskAlert          EventType = "risk_alert"
	EventTypeDefconChange       EventType = "defcon_change"
	EventTypeCircuitBreaker     EventType = "circuit_breaker"
	EventTypeReconciliationDrift EventType = "reconciliation_drift"
	EventTypeHeartbeat          EventType = "heartbeat"
)

// Event is the base interface for all Brain notifications.
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
	GetID() string
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *BaseEvent) GetType() EventType      { return e.Type }
func (e *BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e *BaseEvent) GetID() string           { return e.ID }

// DecisionEvent notifies that a BrainDecision was recorded.
type DecisionEvent struct {
	BaseEvent
	Decision types.BrainDecision `json:"decision"`
}

// RiskAlertEvent notifies of a risk-gate rejection or shrink.
type RiskAlertEvent struct {
	BaseEvent
	Symbol   string `json:"symbol"`
	SignalID string `json:"signalId"`
	Reason   string `json:"reason"`
}

// DefconChangeEvent notifies of a governance level transition.
type DefconChangeEvent struct {
	BaseEvent
	From types.DefconLevel `json:"from"`
	To   types.DefconLevel `json:"to"`
}

// CircuitBreakerEvent notifies of a breaker state transition.
type CircuitBreakerEvent struct {
	BaseEvent
	State  types.BreakerState `json:"state"`
	Reason string             `json:"reason,omitempty"`
}

// ReconciliationDriftEvent notifies of a classified drift.
type ReconciliationDriftEvent struct {
	BaseEvent
	Drift types.ReconciliationDrift `json:"drift"`
}

// EventHandler is a function that processes events.
type EventHandler func(event Event) error

// EventFilter can selectively process events.
type EventFilter func(event Event) bool

// SubscriptionOptions configures subscription behavior.
type SubscriptionOptions struct {
	Filter     EventFilter
	Async      bool
	BufferSize int
}

// Subscription represents an active event subscription.
type Subscription struct {
	ID        string
	EventType EventType
	Handler   EventHandler
	Options   SubscriptionOptions
	active    atomic.Bool
}

// IsActive returns whether subscription is active.
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}

// EventBusStats tracks bus throughput and health metrics.
type EventBusStats struct {
	EventsPublished   int64         `json:"eventsPublished"`
	EventsProcessed   int64         `json:"eventsProcessed"`
	EventsDropped     int64         `json:"eventsDropped"`
	ProcessingErrors  int64         `json:"processingErrors"`
	AvgLatencyNs      int64         `json:"avgLatencyNs"`
	MaxLatencyNs      int64         `json:"maxLatencyNs"`
	P99LatencyNs      int64         `json:"p99LatencyNs"`
	P99Latency        time.Duration `json:"p99Latency"`
	ActiveSubscribers int64         `json:"activeSubscribers"`
}

// EventBusConfig configures the event bus.
type EventBusConfig struct {
	NumWorkers int
	BufferSize int
}

// DefaultEventBusConfig returns sensible defaults for the Brain's notification volume.
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		NumWorkers: 4,
		BufferSize: 2000,
	}
}

// EventBus is the Brain's internal notification fan-out.
type EventBus struct {
	mu             sync.RWMutex
	subscribers    map[EventType][]*Subscription
	allSubscribers []*Subscription

	eventChan   chan Event
	workerCount int

	eventsPublished   atomic.Int64
	eventsProcessed   atomic.Int64
	eventsDropped     atomic.Int64
	processingErrors  atomic.Int64
	activeSubscribers atomic.Int64

	latencies  []int64
	latencyMu  sync.Mutex
	maxLatency atomic.Int64
	avgLatency atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewEventBus constructs an EventBus and starts its worker pool.
func NewEventBus(logger *zap.Logger, config EventBusConfig) *EventBus {
	workerCount := config.NumWorkers
	bufferSize := config.BufferSize
	if workerCount <= 0 {
		workerCount = 4
	}
	if bufferSize <= 0 {
		bufferSize = 2000
	}

	ctx, cancel := context.WithCancel(context.Background())

	eb := &EventBus{
		subscribers:    make(map[EventType][]*Subscription),
		allSubscribers: make([]*Subscription, 0),
		eventChan:      make(chan Event, bufferSize),
		workerCount:    workerCount,
		ctx:            ctx,
		cancel:         cancel,
		logger:         logger,
		latencies:      make([]int64, 0, 1000),
	}

	for i := 0; i < workerCount; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}

	if eb.logger != nil {
		eb.logger.Info("event bus initialized", zap.Int("workers", workerCount), zap.Int("bufferSize", bufferSize))
	}

	return eb
}

func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case <-eb.ctx.Done():
			return
		case event := <-eb.eventChan:
			start := time.Now()
			eb.processEvent(event)
			eb.trackLatency(time.Since(start).Nanoseconds())
		}
	}
}

func (eb *EventBus) processEvent(event Event) {
	eb.mu.RLock()
	subs := eb.subscribers[event.GetType()]
	allSubs := eb.allSubscribers
	eb.mu.RUnlock()

	for _, sub := range subs {
		eb.dispatch(sub, event)
	}
	for _, sub := range allSubs {
		eb.dispatch(sub, event)
	}

	eb.eventsProcessed.Add(1)
}

func (eb *EventBus) dispatch(sub *Subscription, event Event) {
	if !sub.active.Load() {
		return
	}
	if sub.Options.Filter != nil && !sub.Options.Filter(event) {
		return
	}
	if sub.Options.Async {
		go eb.executeHandler(sub, event)
	} else {
		eb.executeHandler(sub, event)
	}
}

func (eb *EventBus) executeHandler(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.processingErrors.Add(1)
			if eb.logger != nil {
				eb.logger.Error("event handler panic", zap.String("subscriptionId", sub.ID), zap.Any("panic", r))
			}
		}
	}()

	if err := sub.Handler(event); err != nil {
		eb.processingErrors.Add(1)
		if eb.logger != nil {
			eb.logger.Warn("event handler error", zap.String("subscriptionId", sub.ID), zap.Error(err))
		}
	}
}

func (eb *EventBus) trackLatency(latencyNs int64) {
	eb.latencyMu.Lock()
	defer eb.latencyMu.Unlock()

	eb.latencies = append(eb.latencies, latencyNs)
	if len(eb.latencies) > 1000 {
		eb.latencies = eb.latencies[500:]
	}

	if current := eb.maxLatency.Load(); latencyNs > current {
		eb.maxLatency.Store(latencyNs)
	}
	currentAvg := eb.avgLatency.Load()
	eb.avgLatency.Store((currentAvg*99 + latencyNs) / 100)
}

var subscriptionCounter atomic.Int64

func generateSubscriptionID() string {
	return "sub_" + itoa(subscriptionCounter.Add(1))
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// Subscribe registers a handler for an event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	options := SubscriptionOptions{Async: true, BufferSize: 100}
	if len(opts) > 0 {
		options = opts[0]
	}

	sub := &Subscription{ID: generateSubscriptionID(), EventType: eventType, Handler: handler, Options: options}
	sub.active.Store(true)

	eb.subscribers[eventType] = append(eb.subscribers[eventType], sub)
	eb.activeSubscribers.Add(1)
	return sub
}

// SubscribeAll registers a handler for every event type.
func (eb *EventBus) SubscribeAll(handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	options := SubscriptionOptions{Async: true, BufferSize: 100}
	if len(opts) > 0 {
		options = opts[0]
	}

	sub := &Subscription{ID: generateSubscriptionID(), EventType: "*", Handler: handler, Options: options}
	sub.active.Store(true)

	eb.allSubscribers = append(eb.allSubscribers, sub)
	eb.activeSubscribers.Add(1)
	return sub
}

// Unsubscribe deactivates a subscription.
func (eb *EventBus) Unsubscribe(sub *Subscription) {
	sub.active.Store(false)
	eb.activeSubscribers.Add(-1)
}

// Publish sends an event to all subscribers, non-blocking; drops on a full buffer.
func (eb *EventBus) Publish(event Event) {
	select {
	case eb.eventChan <- event:
		eb.eventsPublished.Add(1)
	default:
		eb.eventsDropped.Add(1)
		if eb.logger != nil {
			eb.logger.Warn("event dropped, buffer full", zap.String("eventType", string(event.GetType())))
		}
	}
}

// PublishSync sends an event and processes it inline before returning.
func (eb *EventBus) PublishSync(event Event) {
	eb.eventsPublished.Add(1)
	eb.processEvent(event)
}

// GetStats returns current bus performance statistics.
func (eb *EventBus) GetStats() EventBusStats {
	p99 := eb.p99LatencyNs()
	return EventBusStats{
		EventsPublished:   eb.eventsPublished.Load(),
		EventsProcessed:   eb.eventsProcessed.Load(),
		EventsDropped:     eb.eventsDropped.Load(),
		ProcessingErrors:  eb.processingErrors.Load(),
		AvgLatencyNs:      eb.avgLatency.Load(),
		MaxLatencyNs:      eb.maxLatency.Load(),
		P99LatencyNs:      p99,
		P99Latency:        time.Duration(p99),
		ActiveSubscribers: eb.activeSubscribers.Load(),
	}
}

func (eb *EventBus) p99LatencyNs() int64 {
	eb.latencyMu.Lock()
	defer eb.latencyMu.Unlock()

	if len(eb.latencies) == 0 {
		return 0
	}
	sorted := make([]int64, len(eb.latencies))
	copy(sorted, eb.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Start is a no-op; workers are already running from the constructor.
func (eb *EventBus) Start(_ context.Context) error {
	return nil
}

// Stop shuts down the event bus, waiting briefly for workers to drain.
func (eb *EventBus) Stop() {
	eb.cancel()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if eb.logger != nil {
			eb.logger.Warn("event bus shutdown timed out")
		}
	}
}

var eventCounter atomic.Int64

func generateEventID() string {
	return "evt_" + itoa(eventCounter.Add(1))
}

// NewDecisionEvent constructs a DecisionEvent.
func NewDecisionEvent(decision types.BrainDecision) *DecisionEvent {
	return &DecisionEvent{
		BaseEvent: BaseEvent{ID: generateEventID(), Type: EventTypeDecision, Timestamp: time.Now()},
		Decision:  decision,
	}
}

// NewRiskAlertEvent constructs a RiskAlertEvent.
func NewRiskAlertEvent(symbol, signalID, reason string) *RiskAlertEvent {
	return &RiskAlertEvent{
		BaseEvent: BaseEvent{ID: generateEventID(), Type: EventTypeRiskAlert, Timestamp: time.Now()},
		Symbol:    symbol,
		SignalID:  signalID,
		Reason:    reason,
	}
}

// NewDefconChangeEvent constructs a DefconChangeEvent.
func NewDefconChangeEvent(from, to types.DefconLevel) *DefconChangeEvent {
	return &DefconChangeEvent{
		BaseEvent: BaseEvent{ID: generateEventID(), Type: EventTypeDefconChange, Timestamp: time.Now()},
		From:      from,
		To:        to,
	}
}

// NewCircuitBreakerEvent constructs a CircuitBreakerEvent.
func NewCircuitBreakerEvent(state types.BreakerState, reason string) *CircuitBreakerEvent {
	return &CircuitBreakerEvent{
		BaseEvent: BaseEvent{ID: generateEventID(), Type: EventTypeCircuitBreaker, Timestamp: time.Now()},
		State:     state,
		Reason:    reason,
	}
}

// NewReconciliationDriftEvent constructs a ReconciliationDriftEvent.
func NewReconciliationDriftEvent(drift types.ReconciliationDrift) *ReconciliationDriftEvent {
	return &ReconciliationDriftEvent{
		BaseEvent: BaseEvent{ID: generateEventID(), Type: EventTypeReconciliationDrift, Timestamp: time.Now()},
		Drift:     drift,
	}
}
