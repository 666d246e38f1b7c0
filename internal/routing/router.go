package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transport pushes a delivery to an externally connected recipient (the
// WebSocket hub in practice). Push failures are tolerated; history is the
// durable record either way.
type Transport interface {
	Push(ctx context.Context, agentID string, rec DeliveryRecord) error
}

// Deps bundles the collaborators a Router needs.
type Deps struct {
	Registry    *SubscriptionRegistry
	Agents      AgentRepository
	History     HistoryRepository
	AgentQueue  *DeliveryQueue
	DeviceQueue *DeliveryQueue
	Logger      Logger

	// HistoryCapacity bounds each (recipient, class) history window.
	HistoryCapacity int

	// DrainWait bounds how long an empty-queue pop blocks.
	DrainWait time.Duration

	// PushTimeout bounds a single delivery push to a listener or transport.
	PushTimeout time.Duration

	// ChannelBuffer sizes each listener channel.
	ChannelBuffer int
}

// Router owns the subscription registry, both delivery queues and the
// history store, and runs one drain goroutine per queue. Producers call
// EnqueueAgentMessage and RouteDeviceData concurrently; consumers either
// hold a Listen channel or poll History.
type Router struct {
	registry    *SubscriptionRegistry
	agents      AgentRepository
	history     HistoryRepository
	agentQueue  *DeliveryQueue
	deviceQueue *DeliveryQueue
	logger      Logger

	historyCapacity int
	drainWait       time.Duration
	pushTimeout     time.Duration
	channelBuffer   int

	mu        sync.Mutex
	listeners map[string]*listener

	transport Transport

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Backoff applied after a drain iteration fails, so a persistent storage
// error does not spin the loop.
const drainErrorBackoff = 500 * time.Millisecond

// NewRouter creates a Router. Zero-valued tuning fields fall back to
// usable defaults.
func NewRouter(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	if deps.HistoryCapacity <= 0 {
		deps.HistoryCapacity = 100
	}
	if deps.DrainWait <= 0 {
		deps.DrainWait = time.Second
	}
	if deps.PushTimeout <= 0 {
		deps.PushTimeout = 250 * time.Millisecond
	}
	if deps.ChannelBuffer <= 0 {
		deps.ChannelBuffer = 64
	}

	return &Router{
		registry:        deps.Registry,
		agents:          deps.Agents,
		history:         deps.History,
		agentQueue:      deps.AgentQueue,
		deviceQueue:     deps.DeviceQueue,
		logger:          deps.Logger,
		historyCapacity: deps.HistoryCapacity,
		drainWait:       deps.DrainWait,
		pushTimeout:     deps.PushTimeout,
		channelBuffer:   deps.ChannelBuffer,
		listeners:       make(map[string]*listener),
	}
}

// listener guards its channel so a close cannot race a delivery send.
type listener struct {
	mu     sync.Mutex
	ch     chan DeliveryRecord
	closed bool
}

// send offers rec to the channel, waiting at most timeout. Returns false
// if the listener is closed or the buffer stayed full.
func (l *listener) send(rec DeliveryRecord, timeout time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case l.ch <- rec:
		return true
	case <-timer.C:
		return false
	}
}

func (l *listener) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
}

// SetTransport attaches an external delivery transport. Must be called
// before Start.
func (r *Router) SetTransport(t Transport) {
	r.transport = t
}

// Registry exposes the subscription registry for read-side callers.
func (r *Router) Registry() *SubscriptionRegistry {
	return r.registry
}

// Start launches the drain loops. It returns immediately; Stop shuts the
// loops down and waits for them.
func (r *Router) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(2)
	go r.drainLoop(ctx, r.agentQueue)
	go r.drainLoop(ctx, r.deviceQueue)

	r.logger.Info("router started",
		"history_capacity", r.historyCapacity,
		"drain_wait", r.drainWait.String(),
	)
}

// Stop terminates the drain loops and waits for in-flight deliveries.
func (r *Router) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("router stopped")
}

// RegisterSubscriber registers an agent. Registration is idempotent:
// re-registering refreshes the agent's type and metadata.
func (r *Router) RegisterSubscriber(ctx context.Context, id, agentType string, metadata map[string]any) error {
	if id == "" {
		return fmt.Errorf("%w: empty agent ID", ErrInvalidEnvelope)
	}

	agent := Agent{
		ID:           id,
		AgentType:    agentType,
		Metadata:     metadata,
		RegisteredAt: time.Now().UTC(),
	}
	if err := r.agents.Upsert(ctx, agent); err != nil {
		return fmt.Errorf("registering agent %s: %w", id, err)
	}

	r.logger.Info("agent registered", "agent_id", id, "agent_type", agentType)
	return nil
}

// UnregisterSubscriber removes an agent, all its subscriptions, and
// closes its listener channel. Queued envelopes addressed to it are not
// withdrawn; they deliver to history only.
func (r *Router) UnregisterSubscriber(ctx context.Context, id string) error {
	if err := r.registry.RemoveSubscriber(ctx, id); err != nil {
		return fmt.Errorf("removing subscriptions for %s: %w", id, err)
	}

	r.mu.Lock()
	if l, ok := r.listeners[id]; ok {
		l.close()
		delete(r.listeners, id)
	}
	r.mu.Unlock()

	if err := r.agents.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotRegistered) {
			return err
		}
		return fmt.Errorf("deleting agent %s: %w", id, err)
	}

	r.logger.Info("agent unregistered", "agent_id", id)
	return nil
}

// Subscribe adds a topic pattern subscription for an agent.
func (r *Router) Subscribe(ctx context.Context, agentID, pattern string) error {
	if err := r.registry.Subscribe(ctx, agentID, pattern); err != nil {
		return err
	}
	r.logger.Debug("subscription added", "agent_id", agentID, "pattern", pattern)
	return nil
}

// Unsubscribe removes a topic pattern subscription.
func (r *Router) Unsubscribe(ctx context.Context, agentID, pattern string) error {
	if err := r.registry.Unsubscribe(ctx, agentID, pattern); err != nil {
		return err
	}
	r.logger.Debug("subscription removed", "agent_id", agentID, "pattern", pattern)
	return nil
}

// EnqueueAgentMessage queues a directed agent-to-agent message. A target
// that is not registered is logged but the message is queued anyway; the
// target may register later and read its history.
func (r *Router) EnqueueAgentMessage(ctx context.Context, source, target, messageType string, payload map[string]any, correlationID string) error {
	if target == "" {
		return fmt.Errorf("%w: empty target agent", ErrInvalidEnvelope)
	}

	known, err := r.agents.Exists(ctx, target)
	if err != nil {
		return fmt.Errorf("checking recipient %s: %w", target, err)
	}
	if !known {
		r.logger.Warn("message for unknown recipient queued",
			"target", target, "source", source, "message_type", messageType,
			"error", ErrUnknownRecipient)
	}

	env := Envelope{
		ID:            uuid.NewString(),
		Kind:          KindAgentMessage,
		SourceAgentID: source,
		TargetAgentID: target,
		MessageType:   messageType,
		Payload:       payload,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	}
	return r.agentQueue.Enqueue(ctx, env)
}

// RouteDeviceData queues a device reading for fan-out. Recipients are
// resolved from the reading's topic at drain time, so subscriptions made
// between enqueue and drain still receive it.
func (r *Router) RouteDeviceData(ctx context.Context, deviceType, deviceID string, data map[string]any) error {
	if deviceType == "" || deviceID == "" {
		return fmt.Errorf("%w: device type and ID required", ErrInvalidEnvelope)
	}

	env := Envelope{
		ID:             uuid.NewString(),
		Kind:           KindDeviceData,
		SourceDeviceID: deviceID,
		Topic:          fmt.Sprintf("devices/%s/%s/data", deviceType, deviceID),
		Data:           data,
		Timestamp:      time.Now().UTC(),
	}
	return r.deviceQueue.Enqueue(ctx, env)
}

// Listen returns a channel of deliveries for an agent. The channel is
// buffered; a listener that falls behind misses pushes (they remain in
// history). Calling Listen again replaces the previous channel, which is
// closed. UnregisterSubscriber also closes it.
func (r *Router) Listen(agentID string) <-chan DeliveryRecord {
	l := &listener{ch: make(chan DeliveryRecord, r.channelBuffer)}

	r.mu.Lock()
	if old, ok := r.listeners[agentID]; ok {
		old.close()
	}
	r.listeners[agentID] = l
	r.mu.Unlock()

	return l.ch
}

// StopListening closes and removes an agent's listener channel without
// touching its registration or subscriptions.
func (r *Router) StopListening(agentID string) {
	r.mu.Lock()
	if l, ok := r.listeners[agentID]; ok {
		l.close()
		delete(r.listeners, agentID)
	}
	r.mu.Unlock()
}

// History returns an agent's recent deliveries of one class, newest first.
func (r *Router) History(ctx context.Context, agentID string, class Kind, limit int) ([]DeliveryRecord, error) {
	if limit <= 0 || limit > r.historyCapacity {
		limit = r.historyCapacity
	}
	return r.history.Recent(ctx, agentID, class, limit)
}

// Agent returns a registration by ID.
func (r *Router) Agent(ctx context.Context, id string) (*Agent, error) {
	return r.agents.Get(ctx, id)
}

// Agents returns all registrations.
func (r *Router) Agents(ctx context.Context) ([]Agent, error) {
	return r.agents.List(ctx)
}

// drainLoop pops envelopes from one queue and delivers them until the
// context is cancelled. A failed iteration is logged and retried after a
// short backoff; the loop itself never exits on error.
func (r *Router) drainLoop(ctx context.Context, q *DeliveryQueue) {
	defer r.wg.Done()

	for {
		env, enqueuedAt, err := q.Dequeue(ctx, r.drainWait)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.logger.Error("queue pop failed", "queue", q.Name(), "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(drainErrorBackoff):
			}
			continue
		}
		if env == nil {
			// Empty wait expired. Normal; go around.
			continue
		}

		if err := r.deliver(ctx, *env, enqueuedAt); err != nil {
			r.logger.Error("delivery failed", "queue", q.Name(), "envelope_id", env.ID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(drainErrorBackoff):
			}
		}
	}
}

// deliver resolves an envelope's recipients and delivers to each: a
// history append first, then a best-effort push to any live listener and
// the external transport. A failure for one recipient does not stop
// delivery to the others.
func (r *Router) deliver(ctx context.Context, env Envelope, enqueuedAt time.Time) error {
	var recipients []string
	switch env.Kind {
	case KindAgentMessage:
		recipients = []string{env.TargetAgentID}
	case KindDeviceData:
		recipients = r.registry.Resolve(env.Topic)
		if len(recipients) == 0 {
			r.logger.Debug("no subscribers for topic", "topic", env.Topic)
			return nil
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEnvelope, env.Kind)
	}

	var firstErr error
	for _, id := range recipients {
		rec := DeliveryRecord{
			RecipientID: id,
			Envelope:    env,
			EnqueuedAt:  enqueuedAt,
			DeliveredAt: time.Now().UTC(),
		}

		if err := r.history.Append(ctx, rec, r.historyCapacity); err != nil {
			r.logger.Error("history append failed", "recipient", id, "envelope_id", env.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		r.push(ctx, id, rec)
	}
	return firstErr
}

// push hands a delivery to the recipient's listener channel and the
// external transport. Both are best effort with a bounded wait.
func (r *Router) push(ctx context.Context, agentID string, rec DeliveryRecord) {
	r.mu.Lock()
	l := r.listeners[agentID]
	r.mu.Unlock()

	if l != nil && !l.send(rec, r.pushTimeout) {
		r.logger.Warn("listener push missed", "agent_id", agentID, "envelope_id", rec.Envelope.ID)
	}

	if r.transport != nil {
		pushCtx, cancel := context.WithTimeout(ctx, r.pushTimeout)
		if err := r.transport.Push(pushCtx, agentID, rec); err != nil {
			r.logger.Debug("transport push failed", "agent_id", agentID, "error", err)
		}
		cancel()
	}
}
