// Package events fans state transition events out to live subscribers.
package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/model"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"
)

const (
	defaultBufferSize        = 64
	defaultHeartbeatInterval = 15 * time.Second
)

type Params struct {
	Config       model.EventsConfig
	Monitoring   common.CoordinatorMonitoring
	TimeProvider common.TimeProvider
	Logger       logger.SugaredLogger
}

// Publisher delivers events at most once to each subscriber. Publish never blocks: a subscriber
// whose buffer is full loses the event and the loss is counted.
type Publisher struct {
	services.StateMachine
	wg     sync.WaitGroup
	stopCh services.StopChan

	cfg          model.EventsConfig
	monitoring   common.CoordinatorMonitoring
	timeProvider common.TimeProvider
	lggr         logger.SugaredLogger

	// mu orders sequence assignment with delivery so every subscriber sees an entity's events in
	// sequence order.
	mu        sync.Mutex
	subs      map[uint64]*Subscription
	nextSubID uint64
	sequences map[string]uint64
	draining  bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

var (
	_ services.Service     = (*Publisher)(nil)
	_ common.EventSink     = (*Publisher)(nil)
	_ common.HealthChecker = (*Publisher)(nil)
)

func NewPublisher(p Params) *Publisher {
	if p.Config.HeartbeatInterval <= 0 {
		p.Config.HeartbeatInterval = defaultHeartbeatInterval
	}
	if p.Config.SubscriberBufferSize <= 0 {
		p.Config.SubscriberBufferSize = defaultBufferSize
	}
	if p.TimeProvider == nil {
		p.TimeProvider = common.NewRealTimeProvider()
	}
	return &Publisher{
		stopCh:       make(chan struct{}),
		cfg:          p.Config,
		monitoring:   p.Monitoring,
		timeProvider: p.TimeProvider,
		lggr:         p.Logger,
		subs:         make(map[uint64]*Subscription),
		sequences:    make(map[string]uint64),
	}
}

func (p *Publisher) Start(_ context.Context) error {
	return p.StartOnce("EventPublisher", func() error {
		p.wg.Go(p.runHeartbeats)
		return nil
	})
}

// Close stops heartbeats and closes every open subscription.
func (p *Publisher) Close() error {
	return p.StopOnce("EventPublisher", func() error {
		close(p.stopCh)
		p.wg.Wait()
		p.CloseSubscriptions()
		return nil
	})
}

// CloseSubscriptions ends every open subscription and closes the ones created afterwards
// immediately, so streaming consumers return during an HTTP server shutdown.
func (p *Publisher) CloseSubscriptions() {
	p.mu.Lock()
	p.draining = true
	subs := p.subs
	p.subs = make(map[uint64]*Subscription)
	p.mu.Unlock()

	if len(subs) > 0 {
		p.lggr.Infow("Closing event subscriptions", "subscribers", len(subs))
	}
	p.monitoring.Metrics().SetSubscribers(context.Background(), 0)
	for _, sub := range subs {
		sub.closeChannel()
	}
}

func (p *Publisher) Name() string {
	return p.lggr.Name()
}

func (p *Publisher) HealthReport() map[string]error {
	return map[string]error{p.Name(): p.Ready()}
}

func (p *Publisher) HealthCheck(_ context.Context) *common.ComponentHealth {
	h := common.HealthFromError("event_publisher", p.Ready(), p.timeProvider.Now())
	if h.Status == common.HealthStatusHealthy {
		h.Message = fmt.Sprintf("%d subscribers, %d events published, %d dropped",
			p.SubscriberCount(), p.published.Load(), p.dropped.Load())
	}
	return h
}

// Publish stamps evt with an id, a timestamp and, when it names an entity, the next sequence
// number of that entity, then offers it to every subscriber without blocking.
func (p *Publisher) Publish(evt protocol.Event) {
	now := p.timeProvider.Now()
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = now
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if evt.EntityID != "" && !evt.IsHeartbeat() {
		p.sequences[evt.EntityID]++
		evt.Sequence = p.sequences[evt.EntityID]
	}
	p.published.Add(1)

	for _, sub := range p.subs {
		if sub.offer(evt, now) {
			continue
		}
		p.dropped.Add(1)
		p.monitoring.Metrics().IncrementDroppedEvents(context.Background())
		if dropped := sub.dropped.Load(); dropped == 1 || dropped%100 == 0 {
			p.lggr.Warnw("Subscriber buffer full, dropping events",
				"subscriberId", sub.id,
				"eventType", evt.Type,
				"dropped", dropped)
		}
	}
}

// Subscribe registers a subscriber with room for bufferSize undelivered events. A non-positive
// size selects the configured default. The caller must Close the subscription.
func (p *Publisher) Subscribe(bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = p.cfg.SubscriberBufferSize
	}

	p.mu.Lock()
	p.nextSubID++
	sub := &Subscription{
		id:        p.nextSubID,
		publisher: p,
		ch:        make(chan protocol.Event, bufferSize),
	}
	sub.lastSent.Store(p.timeProvider.Now().UnixNano())
	if p.draining {
		p.mu.Unlock()
		sub.closeChannel()
		return sub
	}
	p.subs[sub.id] = sub
	count := len(p.subs)
	p.mu.Unlock()

	p.monitoring.Metrics().SetSubscribers(context.Background(), count)
	p.lggr.Debugw("Subscriber added", "subscriberId", sub.id, "bufferSize", bufferSize, "subscribers", count)
	return sub
}

func (p *Publisher) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *Publisher) unsubscribe(sub *Subscription) {
	p.mu.Lock()
	_, ok := p.subs[sub.id]
	delete(p.subs, sub.id)
	count := len(p.subs)
	p.mu.Unlock()

	if !ok {
		return
	}
	sub.closeChannel()
	p.monitoring.Metrics().SetSubscribers(context.Background(), count)
	p.lggr.Debugw("Subscriber removed", "subscriberId", sub.id, "dropped", sub.dropped.Load(), "subscribers", count)
}

func (p *Publisher) runHeartbeats() {
	ctx, cancel := p.stopCh.NewCtx()
	defer cancel()

	ticker := time.NewTicker(max(p.cfg.HeartbeatInterval/2, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

// sendHeartbeats offers a heartbeat to every subscription that received nothing for a full
// heartbeat interval. A subscriber with a full buffer is not idle and is skipped.
func (p *Publisher) sendHeartbeats() int {
	now := p.timeProvider.Now()
	idleSince := now.Add(-p.cfg.HeartbeatInterval)

	p.mu.Lock()
	defer p.mu.Unlock()

	sent := 0
	for _, sub := range p.subs {
		if time.Unix(0, sub.lastSent.Load()).After(idleSince) {
			continue
		}
		hb := protocol.Event{ID: uuid.NewString(), Type: protocol.EventTypeHeartbeat, Timestamp: now}
		select {
		case sub.ch <- hb:
			sub.lastSent.Store(now.UnixNano())
			sent++
		default:
		}
	}
	return sent
}

// Subscription is one consumer's view of the event stream.
type Subscription struct {
	id        uint64
	publisher *Publisher
	ch        chan protocol.Event
	closeOnce sync.Once

	lastSent atomic.Int64
	dropped  atomic.Uint64
}

func (s *Subscription) ID() uint64 {
	return s.id
}

// Events returns the delivery channel. It is closed when the subscription or the publisher closes.
func (s *Subscription) Events() <-chan protocol.Event {
	return s.ch
}

// Dropped returns how many events this subscriber lost to a full buffer.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) Close() {
	s.publisher.unsubscribe(s)
}

// offer must be called with the publisher lock held.
func (s *Subscription) offer(evt protocol.Event, now time.Time) bool {
	select {
	case s.ch <- evt:
		s.lastSent.Store(now.UnixNano())
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *Subscription) closeChannel() {
	s.closeOnce.Do(func() { close(s.ch) })
}
