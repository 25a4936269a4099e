package server

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ourea-as/meadstats-api/internal/reconcile"
)

const (
	RealtimeEventProgress  = "update:progress"
	RealtimeEventFinished  = "update:finished"
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "meadstats-api"
)

// RealtimeMessage is one sync event addressed to the user who started the run.
type RealtimeMessage struct {
	Requester string
	EventType string
	RunID     string
	Username  string
	Offset    int
	Total     int
	Action    reconcile.Action
	State     reconcile.State
	Timestamp time.Time
}

// RealtimeDispatcher fans sync events out to the stream subscribers of each requester.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
		clock:       time.Now,
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, requester string) (<-chan RealtimeMessage, func()) {
	key := subscriberKey(requester)
	if key == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(key, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregisterSubscriber(key, subscriber.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers message without blocking. Subscribers with a full buffer miss progress
// events; a finished event evicts the oldest queued message instead.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	key := subscriberKey(message.Requester)
	if key == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[key]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		if message.EventType == RealtimeEventFinished {
			d.deliverTerminal(subscriber, message)
			continue
		}
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// deliverTerminal makes room for finished events by discarding queued progress.
// Finished events it evicts along the way are queued again.
func (d *RealtimeDispatcher) deliverTerminal(subscriber *realtimeSubscriber, message RealtimeMessage) {
	pending := []RealtimeMessage{message}
	for attempts := 0; len(pending) > 0 && attempts <= 2*d.bufferSize; attempts++ {
		select {
		case subscriber.stream <- pending[0]:
			pending = pending[1:]
			continue
		default:
		}
		select {
		case evicted := <-subscriber.stream:
			if evicted.EventType == RealtimeEventFinished {
				pending = append(pending, evicted)
			}
		default:
		}
	}
}

// ReportProgress implements reconcile.ProgressReporter.
func (d *RealtimeDispatcher) ReportProgress(progress reconcile.Progress) {
	d.Publish(RealtimeMessage{
		Requester: progress.Requester,
		EventType: RealtimeEventProgress,
		RunID:     progress.RunID,
		Username:  progress.Username,
		Offset:    progress.Offset,
		Total:     progress.Total,
		Action:    progress.Action,
		Timestamp: d.clock().UTC(),
	})
}

// Finished publishes the terminal state of a run. It is suitable as reconcile.RunnerConfig.OnFinished.
func (d *RealtimeDispatcher) Finished(result reconcile.RunResult) {
	d.Publish(RealtimeMessage{
		Requester: result.Requester,
		EventType: RealtimeEventFinished,
		RunID:     result.RunID,
		Username:  result.Username,
		State:     result.State,
		Timestamp: d.clock().UTC(),
	})
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(key string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[key]; !ok {
		d.subscribers[key] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[key][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(key string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[key]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, key)
		}
	}
	d.mu.Unlock()
}

func subscriberKey(requester string) string {
	return strings.ToLower(strings.TrimSpace(requester))
}
