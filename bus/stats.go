package bus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics is a point-in-time snapshot of bus activity. It is a plain
// value; callers may copy and hold it freely.
type Statistics struct {
	TotalMessages          uint64            `json:"total_messages"`
	ActiveSubscriptions    int               `json:"active_subscriptions"`
	MessagesPerTopic       map[string]uint64 `json:"messages_per_topic"`
	DeliveredPerSubscriber map[string]uint64 `json:"delivered_per_subscriber"`
	DroppedPerSubscriber   map[string]uint64 `json:"dropped_per_subscriber"`
	ExpiredMessages        uint64            `json:"expired_messages"`
	DroppedMessages        uint64            `json:"dropped_messages"`
	AvgProcessingTimeMs    float64           `json:"avg_processing_time_ms"`
	UptimeSeconds          float64           `json:"uptime_seconds"`
}

// busStats holds the hot-path counters. Publishes touch only atomics and a
// short-lived lock around the per-key maps; snapshot assembly never holds a
// lock across a publish.
type busStats struct {
	start time.Time

	total     atomic.Uint64
	expired   atomic.Uint64
	dropped   atomic.Uint64
	procNanos atomic.Int64
	procCount atomic.Uint64

	mu            sync.Mutex
	perTopic      map[string]uint64
	perSubscriber map[string]uint64
	perSubDropped map[string]uint64
}

func newBusStats() *busStats {
	return &busStats{
		start:         time.Now(),
		perTopic:      make(map[string]uint64),
		perSubscriber: make(map[string]uint64),
		perSubDropped: make(map[string]uint64),
	}
}

func (s *busStats) recordPublish(topic string, elapsed time.Duration) {
	s.total.Add(1)
	s.procNanos.Add(int64(elapsed))
	s.procCount.Add(1)

	s.mu.Lock()
	s.perTopic[topic]++
	s.mu.Unlock()
}

func (s *busStats) recordDelivery(subscriberID string) {
	s.mu.Lock()
	s.perSubscriber[subscriberID]++
	s.mu.Unlock()
}

func (s *busStats) recordDrop(subscriberID string) {
	s.dropped.Add(1)
	s.mu.Lock()
	s.perSubDropped[subscriberID]++
	s.mu.Unlock()
}

func (s *busStats) recordExpired() {
	s.expired.Add(1)
}

func (s *busStats) overflowCount(subscriberID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perSubDropped[subscriberID]
}

// snapshot assembles a Statistics value. activeSubs is supplied by the
// registry so the stats lock never nests inside the subscription lock.
func (s *busStats) snapshot(activeSubs int) Statistics {
	procCount := s.procCount.Load()
	var avgMs float64
	if procCount > 0 {
		avgMs = float64(s.procNanos.Load()) / float64(procCount) / float64(time.Millisecond)
	}

	s.mu.Lock()
	perTopic := make(map[string]uint64, len(s.perTopic))
	for k, v := range s.perTopic {
		perTopic[k] = v
	}
	perSub := make(map[string]uint64, len(s.perSubscriber))
	for k, v := range s.perSubscriber {
		perSub[k] = v
	}
	perSubDropped := make(map[string]uint64, len(s.perSubDropped))
	for k, v := range s.perSubDropped {
		perSubDropped[k] = v
	}
	s.mu.Unlock()

	return Statistics{
		TotalMessages:          s.total.Load(),
		ActiveSubscriptions:    activeSubs,
		MessagesPerTopic:       perTopic,
		DeliveredPerSubscriber: perSub,
		DroppedPerSubscriber:   perSubDropped,
		ExpiredMessages:        s.expired.Load(),
		DroppedMessages:        s.dropped.Load(),
		AvgProcessingTimeMs:    avgMs,
		UptimeSeconds:          time.Since(s.start).Seconds(),
	}
}
