package services

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HammerMeetNail/bingohall/internal/logging"
	"github.com/HammerMeetNail/bingohall/internal/models"
)

const publishTimeout = 2 * time.Second

// RedisEventPublisher forwards room events to redis pub/sub so other
// processes (the bot, dashboards) can follow a room. Publish never blocks:
// events are queued and dropped when the queue is full.
type RedisEventPublisher struct {
	redis   RedisClient
	prefix  string
	logger  *logging.Logger
	events  chan models.Event
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

func NewRedisEventPublisher(redis RedisClient, channelPrefix string, buffer int, logger *logging.Logger) *RedisEventPublisher {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = logging.Default
	}
	p := &RedisEventPublisher{
		redis:  redis,
		prefix: channelPrefix,
		logger: logger,
		events: make(chan models.Event, buffer),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Channel is the pub/sub channel for a room.
func (p *RedisEventPublisher) Channel(roomCode string) string {
	return p.prefix + ":" + roomCode
}

func (p *RedisEventPublisher) Publish(ev models.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.dropped.Add(1)
		p.logger.Warn("Event queue full, dropping event", map[string]interface{}{
			"room_code": ev.RoomCode,
			"event":     string(ev.Kind),
		})
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (p *RedisEventPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close stops accepting events and waits for the queue to drain.
func (p *RedisEventPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	p.mu.Unlock()
	<-p.done
}

func (p *RedisEventPublisher) run() {
	defer close(p.done)
	for ev := range p.events {
		data, err := json.Marshal(ev)
		if err != nil {
			p.logger.Error("Failed to encode event", map[string]interface{}{
				"room_code": ev.RoomCode,
				"error":     err.Error(),
			})
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = p.redis.Publish(ctx, p.Channel(ev.RoomCode), string(data))
		cancel()
		if err != nil {
			p.logger.Error("Failed to publish event", map[string]interface{}{
				"room_code": ev.RoomCode,
				"event":     string(ev.Kind),
				"error":     err.Error(),
			})
		}
	}
}
