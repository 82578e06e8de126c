// Package conversation holds the staged flow engine: message buffering,
// session resolution, step routing and turn orchestration.
package conversation

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/saluslabs/clinic-assistant/internal/observability/metrics"
	"github.com/saluslabs/clinic-assistant/pkg/logging"
)

const bufferShardCount = 16

// Flush triggers, also used as metric labels.
const (
	TriggerKeyword = "keyword"
	TriggerCount   = "count"
	TriggerTimeout = "timeout"
)

// BufferKey identifies one debounce stream.
type BufferKey struct {
	RemoteJID string
	ClinicID  string
}

// FlushFunc receives the joined fragments once a stream settles.
type FlushFunc func(ctx context.Context, key BufferKey, text string, trigger string)

// Buffer coalesces rapid-fire message fragments per (user, clinic) so one
// coherent turn reaches the flow instead of three half-sentences. A stream
// flushes on a scheduling keyword, on the fragment ceiling, or when the
// debounce window passes without new input.
type Buffer struct {
	shards       [bufferShardCount]bufferShard
	debounce     time.Duration
	maxFragments int
	keywords     []string
	flush        FlushFunc
	metrics      *metrics.AssistantMetrics
	logger       *logging.Logger
}

type bufferShard struct {
	mu      sync.Mutex
	entries map[BufferKey]*bufferEntry
}

type bufferEntry struct {
	fragments []string
	gen       uint64
	timer     *time.Timer
}

// NewBuffer wires a buffer. flush runs on its own goroutine per settled
// stream.
func NewBuffer(debounce time.Duration, maxFragments int, keywords []string, flush FlushFunc, m *metrics.AssistantMetrics, logger *logging.Logger) *Buffer {
	if debounce <= 0 {
		debounce = 5 * time.Second
	}
	if maxFragments <= 0 {
		maxFragments = 5
	}
	if flush == nil {
		panic("conversation: flush func cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	b := &Buffer{
		debounce:     debounce,
		maxFragments: maxFragments,
		flush:        flush,
		metrics:      m,
		logger:       logger,
	}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			b.keywords = append(b.keywords, kw)
		}
	}
	for i := range b.shards {
		b.shards[i].entries = make(map[BufferKey]*bufferEntry)
	}
	return b
}

// Accumulate adds a fragment to the stream and arms or re-arms the debounce
// timer. Empty fragments are dropped.
func (b *Buffer) Accumulate(key BufferKey, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	shard := b.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.entries[key]
	if !ok {
		entry = &bufferEntry{}
		shard.entries[key] = entry
	}
	entry.fragments = append(entry.fragments, text)
	entry.gen++

	if b.matchesKeyword(text) {
		b.flushLocked(shard, key, entry, TriggerKeyword)
		return
	}
	if len(entry.fragments) >= b.maxFragments {
		b.flushLocked(shard, key, entry, TriggerCount)
		return
	}

	gen := entry.gen
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.timer = time.AfterFunc(b.debounce, func() {
		b.onTimeout(key, gen)
	})
}

// Pending reports how many fragments a stream currently holds.
func (b *Buffer) Pending(key BufferKey) int {
	shard := b.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if entry, ok := shard.entries[key]; ok {
		return len(entry.fragments)
	}
	return 0
}

// onTimeout flushes only when no fragment arrived after the timer was armed.
// A stale timer for an older generation is a no-op.
func (b *Buffer) onTimeout(key BufferKey, gen uint64) {
	shard := b.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.entries[key]
	if !ok || entry.gen != gen {
		return
	}
	b.flushLocked(shard, key, entry, TriggerTimeout)
}

func (b *Buffer) flushLocked(shard *bufferShard, key BufferKey, entry *bufferEntry, trigger string) {
	if entry.timer != nil {
		entry.timer.Stop()
	}
	text := strings.Join(entry.fragments, " ")
	delete(shard.entries, key)

	b.metrics.ObserveBufferFlush(trigger)
	b.logger.Debug("buffer flush",
		"remotejid", key.RemoteJID,
		"trigger", trigger,
		"fragments", len(entry.fragments),
	)
	go b.flush(context.Background(), key, text, trigger)
}

func (b *Buffer) matchesKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range b.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (b *Buffer) shard(key BufferKey) *bufferShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.RemoteJID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key.ClinicID))
	return &b.shards[h.Sum32()%bufferShardCount]
}
