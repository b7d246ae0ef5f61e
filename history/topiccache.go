package history

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/qos"
)

// perWriterLog is one writer's ordered log of samples within a topic,
// plus a secondary index by instance key.
type perWriterLog struct {
	order   []guid.SequenceNumber // strictly ascending
	samples map[guid.SequenceNumber]Sample
	byKey   map[KeyHash][]guid.SequenceNumber // ascending SN per instance
	lastSN  guid.SequenceNumber
}

func newPerWriterLog() *perWriterLog {
	return &perWriterLog{
		samples: make(map[guid.SequenceNumber]Sample),
		byKey:   make(map[KeyHash][]guid.SequenceNumber),
		lastSN:  guid.SequenceNumberUnknown,
	}
}

// TopicCache is the participant-wide cache of received samples for
// one topic: an ordered map from SequenceNumber to Sample per writer,
// indexed additionally by instance key.
type TopicCache struct {
	mu       sync.RWMutex
	Name     string
	TypeName string
	history  qos.History
	limits   qos.ResourceLimits
	writers  map[guid.Guid]*perWriterLog
}

// NewTopicCache creates an empty cache governed by the given History
// and ResourceLimits QoS.
func NewTopicCache(name, typeName string, h qos.History, limits qos.ResourceLimits) *TopicCache {
	return &TopicCache{
		Name:     name,
		TypeName: typeName,
		history:  h,
		limits:   limits,
		writers:  make(map[guid.Guid]*perWriterLog),
	}
}

// Insert adds a sample to the cache, keyed by (writer, sequence
// number). A sample already present for that writer and SN — a
// duplicate delivery, since RTPS runs over lossy, reordering UDP —
// is rejected rather than silently overwritten; samples otherwise
// arriving out of wire order are inserted at their sorted position.
// After insertion, eviction runs to honor History and ResourceLimits.
//
// The lock is held only while mutating the small per-writer index —
// no I/O, no callbacks — since lock-holding code paths must never
// perform I/O.
func (c *TopicCache) Insert(sample Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.writers[sample.WriterGuid]
	if !ok {
		w = newPerWriterLog()
		c.writers[sample.WriterGuid] = w
	}
	if _, dup := w.samples[sample.SequenceNumber]; dup {
		return errors.Errorf("history: duplicate sample sn %v for writer %v",
			sample.SequenceNumber, sample.WriterGuid)
	}

	insertSorted(w, sample.SequenceNumber)
	w.samples[sample.SequenceNumber] = sample
	if sample.SequenceNumber > w.lastSN {
		w.lastSN = sample.SequenceNumber
	}
	w.byKey[sample.KeyHash] = append(w.byKey[sample.KeyHash], sample.SequenceNumber)

	c.evictLocked(w)
	return nil
}

// evictLocked drops the oldest samples of a writer's log until
// History.KeepLast(n) and ResourceLimits are both satisfied. Callers
// must hold c.mu for writing.
func (c *TopicCache) evictLocked(w *perWriterLog) {
	max := 0
	if c.history.Kind == qos.KeepLast {
		max = c.history.Depth
	}
	if c.limits.MaxSamplesPerInstance > 0 && (max == 0 || c.limits.MaxSamplesPerInstance < max) {
		max = c.limits.MaxSamplesPerInstance
	}
	if max <= 0 {
		return
	}
	for len(w.order) > max {
		oldest := w.order[0]
		w.order = w.order[1:]
		if s, ok := w.samples[oldest]; ok {
			delete(w.samples, oldest)
			c.removeFromKeyIndexLocked(w, s.KeyHash, oldest)
		}
	}
}

// insertSorted inserts sn into w.order at its sorted position, since
// RTPS delivery over UDP (including retransmits) need not preserve
// wire order.
func insertSorted(w *perWriterLog, sn guid.SequenceNumber) {
	i := len(w.order)
	for i > 0 && w.order[i-1] > sn {
		i--
	}
	w.order = append(w.order, 0)
	copy(w.order[i+1:], w.order[i:])
	w.order[i] = sn
}

func (c *TopicCache) removeFromKeyIndexLocked(w *perWriterLog, key KeyHash, sn guid.SequenceNumber) {
	lst := w.byKey[key]
	for i, v := range lst {
		if v == sn {
			w.byKey[key] = append(lst[:i], lst[i+1:]...)
			break
		}
	}
	if len(w.byKey[key]) == 0 {
		delete(w.byKey, key)
	}
}

// GetRange returns every sample from writer with sequence number in
// [lo, hi], in increasing SN order.
func (c *TopicCache) GetRange(writer guid.Guid, lo, hi guid.SequenceNumber) []Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w, ok := c.writers[writer]
	if !ok || lo > hi {
		return nil
	}
	var out []Sample
	for _, sn := range w.order {
		if sn < lo {
			continue
		}
		if sn > hi {
			break
		}
		out = append(out, w.samples[sn])
	}
	return out
}

// Get returns a single sample by (writer, sequence number).
func (c *TopicCache) Get(writer guid.Guid, sn guid.SequenceNumber) (Sample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.writers[writer]
	if !ok {
		return Sample{}, false
	}
	s, ok := w.samples[sn]
	return s, ok
}

// EvictOlderThan drops every sample from writer with sequence number
// strictly less than sn, e.g. once a reliable writer-reader pair has
// relinquished acknowledgement of them.
func (c *TopicCache) EvictOlderThan(writer guid.Guid, sn guid.SequenceNumber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.writers[writer]
	if !ok {
		return
	}
	i := 0
	for i < len(w.order) && w.order[i] < sn {
		if s, ok := w.samples[w.order[i]]; ok {
			delete(w.samples, w.order[i])
			c.removeFromKeyIndexLocked(w, s.KeyHash, w.order[i])
		}
		i++
	}
	w.order = w.order[i:]
}

// InstanceSamples returns every sample recorded for a given writer's
// instance, in arrival order, oldest first.
func (c *TopicCache) InstanceSamples(writer guid.Guid, key KeyHash) []Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.writers[writer]
	if !ok {
		return nil
	}
	sns := w.byKey[key]
	out := make([]Sample, 0, len(sns))
	for _, sn := range sns {
		out = append(out, w.samples[sn])
	}
	return out
}

// Registry owns every TopicCache a participant has instantiated,
// keyed by topic name: it maps a topic name to the per-writer
// ordered map of samples received for it.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]*TopicCache
}

// NewRegistry creates an empty topic cache registry.
func NewRegistry() *Registry {
	return &Registry{topics: make(map[string]*TopicCache)}
}

// GetOrCreate returns the cache for a topic, creating it with the
// given QoS if this is the first reference.
func (r *Registry) GetOrCreate(name, typeName string, h qos.History, limits qos.ResourceLimits) *TopicCache {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tc, ok := r.topics[name]; ok {
		return tc
	}
	tc := NewTopicCache(name, typeName, h, limits)
	r.topics[name] = tc
	return tc
}

// Get returns an already-created topic cache.
func (r *Registry) Get(name string) (*TopicCache, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tc, ok := r.topics[name]
	return tc, ok
}

// Names returns the names of every topic with a cache.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.topics))
	for name := range r.topics {
		out = append(out, name)
	}
	return out
}
