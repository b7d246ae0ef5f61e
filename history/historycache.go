package history

import (
	"sync"
	"time"

	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/qos"
)

// HistoryCache is the authoritative, ordered log of samples a single
// local writer has published. It owns sequence number assignment:
// every sample that enters the cache gets the next strictly
// increasing SequenceNumber, starting at guid.First.
type HistoryCache struct {
	mu sync.RWMutex

	WriterGuid guid.Guid
	history    qos.History
	limits     qos.ResourceLimits
	lifespan   time.Duration

	nextSN  guid.SequenceNumber
	order   []guid.SequenceNumber
	samples map[guid.SequenceNumber]Sample
	byKey   map[KeyHash][]guid.SequenceNumber
}

// NewHistoryCache creates an empty cache for a local writer, governed
// by its History, ResourceLimits, and Lifespan QoS.
func NewHistoryCache(writerGuid guid.Guid, p qos.Policies) *HistoryCache {
	return &HistoryCache{
		WriterGuid: writerGuid,
		history:    p.History,
		limits:     p.ResourceLimits,
		lifespan:   p.Lifespan,
		nextSN:     guid.First,
		samples:    make(map[guid.SequenceNumber]Sample),
		byKey:      make(map[KeyHash][]guid.SequenceNumber),
	}
}

// resourceLimitExceeded is the type of ErrResourceLimitExceeded. Add
// returns it whatever the writer's reliability; a Reliable writer's
// retry for up to MaxBlockingTime happens in rtpswriter.Writer.Write.
type resourceLimitExceeded struct{}

func (resourceLimitExceeded) Error() string { return "history: resource limits exceeded" }

// ErrResourceLimitExceeded is the sentinel error Add returns when the
// writer's ResourceLimits.MaxSamples bound would be exceeded.
var ErrResourceLimitExceeded error = resourceLimitExceeded{}

// Add assigns the next sequence number to a new sample and inserts
// it into the cache, evicting the oldest sample(s) of the same
// instance if History.KeepLast's depth would otherwise be exceeded.
// It fails with ErrResourceLimitExceeded if ResourceLimits.MaxSamples
// is set and already reached for an unrelated instance (KeepLast
// eviction only ever frees space within the same instance).
func (c *HistoryCache) Add(kind SampleKind, key KeyHash, payload []byte, timestamp time.Time) (Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limits.MaxSamples > 0 && len(c.order) >= c.limits.MaxSamples {
		if !c.evictOneLocked(key) {
			return Sample{}, ErrResourceLimitExceeded
		}
	}

	s := Sample{
		WriterGuid:      c.WriterGuid,
		SequenceNumber:  c.nextSN,
		SourceTimestamp: timestamp,
		Kind:            kind,
		KeyHash:         key,
		Payload:         payload,
	}
	c.nextSN++

	c.order = append(c.order, s.SequenceNumber)
	c.samples[s.SequenceNumber] = s
	c.byKey[key] = append(c.byKey[key], s.SequenceNumber)

	c.applyHistoryDepthLocked(key)
	return s, nil
}

// evictOneLocked drops the oldest sample of the same instance as key
// to make room under ResourceLimits.MaxSamples. Reports whether it
// found anything to evict.
func (c *HistoryCache) evictOneLocked(key KeyHash) bool {
	sns := c.byKey[key]
	if len(sns) == 0 {
		return false
	}
	oldest := sns[0]
	c.removeLocked(oldest, key)
	return true
}

func (c *HistoryCache) applyHistoryDepthLocked(key KeyHash) {
	if c.history.Kind != qos.KeepLast {
		return
	}
	sns := c.byKey[key]
	for len(sns) > c.history.Depth {
		c.removeLocked(sns[0], key)
		sns = c.byKey[key]
	}
}

func (c *HistoryCache) removeLocked(sn guid.SequenceNumber, key KeyHash) {
	delete(c.samples, sn)
	for i, v := range c.order {
		if v == sn {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	lst := c.byKey[key]
	for i, v := range lst {
		if v == sn {
			c.byKey[key] = append(lst[:i], lst[i+1:]...)
			break
		}
	}
}

// Get returns a single sample by sequence number.
func (c *HistoryCache) Get(sn guid.SequenceNumber) (Sample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.samples[sn]
	return s, ok
}

// GetRange returns every sample in [lo, hi] in increasing SN order.
func (c *HistoryCache) GetRange(lo, hi guid.SequenceNumber) []Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Sample
	for _, sn := range c.order {
		if sn < lo {
			continue
		}
		if sn > hi {
			break
		}
		out = append(out, c.samples[sn])
	}
	return out
}

// NextSN returns the sequence number that will be assigned to the
// next sample added to this cache, without consuming it.
func (c *HistoryCache) NextSN() guid.SequenceNumber {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nextSN
}

// LastSN returns the highest sequence number currently in the cache,
// or SequenceNumberUnknown if the cache is empty.
func (c *HistoryCache) LastSN() guid.SequenceNumber {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.order) == 0 {
		return guid.SequenceNumberUnknown
	}
	return c.order[len(c.order)-1]
}

// FirstSN returns the lowest sequence number currently in the cache,
// or SequenceNumberUnknown if the cache is empty.
func (c *HistoryCache) FirstSN() guid.SequenceNumber {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.order) == 0 {
		return guid.SequenceNumberUnknown
	}
	return c.order[0]
}

// EvictExpired drops every sample whose Lifespan has elapsed as of
// now. A zero Lifespan means samples never expire.
func (c *HistoryCache) EvictExpired(now time.Time) {
	if c.lifespan <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i := 0
	for i < len(c.order) {
		sn := c.order[i]
		s := c.samples[sn]
		if now.Sub(s.SourceTimestamp) <= c.lifespan {
			break
		}
		c.removeLocked(sn, s.KeyHash)
	}
}
