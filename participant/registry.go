package participant

import (
	"sync"
	"sync/atomic"

	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/reactor"
)

// topicRegistry tracks this participant's declared topics and its
// locally owned writers and readers, all keyed by their own EntityId.
// It lives on the user-data event loop: every mutating method below is
// called either directly by application goroutines creating an entity
// (before the entity is reachable from discovery) or from within a
// NotifyDiscovery closure already running on the loop's own goroutine.
type topicRegistry struct {
	mu      sync.Mutex
	topics  map[string]Topic
	writers map[guid.EntityId]*DataWriter
	readers map[guid.EntityId]*DataReader
	nextKey uint32
}

func newTopicRegistry() *topicRegistry {
	return &topicRegistry{
		topics:  make(map[string]Topic),
		writers: make(map[guid.EntityId]*DataWriter),
		readers: make(map[guid.EntityId]*DataReader),
	}
}

// nextEntityId allocates a fresh user EntityId: a monotonically
// increasing 3-byte key plus the kind byte identifying
// {reader,writer} x {keyed,keyless}.
func (r *topicRegistry) nextEntityId(keyed, isWriter bool) guid.EntityId {
	n := atomic.AddUint32(&r.nextKey, 1)
	key := [3]byte{byte(n >> 16), byte(n >> 8), byte(n)}
	var kind guid.EntityKind
	switch {
	case isWriter && keyed:
		kind = guid.KindWriterWithKey
	case isWriter && !keyed:
		kind = guid.KindWriterNoKey
	case !isWriter && keyed:
		kind = guid.KindReaderWithKey
	default:
		kind = guid.KindReaderNoKey
	}
	return guid.NewEntityId(key, kind)
}

func (r *topicRegistry) declare(t Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics[t.Name] = t
}

func (r *topicRegistry) find(name string) (Topic, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[name]
	return t, ok
}

func (r *topicRegistry) addWriter(dw *DataWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writers[dw.writer.Guid.EntityId] = dw
}

func (r *topicRegistry) removeWriter(id guid.EntityId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.writers, id)
}

func (r *topicRegistry) addReader(dr *DataReader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers[dr.reader.Guid.EntityId] = dr
}

func (r *topicRegistry) removeReader(id guid.EntityId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.readers, id)
}

func (r *topicRegistry) writersFor(topicName string) []*DataWriter {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*DataWriter
	for _, dw := range r.writers {
		if dw.topic.Name == topicName {
			out = append(out, dw)
		}
	}
	return out
}

func (r *topicRegistry) readersFor(topicName string) []*DataReader {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*DataReader
	for _, dr := range r.readers {
		if dr.topic.Name == topicName {
			out = append(out, dr)
		}
	}
	return out
}

// dropRemotesFrom unmatches every locally owned writer and reader from
// any matched remote entity carrying the given guid prefix, called
// from the user loop's own goroutine once discovery has declared that
// participant lost.
func (r *topicRegistry) dropRemotesFrom(l *reactor.Loop, prefix guid.GuidPrefix) {
	r.mu.Lock()
	writers := make([]*DataWriter, 0, len(r.writers))
	for _, dw := range r.writers {
		writers = append(writers, dw)
	}
	readers := make([]*DataReader, 0, len(r.readers))
	for _, dr := range r.readers {
		readers = append(readers, dr)
	}
	r.mu.Unlock()

	for _, dw := range writers {
		for _, rg := range dw.writer.MatchedReaders() {
			if rg.Prefix == prefix {
				dw.writer.RemoveMatchedReader(rg)
			}
		}
	}
	for _, dr := range readers {
		for _, wg := range dr.reader.MatchedWriters() {
			if wg.Prefix == prefix {
				dr.reader.RemoveMatchedWriter(wg)
			}
		}
	}
}
