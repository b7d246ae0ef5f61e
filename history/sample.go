// Package history implements the writer-side HistoryCache and its
// ReaderProxy bookkeeping, the reader-side WriterProxy bookkeeping,
// and the participant-wide TopicCache.
package history

import (
	"time"

	"github.com/dds-go/rtps/guid"
)

// SampleKind distinguishes an ordinary update from an instance
// lifecycle transition.
type SampleKind int

const (
	KindData SampleKind = iota
	KindDispose
	KindUnregister
)

// KeyHash identifies an instance within a keyed topic; for keyless
// topics it is always the zero value.
type KeyHash [16]byte

// Sample is one RTPS-level update: the wire identity (writer +
// sequence number) plus the CDR-opaque payload.
type Sample struct {
	WriterGuid      guid.Guid
	SequenceNumber  guid.SequenceNumber
	SourceTimestamp time.Time
	Kind            SampleKind
	KeyHash         KeyHash
	Payload         []byte
}
