package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/dds-go/rtps/guid"
)

// SNSet is a RTPS SequenceNumberSet: a base sequence number plus a
// bitmap of up to 256 bits, bit i meaning "base+i is in the set".
// ACKNACK uses it for missing sequence numbers, GAP for irrelevant
// ones.
type SNSet struct {
	Base guid.SequenceNumber
	Bits []bool // Bits[i] set means Base+SequenceNumber(i) is a member
}

// MaxBits is the largest bitmap RTPS 2.3 allows in one
// SequenceNumberSet.
const MaxBits = 256

// NewSNSetFromMissing builds an SNSet covering every element of
// missing, with Base set to the smallest (or base if missing is
// empty).
func NewSNSetFromMissing(missing []guid.SequenceNumber, emptyBase guid.SequenceNumber) SNSet {
	if len(missing) == 0 {
		return SNSet{Base: emptyBase}
	}
	base := missing[0]
	for _, sn := range missing[1:] {
		if sn < base {
			base = sn
		}
	}
	span := 0
	for _, sn := range missing {
		if d := int(sn - base); d > span {
			span = d
		}
	}
	bits := make([]bool, span+1)
	for _, sn := range missing {
		bits[int(sn-base)] = true
	}
	return SNSet{Base: base, Bits: bits}
}

// Members returns every sequence number this set contains.
func (s SNSet) Members() []guid.SequenceNumber {
	var out []guid.SequenceNumber
	for i, set := range s.Bits {
		if set {
			out = append(out, s.Base+guid.SequenceNumber(i))
		}
	}
	return out
}

func bitmapWords(numBits int) int { return (numBits + 31) / 32 }

// Marshal appends the wire form of s to dst.
func (s SNSet) Marshal(order binary.ByteOrder, dst []byte) []byte {
	var snbuf [8]byte
	s.Base.MarshalWire(order, snbuf[:])
	dst = append(dst, snbuf[:]...)

	numBits := len(s.Bits)
	var nb [4]byte
	order.PutUint32(nb[:], uint32(numBits))
	dst = append(dst, nb[:]...)

	words := bitmapWords(numBits)
	bitmap := make([]byte, words*4)
	for i, set := range s.Bits {
		if !set {
			continue
		}
		byteIdx := i / 8
		bitIdx := uint(7 - i%8)
		bitmap[byteIdx] |= 1 << bitIdx
	}
	return append(dst, bitmap...)
}

// ParseSNSet reads an SNSet from b, returning the number of bytes consumed.
func ParseSNSet(order binary.ByteOrder, b []byte) (SNSet, int, error) {
	if len(b) < 12 {
		return SNSet{}, 0, errors.New("wire: truncated sequencenumberset")
	}
	base, err := guid.ParseSequenceNumber(order, b[0:8])
	if err != nil {
		return SNSet{}, 0, err
	}
	numBits := int(order.Uint32(b[8:12]))
	if numBits < 0 || numBits > MaxBits {
		return SNSet{}, 0, errors.Errorf("wire: sequencenumberset bit count out of range: %d", numBits)
	}
	words := bitmapWords(numBits)
	total := 12 + words*4
	if len(b) < total {
		return SNSet{}, 0, errors.New("wire: truncated sequencenumberset bitmap")
	}
	bitmap := b[12:total]
	bits := make([]bool, numBits)
	for i := 0; i < numBits; i++ {
		byteIdx := i / 8
		bitIdx := uint(7 - i%8)
		bits[i] = bitmap[byteIdx]&(1<<bitIdx) != 0
	}
	return SNSet{Base: base, Bits: bits}, total, nil
}
