package wire

import (
	"github.com/pkg/errors"

	"github.com/dds-go/rtps/guid"
)

// Data submessage flags, beyond EndiannessFlag.
const (
	DataInlineQosFlag byte = 0x02
	DataPayloadFlag   byte = 0x04
	DataKeyFlag       byte = 0x08
)

// Data carries one sample: a writer's sequence number, optional
// inline QoS, and the serialized payload, opaque to this codec: CDR
// encoding of the user type is the public API facade's concern.
type Data struct {
	ReaderId     guid.EntityId
	WriterId     guid.EntityId
	WriterSN     guid.SequenceNumber
	InlineQos    ParameterList // present iff HasInlineQos
	HasInlineQos bool
	Payload      []byte // present iff HasPayload
	HasPayload   bool
	KeyOnly      bool // payload represents only the instance key (dispose/unregister)
	LittleEndian bool
}

func (d Data) SubmessageKind() Kind { return KindData }

func (d Data) WireFlags() byte {
	f := byte(0)
	if d.LittleEndian {
		f |= EndiannessFlag
	}
	if d.HasInlineQos {
		f |= DataInlineQosFlag
	}
	if d.HasPayload {
		f |= DataPayloadFlag
	}
	if d.KeyOnly {
		f |= DataKeyFlag
	}
	return f
}

func (d Data) MarshalBody() []byte {
	ord := byteOrder(d.WireFlags())

	head := make([]byte, 2+2+4+4+8)
	// extraFlags reserved, left zero
	ord.PutUint16(head[0:2], 0)
	// octetsToInlineQos: offset from just after this field to the
	// start of inline QoS (here, fixed since readerId/writerId/SN are
	// constant size: 4+4+8 = 16 bytes).
	ord.PutUint16(head[2:4], 16)
	copy(head[4:8], d.ReaderId[:])
	copy(head[8:12], d.WriterId[:])
	d.WriterSN.MarshalWire(ord, head[12:20])

	out := head
	if d.HasInlineQos {
		out = append(out, d.InlineQos.Marshal(ord)...)
	}
	if d.HasPayload {
		out = append(out, d.Payload...)
	}
	return out
}

// ParseData decodes a DATA submessage body.
func ParseData(flags byte, body []byte) (Data, error) {
	if len(body) < 20 {
		return Data{}, errors.New("wire: truncated data submessage")
	}
	ord := byteOrder(flags)
	var d Data
	copy(d.ReaderId[:], body[4:8])
	copy(d.WriterId[:], body[8:12])
	var err error
	if d.WriterSN, err = guid.ParseSequenceNumber(ord, body[12:20]); err != nil {
		return Data{}, err
	}
	d.LittleEndian = flags&EndiannessFlag != 0
	d.KeyOnly = flags&DataKeyFlag != 0

	rest := body[20:]
	if flags&DataInlineQosFlag != 0 {
		d.HasInlineQos = true
		pl, n, perr := ParseParameterList(ord, rest)
		if perr != nil {
			return Data{}, errors.Wrap(perr, "wire: data inline qos")
		}
		d.InlineQos = pl
		rest = rest[n:]
	}
	if flags&DataPayloadFlag != 0 {
		d.HasPayload = true
		d.Payload = append([]byte(nil), rest...)
	}
	return d, nil
}

// DataFrag carries one fragment of a sample too large to fit a
// single DATA submessage.
type DataFrag struct {
	ReaderId        guid.EntityId
	WriterId        guid.EntityId
	WriterSN        guid.SequenceNumber
	FragmentStartNum uint32
	FragmentsInSubmessage uint16
	FragmentSize    uint16
	SampleSize      uint32
	InlineQos       ParameterList
	HasInlineQos    bool
	Payload         []byte
	KeyOnly         bool
	LittleEndian    bool
}

func (d DataFrag) SubmessageKind() Kind { return KindDataFrag }

func (d DataFrag) WireFlags() byte {
	f := byte(0)
	if d.LittleEndian {
		f |= EndiannessFlag
	}
	if d.HasInlineQos {
		f |= DataInlineQosFlag
	}
	if d.KeyOnly {
		f |= DataKeyFlag
	}
	return f
}

func (d DataFrag) MarshalBody() []byte {
	ord := byteOrder(d.WireFlags())
	head := make([]byte, 2+2+4+4+8+4+2+2+4)
	ord.PutUint16(head[0:2], 0)
	ord.PutUint16(head[2:4], 28)
	copy(head[4:8], d.ReaderId[:])
	copy(head[8:12], d.WriterId[:])
	d.WriterSN.MarshalWire(ord, head[12:20])
	ord.PutUint32(head[20:24], d.FragmentStartNum)
	ord.PutUint16(head[24:26], d.FragmentsInSubmessage)
	ord.PutUint16(head[26:28], d.FragmentSize)
	ord.PutUint32(head[28:32], d.SampleSize)

	out := head
	if d.HasInlineQos {
		out = append(out, d.InlineQos.Marshal(ord)...)
	}
	out = append(out, d.Payload...)
	return out
}

// ParseDataFrag decodes a DATA_FRAG submessage body.
func ParseDataFrag(flags byte, body []byte) (DataFrag, error) {
	if len(body) < 32 {
		return DataFrag{}, errors.New("wire: truncated data_frag submessage")
	}
	ord := byteOrder(flags)
	var d DataFrag
	copy(d.ReaderId[:], body[4:8])
	copy(d.WriterId[:], body[8:12])
	var err error
	if d.WriterSN, err = guid.ParseSequenceNumber(ord, body[12:20]); err != nil {
		return DataFrag{}, err
	}
	d.FragmentStartNum = ord.Uint32(body[20:24])
	d.FragmentsInSubmessage = ord.Uint16(body[24:26])
	d.FragmentSize = ord.Uint16(body[26:28])
	d.SampleSize = ord.Uint32(body[28:32])
	d.LittleEndian = flags&EndiannessFlag != 0
	d.KeyOnly = flags&DataKeyFlag != 0

	rest := body[32:]
	if flags&DataInlineQosFlag != 0 {
		d.HasInlineQos = true
		pl, n, perr := ParseParameterList(ord, rest)
		if perr != nil {
			return DataFrag{}, errors.Wrap(perr, "wire: data_frag inline qos")
		}
		d.InlineQos = pl
		rest = rest[n:]
	}
	d.Payload = append([]byte(nil), rest...)
	return d, nil
}
