package receiver

import (
	"net"
	"testing"
	"time"

	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/history"
	"github.com/dds-go/rtps/qos"
	"github.com/dds-go/rtps/reactor"
	"github.com/dds-go/rtps/rtpsreader"
	"github.com/dds-go/rtps/rtpswriter"
	"github.com/dds-go/rtps/transport"
	"github.com/dds-go/rtps/wire"
)

func prefix(b byte) guid.GuidPrefix {
	var p guid.GuidPrefix
	for i := range p {
		p[i] = b
	}
	return p
}

func reliablePolicies() qos.Policies {
	p := qos.Default()
	p.Reliability = qos.Reliability{Kind: qos.Reliable}
	return p
}

func TestHandleDatagramDispatchesDataToMatchingReader(t *testing.T) {
	localPrefix := prefix(0x01)
	remoteWriterPrefix := prefix(0x02)
	writerGuid := guid.New(remoteWriterPrefix, guid.EntityIdSedpBuiltinPublicationsWriter)

	cache := history.NewTopicCache("T", "Type", qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{})
	reader := rtpsreader.New(guid.New(localPrefix, guid.EntityIdSedpBuiltinSubscriptionsReader), "T", "Type", reliablePolicies(), cache)
	reader.AddMatchedWriter(writerGuid, nil, nil)

	recv := New(localPrefix)
	loop := reactor.New(map[reactor.Token]*transport.Socket{}, recv)
	recv.SetLoop(loop)
	loop.Readers()[reader.Guid.EntityId] = reader

	header := wire.NewHeaderFor(remoteWriterPrefix)
	data := wire.Data{
		ReaderId:   reader.Guid.EntityId,
		WriterId:   writerGuid.EntityId,
		WriterSN:   guid.First,
		HasPayload: true,
		Payload:    []byte("hello"),
	}
	raw := wire.Marshal(header, []wire.Submessage{data})

	recv.HandleDatagram(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}, raw)

	got := cache.GetRange(writerGuid, guid.First, guid.First)
	if len(got) != 1 {
		t.Fatalf("expected 1 deposited sample, got %d", len(got))
	}
	if string(got[0].Payload) != "hello" {
		t.Fatalf("expected payload %q, got %q", "hello", got[0].Payload)
	}
}

func TestHandleDatagramIgnoresDataAddressedToADifferentReader(t *testing.T) {
	localPrefix := prefix(0x01)
	remoteWriterPrefix := prefix(0x02)
	writerGuid := guid.New(remoteWriterPrefix, guid.EntityIdSedpBuiltinPublicationsWriter)

	cache := history.NewTopicCache("T", "Type", qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{})
	reader := rtpsreader.New(guid.New(localPrefix, guid.EntityIdSedpBuiltinSubscriptionsReader), "T", "Type", reliablePolicies(), cache)
	reader.AddMatchedWriter(writerGuid, nil, nil)

	recv := New(localPrefix)
	loop := reactor.New(map[reactor.Token]*transport.Socket{}, recv)
	recv.SetLoop(loop)
	loop.Readers()[reader.Guid.EntityId] = reader

	header := wire.NewHeaderFor(remoteWriterPrefix)
	data := wire.Data{
		ReaderId:   guid.EntityIdSedpBuiltinTopicsReader, // addressed elsewhere
		WriterId:   writerGuid.EntityId,
		WriterSN:   guid.First,
		HasPayload: true,
		Payload:    []byte("hello"),
	}
	raw := wire.Marshal(header, []wire.Submessage{data})

	recv.HandleDatagram(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}, raw)

	got := cache.GetRange(writerGuid, guid.First, guid.First)
	if len(got) != 0 {
		t.Fatalf("expected no deposited sample, got %d", len(got))
	}
}

func TestHandleDatagramHonorsInfoSourceOverride(t *testing.T) {
	localPrefix := prefix(0x01)
	headerPrefix := prefix(0x02)
	actualWriterPrefix := prefix(0x03)
	writerGuid := guid.New(actualWriterPrefix, guid.EntityIdSedpBuiltinPublicationsWriter)

	cache := history.NewTopicCache("T", "Type", qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{})
	reader := rtpsreader.New(guid.New(localPrefix, guid.EntityIdSedpBuiltinSubscriptionsReader), "T", "Type", reliablePolicies(), cache)
	reader.AddMatchedWriter(writerGuid, nil, nil)

	recv := New(localPrefix)
	loop := reactor.New(map[reactor.Token]*transport.Socket{}, recv)
	recv.SetLoop(loop)
	loop.Readers()[reader.Guid.EntityId] = reader

	header := wire.NewHeaderFor(headerPrefix)
	infoSource := wire.InfoSource{GuidPrefix: actualWriterPrefix}
	data := wire.Data{
		ReaderId:   reader.Guid.EntityId,
		WriterId:   writerGuid.EntityId,
		WriterSN:   guid.First,
		HasPayload: true,
		Payload:    []byte("overridden"),
	}
	raw := wire.Marshal(header, []wire.Submessage{infoSource, data})

	recv.HandleDatagram(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}, raw)

	got := cache.GetRange(writerGuid, guid.First, guid.First)
	if len(got) != 1 {
		t.Fatalf("expected INFO_SOURCE to redirect the sample to writer guid %v, got %d samples", writerGuid, len(got))
	}
}

func TestHandleDatagramAckNackDrivesNackResponseBackToRequester(t *testing.T) {
	localPrefix := prefix(0x01)
	remoteReaderPrefix := prefix(0x02)
	readerGuid := guid.New(remoteReaderPrefix, guid.EntityIdSedpBuiltinSubscriptionsReader)
	writerGuid := guid.New(localPrefix, guid.EntityIdSedpBuiltinPublicationsWriter)

	outSocket, err := transport.Listen(0)
	if err != nil {
		t.Fatal(err)
	}
	defer outSocket.Close()
	replySocket, err := transport.Listen(0)
	if err != nil {
		t.Fatal(err)
	}
	defer replySocket.Close()

	writer := rtpswriter.New(writerGuid, "T", "Type", reliablePolicies())
	writer.SetNackResponseDelay(5 * time.Millisecond)
	if _, err := writer.Write(history.KindData, history.KeyHash{}, []byte("payload"), time.Now()); err != nil {
		t.Fatal(err)
	}
	replyLocator := guid.NewUDPv4(net.IPv4(127, 0, 0, 1), uint16(replySocket.LocalPort()))
	writer.AddMatchedReader(readerGuid, []guid.Locator{replyLocator}, nil, qos.Reliable, false)

	recv := New(localPrefix)
	sockets := map[reactor.Token]*transport.Socket{reactor.TokenUserUnicastSocket: outSocket}
	loop := reactor.New(sockets, recv)
	recv.SetLoop(loop)
	loop.Writers()[writer.Guid.EntityId] = writer

	go loop.Run()
	defer func() {
		loop.Stop()
		loop.Wait()
	}()

	header := wire.NewHeaderFor(remoteReaderPrefix)
	ackNack := wire.AckNack{
		ReaderId:      readerGuid.EntityId,
		WriterId:      writerGuid.EntityId,
		ReaderSNState: wire.NewSNSetFromMissing([]guid.SequenceNumber{guid.First}, guid.First),
		Count:         1,
	}
	raw := wire.Marshal(header, []wire.Submessage{ackNack})
	recv.HandleDatagram(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9001}, raw)

	replySocket.Conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := replySocket.ReadFrom(buf)
	if err != nil {
		t.Fatalf("expected a nack-response datagram, got error: %v", err)
	}
	_, subs, err := wire.Parse(buf[:n])
	if err != nil {
		t.Fatalf("failed to parse nack-response message: %v", err)
	}
	found := false
	for _, sm := range subs {
		if d, ok := sm.(wire.Data); ok && d.WriterSN == guid.First && string(d.Payload) == "payload" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the nack-response to resend the requested sample")
	}
}
