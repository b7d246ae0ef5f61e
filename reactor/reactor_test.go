package reactor

import (
	"net"
	"testing"
	"time"

	"github.com/dds-go/rtps/guid"
	"github.com/dds-go/rtps/history"
	"github.com/dds-go/rtps/qos"
	"github.com/dds-go/rtps/rtpsreader"
	"github.com/dds-go/rtps/rtpswriter"
	"github.com/dds-go/rtps/transport"
	"github.com/dds-go/rtps/wire"
)

type nullDemuxer struct{}

func (nullDemuxer) HandleDatagram(src *net.UDPAddr, data []byte) {}

func loopTestGuid(entityId guid.EntityId) guid.Guid {
	var prefix guid.GuidPrefix
	copy(prefix[:], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	return guid.New(prefix, entityId)
}

func reliableLoopPolicies() qos.Policies {
	p := qos.Default()
	p.Reliability = qos.Reliability{Kind: qos.Reliable}
	p.History = qos.History{Kind: qos.KeepLast, Depth: 10}
	return p
}

func readOneMessage(t *testing.T, sock *transport.Socket) (wire.Header, []wire.Submessage) {
	t.Helper()
	sock.Conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 65536)
	n, _, err := sock.ReadFrom(buf)
	if err != nil {
		t.Fatalf("reading datagram: %v", err)
	}
	header, subs, err := wire.Parse(buf[:n])
	if err != nil {
		t.Fatalf("parsing datagram: %v", err)
	}
	return header, subs
}

func TestTokenEncodingDistinguishesDataFromTimer(t *testing.T) {
	id := guid.EntityIdSedpBuiltinPublicationsWriter
	data := DataToken(id)
	timer := TimerToken(id, TimerHeartbeat)

	if !data.IsPerEntity() || data.IsTimer() {
		t.Fatalf("expected data token to be per-entity, non-timer: %v", data)
	}
	if !timer.IsPerEntity() || !timer.IsTimer() {
		t.Fatalf("expected timer token to be per-entity timer: %v", timer)
	}
	if timer.TimerKind() != TimerHeartbeat {
		t.Fatalf("expected timer kind Heartbeat, got %v", timer.TimerKind())
	}
	if data.EntityId() != id || timer.EntityId() != id {
		t.Fatalf("expected entity id to round trip through token encoding")
	}
}

func TestTokenEncodingDistinctTimerKindsDontCollide(t *testing.T) {
	id := guid.EntityIdSedpBuiltinPublicationsReader
	hb := TimerToken(id, TimerHeartbeat)
	nr := TimerToken(id, TimerNackResponse)
	dl := TimerToken(id, TimerDeadline)
	cc := TimerToken(id, TimerCacheClean)
	if hb == nr || hb == dl || hb == cc || nr == dl || nr == cc || dl == cc {
		t.Fatal("expected distinct timer kinds to produce distinct tokens")
	}
}

func TestTimerQueueFiresInDeadlineOrder(t *testing.T) {
	q := NewTimerQueue()
	var order []int
	base := time.Now()
	q.Schedule(Token(1), base.Add(30*time.Millisecond), func() { order = append(order, 3) })
	q.Schedule(Token(2), base.Add(10*time.Millisecond), func() { order = append(order, 1) })
	q.Schedule(Token(3), base.Add(20*time.Millisecond), func() { order = append(order, 2) })

	q.FireDue(base.Add(25 * time.Millisecond))
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected [1 2] fired in order, got %v", order)
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 timer still pending, got %d", q.Len())
	}
}

func TestTimerQueueRescheduleReplacesPending(t *testing.T) {
	q := NewTimerQueue()
	fired := 0
	base := time.Now()
	q.Schedule(Token(1), base.Add(5*time.Millisecond), func() { fired = 1 })
	q.Schedule(Token(1), base.Add(50*time.Millisecond), func() { fired = 2 })

	q.FireDue(base.Add(10 * time.Millisecond))
	if fired != 0 {
		t.Fatalf("expected rescheduled timer to not fire yet, fired=%d", fired)
	}
	q.FireDue(base.Add(60 * time.Millisecond))
	if fired != 2 {
		t.Fatalf("expected rescheduled timer's latest callback to run, fired=%d", fired)
	}
}

func TestTimerQueueCancel(t *testing.T) {
	q := NewTimerQueue()
	fired := false
	q.Schedule(Token(1), time.Now(), func() { fired = true })
	q.Cancel(Token(1))
	q.FireDue(time.Now().Add(time.Second))
	if fired {
		t.Fatal("expected cancelled timer to never fire")
	}
}

func TestLoopDrainsWriterOnNotifyWriterReady(t *testing.T) {
	out, err := transport.Listen(0)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	dst, err := transport.Listen(0)
	if err != nil {
		t.Fatal(err)
	}
	defer dst.Close()

	l := New(map[Token]*transport.Socket{TokenUserUnicastSocket: out}, nullDemuxer{})

	w := rtpswriter.New(loopTestGuid(guid.EntityIdSedpBuiltinPublicationsWriter), "T", "RandomData", reliableLoopPolicies())
	readerGuid := loopTestGuid(guid.EntityIdSedpBuiltinPublicationsReader)
	dstAddr := dst.Conn.LocalAddr().(*net.UDPAddr)
	w.AddMatchedReader(readerGuid, []guid.Locator{guid.NewUDPv4(dstAddr.IP, uint16(dstAddr.Port))}, nil, qos.Reliable, false)
	if _, err := w.Write(history.KindData, history.KeyHash{}, []byte{42}, time.Now()); err != nil {
		t.Fatal(err)
	}
	l.Writers()[w.Guid.EntityId] = w

	go l.Run()
	defer func() { l.Stop(); l.Wait() }()

	l.NotifyWriterReady(w.Guid.EntityId)

	_, subs := readOneMessage(t, dst)
	if len(subs) != 1 {
		t.Fatalf("expected 1 submessage, got %d", len(subs))
	}
	d, ok := subs[0].(wire.Data)
	if !ok {
		t.Fatalf("expected a DATA submessage, got %T", subs[0])
	}
	if string(d.Payload) != "\x2a" {
		t.Fatalf("expected payload 0x2a, got %v", d.Payload)
	}
}

func TestLoopSendsPeriodicHeartbeatForRegisteredWriter(t *testing.T) {
	out, err := transport.Listen(0)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	dst, err := transport.Listen(0)
	if err != nil {
		t.Fatal(err)
	}
	defer dst.Close()

	l := New(map[Token]*transport.Socket{TokenUserUnicastSocket: out}, nullDemuxer{})
	go l.Run()
	defer func() { l.Stop(); l.Wait() }()

	w := rtpswriter.New(loopTestGuid(guid.EntityIdSedpBuiltinPublicationsWriter), "T", "RandomData", reliableLoopPolicies())
	w.SetHeartbeatPeriod(20 * time.Millisecond)
	readerGuid := loopTestGuid(guid.EntityIdSedpBuiltinPublicationsReader)
	dstAddr := dst.Conn.LocalAddr().(*net.UDPAddr)
	w.AddMatchedReader(readerGuid, []guid.Locator{guid.NewUDPv4(dstAddr.IP, uint16(dstAddr.Port))}, nil, qos.Reliable, false)
	l.AddWriter(w)

	_, subs := readOneMessage(t, dst)
	if len(subs) != 1 {
		t.Fatalf("expected 1 submessage, got %d", len(subs))
	}
	if _, ok := subs[0].(wire.Heartbeat); !ok {
		t.Fatalf("expected a HEARTBEAT submessage, got %T", subs[0])
	}
}

func TestLoopFiresDeadlineMissedForRegisteredReader(t *testing.T) {
	out, err := transport.Listen(0)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	prevPeriod := DeadlineCheckPeriod
	DeadlineCheckPeriod = 10 * time.Millisecond
	defer func() { DeadlineCheckPeriod = prevPeriod }()

	l := New(map[Token]*transport.Socket{TokenUserUnicastSocket: out}, nullDemuxer{})
	go l.Run()
	defer func() { l.Stop(); l.Wait() }()

	cache := history.NewTopicCache("T", "RandomData", qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{})
	p := reliableLoopPolicies()
	p.Deadline = 5 * time.Millisecond
	r := rtpsreader.New(loopTestGuid(guid.EntityIdSedpBuiltinSubscriptionsReader), "T", "RandomData", p, cache)
	writerGuid := loopTestGuid(guid.EntityIdSedpBuiltinPublicationsWriter)
	r.AddMatchedWriter(writerGuid, nil, nil)

	missed := make(chan guid.Guid, 1)
	r.OnDeadlineMissed = func(wg guid.Guid) {
		select {
		case missed <- wg:
		default:
		}
	}
	l.AddReader(r)

	select {
	case wg := <-missed:
		if wg != writerGuid {
			t.Fatalf("expected missed writer %v, got %v", writerGuid, wg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RequestedDeadlineMissed")
	}
}
