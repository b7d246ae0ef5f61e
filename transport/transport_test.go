package transport

import "testing"

func TestComputePortsMatchesFormula(t *testing.T) {
	p := ComputePorts(0, 0)
	if p.SpdpMulticast != 7400 {
		t.Fatalf("expected spdp multicast port 7400, got %d", p.SpdpMulticast)
	}
	if p.SpdpUnicast != 7410 {
		t.Fatalf("expected spdp unicast port 7410, got %d", p.SpdpUnicast)
	}
	if p.UserMulticast != 7401 {
		t.Fatalf("expected user multicast port 7401, got %d", p.UserMulticast)
	}
	if p.UserUnicast != 7411 {
		t.Fatalf("expected user unicast port 7411, got %d", p.UserUnicast)
	}
}

func TestComputePortsAccountsForDomainAndParticipantIndex(t *testing.T) {
	p := ComputePorts(1, 3)
	if p.SpdpMulticast != 7650 {
		t.Fatalf("expected spdp multicast port 7650, got %d", p.SpdpMulticast)
	}
	if p.SpdpUnicast != 7650+10+6 {
		t.Fatalf("expected spdp unicast port %d, got %d", 7650+10+6, p.SpdpUnicast)
	}
}

func TestListenAndSendReceiveLoopback(t *testing.T) {
	a, err := Listen(0)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := Listen(0)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	dst := b.Conn.LocalAddr()
	if _, err := a.Conn.WriteTo([]byte("hello"), dst); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16)
	n, _, err := b.ReadFrom(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("expected to receive %q, got %q", "hello", buf[:n])
	}
}

func TestBindParticipantIndexFindsAFreePort(t *testing.T) {
	p, ports, sock, err := BindParticipantIndex(0)
	if err != nil {
		t.Fatal(err)
	}
	defer sock.Close()
	if p < 0 || p > MaxParticipantIndex {
		t.Fatalf("participant index out of range: %d", p)
	}
	if sock.LocalPort() != ports.SpdpUnicast {
		t.Fatalf("expected bound port %d to match computed spdp unicast port %d", sock.LocalPort(), ports.SpdpUnicast)
	}
}
