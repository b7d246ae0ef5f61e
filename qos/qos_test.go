package qos

import "testing"

func TestOfferedMeetsRequestedReliability(t *testing.T) {
	offeredBE := Default()
	requestedReliable := Default()
	requestedReliable.Reliability.Kind = Reliable

	if OfferedMeetsRequested(offeredBE, requestedReliable) {
		t.Fatal("best-effort offer should not satisfy a reliable request")
	}

	offeredReliable := offeredBE
	offeredReliable.Reliability.Kind = Reliable
	if !OfferedMeetsRequested(offeredReliable, requestedReliable) {
		t.Fatal("reliable offer should satisfy a reliable request")
	}
	if !OfferedMeetsRequested(offeredReliable, offeredBE) {
		t.Fatal("reliable offer should satisfy a best-effort request")
	}
}

func TestOfferedMeetsRequestedDurability(t *testing.T) {
	offered := Default()
	offered.Durability = TransientLocal
	requested := Default()
	requested.Durability = Transient

	if OfferedMeetsRequested(offered, requested) {
		t.Fatal("transient-local offer should not satisfy a transient request")
	}

	offered.Durability = Persistent
	if !OfferedMeetsRequested(offered, requested) {
		t.Fatal("persistent offer should satisfy a transient request")
	}
}

func TestOfferedMeetsRequestedDeadline(t *testing.T) {
	offered := Default()
	offered.Deadline = 5
	requested := Default()
	requested.Deadline = 2

	if OfferedMeetsRequested(offered, requested) {
		t.Fatal("an offered deadline longer than requested should fail to match")
	}

	offered.Deadline = 1
	if !OfferedMeetsRequested(offered, requested) {
		t.Fatal("an offered deadline shorter than requested should match")
	}
}
