package chain

import "testing"

func TestDeriveEscrowAddressDeterministic(t *testing.T) {
	a := DeriveEscrowAddress("program-1", "intent-1")
	b := DeriveEscrowAddress("program-1", "intent-1")
	if a != b {
		t.Errorf("same inputs produced different addresses: %s vs %s", a, b)
	}
	if a == "" {
		t.Fatal("empty address")
	}
}

func TestDeriveEscrowAddressDistinct(t *testing.T) {
	seen := map[string]string{}
	inputs := []struct{ program, intent string }{
		{"program-1", "intent-1"},
		{"program-1", "intent-2"},
		{"program-2", "intent-1"},
		{"program-2", "intent-2"},
	}
	for _, in := range inputs {
		addr := DeriveEscrowAddress(in.program, in.intent)
		if prev, ok := seen[addr]; ok {
			t.Errorf("address collision between %q and %s/%s", prev, in.program, in.intent)
		}
		seen[addr] = in.program + "/" + in.intent
	}
}

func TestDeriveDisputeAddressDiffersFromEscrow(t *testing.T) {
	escrow := DeriveEscrowAddress("program-1", "intent-1")
	dispute := DeriveDisputeAddress("program-1", escrow)
	if dispute == escrow {
		t.Error("dispute address must not equal its parent escrow address")
	}
	if dispute != DeriveDisputeAddress("program-1", escrow) {
		t.Error("dispute derivation is not deterministic")
	}
}
