package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/mesh-marketplace/backend/internal/errs"
	"github.com/mesh-marketplace/backend/internal/models"
)

func testSetup(t *testing.T) (*FakeClient, *KeypairWallet, *KeypairWallet, *KeypairWallet) {
	t.Helper()
	owner, err := GenerateWallet()
	if err != nil {
		t.Fatal(err)
	}
	agent, err := GenerateWallet()
	if err != nil {
		t.Fatal(err)
	}
	arbitrator, err := GenerateWallet()
	if err != nil {
		t.Fatal(err)
	}
	client := NewFakeClient("test-program", arbitrator.PublicKey())
	return client, owner, agent, arbitrator
}

func mustDeposit(t *testing.T, c *FakeClient, owner Wallet, agentPubkey, intentID string, lamports int64) InitializeResult {
	t.Helper()
	res, err := c.InitializeEscrow(context.Background(), owner, intentID, lamports, agentPubkey)
	if err != nil {
		t.Fatalf("InitializeEscrow: %v", err)
	}
	return res
}

func TestInitializeAndRelease(t *testing.T) {
	ctx := context.Background()
	client, owner, agent, _ := testSetup(t)

	res := mustDeposit(t, client, owner, agent.PublicKey(), "intent-1", 1_000_000_000)
	if res.Signature == "" || res.EscrowAddress == "" {
		t.Fatal("empty initialize result")
	}
	if res.EscrowAddress != client.DeriveEscrowAddress("intent-1") {
		t.Error("escrow address does not match derivation")
	}

	st, err := client.GetEscrowData(ctx, "intent-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != models.EscrowStatusActive || st.Lamports != 1_000_000_000 {
		t.Errorf("unexpected state after deposit: %+v", st)
	}
	if st.IntentOwner != owner.PublicKey() || st.Agent != agent.PublicKey() {
		t.Error("parties recorded incorrectly")
	}

	if _, err := client.ReleaseFunds(ctx, owner, "intent-1"); err != nil {
		t.Fatalf("ReleaseFunds: %v", err)
	}
	if got := client.Credited(agent.PublicKey()); got != 1_000_000_000 {
		t.Errorf("agent credited %d, want full amount", got)
	}

	st, _ = client.GetEscrowData(ctx, "intent-1")
	if st.Status != models.EscrowStatusCompleted {
		t.Errorf("status after release = %s, want completed", st.Status)
	}
}

func TestDuplicateDeposit(t *testing.T) {
	client, owner, agent, _ := testSetup(t)
	mustDeposit(t, client, owner, agent.PublicKey(), "intent-1", 100)

	_, err := client.InitializeEscrow(context.Background(), owner, "intent-1", 100, agent.PublicKey())
	if !errors.Is(err, errs.ErrDuplicate) {
		t.Errorf("second deposit error = %v, want duplicate", err)
	}
}

func TestInitializeValidation(t *testing.T) {
	client, owner, agent, _ := testSetup(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		intentID string
		lamports int64
		agent    string
	}{
		{"empty intent", "", 100, agent.PublicKey()},
		{"zero amount", "intent-1", 0, agent.PublicKey()},
		{"negative amount", "intent-1", -5, agent.PublicKey()},
		{"empty agent", "intent-1", 100, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.InitializeEscrow(ctx, owner, tc.intentID, tc.lamports, tc.agent)
			if !errors.Is(err, errs.ErrValidation) {
				t.Errorf("error = %v, want validation", err)
			}
		})
	}
}

func TestReleaseAuthorization(t *testing.T) {
	ctx := context.Background()
	client, owner, agent, arbitrator := testSetup(t)
	mustDeposit(t, client, owner, agent.PublicKey(), "intent-1", 100)

	// Neither the agent nor the arbitrator may release
	for _, signer := range []Wallet{agent, arbitrator} {
		if _, err := client.ReleaseFunds(ctx, signer, "intent-1"); !errors.Is(err, errs.ErrUnauthorized) {
			t.Errorf("release by %s error = %v, want unauthorized", signer.PublicKey(), err)
		}
	}

	// A failed attempt changes nothing
	st, _ := client.GetEscrowData(ctx, "intent-1")
	if st.Status != models.EscrowStatusActive {
		t.Errorf("status after rejected release = %s, want active", st.Status)
	}
}

func TestRefundSigners(t *testing.T) {
	ctx := context.Background()
	client, owner, agent, arbitrator := testSetup(t)

	// Owner refund
	mustDeposit(t, client, owner, agent.PublicKey(), "intent-1", 300)
	if _, err := client.RefundEscrow(ctx, owner, "intent-1"); err != nil {
		t.Fatalf("owner refund: %v", err)
	}
	if got := client.Credited(owner.PublicKey()); got != 300 {
		t.Errorf("owner credited %d, want 300", got)
	}

	// Arbitrator refund
	mustDeposit(t, client, owner, agent.PublicKey(), "intent-2", 200)
	if _, err := client.RefundEscrow(ctx, arbitrator, "intent-2"); err != nil {
		t.Fatalf("arbitrator refund: %v", err)
	}

	// Agent may not refund
	mustDeposit(t, client, owner, agent.PublicKey(), "intent-3", 100)
	if _, err := client.RefundEscrow(ctx, agent, "intent-3"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("agent refund error = %v, want unauthorized", err)
	}
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	ctx := context.Background()
	client, owner, agent, _ := testSetup(t)
	mustDeposit(t, client, owner, agent.PublicKey(), "intent-1", 100)

	if _, err := client.ReleaseFunds(ctx, owner, "intent-1"); err != nil {
		t.Fatal(err)
	}

	if _, err := client.ReleaseFunds(ctx, owner, "intent-1"); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("double release error = %v, want invalid state", err)
	}
	if _, err := client.RefundEscrow(ctx, owner, "intent-1"); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("refund after release error = %v, want invalid state", err)
	}
	if _, err := client.CreateDispute(ctx, owner, "intent-1", "late delivery"); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("dispute after release error = %v, want invalid state", err)
	}

	// No double payout happened
	if got := client.Credited(agent.PublicKey()); got != 100 {
		t.Errorf("agent credited %d after rejected retries, want 100", got)
	}
}

func TestDisputeFlow(t *testing.T) {
	ctx := context.Background()
	client, owner, agent, arbitrator := testSetup(t)
	mustDeposit(t, client, owner, agent.PublicKey(), "intent-1", 1_000)

	// Stranger cannot dispute
	stranger, _ := GenerateWallet()
	if _, err := client.CreateDispute(ctx, stranger, "intent-1", "not my deal"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("stranger dispute error = %v, want unauthorized", err)
	}

	res, err := client.CreateDispute(ctx, agent, "intent-1", "owner unresponsive")
	if err != nil {
		t.Fatalf("CreateDispute: %v", err)
	}
	if res.DisputeAddress == "" {
		t.Fatal("empty dispute address")
	}

	st, _ := client.GetEscrowData(ctx, "intent-1")
	if st.Status != models.EscrowStatusDisputed {
		t.Errorf("status = %s, want disputed", st.Status)
	}

	// Release is blocked while disputed
	if _, err := client.ReleaseFunds(ctx, owner, "intent-1"); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("release while disputed error = %v, want invalid state", err)
	}

	// Second open dispute is a duplicate
	if _, err := client.CreateDispute(ctx, owner, "intent-1", "counter claim"); !errors.Is(err, errs.ErrDuplicate) {
		t.Errorf("second dispute error = %v, want duplicate", err)
	}

	// Only the arbitrator resolves
	if _, err := client.ResolveDispute(ctx, owner, "intent-1", RefundToOwner()); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("owner resolve error = %v, want unauthorized", err)
	}

	if _, err := client.ResolveDispute(ctx, arbitrator, "intent-1", RefundToOwner()); err != nil {
		t.Fatalf("ResolveDispute: %v", err)
	}
	if got := client.Credited(owner.PublicKey()); got != 1_000 {
		t.Errorf("owner credited %d, want 1000", got)
	}

	d, err := client.GetDisputeData(ctx, "intent-1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != models.DisputeStatusResolved || d.Resolution == nil {
		t.Errorf("dispute not marked resolved: %+v", d)
	}

	// Resolution is final
	if _, err := client.ResolveDispute(ctx, arbitrator, "intent-1", ReleaseToAgent()); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("second resolve error = %v, want invalid state", err)
	}
}

func TestResolveSplitPayouts(t *testing.T) {
	ctx := context.Background()
	client, owner, agent, arbitrator := testSetup(t)
	mustDeposit(t, client, owner, agent.PublicKey(), "intent-1", 101)

	if _, err := client.CreateDispute(ctx, owner, "intent-1", "partial delivery"); err != nil {
		t.Fatal(err)
	}

	split, err := Split(50)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.ResolveDispute(ctx, arbitrator, "intent-1", split); err != nil {
		t.Fatalf("ResolveDispute: %v", err)
	}

	agentGot := client.Credited(agent.PublicKey())
	ownerGot := client.Credited(owner.PublicKey())
	if agentGot != 50 {
		t.Errorf("agent credited %d, want floor(101*50/100) = 50", agentGot)
	}
	if agentGot+ownerGot != 101 {
		t.Errorf("payouts %d + %d do not conserve the 101 total", agentGot, ownerGot)
	}

	st, _ := client.GetEscrowData(ctx, "intent-1")
	if st.Status != models.EscrowStatusSplit {
		t.Errorf("status = %s, want split", st.Status)
	}
}

func TestGetEscrowDataNotFound(t *testing.T) {
	client, _, _, _ := testSetup(t)
	if _, err := client.GetEscrowData(context.Background(), "missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestGetDisputeDataNeverFiled(t *testing.T) {
	client, owner, agent, _ := testSetup(t)
	mustDeposit(t, client, owner, agent.PublicKey(), "intent-1", 100)

	d, err := client.GetDisputeData(context.Background(), "intent-1")
	if err != nil {
		t.Fatalf("no dispute filed must not be an error, got %v", err)
	}
	if d != nil {
		t.Errorf("expected nil dispute, got %+v", d)
	}
}

// Getter results are copies: mutating them must not touch program state.
func TestGetEscrowDataReturnsCopy(t *testing.T) {
	ctx := context.Background()
	client, owner, agent, _ := testSetup(t)
	mustDeposit(t, client, owner, agent.PublicKey(), "intent-1", 100)

	st, _ := client.GetEscrowData(ctx, "intent-1")
	st.Status = models.EscrowStatusCompleted
	st.Lamports = 0

	again, _ := client.GetEscrowData(ctx, "intent-1")
	if again.Status != models.EscrowStatusActive || again.Lamports != 100 {
		t.Error("mutating a getter result leaked into program state")
	}
}
