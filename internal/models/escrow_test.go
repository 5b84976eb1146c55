package models

import "testing"

func TestIsEscrowOpAllowed(t *testing.T) {
	tests := []struct {
		status   string
		op       string
		expected bool
	}{
		// Active escrow accepts every user operation
		{EscrowStatusActive, EscrowOpRelease, true},
		{EscrowStatusActive, EscrowOpRefund, true},
		{EscrowStatusActive, EscrowOpDispute, true},
		{EscrowStatusActive, EscrowOpResolve, false},

		// Disputed: no release until resolution
		{EscrowStatusDisputed, EscrowOpRelease, false},
		{EscrowStatusDisputed, EscrowOpRefund, true},
		{EscrowStatusDisputed, EscrowOpDispute, true},
		{EscrowStatusDisputed, EscrowOpResolve, true},

		// Terminal statuses accept nothing
		{EscrowStatusCompleted, EscrowOpRelease, false},
		{EscrowStatusCompleted, EscrowOpRefund, false},
		{EscrowStatusCompleted, EscrowOpDispute, false},
		{EscrowStatusCompleted, EscrowOpResolve, false},
		{EscrowStatusRefunded, EscrowOpRefund, false},
		{EscrowStatusRefunded, EscrowOpDispute, false},
		{EscrowStatusSplit, EscrowOpRelease, false},
		{EscrowStatusSplit, EscrowOpResolve, false},

		// Unknown inputs
		{"nonexistent", EscrowOpRelease, false},
		{EscrowStatusActive, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.status+"/"+tt.op, func(t *testing.T) {
			if got := IsEscrowOpAllowed(tt.status, tt.op); got != tt.expected {
				t.Errorf("IsEscrowOpAllowed(%q, %q) = %v, want %v", tt.status, tt.op, got, tt.expected)
			}
		})
	}
}

func TestIsTerminalEscrowStatus(t *testing.T) {
	tests := []struct {
		status   string
		expected bool
	}{
		{EscrowStatusActive, false},
		{EscrowStatusDisputed, false},
		{EscrowStatusCompleted, true},
		{EscrowStatusRefunded, true},
		{EscrowStatusSplit, true},
		{"nonexistent", false},
	}

	for _, tt := range tests {
		if got := IsTerminalEscrowStatus(tt.status); got != tt.expected {
			t.Errorf("IsTerminalEscrowStatus(%q) = %v, want %v", tt.status, got, tt.expected)
		}
	}
}
