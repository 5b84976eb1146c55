package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/mesh-marketplace/backend/internal/errs"
)

// LamportsPerSOL is the fixed-point scale between the human-facing
// decimal unit and the integer minor unit.
const LamportsPerSOL = 1_000_000_000

var lamportsScale = big.NewInt(LamportsPerSOL)

// ToLamports converts a decimal SOL amount to lamports, flooring any
// precision beyond nine digits. Floor, never round-to-nearest: rounding
// up on conversion would create lamports out of thin air.
func ToLamports(amount string) (int64, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(amount))
	if !ok {
		return 0, errs.Validationf("invalid amount %q", amount)
	}
	if r.Sign() <= 0 {
		return 0, errs.Validationf("amount must be positive, got %q", amount)
	}
	// Quo truncates toward zero, which is floor for positive values.
	lam := new(big.Int).Quo(new(big.Int).Mul(r.Num(), lamportsScale), r.Denom())
	if !lam.IsInt64() {
		return 0, errs.Validationf("amount %q overflows lamports", amount)
	}
	return lam.Int64(), nil
}

// FormatLamports renders lamports as a decimal SOL string with
// trailing zeros trimmed.
func FormatLamports(lamports int64) string {
	whole := lamports / LamportsPerSOL
	frac := lamports % LamportsPerSOL
	if frac < 0 {
		frac = -frac
	}
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	s := strings.TrimRight(fmt.Sprintf("%09d", frac), "0")
	return fmt.Sprintf("%d.%s", whole, s)
}

// SplitLamports distributes total between agent and owner: the agent
// gets floor(total * agentPercentage / 100), the owner the remainder.
// The two parts always sum to total exactly.
func SplitLamports(total int64, agentPercentage int) (agent, owner int64, err error) {
	if total < 0 {
		return 0, 0, errs.Validationf("negative total %d", total)
	}
	if agentPercentage < 0 || agentPercentage > 100 {
		return 0, 0, errs.Validationf("agent percentage %d out of range [0,100]", agentPercentage)
	}
	a := new(big.Int).Div(
		new(big.Int).Mul(big.NewInt(total), big.NewInt(int64(agentPercentage))),
		big.NewInt(100),
	)
	agent = a.Int64()
	return agent, total - agent, nil
}
