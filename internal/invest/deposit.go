package invest

import (
	"github.com/mbd888/yieldvault/internal/fixedpoint"
	"github.com/mbd888/yieldvault/internal/validation"
)

// Daily yield projection band in basis points (0.1% – 0.8%). Purely
// illustrative; not a contract guarantee.
const (
	DailyReturnLowBps  = 10
	DailyReturnHighBps = 80
)

// DepositValidator validates deposit amounts against vault limits and
// wallet balance. Pure; safe to call on every keystroke.
type DepositValidator struct {
	Decimals int
	MinLimit fixedpoint.Amount
	MaxLimit fixedpoint.Amount
}

// NewDepositValidator builds a validator for the given scale and limits.
func NewDepositValidator(decimals int, minLimit, maxLimit fixedpoint.Amount) DepositValidator {
	return DepositValidator{Decimals: decimals, MinLimit: minLimit, MaxLimit: maxLimit}
}

// Validate checks one deposit request. A request is valid iff the text
// matches the 4-fractional-digit input shape, parses, 0 < amount,
// amount ≤ wallet balance, and min ≤ amount ≤ max. Malformed text is an
// invalid request, not an error.
func (v DepositValidator) Validate(req DepositRequest) DepositResult {
	if !validation.IsValidAmountInput(req.RawAmountText) {
		return DepositResult{}
	}
	amount, err := fixedpoint.Parse(req.RawAmountText, v.Decimals)
	if err != nil {
		return DepositResult{}
	}
	if amount.Sign() <= 0 {
		return DepositResult{}
	}
	if amount.Cmp(req.WalletBalance) > 0 {
		return DepositResult{Amount: amount}
	}
	if amount.Cmp(req.MinLimit) < 0 || amount.Cmp(req.MaxLimit) > 0 {
		return DepositResult{Amount: amount}
	}
	return DepositResult{Valid: true, Amount: amount}
}

// Presets returns the fixed deposit shortcuts offered by the frontend.
// They are alternate constructors of the same request, not a separate
// validation path.
func (v DepositValidator) Presets() []fixedpoint.Amount {
	presets := make([]fixedpoint.Amount, 0, 3)
	for _, s := range []string{"100", "1000", "5000"} {
		a, err := fixedpoint.Parse(s, v.Decimals)
		if err != nil {
			continue
		}
		presets = append(presets, a)
	}
	return presets
}

// MaxAmount is the "max" shortcut: the wallet balance floored to 4
// fractional digits, never rounded up past what the wallet holds.
func (v DepositValidator) MaxAmount(balance fixedpoint.Amount) fixedpoint.Amount {
	return balance.Truncate(fixedpoint.DisplayFractionDigits)
}

// EstimateDailyReturn projects the daily yield band for an amount. Both
// bounds are computed in fixed point so large principals don't drift.
func (v DepositValidator) EstimateDailyReturn(amount fixedpoint.Amount) (low, high fixedpoint.Amount) {
	return amount.MulBps(DailyReturnLowBps), amount.MulBps(DailyReturnHighBps)
}
