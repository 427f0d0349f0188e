package invest

import (
	"fmt"

	"github.com/mbd888/yieldvault/internal/fixedpoint"
)

// DefaultFeeRateBps is the vault's exit fee on full withdrawals (2%).
const DefaultFeeRateBps = 200

// WithdrawCalculator computes withdrawal quotes. Fees use integer
// basis-point arithmetic on the smallest unit; the result is exact for any
// magnitude the chain can represent.
type WithdrawCalculator struct {
	FeeRateBps int64
}

// NewWithdrawCalculator builds a calculator with the given fee rate.
func NewWithdrawCalculator(feeRateBps int64) WithdrawCalculator {
	return WithdrawCalculator{FeeRateBps: feeRateBps}
}

// Quote computes the withdrawal amount, fee, and net receive for a
// selection.
//
//   - yield-only: withdraw = pending yield, fee = 0
//   - full: withdraw = principal + pending yield, fee = withdraw × bps/10000
//
// A fee exceeding the withdrawal amount cannot happen for any rate ≤ 10000
// bps; it is still checked and surfaces as fixedpoint.ErrNegativeResult,
// which means the caller wired an inconsistent fee rate.
func (c WithdrawCalculator) Quote(sel WithdrawSelection) (WithdrawQuote, error) {
	// Zero is the "unset" sentinel, see WithdrawSelection.
	feeRate := sel.FeeRateBps
	if feeRate == 0 {
		feeRate = c.FeeRateBps
	}

	var withdraw fixedpoint.Amount
	var fee fixedpoint.Amount
	switch sel.Mode {
	case WithdrawYieldOnly:
		withdraw = sel.PendingYield
		fee = fixedpoint.Zero(withdraw.Decimals())
	case WithdrawFull:
		withdraw = sel.Principal.Add(sel.PendingYield)
		fee = withdraw.MulBps(feeRate)
	default:
		return WithdrawQuote{}, fmt.Errorf("invest: unknown withdraw mode %q", sel.Mode)
	}

	receive, err := withdraw.Sub(fee)
	if err != nil {
		return WithdrawQuote{}, fmt.Errorf("invest: fee exceeds withdrawal (rate %d bps): %w", feeRate, err)
	}

	return WithdrawQuote{WithdrawAmount: withdraw, Fee: fee, ReceiveAmount: receive}, nil
}

// CanWithdraw is the button-enablement rule: yield-only needs pending
// yield, full withdrawal needs principal.
func CanWithdraw(mode WithdrawMode, info InvestmentInfo) bool {
	switch mode {
	case WithdrawYieldOnly:
		return info.PendingYield.Sign() > 0
	case WithdrawFull:
		return info.Principal.Sign() > 0
	}
	return false
}
