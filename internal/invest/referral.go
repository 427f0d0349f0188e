package invest

import (
	"regexp"

	"github.com/mbd888/yieldvault/internal/fixedpoint"
)

// NoReferrer is the all-zero address sentinel meaning "no referrer".
const NoReferrer = "0x0000000000000000000000000000000000000000"

// referrerPattern is the only shape accepted from the ref query parameter.
var referrerPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ResolveReferrer maps the raw "ref" query parameter onto a referrer
// address. Total function: anything that is not exactly 0x + 40 hex chars
// degrades to the sentinel instead of erroring. Gating "new user with no
// referrer" is a submission-time business rule, not a resolution concern —
// see RequireReferrerForFirstDeposit.
func ResolveReferrer(queryParam string) string {
	if referrerPattern.MatchString(queryParam) {
		return queryParam
	}
	return NoReferrer
}

// HasReferrer reports whether addr names a real referrer rather than the
// sentinel.
func HasReferrer(addr string) bool {
	return addr != "" && addr != NoReferrer
}

// RequireReferrerForFirstDeposit enforces the first-deposit rule: a wallet
// with no prior investment must arrive through a referral link. Evaluated
// against the contract's userTotalInvestment, not local state.
func RequireReferrerForFirstDeposit(userTotalInvestment fixedpoint.Amount, referrer string) error {
	if userTotalInvestment.IsZero() && !HasReferrer(referrer) {
		return ErrReferrerRequired
	}
	return nil
}
