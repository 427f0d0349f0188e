package invest

import (
	"testing"

	"github.com/mbd888/yieldvault/internal/fixedpoint"
)

func amt(t *testing.T, s string) fixedpoint.Amount {
	t.Helper()
	a, err := fixedpoint.Parse(s, fixedpoint.VaultDecimals)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return a
}

func testValidator(t *testing.T) DepositValidator {
	t.Helper()
	return NewDepositValidator(fixedpoint.VaultDecimals, amt(t, "100"), amt(t, "50000"))
}

func TestDepositValidator_Validate(t *testing.T) {
	v := testValidator(t)

	tests := []struct {
		name    string
		input   string
		balance string
		valid   bool
	}{
		{"at minimum", "100", "1000", true},
		{"at maximum", "50000", "100000", true},
		{"typical", "1000", "5000", true},
		{"equals balance", "1000", "1000", true},
		{"fractional", "100.5", "1000", true},
		{"four fractional digits", "100.1234", "1000", true},

		{"five fractional digits", "100.12345", "1000", false},
		{"full precision input", "100.123456789", "1000", false},
		{"below minimum", "99.9999", "1000", false},
		{"above maximum", "50000.0001", "100000", false},
		{"exceeds balance", "1001", "1000", false},
		{"zero", "0", "1000", false},
		{"empty", "", "1000", false},
		{"malformed", "1,000", "1000", false},
		{"negative", "-100", "1000", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := v.Validate(DepositRequest{
				RawAmountText: tc.input,
				WalletBalance: amt(t, tc.balance),
				MinLimit:      v.MinLimit,
				MaxLimit:      v.MaxLimit,
			})
			if result.Valid != tc.valid {
				t.Errorf("Validate(%q, balance %s) valid=%v, want %v",
					tc.input, tc.balance, result.Valid, tc.valid)
			}
			if result.Valid && fixedpoint.Display(result.Amount) == "" {
				t.Error("Valid result should carry the parsed amount")
			}
		})
	}
}

func TestDepositValidator_Presets(t *testing.T) {
	v := testValidator(t)

	presets := v.Presets()
	if len(presets) != 3 {
		t.Fatalf("Expected 3 presets, got %d", len(presets))
	}

	want := []string{"100", "1,000", "5,000"}
	for i, p := range presets {
		if got := fixedpoint.Display(p); got != want[i] {
			t.Errorf("Preset %d = %s, want %s", i, got, want[i])
		}
	}
}

func TestDepositValidator_MaxAmount(t *testing.T) {
	v := testValidator(t)

	// Max is the balance floored to the display precision, so "use max"
	// never overdraws by sub-display dust.
	balance, err := fixedpoint.Parse("1234.56789", fixedpoint.VaultDecimals)
	if err != nil {
		t.Fatal(err)
	}

	max := v.MaxAmount(balance)
	if got := fixedpoint.Display(max); got != "1,234.5678" {
		t.Errorf("MaxAmount = %s, want 1,234.5678", got)
	}

	// The truncated max always validates against the original balance.
	result := v.Validate(DepositRequest{
		RawAmountText: "1234.5678",
		WalletBalance: balance,
		MinLimit:      v.MinLimit,
		MaxLimit:      v.MaxLimit,
	})
	if !result.Valid {
		t.Error("Truncated max amount should validate against the balance")
	}
}

func TestDepositValidator_EstimateDailyReturn(t *testing.T) {
	v := testValidator(t)

	low, high := v.EstimateDailyReturn(amt(t, "1000"))

	// 0.1% .. 0.8% of 1000
	if got := fixedpoint.Display(low); got != "1" {
		t.Errorf("Daily low = %s, want 1", got)
	}
	if got := fixedpoint.Display(high); got != "8" {
		t.Errorf("Daily high = %s, want 8", got)
	}
}
