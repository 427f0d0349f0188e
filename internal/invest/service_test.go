package invest

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/yieldvault/internal/fixedpoint"
)

const (
	testWallet   = "0xaaaa000000000000000000000000000000000001"
	testReferrer = "0xbbbb000000000000000000000000000000000002"
)

func raw(t *testing.T, s string) *big.Int {
	t.Helper()
	return amt(t, s).Raw()
}

// stubChain implements Chain with scriptable balances and call recording.
type stubChain struct {
	balance    *big.Int
	allowance  *big.Int
	state      *ChainInvestment
	investErr  error
	approveErr error
	calls      []string
}

func (c *stubChain) record(name string) { c.calls = append(c.calls, name) }

func (c *stubChain) TokenBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	c.record("balance")
	return c.balance, nil
}

func (c *stubChain) Allowance(ctx context.Context, owner common.Address) (*big.Int, error) {
	c.record("allowance")
	return c.allowance, nil
}

func (c *stubChain) InvestmentState(ctx context.Context, owner common.Address) (*ChainInvestment, error) {
	c.record("state")
	return c.state, nil
}

func (c *stubChain) Approve(ctx context.Context, amount *big.Int) (string, error) {
	c.record("approve")
	if c.approveErr != nil {
		return "", c.approveErr
	}
	return "0xapprove", nil
}

func (c *stubChain) Invest(ctx context.Context, amount *big.Int, referrer common.Address) (string, error) {
	c.record("invest")
	if c.investErr != nil {
		return "", c.investErr
	}
	return "0xinvest", nil
}

func (c *stubChain) WithdrawYield(ctx context.Context) (string, error) {
	c.record("withdraw_yield")
	return "0xwy", nil
}

func (c *stubChain) WithdrawFull(ctx context.Context) (string, error) {
	c.record("withdraw_full")
	return "0xwf", nil
}

func (c *stubChain) WaitForConfirmation(ctx context.Context, txHash string, timeout time.Duration) error {
	c.record("confirm:" + txHash)
	return nil
}

// stubNotifier collects notifications in order.
type stubNotifier struct {
	notes []Notification
}

func (n *stubNotifier) Notify(note Notification) { n.notes = append(n.notes, note) }

func newTestService(t *testing.T, ch *stubChain) (*Service, *MemoryStore, *stubNotifier) {
	t.Helper()
	store := NewMemoryStore()
	notifier := &stubNotifier{}
	svc := NewService(store, ch, notifier, slog.Default(), ServiceConfig{
		Decimals:   fixedpoint.VaultDecimals,
		MinDeposit: amt(t, "100"),
		MaxDeposit: amt(t, "50000"),
		FeeRateBps: DefaultFeeRateBps,
	})
	return svc, store, notifier
}

func returningChain(t *testing.T) *stubChain {
	t.Helper()
	return &stubChain{
		balance:   raw(t, "10000"),
		allowance: raw(t, "10000"),
		state: &ChainInvestment{
			Principal:           raw(t, "5000"),
			PendingYield:        raw(t, "250"),
			TotalBaseYield:      raw(t, "400"),
			TotalBoostYield:     raw(t, "0"),
			TotalWithdrawals:    raw(t, "150"),
			UserTotalInvestment: raw(t, "5000"),
		},
	}
}

func freshChain(t *testing.T) *stubChain {
	t.Helper()
	return &stubChain{
		balance:   raw(t, "10000"),
		allowance: big.NewInt(0),
		state: &ChainInvestment{
			Principal:           big.NewInt(0),
			PendingYield:        big.NewInt(0),
			TotalBaseYield:      big.NewInt(0),
			TotalBoostYield:     big.NewInt(0),
			TotalWithdrawals:    big.NewInt(0),
			UserTotalInvestment: big.NewInt(0),
		},
	}
}

// ---------------------------------------------------------------------------
// Deposit quoting
// ---------------------------------------------------------------------------

func TestQuoteDeposit_Valid(t *testing.T) {
	svc, _, _ := newTestService(t, returningChain(t))

	quote, err := svc.QuoteDeposit(context.Background(), testWallet, "1000")
	if err != nil {
		t.Fatalf("QuoteDeposit: %v", err)
	}

	if !quote.Valid {
		t.Fatal("Expected valid quote")
	}
	if quote.Amount != "1,000" {
		t.Errorf("Amount = %s, want 1,000", quote.Amount)
	}
	if quote.EstimatedDailyLow != "1" || quote.EstimatedDailyHigh != "8" {
		t.Errorf("Daily band = %s..%s, want 1..8", quote.EstimatedDailyLow, quote.EstimatedDailyHigh)
	}
	if quote.WalletBalance != "10,000" {
		t.Errorf("WalletBalance = %s, want 10,000", quote.WalletBalance)
	}
}

func TestQuoteDeposit_Invalid(t *testing.T) {
	svc, _, _ := newTestService(t, returningChain(t))

	quote, err := svc.QuoteDeposit(context.Background(), testWallet, "5")
	if err != nil {
		t.Fatalf("QuoteDeposit: %v", err)
	}

	// Below minimum is an invalid quote, not an error
	if quote.Valid {
		t.Error("Expected invalid quote for amount below minimum")
	}
	if quote.Amount != "" {
		t.Errorf("Invalid quote should omit amount, got %s", quote.Amount)
	}
}

func TestQuoteDeposit_BadWallet(t *testing.T) {
	svc, _, _ := newTestService(t, returningChain(t))

	if _, err := svc.QuoteDeposit(context.Background(), "nonsense", "1000"); err == nil {
		t.Error("Expected error for malformed wallet address")
	}
}

// ---------------------------------------------------------------------------
// Deposit submission
// ---------------------------------------------------------------------------

func TestSubmitDeposit_Success(t *testing.T) {
	ch := returningChain(t)
	svc, store, notifier := newTestService(t, ch)

	op, err := svc.SubmitDeposit(context.Background(), testWallet, "1000", "")
	if err != nil {
		t.Fatalf("SubmitDeposit: %v", err)
	}

	if op.Status != OpStatusSuccess {
		t.Errorf("Status = %s, want success", op.Status)
	}
	if op.Kind != OpDeposit {
		t.Errorf("Kind = %s, want deposit", op.Kind)
	}
	if op.TxHash != "0xinvest" {
		t.Errorf("TxHash = %s, want 0xinvest", op.TxHash)
	}

	// Journal entry persisted with final state
	stored, err := store.GetOperation(context.Background(), op.ID)
	if err != nil {
		t.Fatalf("GetOperation: %v", err)
	}
	if stored.Status != OpStatusSuccess {
		t.Errorf("Stored status = %s, want success", stored.Status)
	}

	// Pending then success notifications
	if len(notifier.notes) != 2 {
		t.Fatalf("Expected 2 notifications, got %d", len(notifier.notes))
	}
	if notifier.notes[0].Type != NotifyPending || notifier.notes[1].Type != NotifySuccess {
		t.Errorf("Notification types = %s, %s", notifier.notes[0].Type, notifier.notes[1].Type)
	}
	if notifier.notes[0].OperationID != op.ID {
		t.Error("Notification should carry the operation ID")
	}
}

func TestSubmitDeposit_SufficientAllowanceSkipsApprove(t *testing.T) {
	ch := returningChain(t)
	svc, _, _ := newTestService(t, ch)

	if _, err := svc.SubmitDeposit(context.Background(), testWallet, "1000", ""); err != nil {
		t.Fatalf("SubmitDeposit: %v", err)
	}

	for _, call := range ch.calls {
		if call == "approve" {
			t.Error("Approve should be skipped when allowance covers the deposit")
		}
	}
}

func TestSubmitDeposit_ApproveBeforeInvest(t *testing.T) {
	ch := returningChain(t)
	ch.allowance = big.NewInt(0)
	svc, _, _ := newTestService(t, ch)

	if _, err := svc.SubmitDeposit(context.Background(), testWallet, "1000", ""); err != nil {
		t.Fatalf("SubmitDeposit: %v", err)
	}

	// approve, confirm(approve), invest, confirm(invest) in that order
	var approveIdx, confirmApproveIdx, investIdx = -1, -1, -1
	for i, call := range ch.calls {
		switch call {
		case "approve":
			approveIdx = i
		case "confirm:0xapprove":
			confirmApproveIdx = i
		case "invest":
			investIdx = i
		}
	}
	if approveIdx == -1 || confirmApproveIdx == -1 || investIdx == -1 {
		t.Fatalf("Missing calls: %v", ch.calls)
	}
	if !(approveIdx < confirmApproveIdx && confirmApproveIdx < investIdx) {
		t.Errorf("Approve must confirm before invest: %v", ch.calls)
	}
}

func TestSubmitDeposit_InvalidAmount(t *testing.T) {
	svc, _, _ := newTestService(t, returningChain(t))

	_, err := svc.SubmitDeposit(context.Background(), testWallet, "5", "")
	if !errors.Is(err, ErrAmountInvalid) {
		t.Errorf("Expected ErrAmountInvalid, got %v", err)
	}
}

func TestSubmitDeposit_FirstDepositRequiresReferrer(t *testing.T) {
	svc, _, _ := newTestService(t, freshChain(t))

	_, err := svc.SubmitDeposit(context.Background(), testWallet, "1000", "")
	if !errors.Is(err, ErrReferrerRequired) {
		t.Errorf("Expected ErrReferrerRequired, got %v", err)
	}

	// With a referral link the same deposit goes through
	if _, err := svc.SubmitDeposit(context.Background(), testWallet, "1000", testReferrer); err != nil {
		t.Errorf("Expected success with referrer, got %v", err)
	}
}

func TestSubmitDeposit_MalformedRefDegradesToSentinel(t *testing.T) {
	ch := returningChain(t)
	svc, store, _ := newTestService(t, ch)

	// Returning wallet, garbage ref: resolves to sentinel, deposit proceeds
	op, err := svc.SubmitDeposit(context.Background(), testWallet, "1000", "not-an-address")
	if err != nil {
		t.Fatalf("SubmitDeposit: %v", err)
	}

	stored, err := store.GetOperation(context.Background(), op.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Referrer != NoReferrer {
		t.Errorf("Referrer = %s, want sentinel", stored.Referrer)
	}
}

func TestSubmitDeposit_InvestFailureJournalsError(t *testing.T) {
	ch := returningChain(t)
	ch.investErr = errors.New("rpc: nonce too low")
	svc, store, notifier := newTestService(t, ch)

	_, err := svc.SubmitDeposit(context.Background(), testWallet, "1000", "")
	if err == nil {
		t.Fatal("Expected error from failed invest")
	}

	// The journal entry records the failure
	ops, err := store.ListByWallet(context.Background(), common.HexToAddress(testWallet).Hex(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 {
		t.Fatalf("Expected 1 operation, got %d", len(ops))
	}
	if ops[0].Status != OpStatusError {
		t.Errorf("Status = %s, want error", ops[0].Status)
	}

	// Error notification follows the pending one
	last := notifier.notes[len(notifier.notes)-1]
	if last.Type != NotifyError {
		t.Errorf("Last notification type = %s, want error", last.Type)
	}
}

// ---------------------------------------------------------------------------
// Withdrawals
// ---------------------------------------------------------------------------

func TestQuoteWithdraw_Full(t *testing.T) {
	svc, _, _ := newTestService(t, returningChain(t))

	quote, err := svc.QuoteWithdraw(context.Background(), testWallet, WithdrawFull)
	if err != nil {
		t.Fatalf("QuoteWithdraw: %v", err)
	}

	if quote.WithdrawAmount != "5,250" {
		t.Errorf("WithdrawAmount = %s, want 5,250", quote.WithdrawAmount)
	}
	if quote.Fee != "105" {
		t.Errorf("Fee = %s, want 105", quote.Fee)
	}
	if quote.ReceiveAmount != "5,145" {
		t.Errorf("ReceiveAmount = %s, want 5,145", quote.ReceiveAmount)
	}
	if !quote.CanWithdraw {
		t.Error("Expected CanWithdraw with principal staked")
	}
}

func TestQuoteWithdraw_YieldOnly(t *testing.T) {
	svc, _, _ := newTestService(t, returningChain(t))

	quote, err := svc.QuoteWithdraw(context.Background(), testWallet, WithdrawYieldOnly)
	if err != nil {
		t.Fatalf("QuoteWithdraw: %v", err)
	}

	if quote.WithdrawAmount != "250" || quote.Fee != "0" || quote.ReceiveAmount != "250" {
		t.Errorf("Yield quote = %s/%s/%s, want 250/0/250",
			quote.WithdrawAmount, quote.Fee, quote.ReceiveAmount)
	}
}

func TestSubmitWithdraw_Full(t *testing.T) {
	ch := returningChain(t)
	svc, _, notifier := newTestService(t, ch)

	op, err := svc.SubmitWithdraw(context.Background(), testWallet, WithdrawFull)
	if err != nil {
		t.Fatalf("SubmitWithdraw: %v", err)
	}

	if op.Kind != OpWithdrawFull {
		t.Errorf("Kind = %s, want withdraw_full", op.Kind)
	}
	if op.Status != OpStatusSuccess {
		t.Errorf("Status = %s, want success", op.Status)
	}
	if op.Fee != "105" || op.Receive != "5,145" {
		t.Errorf("Fee/Receive = %s/%s, want 105/5,145", op.Fee, op.Receive)
	}

	if notifier.notes[len(notifier.notes)-1].Type != NotifySuccess {
		t.Error("Expected success notification")
	}
}

func TestSubmitWithdraw_NothingToWithdraw(t *testing.T) {
	svc, _, _ := newTestService(t, freshChain(t))

	_, err := svc.SubmitWithdraw(context.Background(), testWallet, WithdrawYieldOnly)
	if !errors.Is(err, ErrNothingToWithdraw) {
		t.Errorf("Expected ErrNothingToWithdraw, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Info
// ---------------------------------------------------------------------------

func TestInfo(t *testing.T) {
	svc, _, _ := newTestService(t, returningChain(t))

	info, err := svc.Info(context.Background(), testWallet)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}

	if got := fixedpoint.Display(info.Principal); got != "5,000" {
		t.Errorf("Principal = %s, want 5,000", got)
	}
	if got := fixedpoint.Display(info.PendingYield); got != "250" {
		t.Errorf("PendingYield = %s, want 250", got)
	}
	if got := fixedpoint.Display(info.Stats.TotalWithdrawals); got != "150" {
		t.Errorf("TotalWithdrawals = %s, want 150", got)
	}
}
