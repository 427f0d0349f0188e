// Package invest provides deposit and withdrawal orchestration for the
// yield vault.
//
// Flow:
//  1. Frontend asks for a deposit quote → amount is validated against wallet
//     balance and vault limits, daily return band is estimated
//  2. Deposit submitted → allowance checked, approve runs before invest,
//     operation journaled and status pushed to subscribers
//  3. Withdrawal quoted → yield-only is fee-free, full withdrawal pays a
//     basis-point fee on principal + pending yield
//  4. Withdrawal submitted → contract call, confirmation wait, journal update
//
// All monetary math runs on fixedpoint.Amount; nothing in this package
// touches floating point.
package invest

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/yieldvault/internal/fixedpoint"
)

// Errors
var (
	ErrOperationNotFound = errors.New("invest: operation not found")
	ErrAmountInvalid     = errors.New("invest: amount is not valid for deposit")
	ErrNothingToWithdraw = errors.New("invest: nothing to withdraw for this mode")
	ErrReferrerRequired  = errors.New("invest: first deposit requires a referrer")
	ErrWalletRequired    = errors.New("invest: wallet address required")
)

// WithdrawMode selects what a withdrawal takes out of the vault.
type WithdrawMode string

const (
	// WithdrawYieldOnly takes pending yield and leaves principal staked.
	// Always fee-free.
	WithdrawYieldOnly WithdrawMode = "yield"

	// WithdrawFull takes principal plus pending yield and pays the exit fee.
	WithdrawFull WithdrawMode = "full"
)

// ParseWithdrawMode maps a wire string onto a WithdrawMode.
func ParseWithdrawMode(s string) (WithdrawMode, bool) {
	switch WithdrawMode(s) {
	case WithdrawYieldOnly, WithdrawFull:
		return WithdrawMode(s), true
	}
	return "", false
}

// OperationKind identifies what a journaled operation did.
type OperationKind string

const (
	OpDeposit       OperationKind = "deposit"
	OpWithdrawYield OperationKind = "withdraw_yield"
	OpWithdrawFull  OperationKind = "withdraw_full"
)

// OperationStatus is the lifecycle state of a journaled operation.
type OperationStatus string

const (
	OpStatusPending OperationStatus = "pending"
	OpStatusSuccess OperationStatus = "success"
	OpStatusError   OperationStatus = "error"
)

// DepositRequest carries one deposit validation attempt. Built per
// keystroke or preset click on the frontend and re-validated here.
type DepositRequest struct {
	RawAmountText string
	WalletBalance fixedpoint.Amount
	MinLimit      fixedpoint.Amount
	MaxLimit      fixedpoint.Amount
}

// DepositResult is the outcome of validating a DepositRequest. Parse
// failures mark the request invalid instead of erroring — this runs on
// every keystroke and must never interrupt typing.
type DepositResult struct {
	Valid  bool
	Amount fixedpoint.Amount
}

// WithdrawSelection is the input to a withdrawal quote.
//
// FeeRateBps zero means "use the calculator's configured rate"; a truly
// fee-free vault is expressed by constructing the calculator with rate 0,
// not per selection.
type WithdrawSelection struct {
	Mode         WithdrawMode
	Principal    fixedpoint.Amount
	PendingYield fixedpoint.Amount
	FeeRateBps   int64
}

// WithdrawQuote is a computed withdrawal: what leaves the vault, what the
// fee takes, and what the wallet receives.
type WithdrawQuote struct {
	WithdrawAmount fixedpoint.Amount
	Fee            fixedpoint.Amount
	ReceiveAmount  fixedpoint.Amount
}

// InvestmentStats mirrors the vault contract's per-user accounting.
type InvestmentStats struct {
	TotalBaseYield      fixedpoint.Amount
	TotalBoostYield     fixedpoint.Amount
	TotalWithdrawals    fixedpoint.Amount
	UserTotalInvestment fixedpoint.Amount
}

// InvestmentInfo is the on-chain investment state for one wallet.
type InvestmentInfo struct {
	Principal    fixedpoint.Amount
	PendingYield fixedpoint.Amount
	Stats        InvestmentStats
}

// Operation is one journaled deposit or withdrawal submission.
type Operation struct {
	ID         string          `json:"id"`
	Kind       OperationKind   `json:"kind"`
	WalletAddr string          `json:"walletAddr"`
	Amount     string          `json:"amount"`
	Fee        string          `json:"fee,omitempty"`
	Receive    string          `json:"receive,omitempty"`
	Referrer   string          `json:"referrer,omitempty"`
	TxHash     string          `json:"txHash,omitempty"`
	Status     OperationStatus `json:"status"`
	Detail     string          `json:"detail,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Store persists the operation journal.
type Store interface {
	CreateOperation(ctx context.Context, op *Operation) error
	UpdateOperation(ctx context.Context, op *Operation) error
	GetOperation(ctx context.Context, id string) (*Operation, error)
	ListByWallet(ctx context.Context, walletAddr string, limit int) ([]*Operation, error)
}

// NotificationType is the status carried by a pushed notification.
type NotificationType string

const (
	NotifyPending NotificationType = "pending"
	NotifySuccess NotificationType = "success"
	NotifyError   NotificationType = "error"
)

// Notification is a user-visible transaction status update. This package
// only fills in the computed values; delivery belongs to the notify hub.
type Notification struct {
	Type          NotificationType `json:"type"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	WalletAddress string           `json:"walletAddress,omitempty"`
	OperationID   string           `json:"operationId,omitempty"`
}

// Notifier delivers notifications. Satisfied by the notify hub via an
// adapter in the server package.
type Notifier interface {
	Notify(n Notification)
}

// Request/response types for handlers.

// DepositQuoteRequest is the body for POST /v1/invest/deposit/quote.
type DepositQuoteRequest struct {
	WalletAddr string `json:"walletAddr" binding:"required"`
	Amount     string `json:"amount" binding:"required"`
}

// SubmitDepositRequest is the body for POST /v1/invest/deposit.
type SubmitDepositRequest struct {
	WalletAddr string `json:"walletAddr" binding:"required"`
	Amount     string `json:"amount" binding:"required"`
	Ref        string `json:"ref,omitempty"`
}

// WithdrawQuoteRequest is the body for POST /v1/invest/withdraw/quote.
type WithdrawQuoteRequest struct {
	WalletAddr string `json:"walletAddr" binding:"required"`
	Mode       string `json:"mode" binding:"required"`
}

// SubmitWithdrawRequest is the body for POST /v1/invest/withdraw.
type SubmitWithdrawRequest struct {
	WalletAddr string `json:"walletAddr" binding:"required"`
	Mode       string `json:"mode" binding:"required"`
}
