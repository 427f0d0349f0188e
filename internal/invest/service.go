package invest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/yieldvault/internal/fixedpoint"
	"github.com/mbd888/yieldvault/internal/idgen"
	"github.com/mbd888/yieldvault/internal/metrics"
	"github.com/mbd888/yieldvault/internal/retry"
	"github.com/mbd888/yieldvault/internal/traces"
)

// Chain abstracts the on-chain collaborators so the service doesn't import
// the chain package. The server wires the real client through an adapter.
type Chain interface {
	TokenBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner common.Address) (*big.Int, error)
	InvestmentState(ctx context.Context, owner common.Address) (*ChainInvestment, error)
	Approve(ctx context.Context, amount *big.Int) (string, error)
	Invest(ctx context.Context, amount *big.Int, referrer common.Address) (string, error)
	WithdrawYield(ctx context.Context) (string, error)
	WithdrawFull(ctx context.Context) (string, error)
	WaitForConfirmation(ctx context.Context, txHash string, timeout time.Duration) error
}

// ChainInvestment is the raw vault accounting for one wallet as read from
// the contract.
type ChainInvestment struct {
	Principal           *big.Int
	PendingYield        *big.Int
	TotalBaseYield      *big.Int
	TotalBoostYield     *big.Int
	TotalWithdrawals    *big.Int
	UserTotalInvestment *big.Int
}

// Chain reads are retried on transient RPC failures.
const (
	chainReadAttempts = 3
	chainReadBackoff  = 200 * time.Millisecond
)

// ServiceConfig carries the vault parameters the service computes with.
type ServiceConfig struct {
	Decimals            int
	MinDeposit          fixedpoint.Amount
	MaxDeposit          fixedpoint.Amount
	FeeRateBps          int64
	ConfirmationTimeout time.Duration
}

// Service orchestrates quoting, validation, the approve-before-invest
// deposit flow, and the operation journal.
type Service struct {
	store      Store
	chain      Chain
	notifier   Notifier
	logger     *slog.Logger
	validator  DepositValidator
	calculator WithdrawCalculator
	cfg        ServiceConfig
}

// NewService creates the invest service.
func NewService(store Store, ch Chain, notifier Notifier, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.ConfirmationTimeout == 0 {
		cfg.ConfirmationTimeout = 60 * time.Second
	}
	return &Service{
		store:      store,
		chain:      ch,
		notifier:   notifier,
		logger:     logger,
		validator:  NewDepositValidator(cfg.Decimals, cfg.MinDeposit, cfg.MaxDeposit),
		calculator: NewWithdrawCalculator(cfg.FeeRateBps),
		cfg:        cfg,
	}
}

// Validator exposes the deposit validator (for handlers serving limits).
func (s *Service) Validator() DepositValidator { return s.validator }

// Config returns the service's vault parameters.
func (s *Service) Config() ServiceConfig { return s.cfg }

// DepositQuote is the response to a deposit quote request.
type DepositQuote struct {
	Valid              bool   `json:"valid"`
	Amount             string `json:"amount,omitempty"`
	WalletBalance      string `json:"walletBalance"`
	MinLimit           string `json:"minLimit"`
	MaxLimit           string `json:"maxLimit"`
	MaxAmount          string `json:"maxAmount"`
	EstimatedDailyLow  string `json:"estimatedDailyLow,omitempty"`
	EstimatedDailyHigh string `json:"estimatedDailyHigh,omitempty"`
}

// WithdrawQuoteResult is the response to a withdrawal quote request.
type WithdrawQuoteResult struct {
	Mode           WithdrawMode `json:"mode"`
	WithdrawAmount string       `json:"withdrawAmount"`
	Fee            string       `json:"fee"`
	ReceiveAmount  string       `json:"receiveAmount"`
	CanWithdraw    bool         `json:"canWithdraw"`
}

// QuoteDeposit validates an amount against the wallet's live balance and
// the vault limits, and projects the daily return band.
func (s *Service) QuoteDeposit(ctx context.Context, walletAddr, rawAmount string) (*DepositQuote, error) {
	owner, err := parseWallet(walletAddr)
	if err != nil {
		return nil, err
	}

	balance, err := s.tokenBalance(ctx, owner)
	if err != nil {
		return nil, err
	}

	result := s.validator.Validate(DepositRequest{
		RawAmountText: rawAmount,
		WalletBalance: balance,
		MinLimit:      s.cfg.MinDeposit,
		MaxLimit:      s.cfg.MaxDeposit,
	})

	metrics.DepositQuotesTotal.WithLabelValues(validLabel(result.Valid)).Inc()

	quote := &DepositQuote{
		Valid:         result.Valid,
		WalletBalance: fixedpoint.Display(balance),
		MinLimit:      fixedpoint.Display(s.cfg.MinDeposit),
		MaxLimit:      fixedpoint.Display(s.cfg.MaxDeposit),
		MaxAmount:     fixedpoint.Display(s.validator.MaxAmount(balance)),
	}
	if result.Valid {
		low, high := s.validator.EstimateDailyReturn(result.Amount)
		quote.Amount = fixedpoint.Display(result.Amount)
		quote.EstimatedDailyLow = fixedpoint.Display(low)
		quote.EstimatedDailyHigh = fixedpoint.Display(high)
	}
	return quote, nil
}

// SubmitDeposit runs the full deposit flow: validate, enforce the
// first-deposit referrer rule, approve the vault if the allowance is short,
// then invest. Approve is always confirmed before invest is sent.
func (s *Service) SubmitDeposit(ctx context.Context, walletAddr, rawAmount, refParam string) (*Operation, error) {
	ctx, span := traces.StartSpan(ctx, "invest.submit_deposit",
		traces.WalletAddr(walletAddr), traces.Amount(rawAmount))
	defer span.End()

	owner, err := parseWallet(walletAddr)
	if err != nil {
		return nil, err
	}

	balance, err := s.tokenBalance(ctx, owner)
	if err != nil {
		return nil, err
	}

	result := s.validator.Validate(DepositRequest{
		RawAmountText: rawAmount,
		WalletBalance: balance,
		MinLimit:      s.cfg.MinDeposit,
		MaxLimit:      s.cfg.MaxDeposit,
	})
	if !result.Valid {
		return nil, ErrAmountInvalid
	}

	state, err := s.investmentState(ctx, owner)
	if err != nil {
		return nil, err
	}

	referrer := ResolveReferrer(refParam)
	if err := RequireReferrerForFirstDeposit(
		fixedpoint.FromRaw(state.UserTotalInvestment, s.cfg.Decimals), referrer); err != nil {
		return nil, err
	}

	op := &Operation{
		ID:         idgen.WithPrefix("op_"),
		Kind:       OpDeposit,
		WalletAddr: owner.Hex(),
		Amount:     fixedpoint.Display(result.Amount),
		Referrer:   referrer,
		Status:     OpStatusPending,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("journal deposit: %w", err)
	}
	span.SetAttributes(traces.OperationID(op.ID))

	s.notify(Notification{
		Type:          NotifyPending,
		Title:         "Deposit",
		Description:   fmt.Sprintf("Depositing %s into the vault", op.Amount),
		WalletAddress: op.WalletAddr,
		OperationID:   op.ID,
	})

	raw := result.Amount.Raw()

	// Approve must land before invest; the vault pulls the deposit via
	// transferFrom.
	allowance, err := s.allowance(ctx, owner)
	if err != nil {
		return s.failOperation(ctx, op, "allowance check failed", err)
	}
	if allowance.Cmp(raw) < 0 {
		txHash, err := s.chain.Approve(ctx, raw)
		if err != nil {
			return s.failOperation(ctx, op, "approve failed", err)
		}
		if err := s.chain.WaitForConfirmation(ctx, txHash, s.cfg.ConfirmationTimeout); err != nil {
			return s.failOperation(ctx, op, "approve not confirmed", err)
		}
		s.logger.Info("vault approved", "operation", op.ID, "tx", txHash)
	}

	txHash, err := s.chain.Invest(ctx, raw, common.HexToAddress(referrer))
	if err != nil {
		return s.failOperation(ctx, op, "invest failed", err)
	}
	op.TxHash = txHash
	if err := s.chain.WaitForConfirmation(ctx, txHash, s.cfg.ConfirmationTimeout); err != nil {
		return s.failOperation(ctx, op, "invest not confirmed", err)
	}

	return s.completeOperation(ctx, op,
		fmt.Sprintf("Deposited %s", op.Amount))
}

// QuoteWithdraw computes the withdrawal amount, fee, and net receive for a
// wallet's current vault state.
func (s *Service) QuoteWithdraw(ctx context.Context, walletAddr string, mode WithdrawMode) (*WithdrawQuoteResult, error) {
	owner, err := parseWallet(walletAddr)
	if err != nil {
		return nil, err
	}

	state, err := s.investmentState(ctx, owner)
	if err != nil {
		return nil, err
	}
	info := s.toInfo(state)

	quote, err := s.calculator.Quote(WithdrawSelection{
		Mode:         mode,
		Principal:    info.Principal,
		PendingYield: info.PendingYield,
		FeeRateBps:   s.cfg.FeeRateBps,
	})
	if err != nil {
		return nil, err
	}

	metrics.WithdrawQuotesTotal.WithLabelValues(string(mode)).Inc()

	return &WithdrawQuoteResult{
		Mode:           mode,
		WithdrawAmount: fixedpoint.Display(quote.WithdrawAmount),
		Fee:            fixedpoint.Display(quote.Fee),
		ReceiveAmount:  fixedpoint.Display(quote.ReceiveAmount),
		CanWithdraw:    CanWithdraw(mode, info),
	}, nil
}

// SubmitWithdraw executes a withdrawal in the selected mode.
func (s *Service) SubmitWithdraw(ctx context.Context, walletAddr string, mode WithdrawMode) (*Operation, error) {
	ctx, span := traces.StartSpan(ctx, "invest.submit_withdraw",
		traces.WalletAddr(walletAddr), traces.WithdrawMode(string(mode)))
	defer span.End()

	owner, err := parseWallet(walletAddr)
	if err != nil {
		return nil, err
	}

	state, err := s.investmentState(ctx, owner)
	if err != nil {
		return nil, err
	}
	info := s.toInfo(state)

	if !CanWithdraw(mode, info) {
		return nil, ErrNothingToWithdraw
	}

	quote, err := s.calculator.Quote(WithdrawSelection{
		Mode:         mode,
		Principal:    info.Principal,
		PendingYield: info.PendingYield,
		FeeRateBps:   s.cfg.FeeRateBps,
	})
	if err != nil {
		return nil, err
	}

	kind := OpWithdrawYield
	if mode == WithdrawFull {
		kind = OpWithdrawFull
	}

	op := &Operation{
		ID:         idgen.WithPrefix("op_"),
		Kind:       kind,
		WalletAddr: owner.Hex(),
		Amount:     fixedpoint.Display(quote.WithdrawAmount),
		Fee:        fixedpoint.Display(quote.Fee),
		Receive:    fixedpoint.Display(quote.ReceiveAmount),
		Status:     OpStatusPending,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("journal withdrawal: %w", err)
	}
	span.SetAttributes(traces.OperationID(op.ID))

	s.notify(Notification{
		Type:          NotifyPending,
		Title:         withdrawTitle(mode),
		Description:   fmt.Sprintf("Withdrawing %s, receiving %s", op.Amount, op.Receive),
		WalletAddress: op.WalletAddr,
		OperationID:   op.ID,
	})

	var txHash string
	if mode == WithdrawYieldOnly {
		txHash, err = s.chain.WithdrawYield(ctx)
	} else {
		txHash, err = s.chain.WithdrawFull(ctx)
	}
	if err != nil {
		return s.failOperation(ctx, op, "withdrawal failed", err)
	}
	op.TxHash = txHash
	if err := s.chain.WaitForConfirmation(ctx, txHash, s.cfg.ConfirmationTimeout); err != nil {
		return s.failOperation(ctx, op, "withdrawal not confirmed", err)
	}

	return s.completeOperation(ctx, op,
		fmt.Sprintf("Withdrew %s, received %s", op.Amount, op.Receive))
}

// Info returns the wallet's current vault state.
func (s *Service) Info(ctx context.Context, walletAddr string) (*InvestmentInfo, error) {
	owner, err := parseWallet(walletAddr)
	if err != nil {
		return nil, err
	}
	state, err := s.investmentState(ctx, owner)
	if err != nil {
		return nil, err
	}
	info := s.toInfo(state)
	return &info, nil
}

// Operations lists the journal for a wallet, newest first.
func (s *Service) Operations(ctx context.Context, walletAddr string, limit int) ([]*Operation, error) {
	owner, err := parseWallet(walletAddr)
	if err != nil {
		return nil, err
	}
	return s.store.ListByWallet(ctx, owner.Hex(), limit)
}

// --- internals ---

func (s *Service) toInfo(state *ChainInvestment) InvestmentInfo {
	d := s.cfg.Decimals
	return InvestmentInfo{
		Principal:    fixedpoint.FromRaw(state.Principal, d),
		PendingYield: fixedpoint.FromRaw(state.PendingYield, d),
		Stats: InvestmentStats{
			TotalBaseYield:      fixedpoint.FromRaw(state.TotalBaseYield, d),
			TotalBoostYield:     fixedpoint.FromRaw(state.TotalBoostYield, d),
			TotalWithdrawals:    fixedpoint.FromRaw(state.TotalWithdrawals, d),
			UserTotalInvestment: fixedpoint.FromRaw(state.UserTotalInvestment, d),
		},
	}
}

func (s *Service) tokenBalance(ctx context.Context, owner common.Address) (fixedpoint.Amount, error) {
	var raw *big.Int
	err := retry.Do(ctx, chainReadAttempts, chainReadBackoff, func() error {
		var err error
		raw, err = s.chain.TokenBalance(ctx, owner)
		return err
	})
	if err != nil {
		return fixedpoint.Amount{}, fmt.Errorf("read token balance: %w", err)
	}
	return fixedpoint.FromRaw(raw, s.cfg.Decimals), nil
}

func (s *Service) allowance(ctx context.Context, owner common.Address) (*big.Int, error) {
	var raw *big.Int
	err := retry.Do(ctx, chainReadAttempts, chainReadBackoff, func() error {
		var err error
		raw, err = s.chain.Allowance(ctx, owner)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read allowance: %w", err)
	}
	return raw, nil
}

func (s *Service) investmentState(ctx context.Context, owner common.Address) (*ChainInvestment, error) {
	var state *ChainInvestment
	err := retry.Do(ctx, chainReadAttempts, chainReadBackoff, func() error {
		var err error
		state, err = s.chain.InvestmentState(ctx, owner)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read investment info: %w", err)
	}
	return state, nil
}

// completeOperation marks the operation successful and notifies.
func (s *Service) completeOperation(ctx context.Context, op *Operation, description string) (*Operation, error) {
	op.Status = OpStatusSuccess
	op.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateOperation(ctx, op); err != nil {
		s.logger.Error("journal update failed", "operation", op.ID, "error", err)
	}
	metrics.OperationsTotal.WithLabelValues(string(op.Kind), string(OpStatusSuccess)).Inc()
	s.logger.Info("operation complete", "operation", op.ID, "kind", op.Kind, "tx", op.TxHash)

	s.notify(Notification{
		Type:          NotifySuccess,
		Title:         operationTitle(op.Kind),
		Description:   description,
		WalletAddress: op.WalletAddr,
		OperationID:   op.ID,
	})
	return op, nil
}

// failOperation records the failure on the journal entry and notifies.
// The original error is returned to the caller.
func (s *Service) failOperation(ctx context.Context, op *Operation, detail string, cause error) (*Operation, error) {
	op.Status = OpStatusError
	op.Detail = detail
	op.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateOperation(ctx, op); err != nil {
		s.logger.Error("journal update failed", "operation", op.ID, "error", err)
	}
	metrics.OperationsTotal.WithLabelValues(string(op.Kind), string(OpStatusError)).Inc()
	s.logger.Warn("operation failed", "operation", op.ID, "kind", op.Kind, "detail", detail, "error", cause)

	s.notify(Notification{
		Type:          NotifyError,
		Title:         operationTitle(op.Kind),
		Description:   detail,
		WalletAddress: op.WalletAddr,
		OperationID:   op.ID,
	})
	return nil, fmt.Errorf("%s: %w", detail, cause)
}

func (s *Service) notify(n Notification) {
	if s.notifier != nil {
		s.notifier.Notify(n)
	}
}

func parseWallet(addr string) (common.Address, error) {
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrWalletRequired, addr)
	}
	return common.HexToAddress(addr), nil
}

func validLabel(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}

func operationTitle(kind OperationKind) string {
	switch kind {
	case OpDeposit:
		return "Deposit"
	case OpWithdrawYield:
		return "Withdraw yield"
	case OpWithdrawFull:
		return "Withdraw all"
	}
	return "Operation"
}

func withdrawTitle(mode WithdrawMode) string {
	if mode == WithdrawFull {
		return "Withdraw all"
	}
	return "Withdraw yield"
}

// errors.Is helpers used by handlers to map errors onto HTTP statuses.
func IsUserError(err error) bool {
	return errors.Is(err, ErrAmountInvalid) ||
		errors.Is(err, ErrNothingToWithdraw) ||
		errors.Is(err, ErrReferrerRequired) ||
		errors.Is(err, ErrWalletRequired)
}
