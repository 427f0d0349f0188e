// Package chain handles all blockchain interactions for the yield vault:
// token balance and allowance reads, approve, invest, and the two
// withdrawal entry points.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	ErrInvalidPrivateKey = errors.New("chain: invalid private key")
	ErrInvalidAddress    = errors.New("chain: invalid address")
	ErrTransactionFailed = errors.New("chain: transaction failed")
	ErrTimeout           = errors.New("chain: operation timed out")
	ErrRPCConnection     = errors.New("chain: RPC connection failed")
)

// CallError wraps contract call failures with context.
type CallError struct {
	Op     string // Operation that failed
	TxHash string // Transaction hash if available
	Err    error  // Underlying error
}

func (e *CallError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("chain: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("chain: %s failed: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// -----------------------------------------------------------------------------
// Interfaces
// -----------------------------------------------------------------------------

// EthClient abstracts go-ethereum's client for testing.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	NetworkID(ctx context.Context) (*big.Int, error)
	Close()
}

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

// Minimal ERC20 ABI: reads plus approve for the two-phase deposit flow.
const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

// Vault contract ABI: invest with referrer, the two withdrawal paths, and
// the per-user accounting read.
const vaultABI = `[
	{"inputs":[{"name":"amount","type":"uint256"},{"name":"referrer","type":"address"}],"name":"invest","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"inputs":[],"name":"withdrawYield","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"inputs":[],"name":"withdrawFull","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"inputs":[{"name":"user","type":"address"}],"name":"getInvestmentInfo","outputs":[{"name":"principal","type":"uint256"},{"name":"pendingYield","type":"uint256"},{"name":"totalBaseYield","type":"uint256"},{"name":"totalBoostYield","type":"uint256"},{"name":"totalWithdrawals","type":"uint256"},{"name":"userTotalInvestment","type":"uint256"}],"type":"function","constant":true}
]`

const (
	// DefaultGasLimit for vault and token transactions.
	DefaultGasLimit = uint64(250000)

	// DefaultConfirmationTimeout for waiting on transactions.
	DefaultConfirmationTimeout = 60 * time.Second

	// ConfirmationPollInterval between receipt checks.
	ConfirmationPollInterval = 2 * time.Second
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Config for creating a new Client.
type Config struct {
	RPCURL        string
	PrivateKey    string // Hex string, with or without 0x prefix
	ChainID       int64
	TokenContract string
	VaultContract string
}

// Option configures the client.
type Option func(*Client)

// WithClient sets a custom Ethereum client (useful for testing).
func WithClient(ec EthClient) Option {
	return func(c *Client) {
		c.client = ec
	}
}

// InvestmentState is the raw per-user accounting read from the vault.
type InvestmentState struct {
	Principal           *big.Int
	PendingYield        *big.Int
	TotalBaseYield      *big.Int
	TotalBoostYield     *big.Int
	TotalWithdrawals    *big.Int
	UserTotalInvestment *big.Int
}

// Client submits vault transactions with an operator key and reads token
// and vault state for any wallet.
type Client struct {
	client        EthClient
	privateKey    *ecdsa.PrivateKey
	operator      common.Address
	chainID       *big.Int
	tokenContract common.Address
	vaultContract common.Address
	tokenABI      abi.ABI
	vaultABI      abi.ABI
}

// New creates a new Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidPrivateKey)
	}

	tokenParsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}
	vaultParsed, err := abi.JSON(strings.NewReader(vaultABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse vault ABI: %w", err)
	}

	c := &Client{
		privateKey:    privateKey,
		operator:      crypto.PubkeyToAddress(*publicKey),
		chainID:       big.NewInt(cfg.ChainID),
		tokenContract: common.HexToAddress(cfg.TokenContract),
		vaultContract: common.HexToAddress(cfg.VaultContract),
		tokenABI:      tokenParsed,
		vaultABI:      vaultParsed,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.client == nil {
		ec, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		c.client = ec
	}

	return c, nil
}

func validateConfig(cfg Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	if cfg.PrivateKey == "" {
		return fmt.Errorf("%w: private key required", ErrInvalidPrivateKey)
	}
	if key := strings.TrimPrefix(cfg.PrivateKey, "0x"); len(key) != 64 {
		return fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("chain ID required")
	}
	if !common.IsHexAddress(cfg.TokenContract) {
		return fmt.Errorf("%w: token contract", ErrInvalidAddress)
	}
	if !common.IsHexAddress(cfg.VaultContract) {
		return fmt.Errorf("%w: vault contract", ErrInvalidAddress)
	}
	return nil
}

// OperatorAddress returns the address transactions are signed with.
func (c *Client) OperatorAddress() common.Address {
	return c.operator
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// TokenBalance returns the vault token balance of any address.
func (c *Client) TokenBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	data, err := c.tokenABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf call: %w", err)
	}

	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &c.tokenContract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}

	return new(big.Int).SetBytes(result), nil
}

// Allowance returns how much the vault may currently pull from the owner.
func (c *Client) Allowance(ctx context.Context, owner common.Address) (*big.Int, error) {
	data, err := c.tokenABI.Pack("allowance", owner, c.vaultContract)
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance call: %w", err)
	}

	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &c.tokenContract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call allowance: %w", err)
	}

	return new(big.Int).SetBytes(result), nil
}

// InvestmentInfo reads the per-user vault accounting for a wallet.
func (c *Client) InvestmentInfo(ctx context.Context, owner common.Address) (*InvestmentState, error) {
	data, err := c.vaultABI.Pack("getInvestmentInfo", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getInvestmentInfo call: %w", err)
	}

	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &c.vaultContract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call getInvestmentInfo: %w", err)
	}

	vals, err := c.vaultABI.Unpack("getInvestmentInfo", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack getInvestmentInfo: %w", err)
	}
	if len(vals) != 6 {
		return nil, fmt.Errorf("getInvestmentInfo returned %d values, want 6", len(vals))
	}

	nums := make([]*big.Int, 6)
	for i, v := range vals {
		n, ok := v.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("getInvestmentInfo value %d is not uint256", i)
		}
		nums[i] = n
	}

	return &InvestmentState{
		Principal:           nums[0],
		PendingYield:        nums[1],
		TotalBaseYield:      nums[2],
		TotalBoostYield:     nums[3],
		TotalWithdrawals:    nums[4],
		UserTotalInvestment: nums[5],
	}, nil
}

// -----------------------------------------------------------------------------
// Transactions
// -----------------------------------------------------------------------------

// Approve grants the vault an allowance of the given amount from the
// operator wallet. Must land before Invest for the same request.
func (c *Client) Approve(ctx context.Context, amount *big.Int) (string, error) {
	data, err := c.tokenABI.Pack("approve", c.vaultContract, amount)
	if err != nil {
		return "", &CallError{Op: "approve_pack", Err: err}
	}
	return c.send(ctx, "approve", c.tokenContract, data)
}

// Invest deposits the amount into the vault crediting the referrer.
func (c *Client) Invest(ctx context.Context, amount *big.Int, referrer common.Address) (string, error) {
	data, err := c.vaultABI.Pack("invest", amount, referrer)
	if err != nil {
		return "", &CallError{Op: "invest_pack", Err: err}
	}
	return c.send(ctx, "invest", c.vaultContract, data)
}

// WithdrawYield takes pending yield only. No fee.
func (c *Client) WithdrawYield(ctx context.Context) (string, error) {
	data, err := c.vaultABI.Pack("withdrawYield")
	if err != nil {
		return "", &CallError{Op: "withdraw_yield_pack", Err: err}
	}
	return c.send(ctx, "withdraw_yield", c.vaultContract, data)
}

// WithdrawFull takes principal plus pending yield. The contract deducts
// the exit fee on chain; quoting it is the invest package's job.
func (c *Client) WithdrawFull(ctx context.Context) (string, error) {
	data, err := c.vaultABI.Pack("withdrawFull")
	if err != nil {
		return "", &CallError{Op: "withdraw_full_pack", Err: err}
	}
	return c.send(ctx, "withdraw_full", c.vaultContract, data)
}

// send signs and broadcasts a contract call from the operator wallet.
func (c *Client) send(ctx context.Context, op string, to common.Address, data []byte) (string, error) {
	nonce, err := c.client.PendingNonceAt(ctx, c.operator)
	if err != nil {
		return "", &CallError{Op: op + "_nonce", Err: err}
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", &CallError{Op: op + "_gas_price", Err: err}
	}

	gasLimit, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.operator,
		To:    &to,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		// Use default if estimation fails
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return "", &CallError{Op: op + "_sign", Err: err}
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return "", &CallError{Op: op + "_send", TxHash: signedTx.Hash().Hex(), Err: err}
	}

	return signedTx.Hash().Hex(), nil
}

// WaitForConfirmation polls until the transaction is mined or the timeout
// expires. A mined-but-reverted transaction is ErrTransactionFailed.
func (c *Client) WaitForConfirmation(ctx context.Context, txHash string, timeout time.Duration) error {
	hash := common.HexToHash(txHash)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(ConfirmationPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: waiting for tx %s", ErrTimeout, txHash)
			}
			return ctx.Err()

		case <-ticker.C:
			receipt, err := c.client.TransactionReceipt(ctx, hash)
			if err != nil {
				// Transaction not yet mined, continue waiting
				continue
			}

			if receipt.Status == 0 {
				return &CallError{Op: "confirm", TxHash: txHash, Err: ErrTransactionFailed}
			}
			return nil
		}
	}
}

// Close closes the client connection.
func (c *Client) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
