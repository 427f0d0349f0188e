package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPrivateKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	testToken      = "0x1111111111111111111111111111111111111111"
	testVault      = "0x2222222222222222222222222222222222222222"
)

func testChainConfig() Config {
	return Config{
		RPCURL:        "https://bsc-testnet.example.org",
		PrivateKey:    testPrivateKey,
		ChainID:       97,
		TokenContract: testToken,
		VaultContract: testVault,
	}
}

// fakeEthClient is a scriptable EthClient. CallContract answers by target
// contract; transaction fields are recorded for assertions.
type fakeEthClient struct {
	tokenResult []byte
	vaultResult []byte
	callErr     error

	nonce       uint64
	gasPrice    *big.Int
	gasEstimate uint64
	gasErr      error
	sendErr     error
	sentTx      *types.Transaction

	receipt    *types.Receipt
	receiptErr error
}

func (f *fakeEthClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeEthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if f.gasPrice == nil {
		return big.NewInt(1_000_000_000), nil
	}
	return f.gasPrice, nil
}

func (f *fakeEthClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	if f.gasErr != nil {
		return 0, f.gasErr
	}
	if f.gasEstimate == 0 {
		return 100_000, nil
	}
	return f.gasEstimate, nil
}

func (f *fakeEthClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentTx = tx
	return nil
}

func (f *fakeEthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	return f.receipt, nil
}

func (f *fakeEthClient) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	if call.To != nil && *call.To == common.HexToAddress(testToken) {
		return f.tokenResult, nil
	}
	return f.vaultResult, nil
}

func (f *fakeEthClient) NetworkID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(97), nil
}

func (f *fakeEthClient) Close() {}

func newTestClient(t *testing.T, fake *fakeEthClient) *Client {
	t.Helper()
	c, err := New(testChainConfig(), WithClient(fake))
	require.NoError(t, err)
	return c
}

// word ABI-encodes a single uint256.
func word(n int64) []byte {
	return common.LeftPadBytes(big.NewInt(n).Bytes(), 32)
}

func words(ns ...int64) []byte {
	var out []byte
	for _, n := range ns {
		out = append(out, word(n)...)
	}
	return out
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:   "valid config with 0x prefix",
			mutate: func(c *Config) { c.PrivateKey = "0x" + testPrivateKey },
		},
		{
			name:    "missing RPC URL",
			mutate:  func(c *Config) { c.RPCURL = "" },
			wantErr: true,
		},
		{
			name:    "missing private key",
			mutate:  func(c *Config) { c.PrivateKey = "" },
			wantErr: true,
		},
		{
			name:    "invalid private key length",
			mutate:  func(c *Config) { c.PrivateKey = "tooshort" },
			wantErr: true,
		},
		{
			name:    "missing chain ID",
			mutate:  func(c *Config) { c.ChainID = 0 },
			wantErr: true,
		},
		{
			name:    "invalid token contract",
			mutate:  func(c *Config) { c.TokenContract = "not-an-address" },
			wantErr: true,
		},
		{
			name:    "invalid vault contract",
			mutate:  func(c *Config) { c.VaultContract = "0x123" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testChainConfig()
			tt.mutate(&cfg)
			err := validateConfig(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_InvalidPrivateKey(t *testing.T) {
	cfg := testChainConfig()
	cfg.PrivateKey = "zzzz456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

	_, err := New(cfg, WithClient(&fakeEthClient{}))
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)
}

func TestTokenBalance(t *testing.T) {
	balance := new(big.Int).Mul(big.NewInt(10_000), big.NewInt(1e18))
	fake := &fakeEthClient{tokenResult: common.LeftPadBytes(balance.Bytes(), 32)}
	c := newTestClient(t, fake)

	got, err := c.TokenBalance(context.Background(), common.HexToAddress("0xaaaa000000000000000000000000000000000001"))
	require.NoError(t, err)
	assert.Equal(t, 0, balance.Cmp(got))
}

func TestAllowance(t *testing.T) {
	fake := &fakeEthClient{tokenResult: word(12345)}
	c := newTestClient(t, fake)

	got, err := c.Allowance(context.Background(), common.HexToAddress("0xaaaa000000000000000000000000000000000001"))
	require.NoError(t, err)
	assert.Equal(t, int64(12345), got.Int64())
}

func TestInvestmentInfo(t *testing.T) {
	fake := &fakeEthClient{vaultResult: words(100, 200, 300, 400, 500, 600)}
	c := newTestClient(t, fake)

	state, err := c.InvestmentInfo(context.Background(), common.HexToAddress("0xaaaa000000000000000000000000000000000001"))
	require.NoError(t, err)

	assert.Equal(t, int64(100), state.Principal.Int64())
	assert.Equal(t, int64(200), state.PendingYield.Int64())
	assert.Equal(t, int64(300), state.TotalBaseYield.Int64())
	assert.Equal(t, int64(400), state.TotalBoostYield.Int64())
	assert.Equal(t, int64(500), state.TotalWithdrawals.Int64())
	assert.Equal(t, int64(600), state.UserTotalInvestment.Int64())
}

func TestInvestmentInfo_MalformedResult(t *testing.T) {
	fake := &fakeEthClient{vaultResult: word(100)}
	c := newTestClient(t, fake)

	_, err := c.InvestmentInfo(context.Background(), common.HexToAddress("0xaaaa000000000000000000000000000000000001"))
	assert.Error(t, err)
}

func TestInvestmentInfo_CallError(t *testing.T) {
	fake := &fakeEthClient{callErr: errors.New("rpc unavailable")}
	c := newTestClient(t, fake)

	_, err := c.InvestmentInfo(context.Background(), common.HexToAddress("0xaaaa000000000000000000000000000000000001"))
	assert.Error(t, err)
}

func TestApprove(t *testing.T) {
	fake := &fakeEthClient{nonce: 7}
	c := newTestClient(t, fake)

	hash, err := c.Approve(context.Background(), big.NewInt(1e18))
	require.NoError(t, err)
	require.NotNil(t, fake.sentTx)

	assert.Equal(t, hash, fake.sentTx.Hash().Hex())
	assert.Equal(t, uint64(7), fake.sentTx.Nonce())
	// Approve is an ERC20 call, so it targets the token contract.
	assert.Equal(t, common.HexToAddress(testToken), *fake.sentTx.To())
}

func TestInvest(t *testing.T) {
	fake := &fakeEthClient{}
	c := newTestClient(t, fake)

	hash, err := c.Invest(context.Background(), big.NewInt(1e18),
		common.HexToAddress("0xbbbb000000000000000000000000000000000002"))
	require.NoError(t, err)
	require.NotNil(t, fake.sentTx)

	assert.Equal(t, hash, fake.sentTx.Hash().Hex())
	assert.Equal(t, common.HexToAddress(testVault), *fake.sentTx.To())
}

func TestWithdrawTargetsVault(t *testing.T) {
	for _, mode := range []string{"yield", "full"} {
		t.Run(mode, func(t *testing.T) {
			fake := &fakeEthClient{}
			c := newTestClient(t, fake)

			var err error
			if mode == "yield" {
				_, err = c.WithdrawYield(context.Background())
			} else {
				_, err = c.WithdrawFull(context.Background())
			}
			require.NoError(t, err)
			require.NotNil(t, fake.sentTx)
			assert.Equal(t, common.HexToAddress(testVault), *fake.sentTx.To())
		})
	}
}

func TestSend_GasEstimationFallback(t *testing.T) {
	fake := &fakeEthClient{gasErr: errors.New("execution reverted")}
	c := newTestClient(t, fake)

	_, err := c.Approve(context.Background(), big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, DefaultGasLimit, fake.sentTx.Gas())
}

func TestSend_BroadcastError(t *testing.T) {
	fake := &fakeEthClient{sendErr: errors.New("nonce too low")}
	c := newTestClient(t, fake)

	_, err := c.Approve(context.Background(), big.NewInt(1))
	require.Error(t, err)

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, "approve_send", callErr.Op)
	assert.NotEmpty(t, callErr.TxHash)
}

func TestWaitForConfirmation_Success(t *testing.T) {
	fake := &fakeEthClient{receipt: &types.Receipt{Status: 1}}
	c := newTestClient(t, fake)

	err := c.WaitForConfirmation(context.Background(), "0xabc", 10*time.Second)
	assert.NoError(t, err)
}

func TestWaitForConfirmation_Reverted(t *testing.T) {
	fake := &fakeEthClient{receipt: &types.Receipt{Status: 0}}
	c := newTestClient(t, fake)

	err := c.WaitForConfirmation(context.Background(), "0xabc", 10*time.Second)
	assert.ErrorIs(t, err, ErrTransactionFailed)
}

func TestWaitForConfirmation_Timeout(t *testing.T) {
	fake := &fakeEthClient{receiptErr: errors.New("not found")}
	c := newTestClient(t, fake)

	err := c.WaitForConfirmation(context.Background(), "0xabc", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCallError(t *testing.T) {
	tests := []struct {
		name     string
		err      *CallError
		contains string
	}{
		{
			name: "with tx hash",
			err: &CallError{
				Op:     "invest_send",
				TxHash: "0xabc123",
				Err:    errors.New("network error"),
			},
			contains: "0xabc123",
		},
		{
			name: "without tx hash",
			err: &CallError{
				Op:  "approve_nonce",
				Err: errors.New("failed to get nonce"),
			},
			contains: "approve_nonce failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, tt.err.Error(), tt.contains)
			assert.True(t, errors.Is(tt.err, tt.err.Err))
		})
	}
}
