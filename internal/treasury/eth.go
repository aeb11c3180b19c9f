package treasury

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// weiPerMicro converts the ledger's int64 micro-units to wei
// (1 micro-unit = 1e12 wei, so 1e6 micro-units = 1 ether).
var weiPerMicro = big.NewInt(1_000_000_000_000)

// payoutGasLimit is the gas limit for a plain value transfer.
const payoutGasLimit uint64 = 21_000

// EthConfig holds the parameters for the on-chain treasury.
type EthConfig struct {
	// RPCURL is the JSON-RPC endpoint of an Ethereum-compatible node.
	RPCURL string

	// ChainID of the target network.
	ChainID int64

	// PrivateKeyHex is the hot wallet's signing key (with or without 0x
	// prefix). Use the crypto package's key vault to keep it encrypted at
	// rest.
	PrivateKeyHex string
}

// Eth is a custodial hot-wallet treasury. Participants fund the wallet
// on-chain out-of-band; Collect verifies the wallet's balance covers the new
// escrow liability, and Disburse signs and broadcasts a value transfer to the
// participant's address. Participant identities are hex addresses.
type Eth struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	logger  *slog.Logger

	mu        sync.Mutex
	liability int64 // escrow owed, in micro-units
}

// NewEth dials the RPC endpoint and derives the hot wallet address from the
// signing key.
func NewEth(ctx context.Context, cfg EthConfig, logger *slog.Logger) (*Eth, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("treasury: rpc url is required")
	}
	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("treasury: chain id must be positive, got %d", cfg.ChainID)
	}

	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("treasury: parse private key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("treasury: dial %s: %w", cfg.RPCURL, err)
	}

	return &Eth{
		client:  client,
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(cfg.ChainID),
		logger:  logger.With(slog.String("component", "eth_treasury")),
	}, nil
}

// Address returns the hot wallet address participants fund.
func (e *Eth) Address() common.Address {
	return e.address
}

// Close releases the RPC connection.
func (e *Eth) Close() {
	e.client.Close()
}

// Collect records amount as new escrow liability after verifying the hot
// wallet's on-chain balance covers every outstanding liability plus the new
// stake. Deposits themselves arrive on-chain out-of-band.
func (e *Eth) Collect(ctx context.Context, from string, amount int64) error {
	if !common.IsHexAddress(from) {
		return fmt.Errorf("treasury: collect: %q is not a hex address: %w", from, domain.ErrInvalidArgument)
	}
	if amount <= 0 {
		return fmt.Errorf("treasury: collect %d: %w", amount, domain.ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	balance, err := e.client.BalanceAt(ctx, e.address, nil)
	if err != nil {
		return fmt.Errorf("treasury: balance of %s: %w", e.address.Hex(), err)
	}

	required := new(big.Int).Mul(big.NewInt(e.liability+amount), weiPerMicro)
	if balance.Cmp(required) < 0 {
		return fmt.Errorf("treasury: collect %d from %s: wallet balance %s wei below liability %s wei: %w",
			amount, from, balance, required, domain.ErrInsufficientFunds)
	}

	e.liability += amount
	return nil
}

// Disburse signs and broadcasts a value transfer of amount to the
// participant's address, then releases the matching liability.
func (e *Eth) Disburse(ctx context.Context, to string, amount int64) error {
	if !common.IsHexAddress(to) {
		return fmt.Errorf("treasury: disburse: %q is not a hex address: %w", to, domain.ErrInvalidArgument)
	}
	if amount <= 0 {
		return fmt.Errorf("treasury: disburse %d: %w", amount, domain.ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	nonce, err := e.client.PendingNonceAt(ctx, e.address)
	if err != nil {
		return fmt.Errorf("treasury: pending nonce: %w", err)
	}
	tipCap, err := e.client.SuggestGasTipCap(ctx)
	if err != nil {
		return fmt.Errorf("treasury: suggest tip cap: %w", err)
	}
	head, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("treasury: latest header: %w", err)
	}

	// feeCap = 2*baseFee + tip leaves headroom for base-fee growth across a
	// few blocks.
	feeCap := new(big.Int).Add(
		new(big.Int).Mul(head.BaseFee, big.NewInt(2)),
		tipCap,
	)

	dst := common.HexToAddress(to)
	value := new(big.Int).Mul(big.NewInt(amount), weiPerMicro)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       payoutGasLimit,
		To:        &dst,
		Value:     value,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.key)
	if err != nil {
		return fmt.Errorf("treasury: sign payout tx: %w", err)
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("treasury: send payout tx: %w", err)
	}

	e.liability -= amount

	e.logger.InfoContext(ctx, "payout broadcast",
		slog.String("to", dst.Hex()),
		slog.Int64("amount", amount),
		slog.String("tx", signed.Hash().Hex()),
	)
	return nil
}

var _ domain.Treasury = (*Eth)(nil)
