// Package solana implements ledger.Oracle on top of a Solana JSON-RPC endpoint.
// Amounts are expressed in SOL and converted to lamports on the wire.
package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/mmynk/chamaledger/internal/ledger"
)

// lamportDecimals is the number of decimal places between SOL and lamports.
const lamportDecimals = 9

// Config configures the Solana oracle.
type Config struct {
	RPCURL string
	// PayerSecret is the base58 private key of the treasury wallet that funds payouts.
	PayerSecret string
	// Timeout bounds every RPC call.
	Timeout time.Duration
}

// Oracle is a ledger.Oracle backed by Solana.
type Oracle struct {
	client  *rpc.Client
	payer   solana.PrivateKey
	timeout time.Duration
}

var _ ledger.Oracle = (*Oracle)(nil)

// New creates an Oracle. PayerSecret may be empty, in which case Submit fails.
func New(cfg Config) (*Oracle, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("solana rpc url is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	o := &Oracle{
		client:  rpc.New(cfg.RPCURL),
		timeout: cfg.Timeout,
	}
	if cfg.PayerSecret != "" {
		pk, err := solana.PrivateKeyFromBase58(cfg.PayerSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to parse payer secret: %w", err)
		}
		o.payer = pk
	}
	return o, nil
}

// Close releases the RPC client.
func (o *Oracle) Close() error {
	return o.client.Close()
}

// VerifyTransaction checks that the transaction with signature txRef credited
// expectedTo with expectedAmount SOL and has been finalized.
func (o *Oracle) VerifyTransaction(ctx context.Context, txRef string, expectedAmount decimal.Decimal, expectedTo string) (*ledger.Verification, error) {
	sig, err := solana.SignatureFromBase58(txRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrInvalidReference, err)
	}
	to, err := solana.PublicKeyFromBase58(expectedTo)
	if err != nil {
		return nil, fmt.Errorf("failed to parse recipient address: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	statuses, err := o.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}
	if len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return &ledger.Verification{Found: false}, nil
	}
	status := statuses.Value[0]
	if status.ConfirmationStatus != rpc.ConfirmationStatusFinalized {
		return &ledger.Verification{Found: true, Final: false, BlockNumber: status.Slot}, nil
	}

	tx, err := o.getTransaction(ctx, sig)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return &ledger.Verification{Found: false}, nil
	}

	transfer, err := parseTransfer(tx, to)
	if err != nil {
		return nil, err
	}

	v := &ledger.Verification{
		Found:       true,
		Final:       true,
		From:        transfer.from,
		To:          expectedTo,
		Amount:      transfer.amount,
		GasUsed:     transfer.fee,
		GasPrice:    1,
		BlockNumber: tx.Slot,
	}
	v.Errors = compareTransfer(transfer, expectedAmount)
	v.Valid = len(v.Errors) == 0

	slog.Debug("Solana transaction verified", "tx_ref", txRef, "valid", v.Valid, "slot", tx.Slot)
	return v, nil
}

// GetReceipt returns the receipt of a finalized transaction, or nil if it is not final yet.
func (o *Oracle) GetReceipt(ctx context.Context, txRef string) (*ledger.Receipt, error) {
	sig, err := solana.SignatureFromBase58(txRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrInvalidReference, err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	tx, err := o.getTransaction(ctx, sig)
	if err != nil || tx == nil {
		return nil, err
	}

	receipt := &ledger.Receipt{
		TxRef:       txRef,
		Success:     tx.Meta == nil || tx.Meta.Err == nil,
		BlockNumber: tx.Slot,
		GasPrice:    1,
	}
	if tx.Meta != nil {
		receipt.GasUsed = tx.Meta.Fee
	}
	return receipt, nil
}

// Submit transfers amount SOL from the payer wallet to the given address.
func (o *Oracle) Submit(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	if len(o.payer) == 0 {
		return "", errors.New("solana payer secret is not configured")
	}
	recipient, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return "", fmt.Errorf("failed to parse recipient address: %w", err)
	}
	lamports, err := toLamports(amount)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	bh, err := o.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	payerPubkey := o.payer.PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, payerPubkey, recipient).Build(),
		},
		bh.Value.Blockhash,
		solana.TransactionPayer(payerPubkey),
	)
	if err != nil {
		return "", fmt.Errorf("failed to build transaction: %w", err)
	}

	if _, err := tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(payerPubkey) {
			return &o.payer
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := o.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	if sig.IsZero() {
		return "", errors.New("rpc returned an empty signature")
	}

	slog.Info("Solana transfer submitted", "tx_ref", sig.String(), "to", to, "lamports", lamports)
	return sig.String(), nil
}

// GetBalance returns the finalized SOL balance of address.
func (o *Oracle) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse address: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	res, err := o.client.GetBalance(ctx, pk, rpc.CommitmentFinalized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return fromLamports(res.Value), nil
}

// TreasuryAddress returns the public key of the payer wallet, or "" if none is configured.
func (o *Oracle) TreasuryAddress() string {
	if len(o.payer) == 0 {
		return ""
	}
	return o.payer.PublicKey().String()
}

func (o *Oracle) getTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	maxVersion := uint64(0)
	tx, err := o.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}
