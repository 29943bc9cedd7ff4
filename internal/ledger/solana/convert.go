package solana

import (
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// transfer is the balance movement of one account inside a transaction.
type transfer struct {
	from    string
	amount  decimal.Decimal
	fee     uint64
	failed  bool
	credits bool
}

func toLamports(amount decimal.Decimal) (uint64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount must be positive: %s", amount)
	}
	lamports := amount.Shift(lamportDecimals)
	if !lamports.Equal(lamports.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", amount, lamportDecimals)
	}
	return uint64(lamports.IntPart()), nil
}

func fromLamports(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -lamportDecimals)
}

// parseTransfer computes how much the transaction credited to.
// The fee payer (first account key) is reported as the sender.
func parseTransfer(tx *rpc.GetTransactionResult, to solana.PublicKey) (*transfer, error) {
	if tx.Transaction == nil {
		return nil, fmt.Errorf("transaction envelope is empty")
	}
	parsed, err := tx.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	t := &transfer{amount: decimal.Zero}
	keys := parsed.Message.AccountKeys
	if len(keys) > 0 {
		t.from = keys[0].String()
	}
	if tx.Meta == nil {
		return t, nil
	}
	t.fee = tx.Meta.Fee
	t.failed = tx.Meta.Err != nil

	for i, key := range keys {
		if !key.Equals(to) {
			continue
		}
		if i >= len(tx.Meta.PreBalances) || i >= len(tx.Meta.PostBalances) {
			break
		}
		pre, post := tx.Meta.PreBalances[i], tx.Meta.PostBalances[i]
		if post > pre {
			t.credits = true
			t.amount = fromLamports(post - pre)
		}
		break
	}
	return t, nil
}

// compareTransfer lists every way t differs from the expected payment.
func compareTransfer(t *transfer, expected decimal.Decimal) []string {
	var errs []string
	if t.failed {
		errs = append(errs, "transaction failed on chain")
	}
	if !t.credits {
		errs = append(errs, "transaction does not credit the group wallet")
	} else if !t.amount.Equal(expected) {
		errs = append(errs, fmt.Sprintf("amount mismatch: expected %s, got %s", expected, t.amount))
	}
	return errs
}
