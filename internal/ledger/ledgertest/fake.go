// Package ledgertest provides a scriptable in-memory ledger.Oracle for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mmynk/chamaledger/internal/ledger"
)

// VerifyFunc scripts the answer to one VerifyTransaction call.
type VerifyFunc func(txRef string, expectedAmount decimal.Decimal, expectedTo string) (*ledger.Verification, error)

// Oracle is a fake ledger.Oracle. Answers are scripted per tx reference and
// consumed in order; the last scripted answer repeats.
type Oracle struct {
	mu sync.Mutex

	verify   map[string][]VerifyFunc
	receipts map[string][]receiptAnswer
	submits  []submitAnswer
	balances map[string]decimal.Decimal
	treasury string
	onSubmit func()

	verifyCalls  map[string]int
	receiptCalls map[string]int
	submitCalls  int
	submitted    []Transfer
	nextRef      int
}

type receiptAnswer struct {
	receipt *ledger.Receipt
	err     error
}

type submitAnswer struct {
	ref string
	err error
}

// Transfer is one successful Submit call.
type Transfer struct {
	TxRef  string
	To     string
	Amount decimal.Decimal
}

var _ ledger.Oracle = (*Oracle)(nil)

// DefaultTreasury is the address Submit debits unless SetTreasury changes it.
const DefaultTreasury = "fake-treasury"

// New returns a fake whose treasury holds a large balance.
func New() *Oracle {
	return &Oracle{
		verify:       make(map[string][]VerifyFunc),
		receipts:     make(map[string][]receiptAnswer),
		balances:     map[string]decimal.Decimal{DefaultTreasury: decimal.NewFromInt(1_000_000)},
		treasury:     DefaultTreasury,
		verifyCalls:  make(map[string]int),
		receiptCalls: make(map[string]int),
	}
}

// OnVerify appends scripted answers for txRef.
func (o *Oracle) OnVerify(txRef string, answers ...VerifyFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.verify[txRef] = append(o.verify[txRef], answers...)
}

// Valid answers with a final, matching transaction.
func Valid(block uint64) VerifyFunc {
	return func(txRef string, amount decimal.Decimal, to string) (*ledger.Verification, error) {
		return &ledger.Verification{
			Found: true, Final: true, Valid: true,
			From: "sender-" + txRef, To: to, Amount: amount,
			GasUsed: 5000, GasPrice: 1, BlockNumber: block,
		}, nil
	}
}

// NotFinal answers with a known but not yet final transaction.
func NotFinal() VerifyFunc {
	return func(txRef string, amount decimal.Decimal, to string) (*ledger.Verification, error) {
		return &ledger.Verification{Found: true, Final: false}, nil
	}
}

// Mismatch answers with a final transaction that paid the wrong amount.
func Mismatch(paid decimal.Decimal) VerifyFunc {
	return func(txRef string, amount decimal.Decimal, to string) (*ledger.Verification, error) {
		return &ledger.Verification{
			Found: true, Final: true, Valid: false, To: to, Amount: paid,
			Errors: []string{fmt.Sprintf("amount mismatch: expected %s, got %s", amount, paid)},
		}, nil
	}
}

// Fail answers with err.
func Fail(err error) VerifyFunc {
	return func(string, decimal.Decimal, string) (*ledger.Verification, error) {
		return nil, err
	}
}

// OnReceipt appends a scripted receipt for txRef. A nil receipt means not mined.
func (o *Oracle) OnReceipt(txRef string, receipt *ledger.Receipt, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.receipts[txRef] = append(o.receipts[txRef], receiptAnswer{receipt: receipt, err: err})
}

// OnSubmit appends a scripted Submit answer. Without scripts, Submit succeeds
// with generated references.
func (o *Oracle) OnSubmit(txRef string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.submits = append(o.submits, submitAnswer{ref: txRef, err: err})
}

// SetBalance sets the treasury balance reported by GetBalance.
func (o *Oracle) SetBalance(balance decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.balances[o.treasury] = balance
}

// SetAddressBalance sets the balance reported for any address.
// Addresses without a balance report zero.
func (o *Oracle) SetAddressBalance(address string, balance decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.balances[address] = balance
}

// SetTreasury moves the treasury to address, keeping the balances of every address.
func (o *Oracle) SetTreasury(address string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.treasury = address
}

// BeforeSubmit installs a hook that runs at the start of every Submit call,
// outside the fake's lock. Tests use it to hold a submission in flight.
func (o *Oracle) BeforeSubmit(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onSubmit = fn
}

func (o *Oracle) VerifyTransaction(ctx context.Context, txRef string, expectedAmount decimal.Decimal, expectedTo string) (*ledger.Verification, error) {
	o.mu.Lock()
	o.verifyCalls[txRef]++
	answers := o.verify[txRef]
	n := o.verifyCalls[txRef]
	o.mu.Unlock()

	if len(answers) == 0 {
		return &ledger.Verification{Found: false}, nil
	}
	if n > len(answers) {
		n = len(answers)
	}
	return answers[n-1](txRef, expectedAmount, expectedTo)
}

func (o *Oracle) GetReceipt(ctx context.Context, txRef string) (*ledger.Receipt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.receiptCalls[txRef]++
	answers := o.receipts[txRef]
	if len(answers) == 0 {
		return nil, nil
	}
	n := o.receiptCalls[txRef]
	if n > len(answers) {
		n = len(answers)
	}
	a := answers[n-1]
	return a.receipt, a.err
}

func (o *Oracle) Submit(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	o.mu.Lock()
	hook := o.onSubmit
	o.mu.Unlock()
	if hook != nil {
		hook()
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.submitCalls++
	ref := ""
	if len(o.submits) > 0 {
		a := o.submits[0]
		if len(o.submits) > 1 {
			o.submits = o.submits[1:]
		}
		if a.err != nil {
			return "", a.err
		}
		ref = a.ref
	} else {
		o.nextRef++
		ref = fmt.Sprintf("payout-tx-%d", o.nextRef)
	}

	o.submitted = append(o.submitted, Transfer{TxRef: ref, To: to, Amount: amount})
	return ref, nil
}

func (o *Oracle) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.balances[address], nil
}

func (o *Oracle) TreasuryAddress() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.treasury
}

func (o *Oracle) Close() error { return nil }

// VerifyCalls returns how often txRef was verified.
func (o *Oracle) VerifyCalls(txRef string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.verifyCalls[txRef]
}

// ReceiptCalls returns how often the receipt of txRef was requested.
func (o *Oracle) ReceiptCalls(txRef string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.receiptCalls[txRef]
}

// SubmitCalls returns how often Submit was called, including failures.
func (o *Oracle) SubmitCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.submitCalls
}

// Submitted returns the successful transfers in call order.
func (o *Oracle) Submitted() []Transfer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Transfer(nil), o.submitted...)
}
