// Package ledgertest provides an in-memory ledger for tests. It enforces the ledger rules
// the payment pipeline depends on: sequence numbers are consumed exactly once, issued assets
// need a trust line on the receiving account, and native payments cannot overdraw the sender.
package ledgertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellar/go-stellar-sdk/network"
	"github.com/stellar/go-stellar-sdk/txnbuild"

	"github.com/cmatc13/lumenpay/internal/ledger"
	"github.com/cmatc13/lumenpay/pkg/errors"
)

// StartingBalance is the native balance of every account the fake creates
const StartingBalance = "10000.0000000"

// Fake is an in-memory ledger.Gateway and ledger.Funder
type Fake struct {
	// Passphrase is the network envelopes must be signed for
	Passphrase string
	// LoadHook, when set, runs after an account is read and before it is returned
	LoadHook func(accountID string)
	// LoadErr, when set, is returned by every LoadAccount call
	LoadErr error
	// SubmitErr, when set, is returned by every SubmitTransaction call
	SubmitErr error
	// FundErr, when set, is returned by Fund
	FundErr error

	mu         sync.Mutex
	accounts   map[string]*ledger.AccountSnapshot
	trust      map[string]map[string]bool
	history    map[string][]ledger.TransactionHistoryEntry
	loads      map[string]int
	submitted  []ledger.Envelope
	funded     []string
	nextLedger int32
}

var (
	_ ledger.Gateway = (*Fake)(nil)
	_ ledger.Funder  = (*Fake)(nil)
)

// New creates an empty test network ledger
func New() *Fake {
	return &Fake{
		Passphrase: network.TestNetworkPassphrase,
		accounts:   make(map[string]*ledger.AccountSnapshot),
		trust:      make(map[string]map[string]bool),
		history:    make(map[string][]ledger.TransactionHistoryEntry),
		loads:      make(map[string]int),
		nextLedger: 1000,
	}
}

// AddAccount creates an account with the given sequence and a native balance
func (f *Fake) AddAccount(id string, sequence int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[id] = &ledger.AccountSnapshot{
		ID:       id,
		Sequence: sequence,
		Balances: []ledger.Balance{{AssetType: "native", Balance: StartingBalance}},
		Signers:  []ledger.Signer{{Key: id, Weight: 1, Type: "ed25519_public_key"}},
	}
}

// Trust adds a trust line for code:issuer on account
func (f *Fake) Trust(account, code, issuer string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trust[account] == nil {
		f.trust[account] = make(map[string]bool)
	}
	f.trust[account][code+":"+issuer] = true
}

// Sequence returns the current sequence of an account
func (f *Fake) Sequence(id string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acc, ok := f.accounts[id]; ok {
		return acc.Sequence
	}
	return 0
}

// NativeBalance returns the native balance of an account, or zero when it does not exist
func (f *Fake) NativeBalance(id string) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[id]
	if !ok {
		return decimal.Zero
	}
	return nativeOf(acc)
}

func nativeOf(acc *ledger.AccountSnapshot) decimal.Decimal {
	b, ok := acc.BalanceOf("", "")
	if !ok {
		return decimal.Zero
	}
	amount, err := decimal.NewFromString(b.Balance)
	if err != nil {
		return decimal.Zero
	}
	return amount
}

func setNative(acc *ledger.AccountSnapshot, amount decimal.Decimal) {
	for i := range acc.Balances {
		if acc.Balances[i].AssetType == "native" {
			acc.Balances[i].Balance = amount.StringFixed(7)
			return
		}
	}
	acc.Balances = append(acc.Balances, ledger.Balance{AssetType: "native", Balance: amount.StringFixed(7)})
}

// Loads returns how many times an account was read
func (f *Fake) Loads(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads[id]
}

// Submitted returns every envelope the ledger received, accepted or not
func (f *Fake) Submitted() []ledger.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ledger.Envelope, len(f.submitted))
	copy(out, f.submitted)
	return out
}

// Funded returns the accounts created through Fund
func (f *Fake) Funded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.funded...)
}

// LoadAccount returns a copy of the account
func (f *Fake) LoadAccount(ctx context.Context, accountID string) (*ledger.AccountSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.UpstreamUnavailable(errors.OpLoadAccount, err)
	}

	f.mu.Lock()
	f.loads[accountID]++
	if f.LoadErr != nil {
		f.mu.Unlock()
		return nil, f.LoadErr
	}
	acc, ok := f.accounts[accountID]
	var snap ledger.AccountSnapshot
	if ok {
		snap = *acc
		snap.Balances = append([]ledger.Balance(nil), acc.Balances...)
		snap.Signers = append([]ledger.Signer(nil), acc.Signers...)
	}
	f.mu.Unlock()

	if !ok {
		return nil, errors.AccountNotFound(accountID, errors.ErrNotFound)
	}
	if f.LoadHook != nil {
		f.LoadHook(accountID)
	}
	return &snap, nil
}

// AccountTransactions returns the account's accepted transactions, newest first
func (f *Fake) AccountTransactions(ctx context.Context, accountID string, limit int) ([]ledger.TransactionHistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.accounts[accountID]; !ok {
		return nil, errors.AccountNotFound(accountID, errors.ErrNotFound)
	}
	entries := f.history[accountID]
	out := make([]ledger.TransactionHistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

// SubmitTransaction applies a signed envelope under the ledger's sequence, trust and balance rules
func (f *Fake) SubmitTransaction(ctx context.Context, env ledger.Envelope) (*ledger.SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.UpstreamUnavailable(errors.OpSubmitTransaction, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, env)

	if f.SubmitErr != nil {
		return nil, f.SubmitErr
	}

	tx, err := decode(env.XDR)
	if err != nil {
		return nil, errors.SubmissionRejected("Transaction Malformed: transaction_malformed", "transaction_malformed", nil)
	}
	if hash, err := tx.HashHex(f.Passphrase); err != nil || hash != env.Hash || len(tx.Signatures()) == 0 {
		return nil, errors.SubmissionRejected("Transaction Failed: tx_bad_auth", "tx_bad_auth", nil)
	}

	source := tx.SourceAccount().AccountID
	acc, ok := f.accounts[source]
	if !ok {
		return nil, errors.SubmissionRejected("Transaction Failed: tx_no_source_account", "tx_no_source_account", nil)
	}
	if tx.SequenceNumber() != acc.Sequence+1 {
		return nil, errors.SubmissionRejected("Transaction Failed: tx_bad_seq", errors.SequenceConflictCode, nil)
	}
	if bounds := tx.Timebounds(); bounds.MaxTime != 0 && time.Now().Unix() > bounds.MaxTime {
		return nil, errors.SubmissionRejected("Transaction Failed: tx_too_late", "tx_too_late", nil)
	}

	// native amounts moved per account, applied only when every operation passes
	moves := make(map[string]decimal.Decimal)
	for _, op := range tx.Operations() {
		payment, ok := op.(*txnbuild.Payment)
		if !ok {
			continue
		}
		from := source
		if payment.SourceAccount != "" {
			from = payment.SourceAccount
		}
		if _, exists := f.accounts[payment.Destination]; !exists {
			acc.Sequence++
			return nil, failed("op_no_destination")
		}
		if credit, isCredit := payment.Asset.(txnbuild.CreditAsset); isCredit {
			if !f.trust[payment.Destination][credit.Code+":"+credit.Issuer] {
				// failed transactions still consume the sequence and the fee
				acc.Sequence++
				return nil, failed("op_no_trust")
			}
			continue
		}

		amount, err := decimal.NewFromString(payment.Amount)
		if err != nil {
			return nil, errors.SubmissionRejected("Transaction Malformed: transaction_malformed", "transaction_malformed", nil)
		}
		sender, exists := f.accounts[from]
		if !exists || nativeOf(sender).Add(moves[from]).LessThan(amount) {
			acc.Sequence++
			return nil, failed("op_underfunded")
		}
		moves[from] = moves[from].Sub(amount)
		moves[payment.Destination] = moves[payment.Destination].Add(amount)
	}

	for id, delta := range moves {
		setNative(f.accounts[id], nativeOf(f.accounts[id]).Add(delta))
	}
	acc.Sequence++
	f.nextLedger++
	f.history[source] = append(f.history[source], ledger.TransactionHistoryEntry{
		ID:             env.Hash,
		Hash:           env.Hash,
		Ledger:         f.nextLedger,
		CreatedAt:      time.Now().UTC(),
		SourceAccount:  source,
		Successful:     true,
		FeeCharged:     tx.BaseFee() * int64(len(tx.Operations())),
		OperationCount: int32(len(tx.Operations())),
		MemoType:       "none",
	})

	return &ledger.SubmitResult{
		Hash:        env.Hash,
		Ledger:      f.nextLedger,
		EnvelopeXDR: env.XDR,
	}, nil
}

// Fund creates the account with sequence zero
func (f *Fake) Fund(ctx context.Context, accountID string) error {
	if f.FundErr != nil {
		return f.FundErr
	}
	f.AddAccount(accountID, 0)
	f.mu.Lock()
	f.funded = append(f.funded, accountID)
	f.mu.Unlock()
	return nil
}

func failed(opCode string) error {
	return errors.SubmissionRejected("Transaction Failed: tx_failed ("+opCode+")", "tx_failed", []string{opCode})
}

func decode(envelope string) (*txnbuild.Transaction, error) {
	generic, err := txnbuild.TransactionFromXDR(envelope)
	if err != nil {
		return nil, err
	}
	tx, ok := generic.Transaction()
	if !ok {
		return nil, fmt.Errorf("fee bump envelopes are not supported")
	}
	return tx, nil
}
