// Package transaction assembles unsigned payment transactions from a fresh source account
// snapshot.
package transaction

import (
	"fmt"
	"time"

	"github.com/stellar/go-stellar-sdk/txnbuild"

	"github.com/cmatc13/lumenpay/internal/asset"
	"github.com/cmatc13/lumenpay/internal/ledger"
	"github.com/cmatc13/lumenpay/pkg/errors"
)

// Ledger fee and expiry defaults
const (
	// MinBaseFee is the ledger's minimum per-operation fee in stroops
	MinBaseFee int64 = txnbuild.MinBaseFee
	// DefaultValidityWindow bounds how long a submitted transaction stays valid
	DefaultValidityWindow = 300 * time.Second
)

// PaymentRequest is a single payment from the signing account
type PaymentRequest struct {
	Destination string
	Amount      string
	Asset       asset.Spec
}

// Unsigned is a transaction ready to be signed. It is built for one request and never reused.
type Unsigned struct {
	SourceAccount string
	Sequence      int64
	Fee           int64
	ValidUntil    time.Time
	Payment       PaymentRequest

	tx *txnbuild.Transaction
}

// Transaction returns the underlying ledger transaction
func (u *Unsigned) Transaction() *txnbuild.Transaction {
	return u.tx
}

// AssemblerConfig holds assembly parameters
type AssemblerConfig struct {
	BaseFee        int64
	ValidityWindow time.Duration
	// Clock is used for the validity window. Defaults to time.Now.
	Clock func() time.Time
}

// Assembler builds unsigned payment transactions
type Assembler struct {
	baseFee  int64
	validity time.Duration
	now      func() time.Time
}

// NewAssembler creates a new assembler, falling back to the ledger minimums for unset values
func NewAssembler(cfg AssemblerConfig) *Assembler {
	a := &Assembler{
		baseFee:  cfg.BaseFee,
		validity: cfg.ValidityWindow,
		now:      cfg.Clock,
	}
	if a.baseFee < MinBaseFee {
		a.baseFee = MinBaseFee
	}
	if a.validity <= 0 {
		a.validity = DefaultValidityWindow
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// Assemble builds a one-operation payment transaction that consumes the sequence number
// following source.Sequence. source must have been fetched for this request.
func (a *Assembler) Assemble(source *ledger.AccountSnapshot, req PaymentRequest) (*Unsigned, error) {
	if source == nil || source.ID == "" {
		return nil, errors.NewPaymentError(errors.PaymentErrValidation, errors.OpAssemble,
			"Source account is required", errors.ErrInvalidArg)
	}

	validUntil := a.now().Add(a.validity).UTC().Truncate(time.Second)
	account := txnbuild.SimpleAccount{AccountID: source.ID, Sequence: source.Sequence}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &account,
		IncrementSequenceNum: true,
		BaseFee:              a.baseFee,
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimebounds(0, validUntil.Unix()),
		},
		Operations: []txnbuild.Operation{
			&txnbuild.Payment{
				Destination: req.Destination,
				Amount:      req.Amount,
				Asset:       ledgerAsset(req.Asset),
			},
		},
	})
	if err != nil {
		return nil, errors.NewPaymentError(errors.PaymentErrValidation, errors.OpAssemble,
			"Could not build payment transaction", fmt.Errorf("build transaction: %w", err))
	}

	return &Unsigned{
		SourceAccount: source.ID,
		Sequence:      tx.SequenceNumber(),
		Fee:           tx.BaseFee() * int64(len(tx.Operations())),
		ValidUntil:    validUntil,
		Payment:       req,
		tx:            tx,
	}, nil
}

func ledgerAsset(spec asset.Spec) txnbuild.Asset {
	if spec.IsNative() {
		return txnbuild.NativeAsset{}
	}
	return txnbuild.CreditAsset{Code: spec.Code(), Issuer: spec.Issuer()}
}
