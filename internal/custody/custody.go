// Package custody owns the operator signing key. The seed never leaves this package:
// callers get the public key and a signing operation.
package custody

import (
	"context"
	"fmt"
	"strings"

	"github.com/stellar/go-stellar-sdk/keypair"

	"github.com/cmatc13/lumenpay/internal/ledger"
	"github.com/cmatc13/lumenpay/internal/transaction"
	"github.com/cmatc13/lumenpay/pkg/errors"
	"github.com/cmatc13/lumenpay/pkg/logging"
	"github.com/cmatc13/lumenpay/pkg/metrics"
)

// Custody holds the operator keypair for the lifetime of the process
type Custody struct {
	kp         *keypair.Full
	passphrase string
	ephemeral  bool
	logger     *logging.Logger
}

// Resolve parses the configured secret, or generates an ephemeral keypair when it is empty.
// A malformed secret is an INVALID_CREDENTIAL error and the service must not start.
func Resolve(secret, passphrase string, logger *logging.Logger) (*Custody, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.Named("custody")

	if passphrase == "" {
		return nil, errors.NewPaymentError(errors.PaymentErrInvalidCredential, errors.OpResolveKey,
			"Network passphrase is required", errors.ErrInvalidArg)
	}

	secret = strings.TrimSpace(secret)
	if secret == "" {
		kp, err := keypair.Random()
		if err != nil {
			return nil, errors.InvalidCredential(fmt.Errorf("generate keypair: %w", err))
		}
		logger.Warn("No signing secret configured, generated an ephemeral keypair. "+
			"It is not persisted and a restart produces a new account.",
			"public_key", kp.Address())
		return &Custody{kp: kp, passphrase: passphrase, ephemeral: true, logger: logger}, nil
	}

	kp, err := keypair.ParseFull(secret)
	if err != nil {
		// the parse error may echo input, so it is not attached
		return nil, errors.InvalidCredential(errors.ErrInvalidArg)
	}

	logger.Info("Loaded signing key", "public_key", kp.Address())
	return &Custody{kp: kp, passphrase: passphrase, logger: logger}, nil
}

// PublicKey returns the signing account id
func (c *Custody) PublicKey() string {
	return c.kp.Address()
}

// Ephemeral reports whether the key was generated at startup rather than configured
func (c *Custody) Ephemeral() bool {
	return c.ephemeral
}

// Passphrase returns the network passphrase transactions are signed for
func (c *Custody) Passphrase() string {
	return c.passphrase
}

// Sign signs an unsigned transaction and returns the wire envelope with its hash
func (c *Custody) Sign(u *transaction.Unsigned) (ledger.Envelope, error) {
	if u == nil || u.Transaction() == nil {
		return ledger.Envelope{}, errors.NewPaymentError(errors.PaymentErrValidation, errors.OpSign,
			"Nothing to sign", errors.ErrInvalidArg)
	}
	if u.SourceAccount != c.PublicKey() {
		return ledger.Envelope{}, errors.NewPaymentError(errors.PaymentErrInvalidCredential, errors.OpSign,
			"Transaction source is not the signing account",
			fmt.Errorf("source %s", u.SourceAccount))
	}

	signed, err := u.Transaction().Sign(c.passphrase, c.kp)
	if err != nil {
		return ledger.Envelope{}, errors.NewPaymentError(errors.PaymentErrInvalidCredential, errors.OpSign,
			"Could not sign transaction", err)
	}
	hash, err := signed.HashHex(c.passphrase)
	if err != nil {
		return ledger.Envelope{}, errors.NewPaymentError(errors.PaymentErrValidation, errors.OpSign,
			"Could not hash transaction", err)
	}
	envelope, err := signed.Base64()
	if err != nil {
		return ledger.Envelope{}, errors.NewPaymentError(errors.PaymentErrValidation, errors.OpSign,
			"Could not encode transaction", err)
	}

	return ledger.Envelope{
		XDR:           envelope,
		Hash:          hash,
		SourceAccount: u.SourceAccount,
		Sequence:      u.Sequence,
	}, nil
}

// EnsureFunded checks that the signing account exists and asks the faucet to create it when it
// does not. Best-effort: failures are logged and reported through metrics only.
func (c *Custody) EnsureFunded(ctx context.Context, gateway ledger.Gateway, funder ledger.Funder, m *metrics.Metrics) {
	logger := c.logger.WithField("public_key", c.PublicKey())

	_, err := gateway.LoadAccount(ctx, c.PublicKey())
	switch {
	case err == nil:
		m.RecordFunding("skipped")
		return
	case !errors.IsPaymentError(err, errors.PaymentErrAccountNotFound):
		m.RecordFunding("failed")
		logger.WithError(err).Warn("Could not check signing account")
		return
	case funder == nil:
		m.RecordFunding("skipped")
		logger.Warn("Signing account does not exist and no faucet is configured")
		return
	}

	logger.Info("Signing account not found, requesting funding")
	if err := funder.Fund(ctx, c.PublicKey()); err != nil {
		m.RecordFunding("failed")
		logger.WithError(err).Error("Failed to fund signing account")
		return
	}
	m.RecordFunding("funded")
	logger.Info("Signing account funded")
}
