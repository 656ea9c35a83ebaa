// Package preflight checks a payment request before anything touches the signing account:
// request shape first, then one read of the destination account.
package preflight

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stellar/go-stellar-sdk/strkey"

	"github.com/cmatc13/lumenpay/internal/asset"
	"github.com/cmatc13/lumenpay/internal/ledger"
	"github.com/cmatc13/lumenpay/internal/transaction"
	"github.com/cmatc13/lumenpay/pkg/errors"
)

// Amounts are int64 stroops on the ledger, 1 unit = 10^7 stroops.
const amountPrecision = 7

var maxAmount = decimal.RequireFromString("922337203685.4775807")

// Validator runs preflight checks against the ledger
type Validator struct {
	gateway ledger.Gateway
}

// NewValidator creates a new validator
func NewValidator(gateway ledger.Gateway) *Validator {
	return &Validator{gateway: gateway}
}

// CheckShape validates the request without any network access and returns it with the amount
// in canonical form.
func (v *Validator) CheckShape(req transaction.PaymentRequest) (transaction.PaymentRequest, error) {
	req.Destination = strings.TrimSpace(req.Destination)
	req.Amount = strings.TrimSpace(req.Amount)

	if req.Destination == "" || req.Amount == "" {
		return req, errors.Validation(errors.OpCheckShape, "Missing required parameters", nil)
	}
	if !strkey.IsValidEd25519PublicKey(req.Destination) {
		return req, errors.Validation(errors.OpCheckShape, "Invalid destination account",
			map[string]interface{}{"destination": req.Destination})
	}

	amount, err := ParseAmount(req.Amount)
	if err != nil {
		return req, err
	}
	req.Amount = amount.String()

	if !req.Asset.IsNative() {
		if err := checkIssued(req.Asset); err != nil {
			return req, err
		}
	}

	return req, nil
}

// ParseAmount parses a positive decimal amount within ledger precision and range
func ParseAmount(raw string) (decimal.Decimal, error) {
	fields := map[string]interface{}{"amount": raw}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Validation(errors.OpCheckShape, "Amount must be a decimal number", fields)
	}
	if !amount.IsPositive() {
		return decimal.Zero, errors.Validation(errors.OpCheckShape, "Amount must be greater than zero", fields)
	}
	if !amount.Round(amountPrecision).Equal(amount) {
		return decimal.Zero, errors.Validation(errors.OpCheckShape, "Amount supports at most 7 decimal places", fields)
	}
	if amount.GreaterThan(maxAmount) {
		return decimal.Zero, errors.Validation(errors.OpCheckShape, "Amount exceeds the ledger maximum", fields)
	}
	return amount, nil
}

func checkIssued(spec asset.Spec) error {
	code := spec.Code()
	fields := map[string]interface{}{"asset_code": code, "asset_issuer": spec.Issuer()}

	if len(code) == 0 || len(code) > asset.MaxCodeLength || !alphanumeric(code) {
		return errors.Validation(errors.OpCheckShape, "Asset code must be 1-12 alphanumeric characters", fields)
	}
	if !strkey.IsValidEd25519PublicKey(spec.Issuer()) {
		return errors.InvalidAsset(errors.OpCheckShape, "Invalid asset issuer", fields)
	}
	return nil
}

func alphanumeric(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// Validate runs CheckShape and then CheckDestination.
func (v *Validator) Validate(ctx context.Context, req transaction.PaymentRequest) (transaction.PaymentRequest, error) {
	req, err := v.CheckShape(req)
	if err != nil {
		return req, err
	}
	return req, v.CheckDestination(ctx, req.Destination)
}

// CheckDestination performs the one read-only lookup of the destination. A missing account is
// DESTINATION_NOT_FOUND; any other lookup failure stays UPSTREAM_UNAVAILABLE.
func (v *Validator) CheckDestination(ctx context.Context, destination string) error {
	if _, err := v.gateway.LoadAccount(ctx, destination); err != nil {
		if errors.IsPaymentError(err, errors.PaymentErrAccountNotFound) {
			return errors.DestinationNotFound(destination)
		}
		if errors.CodeOf(err) == "" {
			err = errors.UpstreamUnavailable(errors.OpPreflight, err)
		}
		return errors.WrapWithOperation(err, errors.OpPreflight)
	}
	return nil
}
