// Package asset models the asset a payment moves: the network's native asset or an issued
// asset identified by code and issuer.
package asset

import (
	"fmt"
	"strings"

	"github.com/cmatc13/lumenpay/pkg/errors"
)

// Kind distinguishes the asset variants
type Kind int

const (
	// Native is the network's own asset (lumens)
	Native Kind = iota
	// Issued is a credit asset identified by (code, issuer)
	Issued
)

// String returns the ledger's name for the asset type family
func (k Kind) String() string {
	if k == Issued {
		return "issued"
	}
	return "native"
}

// MaxCodeLength is the longest asset code the ledger accepts
const MaxCodeLength = 12

// Spec is a resolved asset. The zero value is Native.
type Spec struct {
	kind   Kind
	code   string
	issuer string
}

// NativeSpec returns the native asset
func NativeSpec() Spec {
	return Spec{kind: Native}
}

// IssuedSpec builds an issued asset. Both fields are required.
func IssuedSpec(code, issuer string) (Spec, error) {
	code = strings.TrimSpace(code)
	issuer = strings.TrimSpace(issuer)
	if code == "" || issuer == "" {
		return Spec{}, errors.InvalidAsset(errors.OpResolveAsset,
			"Asset code and issuer are both required for non-native payments",
			map[string]interface{}{"asset_code": code, "asset_issuer": issuer})
	}
	return Spec{kind: Issued, code: code, issuer: issuer}, nil
}

// Resolve turns the loose request fields into a Spec. useNative wins over code and issuer;
// otherwise both must be present.
func Resolve(useNative bool, code, issuer string) (Spec, error) {
	if useNative {
		return NativeSpec(), nil
	}
	return IssuedSpec(code, issuer)
}

// Kind returns the asset variant
func (s Spec) Kind() Kind { return s.kind }

// IsNative reports whether s is the native asset
func (s Spec) IsNative() bool { return s.kind == Native }

// Code returns the asset code, empty for Native
func (s Spec) Code() string { return s.code }

// Issuer returns the issuing account, empty for Native
func (s Spec) Issuer() string { return s.issuer }

// LedgerType returns the ledger asset_type label (native, credit_alphanum4, credit_alphanum12)
func (s Spec) LedgerType() string {
	switch {
	case s.kind == Native:
		return "native"
	case len(s.code) <= 4:
		return "credit_alphanum4"
	default:
		return "credit_alphanum12"
	}
}

// String renders the asset in the canonical CODE:ISSUER form
func (s Spec) String() string {
	if s.kind == Native {
		return "native"
	}
	return fmt.Sprintf("%s:%s", s.code, s.issuer)
}
