package asset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmatc13/lumenpay/pkg/errors"
)

const issuer = "GBBD47IF6LWK7P7MDEVSCWR7DPUWV3NY3DTQEVFL4NAT4AQH3ZLLFLA5"

func TestResolveNativeIgnoresFields(t *testing.T) {
	spec, err := Resolve(true, "USD", issuer)
	require.NoError(t, err)
	assert.True(t, spec.IsNative())
	assert.Empty(t, spec.Code())
	assert.Equal(t, "native", spec.String())
	assert.Equal(t, "native", spec.LedgerType())
}

func TestResolveIssued(t *testing.T) {
	spec, err := Resolve(false, "USD", issuer)
	require.NoError(t, err)
	assert.Equal(t, Issued, spec.Kind())
	assert.Equal(t, "USD", spec.Code())
	assert.Equal(t, issuer, spec.Issuer())
	assert.Equal(t, "USD:"+issuer, spec.String())
	assert.Equal(t, "credit_alphanum4", spec.LedgerType())

	long, err := Resolve(false, "LONGTOKEN", issuer)
	require.NoError(t, err)
	assert.Equal(t, "credit_alphanum12", long.LedgerType())
}

func TestResolveIssuedMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		issuer string
	}{
		{"missing code", "", issuer},
		{"missing issuer", "USD", ""},
		{"both missing", "", ""},
		{"whitespace code", "   ", issuer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(false, tt.code, tt.issuer)
			require.Error(t, err)
			assert.True(t, errors.IsPaymentError(err, errors.PaymentErrInvalidAsset))
		})
	}
}

func TestZeroValueIsNative(t *testing.T) {
	var spec Spec
	assert.True(t, spec.IsNative())
	assert.Equal(t, "native", Native.String())
	assert.Equal(t, "issued", Issued.String())
}
