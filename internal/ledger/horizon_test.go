package ledger

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmatc13/lumenpay/pkg/errors"
)

const accountID = "GCEXAMPLEACCOUNT"

const accountDoc = `{
  "id": "GCEXAMPLEACCOUNT",
  "account_id": "GCEXAMPLEACCOUNT",
  "sequence": "4113952041869313",
  "subentry_count": 1,
  "last_modified_ledger": 957832,
  "last_modified_time": "2024-05-01T10:00:00Z",
  "thresholds": {"low_threshold": 0, "med_threshold": 1, "high_threshold": 2},
  "balances": [
    {"balance": "25.0000000", "limit": "1000.0000000", "asset_type": "credit_alphanum4", "asset_code": "USD", "asset_issuer": "GISSUER"},
    {"balance": "9999.9999900", "asset_type": "native"}
  ],
  "signers": [{"weight": 1, "key": "GCEXAMPLEACCOUNT", "type": "ed25519_public_key"}]
}`

const notFoundDoc = `{"type":"https://stellar.org/horizon-errors/not_found","title":"Resource Missing","status":404}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *HorizonClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHorizonClient(HorizonConfig{
		BaseURL:      srv.URL,
		FriendbotURL: srv.URL + "/friendbot",
		Timeout:      2 * time.Second,
	})
}

func TestLoadAccount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/"+accountID, r.URL.Path)
		fmt.Fprint(w, accountDoc)
	})

	snap, err := client.LoadAccount(context.Background(), accountID)
	require.NoError(t, err)

	assert.Equal(t, accountID, snap.ID)
	assert.Equal(t, int64(4113952041869313), snap.Sequence)
	assert.Equal(t, int32(1), snap.SubentryCount)
	assert.Equal(t, uint8(2), snap.Thresholds.High)
	require.NotNil(t, snap.LastModifiedTime)
	require.Len(t, snap.Balances, 2)
	require.Len(t, snap.Signers, 1)

	native, ok := snap.BalanceOf("", "")
	require.True(t, ok)
	assert.Equal(t, "9999.9999900", native.Balance)

	usd, ok := snap.BalanceOf("USD", "GISSUER")
	require.True(t, ok)
	assert.Equal(t, "25.0000000", usd.Balance)
}

func TestLoadAccountNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, notFoundDoc)
	})

	_, err := client.LoadAccount(context.Background(), accountID)
	require.Error(t, err)
	assert.True(t, errors.IsPaymentError(err, errors.PaymentErrAccountNotFound))
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestLoadAccountUpstreamFaults(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"type":"https://stellar.org/horizon-errors/server_over_capacity","title":"Server Over Capacity","status":503}`)
		}},
		{"empty error body", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"sequence":`)
		}},
		{"bad sequence", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"id":"x","sequence":"abc"}`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)
			_, err := client.LoadAccount(context.Background(), accountID)
			require.Error(t, err)
			assert.True(t, errors.IsPaymentError(err, errors.PaymentErrUpstreamUnavailable))
		})
	}
}

func TestLoadAccountTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	client := NewHorizonClient(HorizonConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := client.LoadAccount(context.Background(), accountID)
	require.Error(t, err)
	assert.True(t, errors.IsPaymentError(err, errors.PaymentErrUpstreamUnavailable))
}

func TestAccountTransactions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/"+accountID+"/transactions", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "desc", r.URL.Query().Get("order"))
		fmt.Fprint(w, `{"_embedded":{"records":[
		  {"id":"h2","hash":"h2","ledger":12,"created_at":"2024-05-02T10:00:00Z","source_account":"GCEXAMPLEACCOUNT","successful":true,"fee_charged":"100","operation_count":1,"memo_type":"none","paging_token":"p2"},
		  {"id":"h1","hash":"h1","ledger":11,"created_at":"2024-05-01T10:00:00Z","source_account":"GCEXAMPLEACCOUNT","successful":false,"fee_charged":"100","operation_count":1,"memo_type":"text","memo":"hi","paging_token":"p1"}
		]}}`)
	})

	entries, err := client.AccountTransactions(context.Background(), accountID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "h2", entries[0].Hash)
	assert.Equal(t, int32(12), entries[0].Ledger)
	assert.Equal(t, int64(100), entries[0].FeeCharged)
	assert.True(t, entries[0].Successful)
	assert.Equal(t, "hi", entries[1].Memo)
	assert.True(t, entries[0].CreatedAt.After(entries[1].CreatedAt))
}

func TestAccountTransactionsEmptyAndMissing(t *testing.T) {
	empty := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"_embedded":{"records":[]}}`)
	})
	entries, err := empty.AccountTransactions(context.Background(), accountID, 0)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)

	missing := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, notFoundDoc)
	})
	_, err = missing.AccountTransactions(context.Background(), accountID, 5)
	assert.True(t, errors.IsPaymentError(err, errors.PaymentErrAccountNotFound))
}

func TestSubmitTransactionAccepted(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "AAAAenvelope", r.PostForm.Get("tx"))
		fmt.Fprint(w, `{"hash":"abc123","ledger":4242,"envelope_xdr":"AAAAenvelope","result_xdr":"AAAAresult"}`)
	})

	res, err := client.SubmitTransaction(context.Background(), Envelope{XDR: "AAAAenvelope", Hash: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, "abc123", res.Hash)
	assert.Equal(t, int32(4242), res.Ledger)
	assert.Equal(t, "AAAAresult", res.ResultXDR)
}

func TestSubmitTransactionRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{
		  "type": "https://stellar.org/horizon-errors/transaction_failed",
		  "title": "Transaction Failed",
		  "status": 400,
		  "extras": {"result_codes": {"transaction": "tx_failed", "operations": ["op_no_trust"]}}
		}`)
	})

	_, err := client.SubmitTransaction(context.Background(), Envelope{XDR: "AAAA"})
	require.Error(t, err)
	assert.True(t, errors.IsPaymentError(err, errors.PaymentErrSubmissionRejected))
	assert.Equal(t, "Transaction Failed: tx_failed (op_no_trust)", errors.PublicMessage(err))

	opCodes, ok := errors.FieldOf(err, errors.FieldOperationCodes)
	require.True(t, ok)
	assert.Equal(t, []string{"op_no_trust"}, opCodes)
	assert.False(t, errors.IsSequenceConflict(err))
}

func TestSubmitTransactionBadSequence(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"title":"Transaction Failed","extras":{"result_codes":{"transaction":"tx_bad_seq"}}}`)
	})

	_, err := client.SubmitTransaction(context.Background(), Envelope{XDR: "AAAA"})
	assert.True(t, errors.IsSequenceConflict(err))
}

func TestSubmitTransactionMalformed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"type":"https://stellar.org/horizon-errors/transaction_malformed","title":"Transaction Malformed"}`)
	})

	_, err := client.SubmitTransaction(context.Background(), Envelope{XDR: "garbage"})
	require.Error(t, err)
	code, _ := errors.FieldOf(err, errors.FieldTransactionCode)
	assert.Equal(t, "transaction_malformed", code)
}

func TestSubmitTransactionUpstreamTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
		fmt.Fprint(w, `{"title":"Timeout"}`)
	})

	_, err := client.SubmitTransaction(context.Background(), Envelope{XDR: "AAAA"})
	assert.True(t, errors.IsPaymentError(err, errors.PaymentErrUpstreamUnavailable))
}

func TestFundAndPing(t *testing.T) {
	var funded string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/friendbot":
			funded = r.URL.Query().Get("addr")
			fmt.Fprint(w, `{"hash":"f"}`)
		case "/":
			fmt.Fprint(w, `{"horizon_version":"2.0"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, notFoundDoc)
		}
	})

	require.NoError(t, client.Fund(context.Background(), accountID))
	assert.Equal(t, accountID, funded)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestFundFaucetRefused(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"type":"https://stellar.org/horizon-errors/bad_request","title":"Bad Request","status":400,"detail":"account already funded"}`)
	})

	err := client.Fund(context.Background(), accountID)
	require.Error(t, err)
	assert.True(t, errors.IsPaymentError(err, errors.PaymentErrUpstreamUnavailable))
	assert.Contains(t, err.Error(), "account already funded")
}

func TestRequestsHonorContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	client := NewHorizonClient(HorizonConfig{BaseURL: srv.URL, Timeout: 10 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := client.SubmitTransaction(ctx, Envelope{XDR: "AAAA", Hash: "h"})
	require.Error(t, err)
	assert.True(t, errors.IsPaymentError(err, errors.PaymentErrUpstreamUnavailable))
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestFundWithoutFaucet(t *testing.T) {
	client := NewHorizonClient(HorizonConfig{BaseURL: "http://127.0.0.1:1"})
	err := client.Fund(context.Background(), accountID)
	assert.True(t, errors.IsPaymentError(err, errors.PaymentErrUpstreamUnavailable))
}
