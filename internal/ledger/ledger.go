// Package ledger is the gateway to the remote ledger service: account reads, transaction
// history and signed envelope submission.
package ledger

import (
	"context"
	"time"
)

// Balance is one balance line held by an account
type Balance struct {
	AssetType       string `json:"asset_type"`
	AssetCode       string `json:"asset_code,omitempty"`
	AssetIssuer     string `json:"asset_issuer,omitempty"`
	LiquidityPoolID string `json:"liquidity_pool_id,omitempty"`
	Balance         string `json:"balance"`
	Limit           string `json:"limit,omitempty"`
}

// Signer is an account signer and its weight
type Signer struct {
	Key    string `json:"key"`
	Weight int32  `json:"weight"`
	Type   string `json:"type"`
}

// Thresholds are the account's operation thresholds
type Thresholds struct {
	Low    uint8 `json:"low_threshold"`
	Medium uint8 `json:"med_threshold"`
	High   uint8 `json:"high_threshold"`
}

// AccountSnapshot is the state of an account as read from the ledger
type AccountSnapshot struct {
	ID                 string     `json:"id"`
	Sequence           int64      `json:"sequence"`
	SubentryCount      int32      `json:"subentry_count"`
	LastModifiedLedger uint32     `json:"last_modified_ledger"`
	LastModifiedTime   *time.Time `json:"last_modified_time,omitempty"`
	HomeDomain         string     `json:"home_domain,omitempty"`
	Thresholds         Thresholds `json:"thresholds"`
	Balances           []Balance  `json:"balances"`
	Signers            []Signer   `json:"signers"`
}

// BalanceOf returns the balance line for the native asset (code "") or an issued asset.
func (a *AccountSnapshot) BalanceOf(code, issuer string) (Balance, bool) {
	for _, b := range a.Balances {
		if code == "" && b.AssetType == "native" {
			return b, true
		}
		if code != "" && b.AssetCode == code && b.AssetIssuer == issuer {
			return b, true
		}
	}
	return Balance{}, false
}

// TransactionHistoryEntry is one record of an account's transaction history
type TransactionHistoryEntry struct {
	ID             string    `json:"id"`
	Hash           string    `json:"hash"`
	Ledger         int32     `json:"ledger"`
	CreatedAt      time.Time `json:"created_at"`
	SourceAccount  string    `json:"source_account"`
	Successful     bool      `json:"successful"`
	FeeCharged     int64     `json:"fee_charged"`
	OperationCount int32     `json:"operation_count"`
	MemoType       string    `json:"memo_type"`
	Memo           string    `json:"memo,omitempty"`
	PagingToken    string    `json:"paging_token"`
}

// Envelope is a signed transaction ready for submission
type Envelope struct {
	// XDR is the base64 encoded transaction envelope
	XDR string
	// Hash is the hex transaction hash under the configured network passphrase
	Hash string
	// SourceAccount is the account whose sequence the transaction consumes
	SourceAccount string
	// Sequence is the sequence number the transaction carries
	Sequence int64
}

// SubmitResult is the ledger's acceptance of a submitted envelope
type SubmitResult struct {
	Hash        string `json:"hash"`
	Ledger      int32  `json:"ledger"`
	EnvelopeXDR string `json:"envelope_xdr"`
	ResultXDR   string `json:"result_xdr"`
}

// Gateway is the set of ledger operations the payment pipeline relies on
type Gateway interface {
	// LoadAccount returns the account state, or an ACCOUNT_NOT_FOUND error when it does not exist.
	LoadAccount(ctx context.Context, accountID string) (*AccountSnapshot, error)

	// AccountTransactions returns up to limit most recent transactions, newest first.
	AccountTransactions(ctx context.Context, accountID string, limit int) ([]TransactionHistoryEntry, error)

	// SubmitTransaction submits a signed envelope and waits for the ledger's verdict.
	SubmitTransaction(ctx context.Context, env Envelope) (*SubmitResult, error)
}

// Funder creates and funds accounts on a test network
type Funder interface {
	Fund(ctx context.Context, accountID string) error
}
