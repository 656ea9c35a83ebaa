package ledger

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stellar/go-stellar-sdk/clients/horizonclient"
	hProtocol "github.com/stellar/go-stellar-sdk/protocols/horizon"

	"github.com/cmatc13/lumenpay/pkg/errors"
	"github.com/cmatc13/lumenpay/pkg/logging"
	"github.com/cmatc13/lumenpay/pkg/metrics"
)

const (
	dependencyName = "horizon"
	appName        = "lumenpay"
	// MaxHistoryLimit is the largest page the ledger service returns
	MaxHistoryLimit = 200
)

// HorizonConfig holds the ledger REST client configuration
type HorizonConfig struct {
	BaseURL string
	// FriendbotURL is the faucet endpoint, e.g. https://horizon-testnet.stellar.org/friendbot
	FriendbotURL string
	Timeout      time.Duration
	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
	Logger     *logging.Logger
}

// HorizonClient adapts horizonclient to the Gateway and Funder contracts
type HorizonClient struct {
	baseURL       string
	friendbotBase string
	timeout       time.Duration
	httpClient    *http.Client
	metrics       *metrics.Metrics
	logger        *logging.Logger
}

var (
	_ Gateway = (*HorizonClient)(nil)
	_ Funder  = (*HorizonClient)(nil)
)

// NewHorizonClient creates a new ledger REST client
func NewHorizonClient(cfg HorizonConfig) *HorizonClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	// horizonclient.Fund appends "friendbot" to its base URL
	var friendbotBase string
	if cfg.FriendbotURL != "" {
		friendbotBase = strings.TrimSuffix(strings.TrimRight(cfg.FriendbotURL, "/"), "/friendbot")
	}

	return &HorizonClient{
		baseURL:       cfg.BaseURL,
		friendbotBase: friendbotBase,
		timeout:       timeout,
		httpClient:    httpClient,
		metrics:       cfg.Metrics,
		logger:        logger.Named("horizon"),
	}
}

// contextHTTP binds a request context to the horizonclient HTTP hook,
// since the client's methods take none.
type contextHTTP struct {
	ctx    context.Context
	client *http.Client
}

func (h contextHTTP) Do(req *http.Request) (*http.Response, error) {
	return h.client.Do(req.WithContext(h.ctx))
}

func (h contextHTTP) Get(rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(h.ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return h.client.Do(req)
}

func (h contextHTTP) PostForm(rawURL string, data url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(h.ctx, http.MethodPost, rawURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return h.client.Do(req)
}

// sdk returns a horizonclient bound to ctx
func (c *HorizonClient) sdk(ctx context.Context, baseURL string) *horizonclient.Client {
	client := &horizonclient.Client{
		HorizonURL: baseURL,
		HTTP:       contextHTTP{ctx: ctx, client: c.httpClient},
		AppName:    appName,
	}
	return client.SetHorizonTimeout(c.timeout)
}

// observe records latency, and an error for faults that are not client errors
func (c *HorizonClient) observe(op string, start time.Time, err error) {
	c.metrics.RecordDependencyLatency(dependencyName, op, time.Since(start))
	if err == nil {
		return
	}
	if herr := horizonclient.GetError(err); herr != nil && statusOf(herr) < http.StatusInternalServerError {
		return
	}
	c.metrics.RecordDependencyError(dependencyName, op)
}

func statusOf(herr *horizonclient.Error) int {
	if herr.Response != nil {
		return herr.Response.StatusCode
	}
	return herr.Problem.Status
}

func isNotFound(err error) bool {
	if horizonclient.IsNotFoundError(err) {
		return true
	}
	herr := horizonclient.GetError(err)
	return herr != nil && statusOf(herr) == http.StatusNotFound
}

// describe renders a Horizon problem as a short error; other errors pass through
func describe(err error) error {
	herr := horizonclient.GetError(err)
	if herr == nil {
		return err
	}
	status := statusOf(herr)
	title := herr.Problem.Title
	if title == "" {
		title = http.StatusText(status)
	}
	if herr.Problem.Detail != "" {
		return fmt.Errorf("horizon returned %d %s: %s", status, title, herr.Problem.Detail)
	}
	return fmt.Errorf("horizon returned %d %s", status, title)
}

// LoadAccount fetches the current state of an account
func (c *HorizonClient) LoadAccount(ctx context.Context, accountID string) (*AccountSnapshot, error) {
	start := time.Now()
	account, err := c.sdk(ctx, c.baseURL).AccountDetail(horizonclient.AccountRequest{AccountID: accountID})
	c.observe("load_account", start, err)

	switch {
	case isNotFound(err):
		return nil, errors.AccountNotFound(accountID, errors.ErrNotFound)
	case err != nil:
		return nil, errors.UpstreamUnavailable(errors.OpLoadAccount, describe(err))
	}

	return snapshotOf(account), nil
}

func snapshotOf(account hProtocol.Account) *AccountSnapshot {
	snap := &AccountSnapshot{
		ID:                 account.AccountID,
		Sequence:           account.Sequence,
		SubentryCount:      account.SubentryCount,
		LastModifiedLedger: account.LastModifiedLedger,
		LastModifiedTime:   account.LastModifiedTime,
		HomeDomain:         account.HomeDomain,
		Thresholds: Thresholds{
			Low:    account.Thresholds.LowThreshold,
			Medium: account.Thresholds.MedThreshold,
			High:   account.Thresholds.HighThreshold,
		},
		Balances: make([]Balance, 0, len(account.Balances)),
		Signers:  make([]Signer, 0, len(account.Signers)),
	}
	if snap.ID == "" {
		snap.ID = account.ID
	}

	for _, b := range account.Balances {
		snap.Balances = append(snap.Balances, Balance{
			AssetType:       b.Type,
			AssetCode:       b.Code,
			AssetIssuer:     b.Issuer,
			LiquidityPoolID: b.LiquidityPoolId,
			Balance:         b.Balance,
			Limit:           b.Limit,
		})
	}
	for _, s := range account.Signers {
		snap.Signers = append(snap.Signers, Signer{
			Key:    s.Key,
			Weight: s.Weight,
			Type:   s.Type,
		})
	}

	return snap
}

// AccountTransactions returns the most recent transactions of an account, newest first
func (c *HorizonClient) AccountTransactions(ctx context.Context, accountID string, limit int) ([]TransactionHistoryEntry, error) {
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	start := time.Now()
	page, err := c.sdk(ctx, c.baseURL).Transactions(horizonclient.TransactionRequest{
		ForAccount: accountID,
		Order:      horizonclient.OrderDesc,
		Limit:      uint(limit),
	})
	c.observe("account_transactions", start, err)

	switch {
	case isNotFound(err):
		return nil, errors.WrapWithOperation(errors.AccountNotFound(accountID, errors.ErrNotFound), errors.OpAccountTransactions)
	case err != nil:
		return nil, errors.UpstreamUnavailable(errors.OpAccountTransactions, describe(err))
	}

	entries := make([]TransactionHistoryEntry, 0, len(page.Embedded.Records))
	for _, tx := range page.Embedded.Records {
		entries = append(entries, TransactionHistoryEntry{
			ID:             tx.ID,
			Hash:           tx.Hash,
			Ledger:         tx.Ledger,
			CreatedAt:      tx.LedgerCloseTime,
			SourceAccount:  tx.Account,
			Successful:     tx.Successful,
			FeeCharged:     tx.FeeCharged,
			OperationCount: tx.OperationCount,
			MemoType:       tx.MemoType,
			Memo:           tx.Memo,
			PagingToken:    tx.PT,
		})
	}

	return entries, nil
}

// SubmitTransaction posts a signed envelope and waits for the ledger's verdict.
// A rejection carries the ledger's transaction and operation result codes.
// horizonclient does not resubmit, so an unknown outcome is surfaced as is.
func (c *HorizonClient) SubmitTransaction(ctx context.Context, env Envelope) (*SubmitResult, error) {
	start := time.Now()
	tx, err := c.sdk(ctx, c.baseURL).SubmitTransactionXDR(env.XDR)
	c.observe("submit_transaction", start, err)

	if err == nil {
		result := &SubmitResult{
			Hash:        tx.Hash,
			Ledger:      tx.Ledger,
			EnvelopeXDR: tx.EnvelopeXdr,
			ResultXDR:   tx.ResultXdr,
		}
		if result.Hash == "" {
			result.Hash = env.Hash
		}
		if result.EnvelopeXDR == "" {
			result.EnvelopeXDR = env.XDR
		}
		return result, nil
	}

	herr := horizonclient.GetError(err)
	switch {
	case herr == nil:
		c.logger.WithContext(ctx).Warn("Submission outcome unknown", "hash", env.Hash, "error", err.Error())
		return nil, errors.UpstreamUnavailable(errors.OpSubmitTransaction, err)
	case statusOf(herr) == http.StatusBadRequest:
		return nil, rejection(herr)
	case statusOf(herr) == http.StatusGatewayTimeout:
		// the ledger may still apply the transaction later
		c.logger.WithContext(ctx).Warn("Submission timed out upstream", "hash", env.Hash)
	}
	return nil, errors.UpstreamUnavailable(errors.OpSubmitTransaction, describe(err))
}

// rejection converts a 400 problem into a SubmissionRejected error
func rejection(herr *horizonclient.Error) error {
	var (
		txCode  string
		opCodes []string
	)
	if codes, err := herr.ResultCodes(); err == nil {
		txCode = codes.TransactionCode
		opCodes = codes.OperationCodes
	}
	if txCode == "" {
		// transaction_malformed and friends carry no result codes
		txCode = problemType(herr.Problem.Type)
	}

	title := herr.Problem.Title
	if title == "" {
		title = "Transaction Failed"
	}
	reason := title + ": " + txCode
	if len(opCodes) > 0 {
		reason += " (" + strings.Join(opCodes, ", ") + ")"
	}

	return errors.SubmissionRejected(reason, txCode, opCodes)
}

func problemType(t string) string {
	if i := strings.LastIndex(t, "/"); i >= 0 {
		t = t[i+1:]
	}
	if t == "" {
		return "tx_failed"
	}
	return t
}

// Fund asks the test network faucet to create and fund an account
func (c *HorizonClient) Fund(ctx context.Context, accountID string) error {
	if c.friendbotBase == "" {
		return errors.NewPaymentError(errors.PaymentErrUpstreamUnavailable, errors.OpFundAccount,
			"No funding service configured", nil)
	}

	start := time.Now()
	_, err := c.sdk(ctx, c.friendbotBase).Fund(accountID)
	c.observe("fund_account", start, err)
	if err != nil {
		return errors.UpstreamUnavailable(errors.OpFundAccount, describe(err))
	}
	return nil
}

// Ping checks the ledger service is reachable
func (c *HorizonClient) Ping(ctx context.Context) error {
	start := time.Now()
	_, err := c.sdk(ctx, c.baseURL).Root()
	c.observe("ping", start, err)
	if err != nil {
		return describe(err)
	}
	return nil
}
