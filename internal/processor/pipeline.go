// internal/processor/pipeline.go
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cmatc13/lumenpay/internal/ledger"
	"github.com/cmatc13/lumenpay/internal/preflight"
	"github.com/cmatc13/lumenpay/internal/transaction"
	"github.com/cmatc13/lumenpay/pkg/errors"
	"github.com/cmatc13/lumenpay/pkg/logging"
	"github.com/cmatc13/lumenpay/pkg/metrics"
)

// History limits for account reads
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = ledger.MaxHistoryLimit

	defaultRequestTimeout = 15 * time.Second
	bookkeepingTimeout    = 5 * time.Second
)

// ErrJournalDisabled is returned by Submissions when no journal is configured
var ErrJournalDisabled = errors.NewPaymentError(errors.PaymentErrJournalDisabled, errors.OpListSubmissions,
	"Submission journal is not enabled", errors.ErrNotFound)

// Signer signs transactions for the operator account
type Signer interface {
	PublicKey() string
	Sign(u *transaction.Unsigned) (ledger.Envelope, error)
}

// Journal stores an audit record of every submission attempt
type Journal interface {
	Record(ctx context.Context, rec *transaction.Record) error
	List(ctx context.Context, account string, limit int) ([]*transaction.Record, error)
	// Get returns one record; a missing id wraps errors.ErrNotFound
	Get(ctx context.Context, id string) (*transaction.Record, error)
}

// Publisher announces submission outcomes
type Publisher interface {
	Publish(ctx context.Context, rec *transaction.Record) error
}

// Locker serializes submissions per signing account
type Locker interface {
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}

// Result is the normalized outcome of an accepted submission
type Result struct {
	Hash          string `json:"hash"`
	Ledger        int32  `json:"ledger"`
	EnvelopeXDR   string `json:"envelope_xdr"`
	SourceAccount string `json:"sourceAccount"`
}

// Config holds the pipeline's collaborators. Gateway and Signer are required.
type Config struct {
	Gateway   ledger.Gateway
	Signer    Signer
	Assembler *transaction.Assembler
	Journal   Journal
	Publisher Publisher
	// Locker enables single-writer mode when set
	Locker  Locker
	Metrics *metrics.Metrics
	Logger  *logging.Logger
	// RequestTimeout bounds every individual ledger call
	RequestTimeout time.Duration
	Clock          func() time.Time
}

// Pipeline orchestrates preflight, assembly, signing and submission of payments.
// It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	gateway   ledger.Gateway
	signer    Signer
	validator *preflight.Validator
	assembler *transaction.Assembler
	journal   Journal
	publisher Publisher
	locker    Locker
	metrics   *metrics.Metrics
	logger    *logging.Logger
	timeout   time.Duration
	now       func() time.Time
}

// NewPipeline creates a new submission pipeline
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("pipeline requires a ledger gateway")
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("pipeline requires a signer")
	}

	p := &Pipeline{
		gateway:   cfg.Gateway,
		signer:    cfg.Signer,
		validator: preflight.NewValidator(cfg.Gateway),
		assembler: cfg.Assembler,
		journal:   cfg.Journal,
		publisher: cfg.Publisher,
		locker:    cfg.Locker,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		timeout:   cfg.RequestTimeout,
		now:       cfg.Clock,
	}
	if p.assembler == nil {
		p.assembler = transaction.NewAssembler(transaction.AssemblerConfig{Clock: cfg.Clock})
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	p.logger = p.logger.Named("pipeline")
	if p.timeout <= 0 {
		p.timeout = defaultRequestTimeout
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// PublicKey returns the account payments are sent from
func (p *Pipeline) PublicKey() string {
	return p.signer.PublicKey()
}

// SingleWriter reports whether submissions are serialized per signing account
func (p *Pipeline) SingleWriter() bool {
	return p.locker != nil
}

// run tracks one request through the state machine
type run struct {
	p       *Pipeline
	state   State
	entered time.Time
	logger  *logging.Logger
}

func (r *run) enter(next State) {
	now := r.p.now()
	r.p.metrics.RecordStage(r.state.String(), now.Sub(r.entered))
	r.logger.Debug("Submission state changed", "from", r.state.String(), "to", next.String())
	r.state = next
	r.entered = now
}

// fail moves the run to Rejected and tags err with the state it failed in
func (r *run) fail(err error) error {
	failedIn := r.state
	r.enter(Rejected)
	r.p.metrics.RecordSubmissionError(errors.CodeOf(err))
	r.logger.Info("Submission rejected", "state", failedIn.String(), "code", errors.CodeOf(err))
	return errors.WrapWithField(err, "state", failedIn.String())
}

// Submit runs one payment through preflight, assembly, signing and submission. It reads the
// destination once, the source account once and writes to the ledger at most once. Failures
// before the write consume no sequence number. Nothing is retried: a concurrent submission
// from the same account shows up as a SUBMISSION_REJECTED error with code tx_bad_seq.
func (p *Pipeline) Submit(ctx context.Context, req transaction.PaymentRequest) (*Result, error) {
	r := &run{
		p:       p,
		state:   Received,
		entered: p.now(),
		logger:  p.logger.WithContext(ctx).WithField("asset", req.Asset.String()),
	}

	r.enter(Validating)
	req, err := p.validator.CheckShape(req)
	if err != nil {
		return nil, r.fail(err)
	}
	r.logger = r.logger.WithFields(map[string]interface{}{
		"destination": req.Destination,
		"amount":      req.Amount,
	})

	r.enter(PreflightChecking)
	if err := p.withTimeout(ctx, func(ctx context.Context) error {
		return p.validator.CheckDestination(ctx, req.Destination)
	}); err != nil {
		return nil, r.fail(err)
	}

	if p.locker != nil {
		waitStart := p.now()
		release, err := p.locker.Acquire(ctx, p.PublicKey())
		p.metrics.RecordLockWait(p.now().Sub(waitStart))
		if err != nil {
			return nil, r.fail(err)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
			defer cancel()
			if err := release(releaseCtx); err != nil {
				r.logger.WithError(err).Warn("Failed to release submission lock")
			}
		}()
	}

	r.enter(FetchingSourceAccount)
	var source *ledger.AccountSnapshot
	if err := p.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		source, err = p.gateway.LoadAccount(ctx, p.PublicKey())
		return err
	}); err != nil {
		if errors.IsPaymentError(err, errors.PaymentErrAccountNotFound) {
			err = errors.NewPaymentError(errors.PaymentErrUpstreamUnavailable, errors.OpLoadAccount,
				"Signing account does not exist on the network", err)
		}
		return nil, r.fail(err)
	}

	r.enter(Assembling)
	unsigned, err := p.assembler.Assemble(source, req)
	if err != nil {
		return nil, r.fail(err)
	}

	r.enter(Signing)
	envelope, err := p.signer.Sign(unsigned)
	if err != nil {
		return nil, r.fail(err)
	}

	r.enter(Submitting)
	rec := transaction.NewRecord(envelope, req, p.now())
	r.logger = r.logger.WithFields(map[string]interface{}{
		"hash":     envelope.Hash,
		"sequence": envelope.Sequence,
	})

	var submitted *ledger.SubmitResult
	err = p.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		submitted, err = p.gateway.SubmitTransaction(ctx, envelope)
		return err
	})
	if err != nil {
		p.recordRejection(ctx, rec, req, err)
		if errors.IsSequenceConflict(err) {
			p.metrics.RecordSequenceConflict()
			r.logger.Warn("Sequence number already consumed by another submission")
		}
		return nil, r.fail(err)
	}

	if submitted.Hash != "" && submitted.Hash != envelope.Hash {
		r.logger.Warn("Ledger reported a different hash", "ledger_hash", submitted.Hash)
	}

	result := &Result{
		Hash:          envelope.Hash,
		Ledger:        submitted.Ledger,
		EnvelopeXDR:   envelope.XDR,
		SourceAccount: envelope.SourceAccount,
	}

	rec.Outcome = transaction.Accepted
	rec.Ledger = submitted.Ledger
	p.bookkeep(ctx, rec)
	p.metrics.RecordSubmission(req.Asset.LedgerType(), "accepted", amountValue(req.Amount))

	r.enter(Accepted)
	r.logger.Info("Submission accepted", "ledger", submitted.Ledger)
	return result, nil
}

func (p *Pipeline) recordRejection(ctx context.Context, rec *transaction.Record, req transaction.PaymentRequest, err error) {
	rec.Outcome = transaction.Rejected
	rec.ErrorCode = errors.CodeOf(err)
	if code, ok := errors.FieldOf(err, errors.FieldTransactionCode); ok {
		rec.ResultCode, _ = code.(string)
	}
	if codes, ok := errors.FieldOf(err, errors.FieldOperationCodes); ok {
		rec.OperationCodes, _ = codes.([]string)
	}
	p.bookkeep(ctx, rec)
	p.metrics.RecordSubmission(req.Asset.LedgerType(), "rejected", amountValue(req.Amount))
}

// bookkeep writes the journal entry and publishes the event. Failures are logged only.
func (p *Pipeline) bookkeep(ctx context.Context, rec *transaction.Record) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	logger := p.logger.WithContext(ctx).WithField("hash", rec.Hash)
	if p.journal != nil {
		if err := p.journal.Record(ctx, rec); err != nil {
			p.metrics.RecordDependencyError("redis", "journal_record")
			logger.WithError(err).Error("Failed to journal submission")
		}
	}
	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, rec); err != nil {
			p.metrics.RecordDependencyError("kafka", "publish")
			logger.WithError(err).Error("Failed to publish submission event")
		}
	}
}

func (p *Pipeline) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return fn(ctx)
}

func amountValue(amount string) float64 {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// ClampLimit bounds an explicit page size to [1, MaxHistoryLimit].
// Callers apply DefaultHistoryLimit when no size was given.
func ClampLimit(limit int) int {
	switch {
	case limit < 1:
		return 1
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

// Balance returns the signing account's current state
func (p *Pipeline) Balance(ctx context.Context) (*ledger.AccountSnapshot, error) {
	return p.Account(ctx, p.PublicKey())
}

// Account returns the current state of any account
func (p *Pipeline) Account(ctx context.Context, accountID string) (*ledger.AccountSnapshot, error) {
	if accountID == "" {
		return nil, errors.Validation(errors.OpLoadAccount, "Account ID is required", nil)
	}
	var snap *ledger.AccountSnapshot
	err := p.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		snap, err = p.gateway.LoadAccount(ctx, accountID)
		return err
	})
	return snap, err
}

// History returns an account's most recent transactions, newest first
func (p *Pipeline) History(ctx context.Context, accountID string, limit int) ([]ledger.TransactionHistoryEntry, error) {
	if accountID == "" {
		return nil, errors.Validation(errors.OpAccountTransactions, "Account ID is required", nil)
	}
	var entries []ledger.TransactionHistoryEntry
	err := p.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		entries, err = p.gateway.AccountTransactions(ctx, accountID, ClampLimit(limit))
		return err
	})
	return entries, err
}

// Submission returns one journal record of the signing account
func (p *Pipeline) Submission(ctx context.Context, id string) (*transaction.Record, error) {
	if p.journal == nil {
		return nil, ErrJournalDisabled
	}
	if id == "" {
		return nil, errors.Validation(errors.OpGetSubmission, "Submission id is required", nil)
	}

	rec, err := p.journal.Get(ctx, id)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return nil, errors.SubmissionNotFound(id, err)
	case err != nil:
		return nil, errors.NewPaymentError(errors.PaymentErrUpstreamUnavailable, errors.OpGetSubmission,
			"Submission journal unavailable", err)
	case rec.SourceAccount != p.PublicKey():
		// records of other signing keys sharing the journal stay private
		return nil, errors.SubmissionNotFound(id, errors.ErrNotFound)
	}
	return rec, nil
}

// Submissions returns the journal's most recent records for the signing account
func (p *Pipeline) Submissions(ctx context.Context, limit int) ([]*transaction.Record, error) {
	if p.journal == nil {
		return nil, ErrJournalDisabled
	}
	records, err := p.journal.List(ctx, p.PublicKey(), ClampLimit(limit))
	if err != nil {
		return nil, errors.NewPaymentError(errors.PaymentErrUpstreamUnavailable, errors.OpListSubmissions,
			"Submission journal unavailable", err)
	}
	return records, nil
}
