// pkg/errors/payment.go
package errors

// Payment error codes
const (
	// PaymentErrValidation indicates a malformed or missing request field
	PaymentErrValidation = "VALIDATION"
	// PaymentErrInvalidAsset indicates an unusable asset specification
	PaymentErrInvalidAsset = "INVALID_ASSET"
	// PaymentErrDestinationNotFound indicates the destination account does not exist
	PaymentErrDestinationNotFound = "DESTINATION_NOT_FOUND"
	// PaymentErrAccountNotFound indicates a looked up account does not exist
	PaymentErrAccountNotFound = "ACCOUNT_NOT_FOUND"
	// PaymentErrUpstreamUnavailable indicates a ledger transport fault or timeout
	PaymentErrUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	// PaymentErrSubmissionRejected indicates the ledger rejected a signed transaction
	PaymentErrSubmissionRejected = "SUBMISSION_REJECTED"
	// PaymentErrInvalidCredential indicates the signing key could not be parsed
	PaymentErrInvalidCredential = "INVALID_CREDENTIAL"
	// PaymentErrJournalDisabled indicates submission reads were requested without a journal
	PaymentErrJournalDisabled = "JOURNAL_DISABLED"
	// PaymentErrSubmissionNotFound indicates no journal record has the requested id
	PaymentErrSubmissionNotFound = "SUBMISSION_NOT_FOUND"
)

// Payment domain name
const PaymentDomain = "payment"

// Payment operations
const (
	OpResolveKey          = "ResolveKey"
	OpResolveAsset        = "ResolveAsset"
	OpCheckShape          = "CheckShape"
	OpPreflight           = "Preflight"
	OpLoadAccount         = "LoadAccount"
	OpAccountTransactions = "AccountTransactions"
	OpAssemble            = "Assemble"
	OpSign                = "Sign"
	OpSubmitTransaction   = "SubmitTransaction"
	OpAcquireLock         = "AcquireLock"
	OpFundAccount         = "FundAccount"
	OpListSubmissions     = "ListSubmissions"
	OpGetSubmission       = "GetSubmission"
)

// Ledger result codes carried on SubmissionRejected errors
const (
	// FieldTransactionCode holds the ledger's transaction result code (e.g. tx_bad_seq)
	FieldTransactionCode = "transaction_code"
	// FieldOperationCodes holds the per-operation result codes (e.g. op_no_trust)
	FieldOperationCodes = "operation_codes"

	// SequenceConflictCode is the ledger code for a stale sequence number
	SequenceConflictCode = "tx_bad_seq"
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, operation, message string, err error) error {
	return &Error{
		Domain:    PaymentDomain,
		Code:      code,
		Operation: operation,
		Message:   message,
		Original:  err,
	}
}

// Validation creates a ValidationError for a caller-input fault
func Validation(operation, message string, fields map[string]interface{}) error {
	return &Error{
		Domain:    PaymentDomain,
		Code:      PaymentErrValidation,
		Operation: operation,
		Message:   message,
		Fields:    fields,
	}
}

// InvalidAsset creates an InvalidAssetError
func InvalidAsset(operation, message string, fields map[string]interface{}) error {
	return &Error{
		Domain:    PaymentDomain,
		Code:      PaymentErrInvalidAsset,
		Operation: operation,
		Message:   message,
		Fields:    fields,
	}
}

// DestinationNotFound creates a DestinationNotFoundError for the given account
func DestinationNotFound(destination string) error {
	return &Error{
		Domain:    PaymentDomain,
		Code:      PaymentErrDestinationNotFound,
		Operation: OpPreflight,
		Message:   "Destination account does not exist on the network",
		Fields:    map[string]interface{}{"destination": destination},
	}
}

// AccountNotFound creates an AccountNotFound error for a read-only lookup
func AccountNotFound(accountID string, err error) error {
	return &Error{
		Domain:    PaymentDomain,
		Code:      PaymentErrAccountNotFound,
		Operation: OpLoadAccount,
		Message:   "Account not found",
		Fields:    map[string]interface{}{"account_id": accountID},
		Original:  err,
	}
}

// SubmissionNotFound creates a SubmissionNotFound error for a journal lookup
func SubmissionNotFound(id string, err error) error {
	return &Error{
		Domain:    PaymentDomain,
		Code:      PaymentErrSubmissionNotFound,
		Operation: OpGetSubmission,
		Message:   "Submission not found",
		Fields:    map[string]interface{}{"submission_id": id},
		Original:  err,
	}
}

// UpstreamUnavailable creates an UpstreamUnavailableError wrapping a transport fault
func UpstreamUnavailable(operation string, err error) error {
	return &Error{
		Domain:    PaymentDomain,
		Code:      PaymentErrUpstreamUnavailable,
		Operation: operation,
		Message:   "Ledger service unavailable",
		Original:  err,
	}
}

// SubmissionRejected creates a SubmissionRejectedError carrying ledger result codes.
// reason is the ledger-provided text and becomes the caller-visible message.
func SubmissionRejected(reason, txCode string, opCodes []string) error {
	fields := map[string]interface{}{FieldTransactionCode: txCode}
	if len(opCodes) > 0 {
		fields[FieldOperationCodes] = opCodes
	}
	return &Error{
		Domain:    PaymentDomain,
		Code:      PaymentErrSubmissionRejected,
		Operation: OpSubmitTransaction,
		Message:   reason,
		Fields:    fields,
	}
}

// InvalidCredential creates an InvalidCredentialError. The secret itself is never attached.
func InvalidCredential(err error) error {
	return &Error{
		Domain:    PaymentDomain,
		Code:      PaymentErrInvalidCredential,
		Operation: OpResolveKey,
		Message:   "Invalid signing secret",
		Original:  err,
	}
}

// IsPaymentError checks if an error is a payment error with the given code
func IsPaymentError(err error, code string) bool {
	var domainErr *Error
	if As(err, &domainErr) {
		return domainErr.Domain == PaymentDomain && domainErr.Code == code
	}
	return false
}

// IsSequenceConflict reports whether err is a ledger rejection caused by a stale sequence number.
func IsSequenceConflict(err error) bool {
	if !IsPaymentError(err, PaymentErrSubmissionRejected) {
		return false
	}
	code, _ := FieldOf(err, FieldTransactionCode)
	return code == SequenceConflictCode
}
