package transaction

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cmatc13/lumenpay/internal/ledger"
)

// Outcome is the terminal state of a submission that reached the ledger
type Outcome string

const (
	// Accepted submissions were included in a ledger
	Accepted Outcome = "ACCEPTED"
	// Rejected submissions were refused by the ledger or never answered
	Rejected Outcome = "REJECTED"
)

// Record is the audit entry for one submission attempt
type Record struct {
	ID             string    `json:"id"`
	Hash           string    `json:"hash"`
	SourceAccount  string    `json:"source_account"`
	Sequence       int64     `json:"sequence"`
	Destination    string    `json:"destination"`
	Amount         string    `json:"amount"`
	Asset          string    `json:"asset"`
	Outcome        Outcome   `json:"outcome"`
	ErrorCode      string    `json:"error_code,omitempty"`
	ResultCode     string    `json:"result_code,omitempty"`
	OperationCodes []string  `json:"operation_codes,omitempty"`
	Ledger         int32     `json:"ledger,omitempty"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// NewRecord creates a record for a signed envelope about to be submitted
func NewRecord(env ledger.Envelope, req PaymentRequest, at time.Time) *Record {
	return &Record{
		ID:            uuid.New().String(),
		Hash:          env.Hash,
		SourceAccount: env.SourceAccount,
		Sequence:      env.Sequence,
		Destination:   req.Destination,
		Amount:        req.Amount,
		Asset:         req.Asset.String(),
		SubmittedAt:   at.UTC(),
	}
}

// ToJSON serializes the record to JSON
func (r *Record) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// RecordFromJSON deserializes a record from JSON
func RecordFromJSON(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to deserialize record: %w", err)
	}
	return &r, nil
}
