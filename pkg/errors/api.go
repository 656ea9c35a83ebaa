// pkg/errors/api.go
package errors

import "net/http"

// HTTPStatus returns the HTTP status code for an error returned by the payment domain.
// Caller-input faults map to 4xx, upstream and configuration faults to 5xx.
func HTTPStatus(err error) int {
	var domainErr *Error
	if !As(err, &domainErr) {
		return http.StatusInternalServerError
	}

	switch domainErr.Code {
	case PaymentErrValidation, PaymentErrInvalidAsset, PaymentErrDestinationNotFound:
		return http.StatusBadRequest
	case PaymentErrAccountNotFound, PaymentErrJournalDisabled, PaymentErrSubmissionNotFound:
		return http.StatusNotFound
	case PaymentErrUpstreamUnavailable, PaymentErrSubmissionRejected, PaymentErrInvalidCredential:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message that may be shown to an API caller.
// Errors outside the domain taxonomy are reported generically.
func PublicMessage(err error) string {
	var domainErr *Error
	if As(err, &domainErr) && domainErr.Message != "" {
		return domainErr.Message
	}
	return "Internal server error"
}
