package deriv

import (
	"errors"
	"fmt"
)

// ErrClosed is returned for calls made on a closed or disconnected client.
// Callers treat it as transient unless Err() reports a terminal condition.
var ErrClosed = errors.New("deriv: connection closed")

// APIError is an error object returned by the broker inside a response
// envelope. Code values are vendor-defined.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("deriv: %s: %s", e.Code, e.Message)
}

// Vendor error codes this system reacts to by name.
const (
	CodeInvalidToken          = "InvalidToken"
	CodeAuthorizationRequired = "AuthorizationRequired"
	CodeDisabledClient        = "DisabledClient"
	CodeInsufficientBalance   = "InsufficientBalance"
	CodeRateLimit             = "RateLimit"
	CodeMarketIsClosed        = "MarketIsClosed"
	CodeContractBuyValidation = "ContractBuyValidationError"
	CodePriceMoved            = "PriceMoved"
	CodeAlreadySubscribed     = "AlreadySubscribed"
	CodeInvalidContractUpdate = "ContractValidationError"
)

// IsTerminal reports whether the error means the session cannot continue
// (revoked token, disabled account, exhausted balance) as opposed to a
// retryable condition.
func IsTerminal(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case CodeInvalidToken, CodeAuthorizationRequired, CodeDisabledClient, CodeInsufficientBalance:
		return true
	}
	return false
}

// IsPriceMoved reports whether a buy failed because the quote went stale;
// the purchase flow re-prices and retries these.
func IsPriceMoved(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == CodePriceMoved
}

// AsAPIError unwraps an *APIError when present.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
