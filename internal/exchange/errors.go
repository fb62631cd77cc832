package exchange

import (
	"errors"
	"fmt"
)

// APIError is a structured error response from the exchange.
type APIError struct {
	Code       int    `json:"code"`
	Message    string `json:"msg"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error %d (http %d): %s", e.Code, e.HTTPStatus, e.Message)
}

// Well-known exchange error codes.
const (
	codeInvalidSignature   = -1022
	codeTimestampOutside   = -1021
	codeInsufficientMargin = -2019
	codeMinNotional        = -4164
)

// IsAuthError reports whether the error is a signature or API key
// rejection. These are never retried.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == codeInvalidSignature || apiErr.HTTPStatus == 401
	}
	return false
}

// IsClockSkew reports whether the request timestamp fell outside the
// server's recvWindow. A time resync usually fixes it.
func IsClockSkew(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == codeTimestampOutside
	}
	return false
}

// IsInsufficientMargin reports whether the account lacks margin for the
// requested order.
func IsInsufficientMargin(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == codeInsufficientMargin
	}
	return false
}

// IsMinNotional reports whether the order value fell below the symbol's
// minimum notional filter.
func IsMinNotional(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == codeMinNotional
	}
	return false
}

// IsRateLimited reports whether the exchange throttled or banned the
// client. 429 asks for backoff, 418 means an active IP ban.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus == 429 || apiErr.HTTPStatus == 418
	}
	return false
}
