package provider

import (
	"fmt"
)

// Error codes for failed provider calls
const (
	CodeExchangeFailed = "token_exchange_failed"
	CodeRefreshFailed  = "refresh_failed"
	CodeUserInfoFailed = "user_info_failed"
)

// Body bytes kept from a provider error response
const maxErrorBodyLen = 4 << 10

// Error is a failed call to the provider.
// Body carries the provider's own error payload so callers can tell a
// revoked grant from a transient outage.
type Error struct {
	Code       string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("code: %s, status: %d, body: %s", e.Code, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("code: %s, status: %d, error: %v", e.Code, e.StatusCode, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(code string, statusCode int, err error) *Error {
	return &Error{Code: code, StatusCode: statusCode, Err: err}
}

func NewErrorWithBody(code string, statusCode int, body string, err error) *Error {
	return &Error{Code: code, StatusCode: statusCode, Body: body, Err: err}
}
