// Package errors defines the error taxonomy shared by the credential store,
// the paginated fetcher, the provider gateways and the aggregator.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeCredentialExpired       ErrCode = "CREDENTIAL_EXPIRED"
	ErrCodeReauthorizationRequired ErrCode = "REAUTHORIZATION_REQUIRED"
	ErrCodeNotConnected            ErrCode = "NOT_CONNECTED"
	ErrCodeProviderFetch           ErrCode = "PROVIDER_FETCH"
	ErrCodeMalformedResponse       ErrCode = "MALFORMED_RESPONSE"
	ErrCodeBadRequest              ErrCode = "BAD_REQUEST"
	ErrCodeInternal                ErrCode = "INTERNAL_ERROR"
)

// AppError represents an application error
type AppError struct {
	Code     ErrCode
	Provider string
	Message  string
	// Status is the HTTP status reported by the provider, zero for transport errors.
	Status int
	// Partial is set when earlier batches of the same fetch succeeded.
	Partial bool
	Err     error
}

func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Err)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewCredentialExpiredError is returned when renewal failed or was impossible.
func NewCredentialExpiredError(provider, message string, err error) *AppError {
	return &AppError{
		Code:     ErrCodeCredentialExpired,
		Provider: provider,
		Message:  message,
		Err:      err,
	}
}

// NewReauthorizationRequiredError is returned when a static credential was rejected.
func NewReauthorizationRequiredError(provider, message string) *AppError {
	return &AppError{
		Code:     ErrCodeReauthorizationRequired,
		Provider: provider,
		Message:  message,
	}
}

// NewNotConnectedError is returned when no credential is stored for a provider.
func NewNotConnectedError(provider string) *AppError {
	return &AppError{
		Code:     ErrCodeNotConnected,
		Provider: provider,
		Message:  "no credential stored",
	}
}

// NewProviderFetchError creates a new provider fetch error
func NewProviderFetchError(provider string, status int, message string, err error) *AppError {
	return &AppError{
		Code:     ErrCodeProviderFetch,
		Provider: provider,
		Message:  message,
		Status:   status,
		Err:      err,
	}
}

// NewMalformedResponseError creates a new malformed response error
func NewMalformedResponseError(provider, message string, err error) *AppError {
	return &AppError{
		Code:     ErrCodeMalformedResponse,
		Provider: provider,
		Message:  message,
		Err:      err,
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first AppError in err's chain, or
// ErrCodeInternal for foreign errors.
func CodeOf(err error) ErrCode {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsCredential reports whether err means the provider must be reconnected.
func IsCredential(err error) bool {
	switch CodeOf(err) {
	case ErrCodeCredentialExpired, ErrCodeReauthorizationRequired, ErrCodeNotConnected:
		return true
	}
	return false
}

// IsCode reports whether err carries code.
func IsCode(err error, code ErrCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// MarkPartial flags err as having partial results available. Foreign errors
// are wrapped as provider fetch errors.
func MarkPartial(provider string, err error, partial bool) error {
	if err == nil {
		return nil
	}
	appErr, ok := As(err)
	if !ok {
		return &AppError{
			Code:     ErrCodeProviderFetch,
			Provider: provider,
			Message:  "fetch failed",
			Partial:  partial,
			Err:      err,
		}
	}
	if IsCredential(appErr) {
		return err
	}
	marked := *appErr
	marked.Partial = partial
	return &marked
}
