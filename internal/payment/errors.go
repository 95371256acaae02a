package payment

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrConfiguration      = errors.New("payment: configuration error")
	ErrUnknownDriver      = fmt.Errorf("%w: driver not supported", ErrConfiguration)
	ErrSignature          = errors.New("payment: invalid signature")
	ErrManualApproval     = errors.New("payment: manual payments are approved out of band")
	ErrReferenceNotFound  = errors.New("payment: reference not found in payload")
	ErrPayableNotFound    = errors.New("payment: payable not found")
	ErrVerificationFailed = errors.New("payment: verification failed")
	ErrGatewayTransport   = errors.New("payment: gateway unreachable")
)

// unsupportedDriver builds the error returned for an unregistered driver name.
func unsupportedDriver(name string) error {
	return fmt.Errorf("%w: Payment gateway [%s] is not supported.", ErrUnknownDriver, name)
}

// CallbackError is a classified failure of the callback pipeline.
type CallbackError struct {
	Kind    error
	Message string
}

func (e *CallbackError) Error() string { return e.Message }

func (e *CallbackError) Unwrap() error { return e.Kind }

func callbackError(kind error, msg string) *CallbackError {
	return &CallbackError{Kind: kind, Message: msg}
}

// StatusCode maps an error onto the HTTP status the callback endpoint answers with.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrSignature), errors.Is(err, ErrManualApproval):
		return http.StatusForbidden
	case errors.Is(err, ErrReferenceNotFound), errors.Is(err, ErrVerificationFailed), errors.Is(err, ErrGatewayTransport):
		return http.StatusBadRequest
	case errors.Is(err, ErrPayableNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
