// Package errors defines the single error taxonomy of the direct path. Replica
// status codes, network faults and client-side deadlines all surface as a
// *StoreError so the retry policy only has to reason about one shape.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/devrev/pairdb/directclient/internal/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode classifies a failure of one replica call or one operation
type ErrorCode int

const (
	ErrCodeUnknown ErrorCode = 0

	// Client errors (4xx)
	ErrCodeBadRequest            ErrorCode = 1000
	ErrCodeUnauthorized          ErrorCode = 1001
	ErrCodeForbidden             ErrorCode = 1002
	ErrCodeNotFound              ErrorCode = 1003
	ErrCodeMethodNotAllowed      ErrorCode = 1004
	ErrCodeRequestTimeout        ErrorCode = 1005
	ErrCodeConflict              ErrorCode = 1006
	ErrCodePreconditionFailed    ErrorCode = 1007
	ErrCodeRequestEntityTooLarge ErrorCode = 1008
	ErrCodeLocked                ErrorCode = 1009
	ErrCodeRequestRateTooLarge   ErrorCode = 1010
	ErrCodeRetryWith             ErrorCode = 1011

	// Server errors (5xx)
	ErrCodeInternalServerError ErrorCode = 2000
	ErrCodeServiceUnavailable  ErrorCode = 2001

	// Topology errors (410 family)
	ErrCodeGone                         ErrorCode = 3000
	ErrCodeInvalidPartition             ErrorCode = 3001
	ErrCodePartitionKeyRangeGone        ErrorCode = 3002
	ErrCodePartitionKeyRangeIsSplitting ErrorCode = 3003
	ErrCodePartitionIsMigrating         ErrorCode = 3004
)

var codeNames = map[ErrorCode]string{
	ErrCodeUnknown:                      "Unknown",
	ErrCodeBadRequest:                   "BadRequest",
	ErrCodeUnauthorized:                 "Unauthorized",
	ErrCodeForbidden:                    "Forbidden",
	ErrCodeNotFound:                     "NotFound",
	ErrCodeMethodNotAllowed:             "MethodNotAllowed",
	ErrCodeRequestTimeout:               "RequestTimeout",
	ErrCodeConflict:                     "Conflict",
	ErrCodePreconditionFailed:           "PreconditionFailed",
	ErrCodeRequestEntityTooLarge:        "RequestEntityTooLarge",
	ErrCodeLocked:                       "Locked",
	ErrCodeRequestRateTooLarge:          "RequestRateTooLarge",
	ErrCodeRetryWith:                    "RetryWith",
	ErrCodeInternalServerError:          "InternalServerError",
	ErrCodeServiceUnavailable:           "ServiceUnavailable",
	ErrCodeGone:                         "Gone",
	ErrCodeInvalidPartition:             "InvalidPartition",
	ErrCodePartitionKeyRangeGone:        "PartitionKeyRangeGone",
	ErrCodePartitionKeyRangeIsSplitting: "PartitionKeyRangeIsSplitting",
	ErrCodePartitionIsMigrating:         "PartitionIsMigrating",
}

// String returns the error code name
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// StoreError is a failure carrying enough context to tell data-unavailable
// from topology-changing conditions
type StoreError struct {
	Code                ErrorCode
	StatusCode          int
	SubStatus           int
	Message             string
	ResourceAddress     string
	PhysicalAddress     string
	LSN                 int64
	PartitionKeyRangeID string
	Headers             http.Header
	Details             map[string]interface{}
	Cause               error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%d/%d): %s", e.Code, e.StatusCode, e.SubStatus, e.Message)

	var ctx []string
	if e.ResourceAddress != "" {
		ctx = append(ctx, "resource="+e.ResourceAddress)
	}
	if e.PhysicalAddress != "" {
		ctx = append(ctx, "replica="+e.PhysicalAddress)
	}
	if e.LSN != model.UnknownLSN {
		ctx = append(ctx, fmt.Sprintf("lsn=%d", e.LSN))
	}
	if e.PartitionKeyRangeID != "" {
		ctx = append(ctx, "pkrange="+e.PartitionKeyRangeID)
	}
	if len(ctx) > 0 {
		sb.WriteString(" [" + strings.Join(ctx, ", ") + "]")
	}
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	return sb.String()
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// GRPCStatus lets status.FromError convert a StoreError for gRPC callers
func (e *StoreError) GRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

// toGRPCCode maps error codes to gRPC codes
func (e *StoreError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeBadRequest:
		return codes.InvalidArgument
	case ErrCodeUnauthorized:
		return codes.Unauthenticated
	case ErrCodeForbidden:
		return codes.PermissionDenied
	case ErrCodeNotFound:
		return codes.NotFound
	case ErrCodeMethodNotAllowed:
		return codes.Unimplemented
	case ErrCodeRequestTimeout:
		return codes.DeadlineExceeded
	case ErrCodeConflict:
		return codes.AlreadyExists
	case ErrCodePreconditionFailed:
		return codes.FailedPrecondition
	case ErrCodeRequestEntityTooLarge, ErrCodeRequestRateTooLarge:
		return codes.ResourceExhausted
	case ErrCodeLocked, ErrCodeRetryWith:
		return codes.Aborted
	case ErrCodeInternalServerError:
		return codes.Internal
	case ErrCodeServiceUnavailable, ErrCodeGone, ErrCodeInvalidPartition, ErrCodePartitionKeyRangeGone,
		ErrCodePartitionKeyRangeIsSplitting, ErrCodePartitionIsMigrating:
		return codes.Unavailable
	default:
		return codes.Unknown
	}
}

// NewStoreError creates a new StoreError
func NewStoreError(code ErrorCode, statusCode, subStatus int, message string, cause error) *StoreError {
	return &StoreError{
		Code:       code,
		StatusCode: statusCode,
		SubStatus:  subStatus,
		Message:    message,
		LSN:        model.UnknownLSN,
		Details:    make(map[string]interface{}),
		Cause:      cause,
	}
}

// WithDetail adds a detail to the error
func (e *StoreError) WithDetail(key string, value interface{}) *StoreError {
	e.Details[key] = value
	return e
}

// WithResponseContext records where the error came from and the diagnostic
// headers the replica returned
func (e *StoreError) WithResponseContext(resourceAddress, physicalAddress string, headers http.Header) *StoreError {
	e.ResourceAddress = resourceAddress
	e.PhysicalAddress = physicalAddress
	if headers != nil {
		e.Headers = headers
		e.LSN = model.ParseLSN(headers.Get(model.HeaderLSN))
		e.PartitionKeyRangeID = headers.Get(model.HeaderPartitionKeyRangeID)
	}
	return e
}

// Convenience constructors for errors raised on the client side

func Gone(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeGone, http.StatusGone, model.SubStatusUnknown, message, cause)
}

func ServiceUnavailable(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeServiceUnavailable, http.StatusServiceUnavailable, model.SubStatusUnknown, message, cause)
}

func RequestTimeout(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeRequestTimeout, http.StatusRequestTimeout, model.SubStatusUnknown, message, cause)
}

func BadRequest(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeBadRequest, http.StatusBadRequest, model.SubStatusUnknown, message, cause)
}

func InternalServerError(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeInternalServerError, http.StatusInternalServerError, model.SubStatusUnknown, message, cause)
}

// ServiceUnavailableFrom wraps a terminal retry failure, keeping the
// diagnostics of the error that exhausted the budget
func ServiceUnavailableFrom(cause error) *StoreError {
	se := ServiceUnavailable("service is currently unavailable", cause)
	var inner *StoreError
	if errors.As(cause, &inner) {
		se.ResourceAddress = inner.ResourceAddress
		se.PhysicalAddress = inner.PhysicalAddress
		se.LSN = inner.LSN
		se.PartitionKeyRangeID = inner.PartitionKeyRangeID
		se.WithDetail("cause_code", inner.Code.String())
		se.WithDetail("cause_substatus", inner.SubStatus)
	}
	return se
}

// AsStoreError extracts a StoreError from an error chain
func AsStoreError(err error) (*StoreError, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if se, ok := AsStoreError(err); ok {
		return se.Code
	}
	return ErrCodeUnknown
}

// IsGoneFamily reports whether err is any 410 classification
func IsGoneFamily(err error) bool {
	switch GetCode(err) {
	case ErrCodeGone, ErrCodeInvalidPartition, ErrCodePartitionKeyRangeGone,
		ErrCodePartitionKeyRangeIsSplitting, ErrCodePartitionIsMigrating:
		return true
	default:
		return false
	}
}

// IsPartitionMoving reports whether err means partition metadata must be refreshed
func IsPartitionMoving(err error) bool {
	switch GetCode(err) {
	case ErrCodePartitionKeyRangeGone, ErrCodePartitionKeyRangeIsSplitting, ErrCodePartitionIsMigrating,
		ErrCodeInvalidPartition:
		return true
	default:
		return false
	}
}
