package errors

import (
	"fmt"
	"net/http"

	"github.com/devrev/pairdb/directclient/internal/model"
)

// statusCodes maps non-410 error statuses to codes. 410 is refined by substatus.
var statusCodes = map[int]ErrorCode{
	http.StatusBadRequest:            ErrCodeBadRequest,
	http.StatusUnauthorized:          ErrCodeUnauthorized,
	http.StatusForbidden:             ErrCodeForbidden,
	http.StatusNotFound:              ErrCodeNotFound,
	http.StatusMethodNotAllowed:      ErrCodeMethodNotAllowed,
	http.StatusRequestTimeout:        ErrCodeRequestTimeout,
	http.StatusConflict:              ErrCodeConflict,
	http.StatusPreconditionFailed:    ErrCodePreconditionFailed,
	http.StatusRequestEntityTooLarge: ErrCodeRequestEntityTooLarge,
	http.StatusLocked:                ErrCodeLocked,
	http.StatusTooManyRequests:       ErrCodeRequestRateTooLarge,
	StatusRetryWith:                  ErrCodeRetryWith,
	http.StatusInternalServerError:   ErrCodeInternalServerError,
	http.StatusServiceUnavailable:    ErrCodeServiceUnavailable,
}

// StatusRetryWith is the non-standard status asking the client to retry the
// same replica after a short delay
const StatusRetryWith = 449

// MinimumErrorStatus is the first status treated as a failure; 304 and other
// redirects are valid store responses
const MinimumErrorStatus = 400

// CodeForStatus classifies a replica status and substatus. Both transports go
// through this table.
func CodeForStatus(statusCode, subStatus int) ErrorCode {
	if statusCode == http.StatusGone {
		switch subStatus {
		case model.SubStatusNameCacheIsStale:
			return ErrCodeInvalidPartition
		case model.SubStatusPartitionKeyRangeGone:
			return ErrCodePartitionKeyRangeGone
		case model.SubStatusCompletingSplit:
			return ErrCodePartitionKeyRangeIsSplitting
		case model.SubStatusCompletingPartitionMigration:
			return ErrCodePartitionIsMigrating
		default:
			return ErrCodeGone
		}
	}
	if code, ok := statusCodes[statusCode]; ok {
		return code
	}
	return ErrCodeUnknown
}

// FromStatus builds the typed error for a failed replica response
func FromStatus(statusCode int, headers http.Header, body []byte, resourceAddress, physicalAddress string) *StoreError {
	subStatus := model.SubStatusUnknown
	if headers != nil {
		fmt.Sscanf(headers.Get(model.HeaderSubStatus), "%d", &subStatus)
	}

	code := CodeForStatus(statusCode, subStatus)
	message := string(body)
	if message == "" {
		message = http.StatusText(statusCode)
	}
	if message == "" {
		message = fmt.Sprintf("status %d", statusCode)
	}

	return NewStoreError(code, statusCode, subStatus, message, nil).
		WithResponseContext(resourceAddress, physicalAddress, headers)
}
