package response

import (
	"errors"
	"net/http"
)

type Response struct {
	ResponseError `json:"error,omitzero"`
}

type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error Codes
type ErrCode string

var (
	FAILED_REQUEST          ErrCode = "REQUEST_FAILED"
	BAD_REQUEST             ErrCode = "FAILED_TO_DECODE"
	NOT_FOUND               ErrCode = "NOT_FOUND"
	LOCKED                  ErrCode = "LOCKED"
	CONFLICT                ErrCode = "CONFLICT"
	FORBIDDEN               ErrCode = "FORBIDDEN"
	TOO_MANY_REQUESTS       ErrCode = "TOO_MANY_REQUESTS"
	SLOT_NOT_AVAILABLE      ErrCode = "SLOT_NOT_AVAILABLE"
	PRICE_BELOW_FLOOR       ErrCode = "PRICE_BELOW_FLOOR"
	SESSION_TYPE_MISMATCH   ErrCode = "SESSION_TYPE_MISMATCH"
	CAPACITY_EXCEEDED       ErrCode = "CAPACITY_EXCEEDED"
	SLOT_OVERLAP            ErrCode = "SLOT_OVERLAP"
	INVALID_INPUT           ErrCode = "INVALID_INPUT"
	INVALID_SLOT_TRANSITION ErrCode = "INVALID_SLOT_TRANSITION"
	REQUEST_NOT_PENDING     ErrCode = "REQUEST_NOT_PENDING"
	DUPLICATE_REQUEST       ErrCode = "DUPLICATE_REQUEST"
	BUFFER_VIOLATION        ErrCode = "BUFFER_VIOLATION"
	DAILY_CAP_EXCEEDED      ErrCode = "DAILY_CAP_EXCEEDED"
	CONCURRENT_MODIFICATION ErrCode = "CONCURRENT_MODIFICATION"
)

var (
	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("resource not found")
	ErrLocked     = errors.New("resource is locked")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("actor is not allowed to perform this action")

	// validation
	ErrPriceBelowFloor     = errors.New("offer price is below the slot price floor")
	ErrSessionTypeMismatch = errors.New("session type is not offered by this slot")
	ErrCapacityExceeded    = errors.New("slot capacity exceeded")
	ErrSlotOverlap         = errors.New("slot overlaps another slot of the same day")
	ErrInvalidInput        = errors.New("invalid input")

	// state
	ErrInvalidSlotTransition = errors.New("invalid slot transition")
	ErrRequestNotPending     = errors.New("request is not pending")
	ErrSlotNotAvailable      = errors.New("slot is no longer available")
	ErrBufferViolation       = errors.New("confirmed session would violate instructor buffer time")
	ErrDailyCapExceeded      = errors.New("instructor daily session cap reached")
	ErrDuplicateRequest      = errors.New("student already has a pending request on this slot")

	// concurrency
	ErrConcurrentModification = errors.New("slot was modified concurrently")

	// not found
	ErrSlotNotFound       = errors.New("slot not found")
	ErrRequestNotFound    = errors.New("request not found")
	ErrInstructorNotFound = errors.New("instructor not found")
)

func Error(code, msg string) Response {
	return Response{
		ResponseError: ResponseError{
			Code:    code,
			Message: msg,
		},
	}
}

type classified struct {
	err    error
	status int
	code   ErrCode
}

// checked in order: specific sentinels before the generic ones they may wrap
var classes = []classified{
	{ErrPriceBelowFloor, http.StatusUnprocessableEntity, PRICE_BELOW_FLOOR},
	{ErrSessionTypeMismatch, http.StatusUnprocessableEntity, SESSION_TYPE_MISMATCH},
	{ErrCapacityExceeded, http.StatusUnprocessableEntity, CAPACITY_EXCEEDED},
	{ErrSlotOverlap, http.StatusUnprocessableEntity, SLOT_OVERLAP},
	{ErrInvalidInput, http.StatusBadRequest, INVALID_INPUT},
	{ErrBadRequest, http.StatusBadRequest, BAD_REQUEST},
	{ErrInvalidSlotTransition, http.StatusConflict, INVALID_SLOT_TRANSITION},
	{ErrRequestNotPending, http.StatusConflict, REQUEST_NOT_PENDING},
	{ErrSlotNotAvailable, http.StatusConflict, SLOT_NOT_AVAILABLE},
	{ErrBufferViolation, http.StatusConflict, BUFFER_VIOLATION},
	{ErrDailyCapExceeded, http.StatusConflict, DAILY_CAP_EXCEEDED},
	{ErrDuplicateRequest, http.StatusConflict, DUPLICATE_REQUEST},
	{ErrConcurrentModification, http.StatusConflict, CONCURRENT_MODIFICATION},
	{ErrLocked, http.StatusLocked, LOCKED},
	{ErrConflict, http.StatusConflict, CONFLICT},
	{ErrSlotNotFound, http.StatusNotFound, NOT_FOUND},
	{ErrRequestNotFound, http.StatusNotFound, NOT_FOUND},
	{ErrInstructorNotFound, http.StatusNotFound, NOT_FOUND},
	{ErrNotFound, http.StatusNotFound, NOT_FOUND},
	{ErrForbidden, http.StatusForbidden, FORBIDDEN},
}

// Classify maps an engine error to the HTTP status, the error code and the
// caller-facing message. Unknown errors become 500 without leaking details.
func Classify(err error) (int, ErrCode, string) {
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c.status, c.code, c.err.Error()
		}
	}

	return http.StatusInternalServerError, FAILED_REQUEST, "internal error"
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrPriceBelowFloor) ||
		errors.Is(err, ErrSessionTypeMismatch) ||
		errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrSlotOverlap) ||
		errors.Is(err, ErrInvalidInput)
}

func IsState(err error) bool {
	return errors.Is(err, ErrInvalidSlotTransition) ||
		errors.Is(err, ErrRequestNotPending) ||
		errors.Is(err, ErrSlotNotAvailable) ||
		errors.Is(err, ErrBufferViolation) ||
		errors.Is(err, ErrDailyCapExceeded) ||
		errors.Is(err, ErrDuplicateRequest)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrSlotNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrInstructorNotFound) ||
		errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether the caller may retry the same command with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrLocked)
}
