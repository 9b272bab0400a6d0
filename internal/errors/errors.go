package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeNotFound          ErrorType = "NOT_FOUND"
	ErrorTypeNoSuchRevision    ErrorType = "NO_SUCH_REVISION"
	ErrorTypeNoSuchID          ErrorType = "NO_SUCH_ID"
	ErrorTypeNoSuchPath        ErrorType = "NO_SUCH_PATH"
	ErrorTypeInconsistentDelta ErrorType = "INCONSISTENT_DELTA"
	ErrorTypeDuplicateKey      ErrorType = "DUPLICATE_KEY"
	ErrorTypeLockContention    ErrorType = "LOCK_CONTENTION"
	ErrorTypeLock              ErrorType = "LOCK_ERROR"
	ErrorTypeDivergedHistory   ErrorType = "DIVERGED_HISTORY"
	ErrorTypeFetchIncomplete   ErrorType = "FETCH_INCOMPLETE"
	ErrorTypeGhostRevision     ErrorType = "GHOST_REVISION"
	ErrorTypeTransaction       ErrorType = "TRANSACTION"
	ErrorTypeValidation        ErrorType = "VALIDATION"
	ErrorTypeInternal          ErrorType = "INTERNAL"
)

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details any       `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Is lets errors.Is match any *Error of the same type.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Message == "" || t.Message == e.Message)
}

// IsType reports whether err, or anything it wraps, is an *Error of type t.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if !stderrors.As(err, &e) {
		return false
	}
	return e.Type == t
}

// TypeOf returns the type of the first *Error in err's chain, or "".
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ""
}

func NotFound(message string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

func NoSuchRevision(revisionID string) *Error {
	return &Error{
		Type:    ErrorTypeNoSuchRevision,
		Message: fmt.Sprintf("no such revision: %s", revisionID),
		Code:    http.StatusNotFound,
		Details: revisionID,
	}
}

func NoSuchID(fileID string) *Error {
	return &Error{
		Type:    ErrorTypeNoSuchID,
		Message: fmt.Sprintf("no such file id: %s", fileID),
		Code:    http.StatusNotFound,
		Details: fileID,
	}
}

func NoSuchPath(path string) *Error {
	return &Error{
		Type:    ErrorTypeNoSuchPath,
		Message: fmt.Sprintf("no such path: %q", path),
		Code:    http.StatusNotFound,
		Details: path,
	}
}

func InconsistentDelta(path, fileID, reason string) *Error {
	return &Error{
		Type:    ErrorTypeInconsistentDelta,
		Message: fmt.Sprintf("inconsistent delta for %q (%s): %s", path, fileID, reason),
		Code:    http.StatusUnprocessableEntity,
		Details: map[string]string{"path": path, "file_id": fileID},
	}
}

func DuplicateKey(key string) *Error {
	return &Error{
		Type:    ErrorTypeDuplicateKey,
		Message: fmt.Sprintf("different content already stored under key %s", key),
		Code:    http.StatusConflict,
		Details: key,
	}
}

func LockContention(lockPath, holder string) *Error {
	msg := fmt.Sprintf("could not acquire lock %s", lockPath)
	if holder != "" {
		msg += ": held by " + holder
	}
	return &Error{
		Type:    ErrorTypeLockContention,
		Message: msg,
		Code:    http.StatusConflict,
		Details: holder,
	}
}

func LockError(message string) *Error {
	return &Error{
		Type:    ErrorTypeLock,
		Message: message,
		Code:    http.StatusConflict,
	}
}

func DivergedHistory(local, other string) *Error {
	return &Error{
		Type:    ErrorTypeDivergedHistory,
		Message: fmt.Sprintf("branches have diverged: %s is not an ancestor of %s", local, other),
		Code:    http.StatusConflict,
	}
}

func FetchIncomplete(missing []string) *Error {
	return &Error{
		Type:    ErrorTypeFetchIncomplete,
		Message: fmt.Sprintf("fetch cannot make progress, still missing %d keys after retry", len(missing)),
		Code:    http.StatusInternalServerError,
		Details: missing,
	}
}

func GhostRevision(revisionID string) *Error {
	return &Error{
		Type:    ErrorTypeGhostRevision,
		Message: fmt.Sprintf("revision %s is a ghost", revisionID),
		Code:    http.StatusNotFound,
		Details: revisionID,
	}
}

// TransactionError reports lock/write-group ordering misuse.
func TransactionError(message string) *Error {
	return &Error{
		Type:    ErrorTypeTransaction,
		Message: message,
		Code:    http.StatusConflict,
	}
}

func ValidationError(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Code:    http.StatusBadRequest,
		Details: details,
	}
}

func Internal(message string) *Error {
	return &Error{
		Type:    ErrorTypeInternal,
		Message: message,
		Code:    http.StatusInternalServerError,
	}
}

// StatusCode maps an error to the HTTP status the server should return.
func StatusCode(err error) int {
	var e *Error
	if stderrors.As(err, &e) && e.Code != 0 {
		return e.Code
	}
	return http.StatusInternalServerError
}
