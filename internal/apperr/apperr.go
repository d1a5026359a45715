// Package apperr описывает таксономию ошибок вызываемых операций экономики.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Code: класс ошибки, возвращаемый клиенту.
type Code string

const (
	CodeInvalidArgument    Code = "invalid-argument"
	CodeFailedPrecondition Code = "failed-precondition"
	CodeResourceExhausted  Code = "resource-exhausted"
	CodeNotFound           Code = "not-found"
	CodeUnauthenticated    Code = "unauthenticated"
	CodeAborted            Code = "aborted"
	CodeInternal           Code = "internal"
)

// Error: ошибка с кодом таксономии и сообщением для клиента.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New создаёт ошибку с указанным кодом.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap оборачивает err, присваивая ему код таксономии.
func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func InvalidArgument(format string, args ...any) *Error {
	return New(CodeInvalidArgument, fmt.Sprintf(format, args...))
}

func FailedPrecondition(format string, args ...any) *Error {
	return New(CodeFailedPrecondition, fmt.Sprintf(format, args...))
}

func ResourceExhausted(format string, args ...any) *Error {
	return New(CodeResourceExhausted, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, fmt.Sprintf(format, args...))
}

func Aborted(format string, args ...any) *Error {
	return New(CodeAborted, fmt.Sprintf(format, args...))
}

// Internal оборачивает непредвиденную ошибку.
func Internal(err error) *Error {
	return Wrap(CodeInternal, err, "internal error")
}

// Unauthenticated возвращается при отсутствии идентификатора игрока.
var Unauthenticated = New(CodeUnauthenticated, "authentication required")

// CodeOf возвращает код первой ошибки таксономии в цепочке, иначе CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf возвращает сообщение для клиента. Для внутренних ошибок детали скрываются.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != CodeInternal {
		return e.Message
	}
	return "internal error"
}

// Retryable сообщает, стоит ли клиенту повторить вызов с тем же opId.
func Retryable(code Code) bool {
	return code == CodeAborted || code == CodeInternal
}

// HTTPStatus сопоставляет код таксономии со статусом HTTP.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeFailedPrecondition:
		return http.StatusPreconditionFailed
	case CodeResourceExhausted:
		return http.StatusPaymentRequired
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeAborted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type body struct {
	Error struct {
		Code      Code   `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

// ToJSON сериализует ошибку в тело ответа.
func ToJSON(err error) []byte {
	var b body
	b.Error.Code = CodeOf(err)
	b.Error.Message = MessageOf(err)
	b.Error.Retryable = Retryable(b.Error.Code)
	data, _ := json.Marshal(b)
	return data
}
