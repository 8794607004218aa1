package signal

import (
	"errors"
	"fmt"
)

// ErrInvalidSignal 所有校验失败都可以用 errors.Is 匹配到它。
var ErrInvalidSignal = errors.New("invalid signal")

// InvalidSignalError 指出缺失或非法的字段。
type InvalidSignalError struct {
	Field  string
	Reason string
}

func (e *InvalidSignalError) Error() string {
	return fmt.Sprintf("invalid signal: field %q %s", e.Field, e.Reason)
}

func (e *InvalidSignalError) Unwrap() error { return ErrInvalidSignal }

func missing(field string) error {
	return &InvalidSignalError{Field: field, Reason: "is required"}
}

func invalid(field, format string, args ...any) error {
	return &InvalidSignalError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
