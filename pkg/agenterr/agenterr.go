// Package agenterr defines the runtime's error taxonomy: every failure the
// agent loop, model providers, decoder, session store, and config resolver
// can surface is classified by a Kind carrying severity, retryability, and
// recoverability. Callers branch on Kind (or errors.Is against a kind
// sentinel) instead of substring-matching messages, and the CLI maps kinds
// to process exit codes.
package agenterr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Kind identifies the failure class.
type Kind string

const (
	InvalidInput       Kind = "invalid_input"
	UnknownTool        Kind = "unknown_tool"
	PermissionDenied   Kind = "permission_denied"
	ToolExecutionError Kind = "tool_execution_error"
	ModelNetworkError  Kind = "model_network_error"
	ModelFatalError    Kind = "model_fatal_error"
	DecoderError       Kind = "decoder_error"
	BudgetExceeded     Kind = "budget_exceeded"
	Cancelled          Kind = "cancelled"
	SessionIOError     Kind = "session_io_error"
	ConfigError        Kind = "config_error"
)

// Severity grades how bad a failure is for the overall run.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// traits are the default severity/retryable/recoverable attributes per kind.
type traits struct {
	severity    Severity
	retryable   bool
	recoverable bool
}

var kindTraits = map[Kind]traits{
	InvalidInput:       {SeverityLow, false, true},
	UnknownTool:        {SeverityLow, false, true},
	PermissionDenied:   {SeverityLow, false, true},
	ToolExecutionError: {SeverityMedium, false, true},
	ModelNetworkError:  {SeverityMedium, true, true},
	ModelFatalError:    {SeverityCritical, false, false},
	DecoderError:       {SeverityHigh, false, false},
	BudgetExceeded:     {SeverityMedium, false, false},
	Cancelled:          {SeverityLow, false, false},
	SessionIOError:     {SeverityHigh, false, false},
	ConfigError:        {SeverityMedium, false, true},
}

// Error is the taxonomy's concrete error type.
type Error struct {
	Code        Kind
	Severity    Severity
	Retryable   bool
	Recoverable bool
	Cause       error
	Details     map[string]any
	msg         string
}

// New builds an Error of the given kind with a formatted message. The
// severity/retryable/recoverable attributes come from the kind's defaults.
func New(kind Kind, format string, args ...any) *Error {
	t := kindTraits[kind]
	return &Error{
		Code:        kind,
		Severity:    t.severity,
		Retryable:   t.retryable,
		Recoverable: t.recoverable,
		msg:         fmt.Sprintf(format, args...),
	}
}

// Wrap classifies an existing error under kind, preserving it as the cause
// so errors.Is/As keep seeing the original. Wrapping nil returns nil; an
// error already carrying the same kind is returned unchanged.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) && ae.Code == kind {
		return err
	}
	wrapped := New(kind, "%s", err.Error())
	wrapped.Cause = err
	return wrapped
}

// WithDetails attaches structured context and returns the same error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

func (e *Error) Error() string {
	if e.msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, Sanitize(e.msg))
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches either another *Error with the same Code, or a KindOf sentinel.
func (e *Error) Is(target error) bool {
	var ae *Error
	if errors.As(target, &ae) {
		return ae.Code == e.Code
	}
	if k, ok := target.(kindSentinel); ok {
		return k.kind == e.Code
	}
	return false
}

type kindSentinel struct{ kind Kind }

func (k kindSentinel) Error() string { return string(k.kind) }

// KindOf returns a sentinel usable with errors.Is to test an error's kind
// without constructing a full Error:
//
//	errors.Is(err, agenterr.KindOf(agenterr.BudgetExceeded))
func KindOf(kind Kind) error { return kindSentinel{kind: kind} }

// KindFor extracts the Kind from anywhere in err's chain, or "" when err
// carries no taxonomy classification.
func KindFor(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsRetryable reports whether err's classification permits a retry.
// Unclassified errors are not retryable.
func IsRetryable(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Retryable
}

// Exit codes returned by the loop to its caller.
const (
	ExitOK           = 0
	ExitGeneral      = 1
	ExitInvalidInput = 2
	ExitBudget       = 3
	ExitCancelled    = 4
	ExitModelFatal   = 5
)

// ExitCode maps an error to the process exit code contract: 0 on nil,
// 2 for invalid input or config, 3 for an exhausted budget, 4 when
// cancelled, 5 for a model failure (fatal or network), 1 otherwise. Context
// cancellation counts as cancelled even when unclassified.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindFor(err) {
	case InvalidInput, ConfigError:
		return ExitInvalidInput
	case BudgetExceeded:
		return ExitBudget
	case Cancelled:
		return ExitCancelled
	case ModelFatalError, ModelNetworkError:
		return ExitModelFatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ExitCancelled
	}
	return ExitGeneral
}

var sensitiveValuePattern = regexp.MustCompile(`(?i)(api[_-]?key|token|secret|authorization)(\s*[=:]\s*)\S+`)

// Sanitize rewrites a user-visible message so it never leaks sensitive
// values: anything matching the redaction pattern is masked with "***",
// and paths under the user's home directory are rewritten with "~".
func Sanitize(msg string) string {
	out := sensitiveValuePattern.ReplaceAllString(msg, "$1$2***")
	if home, err := os.UserHomeDir(); err == nil && home != "" && home != "/" {
		out = strings.ReplaceAll(out, home, "~")
	}
	return out
}
