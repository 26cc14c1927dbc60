package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates a job or node could not be initialized
	ErrValidation = errors.New("validation failed")

	// ErrTemplate indicates a template evaluated to an unexpected absence or a
	// type conflict in the flow context
	ErrTemplate = errors.New("template evaluation failed")

	// ErrNode indicates a node's own logic failed while processing a flow
	ErrNode = errors.New("node processing failed")

	// ErrConversion indicates a configuration string could not be converted
	ErrConversion = errors.New("conversion failed")

	// ErrTypeInference indicates a value written to a flow has no unifiable type
	ErrTypeInference = errors.New("type inference failed")

	// ErrAddress indicates an address could not be resolved at runtime
	ErrAddress = errors.New("address resolution failed")
)

// Kind classifies an Error by the sentinel it wraps.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindTemplate      Kind = "TEMPLATE"
	KindNode          Kind = "NODE"
	KindConversion    Kind = "CONVERSION"
	KindTypeInference Kind = "TYPE_INFERENCE"
	KindAddress       Kind = "ADDRESS"
)

var sentinels = map[Kind]error{
	KindValidation:    ErrValidation,
	KindTemplate:      ErrTemplate,
	KindNode:          ErrNode,
	KindConversion:    ErrConversion,
	KindTypeInference: ErrTypeInference,
	KindAddress:       ErrAddress,
}

// Error represents a structured runtime error
type Error struct {
	// Kind is a machine-readable error kind
	Kind Kind

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// NewError creates a new structured error
func NewError(kind Kind, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Validation creates a validation error with a formatted message.
func Validation(format string, args ...any) *Error {
	return NewError(KindValidation, fmt.Sprintf(format, args...), nil)
}

// Template creates a template-evaluation error with a formatted message.
func Template(format string, args ...any) *Error {
	return NewError(KindTemplate, fmt.Sprintf(format, args...), nil)
}

// Node wraps a node failure.
func Node(message string, err error) *Error {
	return NewError(KindNode, message, err)
}

// Conversion creates a conversion error with a formatted message.
func Conversion(format string, args ...any) *Error {
	return NewError(KindConversion, fmt.Sprintf(format, args...), nil)
}

// TypeInference creates a type-inference error with a formatted message.
func TypeInference(format string, args ...any) *Error {
	return NewError(KindTypeInference, fmt.Sprintf(format, args...), nil)
}

// Address creates a runtime address-resolution error.
func Address(format string, args ...any) *Error {
	return NewError(KindAddress, fmt.Sprintf(format, args...), nil)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrConversion)
}

// IsTemplate checks if an error is a template-evaluation error. Type
// inference failures count as template failures.
func IsTemplate(err error) bool {
	return errors.Is(err, ErrTemplate) || errors.Is(err, ErrTypeInference)
}

// IsNode checks if an error is a node processing error
func IsNode(err error) bool {
	return errors.Is(err, ErrNode)
}

// IsConversion checks if an error is a conversion error
func IsConversion(err error) bool {
	return errors.Is(err, ErrConversion)
}

// IsTypeInference checks if an error is a type inference error
func IsTypeInference(err error) bool {
	return errors.Is(err, ErrTypeInference)
}

// IsAddress checks if an error is an address resolution error
func IsAddress(err error) bool {
	return errors.Is(err, ErrAddress)
}

// ProcessingError carries the location of a failure inside a job.
type ProcessingError struct {
	Address string
	Phase   string
	FlowID  string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.FlowID != "" {
		return fmt.Sprintf("%s failed during %s (flow %s): %v", e.Address, e.Phase, e.FlowID, e.Cause)
	}
	return fmt.Sprintf("%s failed during %s: %v", e.Address, e.Phase, e.Cause)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// NewProcessingError wraps cause unless it already carries a location.
func NewProcessingError(address, phase, flowID string, cause error) error {
	if cause == nil {
		return nil
	}
	var pe *ProcessingError
	if errors.As(cause, &pe) {
		return cause
	}
	return &ProcessingError{Address: address, Phase: phase, FlowID: flowID, Cause: cause}
}
