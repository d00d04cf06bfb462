// Package engineerr defines the error taxonomy the routine execution
// engine uses to classify failures and decide whether they are
// retryable or fatal.
package engineerr

import "fmt"

// Kind is one of the conceptual error categories the engine recognizes.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindPluginNotFound     Kind = "plugin_not_found"
	KindInvalidInput       Kind = "invalid_input"
	KindInvalidOutput      Kind = "invalid_output"
	KindMissingCredentials Kind = "missing_credentials"
	KindPluginRetryable    Kind = "plugin_error_retryable"
	KindPluginFatal        Kind = "plugin_error_fatal"
	KindStalled            Kind = "stalled"
	KindCancelled          Kind = "cancelled"
	KindTimeout            Kind = "timeout"
	KindAborted            Kind = "aborted"
)

// EngineError is the error type returned across package boundaries in
// this module. It carries enough structure for the Task Runner to
// decide retry behavior and for the Observability Sink to report a
// concrete message upstream.
type EngineError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the Task Runner should apply the retry
// policy before treating this error as terminal for the node.
func (e *EngineError) Retryable() bool {
	return e.Kind == KindPluginRetryable
}

// Fatal reports whether the error should short-circuit the execution
// per spec (no further tasks scheduled, node and execution fail).
func (e *EngineError) Fatal() bool {
	switch e.Kind {
	case KindValidation, KindPluginNotFound, KindInvalidInput, KindInvalidOutput,
		KindMissingCredentials, KindPluginFatal, KindStalled:
		return true
	default:
		return false
	}
}

func New(kind Kind, message string) *EngineError {
	return &EngineError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *EngineError {
	return &EngineError{Kind: kind, Message: message, Cause: cause}
}

func NewValidationError(message string) *EngineError {
	return New(KindValidation, message)
}

func NewPluginNotFoundError(pluginID string) *EngineError {
	return New(KindPluginNotFound, fmt.Sprintf("plugin %q not registered", pluginID))
}

func NewInvalidInputError(message string, cause error) *EngineError {
	return Wrap(KindInvalidInput, message, cause)
}

func NewInvalidOutputError(message string, cause error) *EngineError {
	return Wrap(KindInvalidOutput, message, cause)
}

func NewMissingCredentialsError(credentialID string) *EngineError {
	return New(KindMissingCredentials, fmt.Sprintf("credential %q unavailable", credentialID))
}

func NewPluginRetryableError(cause error) *EngineError {
	return Wrap(KindPluginRetryable, "plugin signaled a transient failure", cause)
}

func NewPluginFatalError(cause error) *EngineError {
	return Wrap(KindPluginFatal, "plugin signaled a permanent failure", cause)
}

func NewStalledError(message string) *EngineError {
	return New(KindStalled, message)
}

func NewCancelledError() *EngineError {
	return New(KindCancelled, "execution cancelled")
}

func NewTimeoutError() *EngineError {
	return New(KindTimeout, "execution deadline exceeded")
}

func NewAbortedError(nodeID string) *EngineError {
	return New(KindAborted, fmt.Sprintf("activity for node %q abandoned after its deadline", nodeID))
}

// AsEngineError coerces any error crossing a plugin/activity boundary
// into an *EngineError. An error that is already an *EngineError is
// returned unchanged; anything else is treated as a retryable plugin
// failure, since a well-behaved plugin is expected to return one of the
// typed errors above when it means to signal otherwise.
func AsEngineError(err error) *EngineError {
	if err == nil {
		return nil
	}
	if ee, ok := err.(*EngineError); ok {
		return ee
	}
	return NewPluginRetryableError(err)
}
