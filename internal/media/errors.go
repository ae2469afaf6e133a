package media

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. Every external boundary maps its
// errors onto exactly one kind so the queue can pick a retry policy and
// the requester gets a distinct message.
type Kind string

const (
	KindResolveNotFound  Kind = "resolve_not_found"
	KindResolveTransient Kind = "resolve_transient"
	KindGateUnknown      Kind = "gate_unknown"
	KindGateDenied       Kind = "gate_denied"
	KindFetchUnavailable Kind = "fetch_unavailable"
	KindFetchQuota       Kind = "fetch_quota"
	KindFetchTimeout     Kind = "fetch_timeout"
	KindDeliverTooLarge  Kind = "deliver_too_large"
	KindDeliverTransport Kind = "deliver_transport_error"
	KindConfigInvalid    Kind = "config_invalid_value"
	KindCancelled        Kind = "cancelled"
)

// FlowError wraps an underlying error with its pipeline kind.
type FlowError struct {
	Kind Kind
	Err  error
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// NewFlowError wraps err with the given kind. A nil err is allowed for
// failures that carry no underlying cause (e.g. a gate denial).
func NewFlowError(kind Kind, err error) error {
	return &FlowError{Kind: kind, Err: err}
}

// KindOf extracts the pipeline kind from err, or an empty Kind if err
// does not carry one.
func KindOf(err error) Kind {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Retryable reports whether the kind is a transient failure the queue
// retries exactly once.
func (k Kind) Retryable() bool {
	return k == KindResolveTransient || k == KindFetchTimeout
}

// userMessages maps each failure kind to the text sent to the requester.
var userMessages = map[Kind]string{
	KindResolveNotFound:  "Could not find that song. Try a different name or link.",
	KindResolveTransient: "The search service is having trouble right now. Please try again in a bit.",
	KindGateUnknown:      "Could not verify channel membership. Operator: check that the bot is an administrator of the subscription channel.",
	KindGateDenied:       "You must subscribe to our channel to download songs.",
	KindFetchUnavailable: "That track is not available for download.",
	KindFetchQuota:       "The download service is rate limiting us. Please wait a few minutes before requesting again.",
	KindFetchTimeout:     "The download timed out. Please try again.",
	KindDeliverTooLarge:  "The file is too large to send on Telegram.",
	KindDeliverTransport: "Sending the file failed. Please try again later.",
	KindConfigInvalid:    "Invalid setting value.",
	KindCancelled:        "Request cancelled.",
}

// UserMessage returns the human-readable failure text for err.
func UserMessage(err error) string {
	if msg, ok := userMessages[KindOf(err)]; ok {
		return msg
	}
	return "An unexpected error occurred while processing your request."
}
