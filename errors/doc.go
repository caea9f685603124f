// Package errors provides standardized error handling patterns for connkit.
//
// # Overview
//
// The errors package implements a three-class error classification system for
// connection lifecycle management: Transient (temporary, retryable), Invalid
// (bad input or configuration, non-retryable), and Fatal (the handle will not
// recover on its own).
//
// On top of the classes sits the connection error taxonomy, a set of stable
// Codes that tell callers exactly what went wrong and what the lifecycle will
// do about it:
//
//   - CodeConfigInvalid: open rejected the configuration; nothing allocated
//   - CodeConnectFailed: one dial attempt failed; the channel keeps retrying
//   - CodeConnectionLost: an established connection dropped; in-flight
//     requests fail with this code while the channel reconnects
//   - CodeHeartbeatTimeout: a liveness probe went unanswered
//   - CodeRequestTimeout: this call's deadline passed; the handle is healthy
//   - CodeBackpressure: the send queue was full while disconnected
//   - CodePoolExhausted: no pooled session within the acquire deadline
//   - CodeCancelled: the handle closed underneath the call; do not retry
//   - CodeRetryBudgetExhausted: the channel is permanently Failed
//
// Transient faults are absorbed by the reconnect lifecycle, per-call faults
// surface only on the affected call, and fatal faults park the handle in a
// terminal state.
//
// # Quick Start
//
// Wrap errors with taxonomy codes at the point of failure:
//
//	if err := conn.WriteFrame(frame); err != nil {
//	    return errors.WrapCode(err, errors.CodeConnectionLost,
//	        "persistent", "Request", "write frame")
//	}
//
// Make retry decisions from classification, never from message text:
//
//	resp, err := handle.Request(ctx, "get_state", nil)
//	if errors.IsTransient(err) {
//	    // safe to retry the same call
//	}
//	if errors.CodeOf(err) == errors.CodeRetryBudgetExhausted {
//	    // the handle is gone; open a new one or escalate
//	}
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// The Wrap family applies the pattern while recording classification and
// code, and the result supports errors.Is, errors.As, and Unwrap chains.
// WrapCode with a nil error wraps the code's sentinel, so sentinel matching
// keeps working:
//
//	err := errors.WrapCode(nil, errors.CodeBackpressure,
//	    "persistent", "Request", "enqueue")
//	errors.Is(err, errors.ErrBackpressure) // true
//
// # Thread Safety
//
// All classification and wrapping operations are thread-safe. Error
// variables are immutable and safe for concurrent access.
package errors
