package call

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error is the tagged outcome of a failed call. Retriability is computed
// once, when the error is constructed, so retry loops branch on data rather
// than on error types. RequestID and TraceID carry whatever identifiers the
// transport's initial metadata exposed, for correlating client failures
// with server logs.
type Error struct {
	Code      codes.Code
	Message   string
	Retriable bool

	// Server-side correlation identifiers, when the response headers
	// carried any.
	RequestID string
	TraceID   string

	// ClientRequestID is the uuid this runtime attached to the request.
	ClientRequestID string

	cause error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("rpc failed: code = %s desc = %s", e.Code, e.Message)
	if e.RequestID != "" {
		msg += fmt.Sprintf(" request_id = %s", e.RequestID)
	}
	if e.TraceID != "" {
		msg += fmt.Sprintf(" trace_id = %s", e.TraceID)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// AsError extracts an *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsUnauthenticated reports whether err is an authentication rejection.
func IsUnauthenticated(err error) bool {
	if ce, ok := AsError(err); ok {
		return ce.Code == codes.Unauthenticated
	}
	return status.Code(err) == codes.Unauthenticated
}

// classify converts a raw attempt failure into an *Error with retriability
// decided here and nowhere else:
//
//   - cancellation is never retriable;
//   - connection-level failures (no gRPC status) are retriable
//     unconditionally;
//   - status errors are retriable when the server attached an explicit
//     RetryInfo hint, or the code is in the default-retriable set
//     (ResourceExhausted, Unavailable);
//   - DeadlineExceeded is additionally retriable inside the transport loop
//     only, so an expired attempt budget does not restart authentication.
func classify(err error, inTransportLoop bool) *Error {
	if errors.Is(err, context.Canceled) {
		return &Error{Code: codes.Canceled, Message: "call cancelled", cause: err}
	}

	st, ok := status.FromError(err)
	if !ok {
		return &Error{Code: codes.Unknown, Message: err.Error(), Retriable: true, cause: err}
	}

	e := &Error{Code: st.Code(), Message: st.Message(), cause: err}

	for _, detail := range st.Details() {
		if _, isHint := detail.(*errdetails.RetryInfo); isHint {
			e.Retriable = true
			return e
		}
	}

	switch st.Code() {
	case codes.ResourceExhausted, codes.Unavailable:
		e.Retriable = true
	case codes.DeadlineExceeded:
		e.Retriable = inTransportLoop
	case codes.Canceled:
		e.Retriable = false
	}
	return e
}

// budgetExhausted builds the timeout outcome for a request whose overall
// budget ran out before any attempt produced a definitive failure.
func budgetExhausted(clientID, requestID, traceID string) *Error {
	return &Error{
		Code:            codes.DeadlineExceeded,
		Message:         "request budget exhausted",
		ClientRequestID: clientID,
		RequestID:       requestID,
		TraceID:         traceID,
	}
}
