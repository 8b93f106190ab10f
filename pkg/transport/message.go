package transport

import (
	"context"
	"time"
)

// Reserved header names, case-sensitive ASCII (spec §6).
const (
	HeaderID           = "id"
	HeaderType         = "type"
	HeaderSource       = "source"
	HeaderFrom         = "from"
	HeaderTimeToSend   = "time-to-send"
	HeaderRetries      = "retries"
	headerOriginalType = "x-original-type" // internal: restores type across a timeout defer/reinject cycle
)

// TimeToSendLayout is the ISO-8601 UTC layout used for the time-to-send
// header, with seven fractional-second digits as mandated by spec §6.
const TimeToSendLayout = "2006-01-02T15:04:05.0000000Z"

// MessageKind classifies a TransportMessage via its reserved "type" header.
type MessageKind string

const (
	KindOrdinary       MessageKind = "ordinary"
	KindAdministrative MessageKind = "administrative"
	KindLoadBalancer   MessageKind = "loadbalancer"
	KindTimeout        MessageKind = "timeout"
	KindShutdown       MessageKind = "shutdown"
)

// Reserved sub-queue names, created at transport start-up.
const (
	SubQueueTimeout   = "timeout"
	SubQueueDiscarded = "discarded"
	SubQueueErrors    = "errors"
)

// KindHint lets a logical message declare which MessageKind it should be
// stamped with when sent. Messages that don't implement it are ordinary.
type KindHint interface {
	TransportKind() MessageKind
}

// TransportMessage is the wire-level unit: opaque payload bytes plus a
// string-keyed header map.
type TransportMessage struct {
	Body    []byte
	Headers map[string]string
}

// NewTransportMessage builds a TransportMessage with an initialized header map.
func NewTransportMessage(body []byte, headers map[string]string) *TransportMessage {
	if headers == nil {
		headers = make(map[string]string)
	}
	return &TransportMessage{Body: body, Headers: headers}
}

// Header returns the value of the named header, or "" if absent.
func (m *TransportMessage) Header(key string) string {
	if m == nil || m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}

// SetHeader sets a header value, initializing the header map if needed.
func (m *TransportMessage) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// Clone returns a deep copy, so callers can mutate headers without affecting
// the original (e.g. the error action stamping an incremented retry count).
func (m *TransportMessage) Clone() *TransportMessage {
	headers := make(map[string]string, len(m.Headers))
	for k, v := range m.Headers {
		headers[k] = v
	}
	body := make([]byte, len(m.Body))
	copy(body, m.Body)
	return &TransportMessage{Body: body, Headers: headers}
}

// CurrentMessageInformation is the per-dispatch context: message id, source
// and destination endpoints, the full decoded sequence, the
// currently-dispatched element, and a handle to the underlying queue.
// Its lifetime is exactly one dispatch; the dispatcher propagates it via
// context.Context rather than thread-local storage (see SPEC_FULL.md §9 —
// Go has no ambient per-goroutine storage comparable to [ThreadStatic]).
type CurrentMessageInformation struct {
	MessageID   string
	Source      Endpoint
	Destination Endpoint
	AllMessages []any
	// CurrentMessage is updated in place as the dispatcher iterates the
	// decoded sequence; arrival subscribers observe the element currently
	// being dispatched.
	CurrentMessage any
	ArrivedAt       time.Time

	// RawMessage is the received transport envelope. The error action reads
	// and rewrites its headers within the ambient transaction.
	RawMessage *TransportMessage

	Queue QueueManager

	retryHandled bool
}

// MarkRetryHandled records that a MessageProcessingFailure subscriber (the
// error action) has already materialized the message's retry/poison fate
// within the ambient transaction, so the dispatcher should commit that
// transaction instead of rolling it back.
func (i *CurrentMessageInformation) MarkRetryHandled() {
	i.retryHandled = true
}

// RetryHandled reports whether MarkRetryHandled was called during this dispatch.
func (i *CurrentMessageInformation) RetryHandled() bool {
	return i.retryHandled
}

type currentMessageInfoKey struct{}

func withCurrentMessageInformation(ctx context.Context, info *CurrentMessageInformation) context.Context {
	return context.WithValue(ctx, currentMessageInfoKey{}, info)
}

// CurrentMessageInformationFromContext retrieves the dispatch context set up
// by the dispatcher for the duration of a single ProcessMessage call.
func CurrentMessageInformationFromContext(ctx context.Context) (*CurrentMessageInformation, bool) {
	info, ok := ctx.Value(currentMessageInfoKey{}).(*CurrentMessageInformation)
	return info, ok
}
