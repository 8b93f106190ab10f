package logging

import (
	"context"
	"crypto/rand"
	"reflect"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/JailtonJunior94/devkit-go/pkg/observability"
	"github.com/JailtonJunior94/devkit-go/pkg/transport"
)

// Module is the logging subscriber described in spec §4.7: it reads
// lifecycle events off the event bus and writes a typed audit record to a
// configured log queue. It owns no transaction of its own except for
// failure records, which spec §4.7 requires to survive a dispatch rollback.
type Module struct {
	queue      transport.QueueManager
	logQueue   transport.Endpoint
	serializer transport.Serializer
	obs        observability.Observability
}

// NewModule builds a logging module that writes to logQueue using queue as
// the underlying store and serializer to encode each record.
func NewModule(queue transport.QueueManager, logQueue transport.Endpoint, serializer transport.Serializer, obs observability.Observability) *Module {
	return &Module{queue: queue, logQueue: logQueue, serializer: serializer, obs: obs}
}

// RegisterRecordTypes registers every record type this module emits with a
// JSONSerializer, so a reader of the log queue can deserialize them.
func RegisterRecordTypes(s *transport.JSONSerializer) {
	for _, sample := range []any{
		ArrivalRecord{},
		CompletionRecord{},
		FailureRecord{},
		SendRecord{},
		SerializationFaultRecord{},
	} {
		s.Register(transport.TypeName(sample), sample)
	}
}

// Init ensures the log queue exists. Call before RegisterOn / transport Start.
func (m *Module) Init(ctx context.Context) error {
	return m.queue.CreateQueue(ctx, m.logQueue.Queue)
}

// RegisterOn subscribes the module to every event slot it mirrors. It uses
// the default subscription priority, running after the error action (which
// registers at PriorityFirst) so a poisoned message's retry count is already
// final by the time the failure record is written.
func (m *Module) RegisterOn(bus *transport.Bus) {
	bus.SubscribeArrived(m.onArrived)
	bus.SubscribeCompleted(m.onCompleted)
	bus.SubscribeFailure(m.onFailure)
	bus.SubscribeSent(m.onSent)
	bus.SubscribeSerializationFault(m.onSerializationFault)
}

func (m *Module) onArrived(ctx context.Context, info *transport.CurrentMessageInformation) (bool, error) {
	rec := ArrivalRecord{
		MessageID: info.MessageID,
		Source:    info.Source.String(),
		Message:   info.CurrentMessage,
		ArrivedAt: info.ArrivedAt,
	}
	m.writeBestEffort(ctx, rec)
	return false, nil
}

func (m *Module) onCompleted(ctx context.Context, info *transport.CurrentMessageInformation, processingErr error) {
	rec := CompletionRecord{
		MessageID: info.MessageID,
		Source:    info.Source.String(),
		TypeName:  typeName(info.CurrentMessage),
		At:        time.Now().UTC(),
		Duration:  time.Since(info.ArrivedAt),
	}
	m.writeBestEffort(ctx, rec)
}

func (m *Module) onFailure(ctx context.Context, info *transport.CurrentMessageInformation, processingErr error) error {
	rec := FailureRecord{
		MessageID: info.MessageID,
		Source:    info.Source.String(),
		TypeName:  typeName(info.CurrentMessage),
		Error:     processingErr.Error(),
		Message:   info.CurrentMessage,
		At:        time.Now().UTC(),
	}

	txCtx, scope, err := transport.OpenIndependentScope(ctx, m.queue, transport.TxOptions{})
	if err != nil {
		m.obs.Logger().Error(ctx, "logging: failed to open independent scope for failure record", observability.Error(err))
		return nil
	}

	if err := m.send(txCtx, scope.Tx(), rec); err != nil {
		_ = scope.Rollback()
		m.obs.Logger().Error(ctx, "logging: failed to write failure record", observability.Error(err))
		return nil
	}
	if err := scope.Commit(); err != nil {
		m.obs.Logger().Error(ctx, "logging: failed to commit failure record", observability.Error(err))
	}
	return nil
}

func (m *Module) onSent(ctx context.Context, info *transport.CurrentMessageInformation) {
	var first string
	if len(info.AllMessages) > 0 {
		first = typeName(info.AllMessages[0])
	}
	rec := SendRecord{
		MessageID:   info.MessageID,
		Source:      info.Source.String(),
		Destination: info.Destination.String(),
		Messages:    info.AllMessages,
		TypeName:    first,
		At:          info.ArrivedAt,
	}
	m.writeBestEffort(ctx, rec)
}

func (m *Module) onSerializationFault(ctx context.Context, info *transport.CurrentMessageInformation, err error) {
	rec := SerializationFaultRecord{
		MessageID: info.MessageID,
		Source:    info.Source.String(),
		Error:     err.Error(),
		At:        time.Now().UTC(),
	}
	m.writeBestEffort(ctx, rec)
}

// writeBestEffort sends rec with a nil (auto-committed) transaction, logging
// but swallowing any failure — only failure records need durability
// guarantees beyond "best effort" (spec §4.7).
func (m *Module) writeBestEffort(ctx context.Context, rec any) {
	if err := m.send(ctx, nil, rec); err != nil {
		m.obs.Logger().Warn(ctx, "logging: failed to write audit record", observability.Error(err))
	}
}

func (m *Module) send(ctx context.Context, tx transport.Tx, rec any) error {
	body, err := m.serializer.Serialize([]any{rec})
	if err != nil {
		return err
	}

	msg := transport.NewTransportMessage(body, nil)
	msg.SetHeader(transport.HeaderID, newRecordID())
	msg.SetHeader(transport.HeaderType, string(transport.KindAdministrative))

	return m.queue.Send(ctx, tx, m.logQueue, msg)
}

// newRecordID mints an audit-record id. Unlike the caller-assigned GUID on
// a user message's "id" header, this id is purely an internal dedup key for
// the log queue, so a lexicographically-sortable ULID (crypto/rand-seeded,
// thread-safe per pkg/vos.NewULID) is used instead of a UUID — the ordering
// doubles as a cheap approximation of write order when scanning the log.
func newRecordID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

func typeName(v any) string {
	if v == nil {
		return ""
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.PkgPath() + "." + t.Name()
}
