// Package queue provides the downstream task queue over NATS JetStream.
// History replay and real-time handlers push process_message tasks; the
// pipeline consumer drains them.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Task kinds.
const (
	KindProcessMessage = "process_message"
)

const (
	streamName     = "FORWARDER"
	subjectPrefix  = "tasks."
	priorityHeader = "Task-Priority"
)

// ForwardPayload is the process_message task body.
type ForwardPayload struct {
	ChatID       int64 `json:"chat_id"`
	MessageID    int   `json:"message_id"`
	RuleID       uint  `json:"rule_id"`
	IsHistory    bool  `json:"is_history"`
	TargetChatID int64 `json:"target_chat_id"`
}

// Queue wraps a nats connection and jetstream context.
type Queue struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// New connects to nats and ensures the task stream exists.
func New(ctx context.Context, natsURL string) (*Queue, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	q := &Queue{conn: conn, js: js}
	if err := q.ensureStream(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) ensureStream(ctx context.Context) error {
	_, err := q.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ">"},
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", streamName, err)
	}
	return nil
}

// Push publishes a task of the given kind. Priority rides in a header
// so consumers may shed low-priority work under load.
func (q *Queue) Push(ctx context.Context, kind string, payload any, priority int) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}

	msg := &nats.Msg{
		Subject: subjectPrefix + kind,
		Data:    data,
		Header: nats.Header{
			priorityHeader:        []string{strconv.Itoa(priority)},
			jetstream.MsgIDHeader: []string{uuid.NewString()},
		},
	}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish task %s: %w", kind, err)
	}
	return nil
}

// PendingDepth returns the number of tasks waiting in the stream.
func (q *Queue) PendingDepth(ctx context.Context) (int, error) {
	stream, err := q.js.Stream(ctx, streamName)
	if err != nil {
		return 0, fmt.Errorf("get stream: %w", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("get stream info: %w", err)
	}
	return int(info.State.Msgs), nil
}

// Consume creates a durable consumer for one task kind and invokes the
// handler per task. Handler errors trigger redelivery via Nak.
func (q *Queue) Consume(ctx context.Context, kind, consumer string, handler func([]byte) error) error {
	cons, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       consumer,
		FilterSubject: subjectPrefix + kind,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	_, err = cons.Consume(func(msg jetstream.Msg) {
		if err := handler(msg.Data()); err != nil {
			// negative acknowledgement - will be redelivered
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	return err
}

// Close closes the nats connection.
func (q *Queue) Close() {
	q.conn.Close()
}

// IsConnected reports whether the nats connection is up.
func (q *Queue) IsConnected() bool {
	return q.conn.IsConnected()
}
