// Package events announces committed schedules on NATS JetStream.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/signalsfoundry/across/internal/logging"
	"github.com/signalsfoundry/across/internal/schedule"
)

const (
	DefaultSubject = "schedule.created"
	DefaultStream  = "ACROSS"
)

// jetStream is the part of nats.JetStreamContext the publisher needs.
type jetStream interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher implements schedule.Publisher.
type Publisher struct {
	conn    *nats.Conn
	js      jetStream
	subject string
	log     logging.Logger
}

var _ schedule.Publisher = (*Publisher)(nil)

// Connect dials url and makes sure a stream captures subject.
func Connect(url, stream, subject string, log logging.Logger) (*Publisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	if stream == "" {
		stream = DefaultStream
	}
	nc, err := nats.Connect(url, nats.Name("across"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     stream,
		Subjects: []string{subject},
		Storage:  nats.FileStorage,
		MaxAge:   30 * 24 * time.Hour,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream %s: %w", stream, err)
	}
	p := newPublisher(js, subject, log)
	p.conn = nc
	return p, nil
}

func newPublisher(js jetStream, subject string, log logging.Logger) *Publisher {
	if log == nil {
		log = logging.Noop()
	}
	return &Publisher{js: js, subject: subject, log: log}
}

// PublishScheduleCreated sends ev with the schedule id as the JetStream
// message id, so a retried publish is deduplicated by the server.
func (p *Publisher) PublishScheduleCreated(ctx context.Context, ev schedule.CreatedEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, ev.ScheduleID.String())
	if rid := logging.RequestIDFromContext(ctx); rid != "" {
		msg.Header.Set("X-Request-ID", rid)
	}

	ack, err := p.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", p.subject, err)
	}
	logging.FromContext(ctx, p.log).Debug(ctx, "schedule event published",
		logging.String("schedule_id", ev.ScheduleID.String()),
		logging.Int("sequence", int(ack.Sequence)),
		logging.Bool("duplicate", ack.Duplicate),
	)
	return nil
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Drain()
	}
}
