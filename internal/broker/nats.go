package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSBroker implements Broker on top of a JetStream stream. Each
// subject handled by Consume gets its own durable pull consumer, so
// redeployed workers pick up where a previous instance left off instead
// of missing messages delivered while nothing was running.
type NATSBroker struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	log  zerolog.Logger

	ackWait    time.Duration
	maxDeliver int
}

// Options configures a NATSBroker connection.
type Options struct {
	URL        string
	StreamName string
	Log        zerolog.Logger
	AckWait    time.Duration
	MaxDeliver int
}

// Connect dials NATS, opens a JetStream context, and ensures the
// configured stream exists.
func Connect(opts Options) (*NATSBroker, error) {
	conn, err := nats.Connect(opts.URL,
		nats.Name("callscribe"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open jetstream context: %w", err)
	}

	ackWait := opts.AckWait
	if ackWait == 0 {
		ackWait = 5 * time.Minute
	}
	maxDeliver := opts.MaxDeliver
	if maxDeliver == 0 {
		maxDeliver = MaxDeliveryAttempts
	}

	if _, err := js.StreamInfo(opts.StreamName); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     opts.StreamName,
			Subjects: []string{opts.StreamName + ".>"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create stream %q: %w", opts.StreamName, err)
		}
	}

	b := &NATSBroker{
		conn:       conn,
		js:         js,
		log:        opts.Log.With().Str("component", "broker").Logger(),
		ackWait:    ackWait,
		maxDeliver: maxDeliver,
	}
	return b, nil
}

// Publish sends data to subject, persisted by JetStream until a
// consumer acks it.
func (b *NATSBroker) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := b.js.Publish(subject, data, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Consume starts a durable pull consumer on subject and invokes handler
// for each delivered message until ctx is canceled. handler must call
// Ack or Nack on the message exactly once.
func (b *NATSBroker) Consume(ctx context.Context, subject string, handler Handler) error {
	durable := durableName(subject)
	sub, err := b.js.PullSubscribe(subject, durable,
		nats.AckWait(b.ackWait),
		nats.MaxDeliver(b.maxDeliver),
		nats.ManualAck(),
	)
	if err != nil {
		return fmt.Errorf("pull subscribe to %s: %w", subject, err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(5*time.Second))
		if err != nil {
			if err == nats.ErrTimeout {
				continue
			}
			b.log.Warn().Err(err).Str("subject", subject).Msg("fetch failed")
			continue
		}

		for _, m := range msgs {
			meta, metaErr := m.Metadata()
			attempt := 1
			if metaErr == nil {
				attempt = int(meta.NumDelivered)
			}
			msg := m
			handler(ctx, Message{
				Data:            msg.Data,
				DeliveryAttempt: attempt,
				Ack:             func() error { return msg.Ack() },
				Nack: func(delay time.Duration) error {
					return msg.NakWithDelay(delay)
				},
			})
		}
	}
}

// Stats reports the subject's durable consumer as the Autoscaler sees
// it. Depth is the count of messages not yet delivered. ConsumerCount is
// the outstanding pull requests plus the unacknowledged deliveries; since
// every Consume loop fetches one message at a time, that counts each loop
// once whether it is idle or busy. IngressRate and EgressRate are not
// measured and are always zero.
func (b *NATSBroker) Stats(ctx context.Context, subject string) (Stats, error) {
	info, err := b.js.ConsumerInfo(streamNameFromSubject(subject), durableName(subject))
	if err != nil {
		return Stats{}, fmt.Errorf("consumer info for %s: %w", subject, err)
	}
	return Stats{
		ConsumerCount: info.NumWaiting + info.NumAckPending,
		Depth:         int64(info.NumPending),
		IngressRate:   0,
		EgressRate:    0,
	}, nil
}

// Close drains and closes the underlying NATS connection.
func (b *NATSBroker) Close() error {
	b.conn.Close()
	return nil
}

func durableName(subject string) string {
	return "callscribe-" + sanitize(subject)
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '.' || r == '>' || r == '*' {
			out = append(out, '-')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

func streamNameFromSubject(subject string) string {
	for i, r := range subject {
		if r == '.' {
			return subject[:i]
		}
	}
	return subject
}
