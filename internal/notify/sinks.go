package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tablequeue/pkg/queue"
	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	contentTypeJSON        = "application/json"
	defaultExchange        = "tablequeue.events"
	defaultSubjectPrefix   = "tablequeue"
	exchangeKindTopic      = "topic"
	natsConnectionName     = "tablequeue"
	natsReconnectWaitDelay = 2 * time.Second
)

// LogSink writes every event to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a LogSink; nil falls back to a no-op logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (sink *LogSink) Name() string { return "log" }

func (sink *LogSink) Deliver(ctx context.Context, event queue.Event) error {
	message := NewMessage(event)
	sink.logger.Info("reservation event",
		zap.String("event", message.Type),
		zap.String("reservation_id", message.ReservationID),
		zap.String("status", message.Status),
		zap.String("previous_status", message.PreviousStatus),
		zap.Ints("tables", message.Tables),
		zap.Int64("bill_total_cents", message.BillTotalCents),
		zap.Time("occurred_at", message.OccurredAt),
	)
	return nil
}

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange string, key string, mandatory bool, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes events to a topic exchange keyed by event type.
type AMQPSink struct {
	exchange  string
	publisher amqpPublisher
	closeFn   func() error
}

// DialAMQP connects to the broker at url and declares a durable topic exchange.
func DialAMQP(url string, exchange string) (*AMQPSink, error) {
	if strings.TrimSpace(exchange) == "" {
		exchange = defaultExchange
	}
	connection, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	channel, err := connection.Channel()
	if err != nil {
		_ = connection.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, exchangeKindTopic, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = connection.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}
	closeFn := func() error {
		channelErr := channel.Close()
		connectionErr := connection.Close()
		if channelErr != nil {
			return channelErr
		}
		return connectionErr
	}
	return &AMQPSink{exchange: exchange, publisher: channel, closeFn: closeFn}, nil
}

func (sink *AMQPSink) Name() string { return "amqp" }

func (sink *AMQPSink) Deliver(ctx context.Context, event queue.Event) error {
	body, err := encodeEvent(event)
	if err != nil {
		return err
	}
	return sink.publisher.PublishWithContext(ctx, sink.exchange, string(event.Type), false, false, amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ReservationID.String() + ":" + string(event.Type),
		Timestamp:    event.OccurredAt.UTC(),
		Body:         body,
	})
}

// Close releases the channel and connection.
func (sink *AMQPSink) Close() error {
	if sink.closeFn == nil {
		return nil
	}
	return sink.closeFn()
}

type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes events on <prefix>.<event type>.
type NATSSink struct {
	prefix    string
	publisher natsPublisher
	closeFn   func()
}

// ConnectNATS connects to the NATS server at url.
func ConnectNATS(url string, prefix string) (*NATSSink, error) {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultSubjectPrefix
	}
	connection, err := nats.Connect(url,
		nats.Name(natsConnectionName),
		nats.ReconnectWait(natsReconnectWaitDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSSink{prefix: prefix, publisher: connection, closeFn: connection.Close}, nil
}

func (sink *NATSSink) Name() string { return "nats" }

func (sink *NATSSink) Deliver(ctx context.Context, event queue.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := encodeEvent(event)
	if err != nil {
		return err
	}
	return sink.publisher.Publish(sink.subject(event.Type), body)
}

func (sink *NATSSink) subject(eventType queue.EventType) string {
	return sink.prefix + "." + string(eventType)
}

// Close drops the connection.
func (sink *NATSSink) Close() error {
	if sink.closeFn != nil {
		sink.closeFn()
	}
	return nil
}
