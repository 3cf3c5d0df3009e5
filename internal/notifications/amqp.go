package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/socialcounter/pkg/logger"
)

// AMQPConfig configures the broker publisher.
type AMQPConfig struct {
	URL         string
	Exchange    string
	DialTimeout time.Duration
}

const (
	defaultExchange     = "social-counter"
	defaultDialTimeout  = 10 * time.Second
	defaultRetryDelay   = time.Second
	defaultMaxRetryWait = 30 * time.Second
	eventType           = "metric.update"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// amqpSession is one live connection with its channel. closed fires when the
// broker drops the connection.
type amqpSession struct {
	channel amqpChannel
	closed  <-chan *amqp.Error
	close   func() error
}

type dialFunc func() (*amqpSession, error)

// AMQPPublisher publishes events to a durable topic exchange. Publishers
// created by DialAMQP redial in the background whenever the connection drops;
// events published while disconnected are skipped.
type AMQPPublisher struct {
	mu       sync.Mutex
	session  *amqpSession
	shut     bool
	exchange string
	log      *zap.Logger

	dial       dialFunc
	retryDelay time.Duration
	maxWait    time.Duration
	cancel     context.CancelFunc
	done       chan struct{}
}

// DialAMQP connects to the broker, declares the topic exchange and keeps the
// connection alive. A broker that is unreachable at startup is retried in the
// background; only a missing URL is an error.
func DialAMQP(cfg AMQPConfig) (*AMQPPublisher, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("amqp: url is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	exchange := exchangeName(cfg.Exchange)
	p := newReconnectingPublisher(dialBroker(url, exchange, cfg.DialTimeout), exchange, defaultRetryDelay, defaultMaxRetryWait)

	session, err := p.dial()
	if err != nil {
		p.log.Warn("amqp unavailable, retrying in background", zap.Error(err))
	} else {
		p.log.Info("amqp connected", zap.String("exchange", exchange))
	}
	p.start(session)
	return p, nil
}

func dialBroker(url, exchange string, timeout time.Duration) dialFunc {
	return func() (*amqpSession, error) {
		conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(timeout)})
		if err != nil {
			return nil, fmt.Errorf("amqp: dial: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("amqp: open channel: %w", err)
		}
		if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("amqp: declare exchange %s: %w", exchange, err)
		}
		return &amqpSession{
			channel: ch,
			closed:  conn.NotifyClose(make(chan *amqp.Error, 1)),
			close: func() error {
				if conn.IsClosed() {
					return nil
				}
				return multierr.Append(ch.Close(), conn.Close())
			},
		}, nil
	}
}

// NewAMQPPublisher wraps an already opened channel. It does not reconnect.
func NewAMQPPublisher(ch amqpChannel, exchange string) *AMQPPublisher {
	p := newPublisher(exchange)
	p.session = &amqpSession{channel: ch, close: ch.Close}
	return p
}

func newPublisher(exchange string) *AMQPPublisher {
	return &AMQPPublisher{
		exchange: exchangeName(exchange),
		log:      logger.WithModule("amqp"),
	}
}

func newReconnectingPublisher(dial dialFunc, exchange string, retryDelay, maxWait time.Duration) *AMQPPublisher {
	p := newPublisher(exchange)
	p.dial = dial
	p.retryDelay = retryDelay
	p.maxWait = maxWait
	return p
}

func (p *AMQPPublisher) start(initial *amqpSession) {
	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel = cancel
	p.done = make(chan struct{})
	p.mu.Unlock()
	go p.maintain(ctx, initial)
}

// maintain keeps one session attached, redialling with a doubling delay
// capped at maxWait.
func (p *AMQPPublisher) maintain(ctx context.Context, current *amqpSession) {
	defer close(p.done)
	delay := p.retryDelay

	for {
		if current == nil {
			session, err := p.dial()
			if err != nil {
				p.log.Warn("amqp reconnect failed", zap.Duration("retry_in", delay), zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				delay = min(delay*2, p.maxWait)
				continue
			}
			current = session
			delay = p.retryDelay
			p.log.Info("amqp connected", zap.String("exchange", p.exchange))
		}
		if !p.attach(current) {
			_ = current.close()
			return
		}

		select {
		case <-ctx.Done():
			return
		case reason := <-current.closed:
			fields := []zap.Field{zap.String("exchange", p.exchange)}
			if reason != nil {
				fields = append(fields, zap.String("reason", reason.Reason), zap.Int("code", reason.Code))
			}
			p.log.Warn("amqp connection lost", fields...)
			p.detach(current)
			current = nil
		}
	}
}

func (p *AMQPPublisher) attach(session *amqpSession) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shut {
		return false
	}
	p.session = session
	return true
}

func (p *AMQPPublisher) detach(session *amqpSession) {
	p.mu.Lock()
	if p.session == session {
		p.session = nil
	}
	p.mu.Unlock()
	_ = session.close()
}

// Name implements Sink.
func (p *AMQPPublisher) Name() string { return "amqp" }

// Publish implements Sink. Messages are transient; subscribers that are not
// bound at publish time miss them. While the broker is unreachable events are
// dropped with a warning.
func (p *AMQPPublisher) Publish(ctx context.Context, topic Topic, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("amqp: encode event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shut {
		return errors.New("amqp: publisher closed")
	}
	if p.session == nil {
		p.log.Warn("amqp disconnected, event skipped", zap.String("topic", topic.String()))
		return nil
	}

	err = p.session.channel.PublishWithContext(ctx, p.exchange, topic.RoutingKey(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now().UTC(),
		Type:         eventType,
		Headers:      amqp.Table{"topic": topic.String()},
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("amqp: publish %s: %w", topic, err)
	}
	p.log.Debug("event published", zap.String("topic", topic.String()))
	return nil
}

// Connected reports whether a broker session is attached.
func (p *AMQPPublisher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.shut && p.session != nil
}

// Close stops reconnecting and releases the current session.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	if p.shut {
		p.mu.Unlock()
		return nil
	}
	p.shut = true
	session := p.session
	p.session = nil
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if session != nil {
		return session.close()
	}
	return nil
}

func exchangeName(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return defaultExchange
}
