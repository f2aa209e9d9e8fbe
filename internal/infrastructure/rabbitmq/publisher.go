package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange = "popup.events"

	// Wait window for Return / Confirm
	publishWait = 150 * time.Millisecond
)

// Envelope is the wire shape of every outbound event
// (lead.captured, discount.issued).
type Envelope struct {
	MessageID  string    `json:"message_id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// Publisher pushes business events to the topic exchange. Delivery is
// best-effort by contract: callers log failures and continue, lead capture
// never depends on broker availability.
type Publisher struct {
	url      string
	exchange string

	mu sync.Mutex

	conn *amqp.Connection
	ch   *amqp.Channel

	confirmCh <-chan amqp.Confirmation
	returnCh  <-chan amqp.Return
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	p := &Publisher{
		url:      url,
		exchange: exchange,
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	// enable publisher confirms
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	p.conn = conn
	p.ch = ch

	p.confirmCh = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	p.returnCh = ch.NotifyReturn(make(chan amqp.Return, 1))

	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	return nil
}

// Publish wraps the payload in an Envelope and sends it to the topic
// exchange with mandatory + confirms.
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload any) error {
	if routingKey == "" {
		return errors.New("missing routingKey")
	}

	env := Envelope{
		MessageID:  uuid.NewString(),
		Type:       routingKey,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		return errors.New("publisher channel not ready")
	}

	err = p.ch.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		true,  // mandatory
		false, // immediate
		amqp.Publishing{
			MessageId:   env.MessageID,
			ContentType: "application/json",
			Timestamp:   env.OccurredAt,
			Body:        body,
		},
	)
	if err != nil {
		return err
	}

	// Wait for either Return (NO_ROUTE) or Confirm
	select {
	case ret := <-p.returnCh:
		return errors.New("NO_ROUTE: " + ret.RoutingKey)
	case conf := <-p.confirmCh:
		if !conf.Ack {
			return errors.New("publish nack")
		}
		return nil
	case <-time.After(publishWait):
		// best-effort window; these events are marketing signals, a
		// silent drop is acceptable
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
