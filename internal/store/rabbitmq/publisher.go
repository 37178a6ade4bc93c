package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/career-counselor/internal/chat"
)

const (
	publishTimeout = 5 * time.Second
	redialInitial  = 500 * time.Millisecond
	redialMax      = 30 * time.Second
	RetryHeader    = "x-retry-count"
)

// Topology names the three queues turn events flow through. Failed
// deliveries wait on Retry until their TTL expires and then return to Main;
// rejected ones land on DLQ.
type Topology struct {
	Main  string
	Retry string
	DLQ   string
}

func NewTopology(queue string) Topology {
	return Topology{Main: queue, Retry: queue + ".retry", DLQ: queue + ".dlq"}
}

// Declare is idempotent. Publisher and worker both call it, so the
// arguments must stay identical on both sides.
func (t Topology) Declare(ch *amqp.Channel) error {
	queues := []struct {
		name string
		args amqp.Table
	}{
		{t.DLQ, nil},
		{t.Retry, amqp.Table{"x-dead-letter-exchange": "", "x-dead-letter-routing-key": t.Main}},
		{t.Main, amqp.Table{"x-dead-letter-exchange": "", "x-dead-letter-routing-key": t.DLQ}},
	}
	for _, q := range queues {
		// durable, not auto-deleted, not exclusive
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("declare %s: %w", q.name, err)
		}
	}
	return nil
}

// ErrNotConnected is returned while the publisher has no usable channel and
// the next redial is not due yet, or the redial failed.
var ErrNotConnected = errors.New("rabbitmq: publisher not connected")

var errPublisherClosed = errors.New("rabbitmq: publisher closed")

type dialFunc func(url string, topo Topology) (*amqp.Connection, *amqp.Channel, error)

func dialAndDeclare(url string, topo Topology) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := topo.Declare(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// Publisher owns one connection and channel. When the broker drops either,
// the next PublishTurn redials; failed redials back off exponentially so a
// broker outage costs callers one fast error per turn.
type Publisher struct {
	url  string
	topo Topology
	dial dialFunc
	now  func() time.Time

	// amqp channels must not be shared by concurrent publishers
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	broken   bool
	closed   bool
	redial   *backoff.ExponentialBackOff
	nextDial time.Time
}

func newPublisher(url string, topo Topology, dial dialFunc) *Publisher {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = redialInitial
	b.MaxInterval = redialMax
	b.MaxElapsedTime = 0
	b.Reset()
	return &Publisher{url: url, topo: topo, dial: dial, now: time.Now, redial: b}
}

// NewPublisher dials once up front so a bad URL fails at startup.
func NewPublisher(url, queue string) (*Publisher, error) {
	p := newPublisher(url, NewTopology(queue), dialAndDeclare)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.dropLocked()
}

// PublishTurn enqueues ev as a persistent message keyed by its event id.
func (p *Publisher) PublishTurn(ctx context.Context, ev chat.TurnEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPublisherClosed
	}
	if p.ch == nil || p.broken {
		_ = p.dropLocked()
		if err := p.connectLocked(); err != nil {
			return err
		}
	}

	err = p.ch.PublishWithContext(cctx, "", p.topo.Main, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.EventID,
		Body:         body,
		Timestamp:    ev.OccurredAt,
	})
	if errors.Is(err, amqp.ErrClosed) {
		p.broken = true
	}
	return err
}

// connectLocked dials unless a failed attempt pushed the next one out.
func (p *Publisher) connectLocked() error {
	now := p.now()
	if now.Before(p.nextDial) {
		return fmt.Errorf("%w: next redial in %s", ErrNotConnected, p.nextDial.Sub(now).Round(time.Millisecond))
	}
	conn, ch, err := p.dial(p.url, p.topo)
	if err != nil {
		wait := p.redial.NextBackOff()
		p.nextDial = now.Add(wait)
		log.Printf("[rabbitmq] publisher dial failed, next attempt in %s err=%v", wait, err)
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	p.redial.Reset()
	p.nextDial = time.Time{}
	p.conn, p.ch, p.broken = conn, ch, false
	p.watch(conn, ch)
	return nil
}

// watch flags the pair as broken once the broker closes either of them.
func (p *Publisher) watch(conn *amqp.Connection, ch *amqp.Channel) {
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		var reason *amqp.Error
		select {
		case reason = <-connClosed:
		case reason = <-chClosed:
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.ch != ch || p.closed {
			return
		}
		p.broken = true
		log.Printf("[rabbitmq] publisher lost its channel, redialing on next publish err=%v", reason)
	}()
}

func (p *Publisher) dropLocked() error {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	var err error
	if p.conn != nil {
		if !p.conn.IsClosed() {
			err = p.conn.Close()
		}
		p.conn = nil
	}
	return err
}

// DecodeTurnEvent parses a delivery body. Events without an id or session
// are rejected so they end up in the dead-letter queue.
func DecodeTurnEvent(body []byte) (chat.TurnEvent, error) {
	var ev chat.TurnEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return chat.TurnEvent{}, err
	}
	if ev.EventID == "" || ev.SessionID == "" {
		return chat.TurnEvent{}, errors.New("turn event missing event_id or session_id")
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	return ev, nil
}

// RetryCount reads the attempt counter set by RetryPublishing. Brokers may
// hand integer headers back in any width.
func RetryCount(h amqp.Table) int {
	switch v := h[RetryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	}
	return 0
}

// RetryPublishing copies d for the retry queue with its counter bumped and a
// per-message TTL of delay.
func RetryPublishing(d amqp.Delivery, delay time.Duration) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[RetryHeader] = int32(RetryCount(d.Headers) + 1)

	return amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Headers:      headers,
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		Body:         d.Body,
		Timestamp:    d.Timestamp,
	}
}
