package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/career-counselor/internal/chat"
	"github.com/suPer8Hu/career-counselor/internal/config"
	"github.com/suPer8Hu/career-counselor/internal/db"
	"github.com/suPer8Hu/career-counselor/internal/store/rabbitmq"
)

const (
	maxRetries    = 3
	retryDelay    = 5 * time.Second
	recordTimeout = 5 * time.Second
)

func workerConcurrency(n int) int {
	if n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

// consumer records turn events. Workers share one channel, so publishes to
// the retry queue are serialized.
type consumer struct {
	repo *chat.Repo
	topo rabbitmq.Topology

	pubMu sync.Mutex
	ch    *amqp.Channel
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.RabbitURL == "" {
		log.Fatalf("RABBIT_URL is required for the worker")
	}

	gdb, err := db.Connect(context.Background(), cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	c := &consumer{repo: chat.NewRepo(gdb), topo: rabbitmq.NewTopology(cfg.RabbitQueue), ch: ch}
	if err := c.topo.Declare(ch); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	concurrency := workerConcurrency(cfg.WorkerConcurrency)
	// prefetch no more than the pool can hold
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(c.topo.Main, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", c.topo.Main, concurrency)
	c.run(ctx, msgs, concurrency)
}

// run fans deliveries out to a fixed pool and returns after the pool drains.
func (c *consumer) run(ctx context.Context, msgs <-chan amqp.Delivery, concurrency int) {
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.handle(ctx, workerID, d)
			}
		}(i)
	}
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			return
		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				return
			}
			jobs <- d
		}
	}
}

func (c *consumer) handle(ctx context.Context, workerID int, d amqp.Delivery) {
	ev, err := rabbitmq.DecodeTurnEvent(d.Body)
	if err != nil {
		log.Printf("[worker] id=%d bad message message_id=%s err=%v", workerID, d.MessageId, err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	// finish the write even if shutdown has begun
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	inserted, err := c.repo.RecordTurnEvent(rctx, ev)
	cancel()
	if err != nil {
		log.Printf("[worker] id=%d record failed event_id=%s cost=%s err=%v", workerID, ev.EventID, time.Since(start), err)
		c.retry(ctx, workerID, d)
		return
	}
	if !inserted {
		log.Printf("[worker] id=%d duplicate event_id=%s ignored", workerID, ev.EventID)
	}
	if err := d.Ack(false); err != nil {
		log.Printf("[worker] id=%d ack failed event_id=%s err=%v", workerID, ev.EventID, err)
	}
}

// retry parks d on the retry queue until its TTL sends it back to the main
// queue. After maxRetries attempts it is dead-lettered instead.
func (c *consumer) retry(ctx context.Context, workerID int, d amqp.Delivery) {
	if n := rabbitmq.RetryCount(d.Headers); n >= maxRetries {
		log.Printf("[worker] id=%d giving up after %d retries message_id=%s", workerID, n, d.MessageId)
		_ = d.Nack(false, false)
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	c.pubMu.Lock()
	err := c.ch.PublishWithContext(pctx, "", c.topo.Retry, false, false, rabbitmq.RetryPublishing(d, retryDelay))
	c.pubMu.Unlock()
	if err != nil {
		log.Printf("[worker] id=%d retry publish failed message_id=%s err=%v", workerID, d.MessageId, err)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}
