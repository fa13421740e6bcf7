package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/unclebandit/outbound-dispatcher/internal/config"
	"github.com/unclebandit/outbound-dispatcher/internal/db"
	"github.com/unclebandit/outbound-dispatcher/internal/logger"
	"github.com/unclebandit/outbound-dispatcher/internal/model"
	"github.com/unclebandit/outbound-dispatcher/internal/queue"
	"github.com/unclebandit/outbound-dispatcher/internal/repository"
	"github.com/unclebandit/outbound-dispatcher/internal/service"
)

const (
	retryHeader = "x-retry-count"
	maxRetries  = 3
)

var retryBackoff = time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, _, err := config.Load(ctx)
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer log.Sync()

	if cfg.StoreDriver != "postgres" || cfg.AMQP.URL == "" {
		log.Fatal("worker needs STORE_DRIVER=postgres and AMQP_URL")
	}

	// Connect to DB
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to DB", zap.Error(err))
	}
	defer conn.Close()

	events := queue.NewInMemoryQueue(log.Named("queue"))
	pub, err := queue.DialAMQP(cfg.AMQP.URL, cfg.AMQP.EventsQueue)
	if err != nil {
		log.Fatal("failed to connect to RabbitMQ", zap.Error(err))
	}
	defer pub.Close()
	defer events.Close()
	if err := queue.StartDispatchEventForwarder(events, pub, log.Named("forwarder")); err != nil {
		log.Fatal("failed to subscribe forwarder", zap.Error(err))
	}

	dispatchService := service.NewDispatchService(service.Repositories{
		Messages:      &repository.MessageRepository{DB: conn},
		Conversations: &repository.ConversationRepository{DB: conn},
		Events:        &repository.DispatchEventRepository{DB: conn},
	}, nil, nil, nil, events, service.DispatchOptions{}, log.Named("reconcile"))

	// Connect to RabbitMQ
	amqpConn, err := amqp.Dial(cfg.AMQP.URL)
	if err != nil {
		log.Fatal("failed to connect to RabbitMQ", zap.Error(err))
	}
	defer amqpConn.Close()

	ch, err := amqpConn.Channel()
	if err != nil {
		log.Fatal("failed to open a channel", zap.Error(err))
	}
	defer ch.Close()

	q, err := queue.DeclareQueue(ch, cfg.AMQP.StatusQueue)
	if err != nil {
		log.Fatal("failed to declare queue", zap.Error(err))
	}
	if err := ch.Qos(10, 0, false); err != nil {
		log.Fatal("failed to set prefetch", zap.Error(err))
	}

	msgs, err := ch.Consume(
		q.Name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		log.Fatal("failed to register consumer", zap.Error(err))
	}

	jobs := make(chan service.StatusJob)
	worker := service.NewReconcileWorker(dispatchService, jobs, log.Named("worker"))
	go worker.Start(ctx)

	log.Info("worker running, waiting for status reports", zap.String("queue", q.Name))
	consume(ctx, msgs, jobs, ch, q.Name, log)
}

// consume feeds deliveries to the reconcile worker until ctx is done or the
// broker closes the channel.
func consume(ctx context.Context, msgs <-chan amqp.Delivery, jobs chan<- service.StatusJob, pub publisher, queueName string, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				return
			}

			var ev model.ProviderStatusEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				log.Warn("invalid status report", zap.Error(err))
				d.Ack(false)
				continue
			}

			select {
			case jobs <- service.StatusJob{Event: ev, Done: func(err error) { settle(pub, queueName, d, err, log) }}:
			case <-ctx.Done():
				d.Nack(false, true)
				return
			}
		}
	}
}

type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// settle acks a processed delivery. Retryable failures are republished with
// an incremented x-retry-count until maxRetries, then dropped.
func settle(pub publisher, queueName string, d amqp.Delivery, err error, log *zap.Logger) {
	if err == nil {
		d.Ack(false)
		return
	}

	attempt := retryCount(d.Headers)
	if !service.IsRetryable(err) || attempt >= maxRetries {
		log.Error("dropping status report", zap.Int("attempt", attempt), zap.ByteString("body", d.Body), zap.Error(err))
		d.Ack(false)
		return
	}

	time.Sleep(time.Duration(attempt+1) * retryBackoff)

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryHeader] = int32(attempt + 1)

	if perr := pub.Publish("", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         d.Body,
	}); perr != nil {
		log.Warn("failed to republish, requeueing", zap.Error(perr))
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

func retryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int:
		return v
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}
