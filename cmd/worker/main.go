package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/skillgraph/backend/internal/backend"
	"github.com/skillgraph/backend/internal/metrics"
	"github.com/skillgraph/backend/internal/queue"
	"github.com/skillgraph/backend/internal/util"
	"github.com/skillgraph/backend/pkg/leaselock"
	"github.com/skillgraph/backend/pkg/logger"
	"github.com/skillgraph/backend/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  debug,
		Prefix: "worker",
	})
	logger.Init(consoleLogger)

	b, err := backend.Open(ctx)
	if err != nil {
		logger.Fatal("Failed to open store", "err", err)
	}
	defer b.Close()
	engine := b.NewEngine()

	// Leases live in postgres; a single embedded worker does not need them.
	var locker queue.Locker
	if b.Pool != nil {
		locker = leaselock.New(b.Pool)
	} else {
		logger.Warn("Running without detach leases, do not start more than one worker")
	}

	if port := util.GetEnv("METRICS_PORT"); port != "" {
		go serveMetrics(port)
	}

	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	// One message at a time, so a slow detach never holds others back in prefetch.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queue.Queues {
		go func(qName string) {
			consumerTag := fmt.Sprintf("%s_consumer", qName)
			msgs, err := consumerCh.Consume(
				qName,
				consumerTag,
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						stop()
						return
					}
					messageChan <- queuedMessage{msg: msg, queueName: qName}
				}
			}
		}(queueName)
	}

	logger.Info("Listening for messages", "queues", queue.Queues, "store", b.Kind)

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messageChan:
				startTime := time.Now()
				logger.Debug("Received message", "queue", qm.queueName)

				var processingErr error
				switch qm.queueName {
				case queue.DetachQueue:
					processingErr = queue.ProcessDetachMessage(ctx, engine, locker, qm.msg.Body)
				default:
					processingErr = fmt.Errorf("%w: no handler for queue %s", queue.ErrMalformed, qm.queueName)
				}

				if processingErr != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
					outcome := queue.HandleProcessingError(ctx, consumerCh, qm.msg, qm.queueName, processingErr)
					metrics.ObserveDetach(outcome)
					continue
				}

				if err := qm.msg.Ack(false); err != nil {
					logger.Error("Failed to ack message", "err", err)
				}
				metrics.ObserveDetach("ok")
				logger.Info("Message processed", "queue", qm.queueName, "duration", time.Since(startTime))
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

func serveMetrics(port string) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	logger.Info("Serving metrics", "port", port)
	if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
		logger.Error("Metrics server stopped", "err", err)
	}
}
