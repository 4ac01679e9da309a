package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/vriez/multi-uav-ooda-system/pkg/model"
)

// KafkaBusConfig configures the Kafka-backed Publisher.
type KafkaBusConfig struct {
	Brokers      []string
	CommandTopic string
	EventTopic   string
	MaxAttempts  int
	WriteTimeout time.Duration
}

// KafkaBus publishes commands and decision events to Kafka topics instead
// of in-process channels — an alternate Publisher implementation for
// deployments where the vehicle transport and the dashboard consume from
// a durable broker rather than a direct in-memory channel. It still
// satisfies the bounded, non-blocking Publisher contract locally: writes
// go through an internal MemoryBus first (so the orchestrator's Act phase
// never blocks on network I/O), and a background drain loop forwards from
// that buffer to Kafka.
type KafkaBus struct {
	local        *MemoryBus
	commandWriter *kafka.Writer
	eventWriter   *kafka.Writer
	maxAttempts   int
	writeTimeout  time.Duration
	logger        *logrus.Logger
}

// NewKafkaBus builds a KafkaBus and starts its background drain goroutines.
// ctx cancellation stops the drain loops; callers should still call Close.
func NewKafkaBus(ctx context.Context, cfg KafkaBusConfig, localCapacity int, logger *logrus.Logger) (*KafkaBus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka eventbus: at least one broker is required")
	}
	if cfg.CommandTopic == "" || cfg.EventTopic == "" {
		return nil, fmt.Errorf("kafka eventbus: command and event topics are required")
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	b := &KafkaBus{
		local: NewMemoryBus(localCapacity, localCapacity),
		commandWriter: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.CommandTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		eventWriter: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.EventTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		maxAttempts:  maxAttempts,
		writeTimeout: writeTimeout,
		logger:       logger,
	}

	go b.drainCommands(ctx)
	go b.drainEvents(ctx)

	return b, nil
}

func (b *KafkaBus) PublishCommand(cmd model.Command) bool { return b.local.PublishCommand(cmd) }
func (b *KafkaBus) PublishEvent(evt model.DecisionEvent) bool { return b.local.PublishEvent(evt) }
func (b *KafkaBus) Commands() <-chan model.Command           { return b.local.Commands() }
func (b *KafkaBus) Events() <-chan model.DecisionEvent        { return b.local.Events() }

func (b *KafkaBus) Close() {
	b.local.Close()
	_ = b.commandWriter.Close()
	_ = b.eventWriter.Close()
}

func (b *KafkaBus) drainCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-b.local.Commands():
			if !ok {
				return
			}
			payload, err := json.Marshal(cmd)
			if err != nil {
				b.logger.WithError(err).Error("marshal command for kafka failed")
				continue
			}
			key := fmt.Sprintf("%d", cmd.VehicleID)
			if err := b.produce(ctx, b.commandWriter, key, payload); err != nil {
				b.logger.WithError(err).Error("produce command to kafka failed")
			}
		}
	}
}

func (b *KafkaBus) drainEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.local.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				b.logger.WithError(err).Error("marshal decision event for kafka failed")
				continue
			}
			key := fmt.Sprintf("%d", evt.Cycle)
			if err := b.produce(ctx, b.eventWriter, key, payload); err != nil {
				b.logger.WithError(err).Error("produce decision event to kafka failed")
			}
		}
	}
}

// produce retries up to maxAttempts with exponential backoff, capped at
// 2s, matching kernel/internal/audit.KafkaProducer.Produce.
func (b *KafkaBus) produce(ctx context.Context, w *kafka.Writer, key string, value []byte) error {
	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < b.maxAttempts; attempt++ {
		writeCtx, cancel := context.WithTimeout(ctx, b.writeTimeout)
		err := w.WriteMessages(writeCtx, kafka.Message{Key: []byte(key), Value: value})
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 2*time.Second {
			backoff = 2 * time.Second
		}
	}
	return fmt.Errorf("produce after %d attempts: %w", b.maxAttempts, lastErr)
}
