package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/lyra-systems/convbus/internal/observability"
)

// ChannelEnvelope is the wire shape of an external channel message arriving
// over Kafka, adapted from the orchestrator's CommandEnvelope: the same
// correlation-id dedupe and reply-topic-or-default resolution apply, but the
// payload is a chat message rather than a workflow invocation.
type ChannelEnvelope struct {
	CorrelationID string `json:"correlation_id"`
	Channel       string `json:"channel"`
	ExternalID    string `json:"external_id,omitempty"`
	AuthorID      int64  `json:"author_id"`
	AuthorName    string `json:"author_name"`
	Content       string `json:"content"`
	IsBot         bool   `json:"is_bot,omitempty"`
	ReplyTopic    string `json:"reply_topic,omitempty"`
}

// ReplyEnvelope is the error record publishDLQ writes to the reply topic's
// DLQ when a message fails permanently; nothing is published for a message
// that is ingested successfully.
type ReplyEnvelope struct {
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

// SeenCache is the dedupe contract the Kafka adapter uses to skip messages
// already processed under an at-least-once redelivery, mirroring the
// orchestrator's Redis-backed DedupeStore (Get returns "" on a miss).
type SeenCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Producer abstracts the Kafka writer the adapter publishes replies and DLQ
// entries through.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaIngestConfig configures the external-channel Kafka adapter.
type KafkaIngestConfig struct {
	Brokers           []string
	GroupID           string
	Topic             string
	DefaultReplyTopic string
	WorkerCount       int
	DedupeTTL         time.Duration
}

// RunKafkaIngest consumes ChannelEnvelope messages from cfg.Topic and feeds
// each one to dispatcher.Ingest, acknowledging (committing) regardless of
// outcome once a bounded number of retries on transient errors is
// exhausted — identical retry/backoff/DLQ shape to the orchestrator's
// StartKafkaConsumer, adapted to call Ingest instead of a workflow Runner.
func RunKafkaIngest(ctx context.Context, d *Dispatcher, seen SeenCache, producer Producer, cfg KafkaIngestConfig) error {
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 4
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	log := observability.LoggerWithTrace(ctx)
	jobs := make(chan kafka.Message, workers*4)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(workerID int) {
			defer wg.Done()
			for msg := range jobs {
				const maxAttempts = 3
				var lastErr error
				for attempt := 1; attempt <= maxAttempts; attempt++ {
					lastErr = handleChannelMessage(ctx, d, seen, producer, msg, cfg.DefaultReplyTopic, cfg.DedupeTTL)
					if lastErr == nil || ctx.Err() != nil {
						break
					}
					log.Warn().Int("attempt", attempt).Err(lastErr).Msg("transient ingest error, retrying")
					backoff := time.Duration(200*(1<<uint(attempt-1))) * time.Millisecond
					select {
					case <-time.After(backoff):
					case <-ctx.Done():
					}
				}
				if lastErr != nil {
					publishDLQ(ctx, producer, msg, cfg.DefaultReplyTopic, lastErr)
				}
				if err := reader.CommitMessages(ctx, msg); err != nil {
					log.Error().Err(err).Msg("commit failed")
				}
			}
		}(i)
	}

	go func() {
		defer close(jobs)
		for {
			if ctx.Err() != nil {
				return
			}
			m, err := reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				log.Warn().Err(err).Msg("fetch error")
				select {
				case <-time.After(500 * time.Millisecond):
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case jobs <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	return ctx.Err()
}

func handleChannelMessage(ctx context.Context, d *Dispatcher, seen SeenCache, producer Producer, msg kafka.Message, defaultReplyTopic string, dedupeTTL time.Duration) error {
	var env ChannelEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		publishDLQ(ctx, producer, msg, defaultReplyTopic, fmt.Errorf("malformed channel envelope: %w", err))
		return nil
	}
	if env.CorrelationID == "" {
		publishDLQ(ctx, producer, msg, defaultReplyTopic, errors.New("missing correlation_id"))
		return nil
	}

	if prev, err := seen.Get(ctx, env.CorrelationID); err != nil {
		return fmt.Errorf("dedupe get: %w", err)
	} else if prev != "" {
		return nil // already processed under an earlier delivery
	}

	inbound := InboundMessage{
		Channel:    env.Channel,
		ExternalID: env.ExternalID,
		AuthorID:   env.AuthorID,
		AuthorName: env.AuthorName,
		Content:    env.Content,
		IsBot:      env.IsBot,
		Timestamp:  time.Now(),
	}
	if err := d.Ingest(ctx, inbound); err != nil {
		return err
	}

	if err := seen.Set(ctx, env.CorrelationID, "ok", dedupeTTL); err != nil {
		return fmt.Errorf("dedupe set: %w", err)
	}
	return nil
}

func publishDLQ(ctx context.Context, producer Producer, msg kafka.Message, defaultReplyTopic string, cause error) {
	var env ChannelEnvelope
	replyTopic := defaultReplyTopic
	corrID := string(msg.Key)
	if err := json.Unmarshal(msg.Value, &env); err == nil {
		if env.ReplyTopic != "" {
			replyTopic = env.ReplyTopic
		}
		if env.CorrelationID != "" {
			corrID = env.CorrelationID
		}
	}
	payload, _ := json.Marshal(ReplyEnvelope{CorrelationID: corrID, Status: "error", Error: cause.Error()})
	dlqTopic := dlqTopicFor(replyTopic)
	if dlqTopic == "" {
		return
	}
	_ = producer.WriteMessages(ctx, kafka.Message{Topic: dlqTopic, Key: []byte(corrID), Value: payload})
}

// dlqTopicFor appends ".dlq" to replyTopic unless it already carries that
// suffix, avoiding "topic.dlq.dlq" when the reply topic already targets the
// dead-letter queue.
func dlqTopicFor(replyTopic string) string {
	if replyTopic == "" {
		return ""
	}
	const suffix = ".dlq"
	if len(replyTopic) >= len(suffix) && replyTopic[len(replyTopic)-len(suffix):] == suffix {
		return replyTopic
	}
	return replyTopic + suffix
}
