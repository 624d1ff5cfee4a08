package main

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/lyra-systems/convbus/internal/config"
	"github.com/lyra-systems/convbus/internal/dispatcher"
)

// startKafkaIngest wires the external-channel Kafka adapter: a SeenCache for
// at-least-once redelivery dedupe (the same Redis deployment the claim
// store uses, if configured) and a Writer for replies/DLQ, then runs the
// consume loop for the daemon's lifetime.
func startKafkaIngest(ctx context.Context, disp *dispatcher.Dispatcher, cfg config.Config) {
	if cfg.Claims.RedisAddr == "" {
		log.Warn().Msg("KAFKA_BROKERS set but no Redis address configured for dedupe, skipping Kafka ingest")
		return
	}
	seen, err := dispatcher.NewRedisSeenCache(cfg.Claims.RedisAddr)
	if err != nil {
		log.Error().Err(err).Msg("failed to build Kafka seen-cache, skipping Kafka ingest")
		return
	}

	brokers := splitAndTrim(cfg.Kafka.Brokers)
	if err := dispatcher.EnsureChannelTopics(ctx, brokers, cfg.Kafka.Topic, 1, 1); err != nil {
		log.Warn().Err(err).Msg("failed to ensure Kafka channel topics, continuing anyway")
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}

	ingestCfg := dispatcher.KafkaIngestConfig{
		Brokers:           brokers,
		GroupID:           cfg.Kafka.GroupID,
		Topic:             cfg.Kafka.Topic,
		DefaultReplyTopic: cfg.Kafka.Topic + ".replies",
		WorkerCount:       4,
		DedupeTTL:         10 * time.Minute,
	}

	go func() {
		defer seen.Close()
		defer writer.Close()
		if err := dispatcher.RunKafkaIngest(ctx, disp, seen, writer, ingestCfg); err != nil {
			log.Error().Err(err).Msg("kafka ingest loop exited")
		}
	}()
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
