package dispatcher

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/lyra-systems/convbus/internal/observability"
)

// CheckBrokers dials the provided brokers until one answers or timeout
// elapses, used at startup to fail fast rather than let the consumer loop
// retry silently against an unreachable cluster.
func CheckBrokers(ctx context.Context, brokers []string, timeout time.Duration) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no brokers provided")
	}

	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		for _, b := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", b)
			if err == nil {
				_ = conn.Close()
				return nil
			}
			lastErr = err
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed to reach any broker within %s: last error: %v", timeout, lastErr)
}

// EnsureChannelTopics creates the channel-ingestion topic and its DLQ if
// either is missing, dialing the cluster controller directly the way the
// rest of the kafka-go ecosystem does topic administration.
func EnsureChannelTopics(ctx context.Context, brokers []string, topic string, partitions, replicationFactor int) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no brokers provided")
	}
	log := observability.LoggerWithTrace(ctx)

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("dial broker %s: %w", brokers[0], err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("get controller: %w", err)
	}
	controllerAddr := net.JoinHostPort(controller.Host, fmt.Sprint(controller.Port))

	ctrlConn, err := kafka.DialContext(ctx, "tcp", controllerAddr)
	if err != nil {
		return fmt.Errorf("dial controller %s: %w", controllerAddr, err)
	}
	defer ctrlConn.Close()

	configs := []kafka.TopicConfig{
		{Topic: topic, NumPartitions: partitions, ReplicationFactor: replicationFactor},
		{Topic: dlqTopicFor(topic), NumPartitions: partitions, ReplicationFactor: replicationFactor},
	}
	for _, cfg := range configs {
		parts, err := ctrlConn.ReadPartitions(cfg.Topic)
		if err == nil && len(parts) > 0 {
			log.Debug().Str("topic", cfg.Topic).Msg("topic exists")
			continue
		}
		if err := ctrlConn.CreateTopics(cfg); err != nil {
			return fmt.Errorf("create topic %s: %w", cfg.Topic, err)
		}
		log.Info().Str("topic", cfg.Topic).Msg("created topic")
	}
	return nil
}
