package kafkabus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"
)

type TopicSpec struct {
	Partitions        int
	ReplicationFactor int
}

// TopicConfigs expands names into kafka topic configs, adding the
// dead-letter companion of each.
func TopicConfigs(names []string, spec TopicSpec, withDeadLetter func(string) string) []kafka.TopicConfig {
	configs := make([]kafka.TopicConfig, 0, len(names)*2)
	for _, name := range names {
		configs = append(configs, kafka.TopicConfig{
			Topic:             name,
			NumPartitions:     spec.Partitions,
			ReplicationFactor: spec.ReplicationFactor,
		})
		if withDeadLetter != nil {
			configs = append(configs, kafka.TopicConfig{
				Topic:             withDeadLetter(name),
				NumPartitions:     spec.Partitions,
				ReplicationFactor: spec.ReplicationFactor,
			})
		}
	}
	return configs
}

// EnsureTopics creates any missing topics through the cluster controller.
// Topics that already exist are left untouched.
func EnsureTopics(ctx context.Context, brokers []string, configs []kafka.TopicConfig) error {
	if len(brokers) == 0 {
		return errors.New("EnsureTopics: no brokers configured")
	}

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("EnsureTopics: dial: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("EnsureTopics: controller: %w", err)
	}

	ctrlConn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("EnsureTopics: dial controller: %w", err)
	}
	defer ctrlConn.Close()

	if err := ctrlConn.CreateTopics(configs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("EnsureTopics: create: %w", err)
	}
	return nil
}
