package events

import (
	"context"
	"fmt"
	"time"

	ckafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

type TopicSpec struct {
	Name       string
	Partitions int
	Config     map[string]string
}

// DefaultTopicSpecs mirrors the production layout of the sale topics.
func DefaultTopicSpecs(reservations, orders, payments, deadLetter string) []TopicSpec {
	return []TopicSpec{
		{
			Name:       reservations,
			Partitions: 32,
			Config: map[string]string{
				"retention.ms":        "86400000",
				"compression.type":    "snappy",
				"min.insync.replicas": "1",
			},
		},
		{
			Name:       orders,
			Partitions: 32,
			Config: map[string]string{
				"retention.ms":        "604800000",
				"cleanup.policy":      "compact",
				"min.insync.replicas": "1",
			},
		},
		{
			Name:       payments,
			Partitions: 16,
		},
		{
			Name:       deadLetter,
			Partitions: 8,
			Config: map[string]string{
				"retention.ms": "2592000000",
			},
		},
	}
}

// TopicResult is the outcome for one topic; Created is false when it already existed.
type TopicResult struct {
	Name    string
	Created bool
}

// EnsureTopics creates missing topics through the admin API.
func EnsureTopics(ctx context.Context, brokers string, replication int, specs []TopicSpec, logger *zap.Logger) ([]TopicResult, error) {
	admin, err := ckafka.NewAdminClient(&ckafka.ConfigMap{
		"bootstrap.servers": brokers,
		"client.id":         "topic-setup",
	})
	if err != nil {
		return nil, fmt.Errorf("create admin client: %w", err)
	}
	defer admin.Close()

	topics := make([]ckafka.TopicSpecification, 0, len(specs))
	for _, spec := range specs {
		topics = append(topics, ckafka.TopicSpecification{
			Topic:             spec.Name,
			NumPartitions:     spec.Partitions,
			ReplicationFactor: replication,
			Config:            spec.Config,
		})
	}

	results, err := admin.CreateTopics(ctx, topics, ckafka.SetAdminOperationTimeout(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("create topics: %w", err)
	}

	out := make([]TopicResult, 0, len(results))
	for _, res := range results {
		switch res.Error.Code() {
		case ckafka.ErrNoError:
			logger.Info("Topic created", zap.String("topic", res.Topic))
			out = append(out, TopicResult{Name: res.Topic, Created: true})
		case ckafka.ErrTopicAlreadyExists:
			logger.Info("Topic already exists", zap.String("topic", res.Topic))
			out = append(out, TopicResult{Name: res.Topic})
		default:
			return out, fmt.Errorf("create topic %s: %w", res.Topic, res.Error)
		}
	}
	return out, nil
}
