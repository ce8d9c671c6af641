// Package queue holds the Redis Streams transport feeding the scoring
// workers and the Kafka producer fanning assessments out to analytics.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ridesafe/fraud-engine/configs"
	"github.com/ridesafe/fraud-engine/internal/models"
)

// RedisStreamClient publishes and consumes transaction events over a
// Redis stream with a consumer group.
type RedisStreamClient struct {
	client           *redis.Client
	streamName       string
	consumerGroup    string
	deadLetterStream string
	maxRetries       int
}

// StreamMessage is one consumed entry with its stream ID for later ack.
type StreamMessage struct {
	ID    string
	Event *models.TransactionEvent
}

// StreamInfo carries stream statistics for the status endpoints.
type StreamInfo struct {
	Length       int64
	PendingCount int64
	Groups       int
}

// NewRedisStreamClient connects, verifies the connection, and ensures the
// consumer group exists.
func NewRedisStreamClient(cfg configs.RedisConfig, deadLetterStream string) (*RedisStreamClient, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	c := &RedisStreamClient{
		client:           client,
		streamName:       cfg.StreamName,
		consumerGroup:    cfg.ConsumerGroup,
		deadLetterStream: deadLetterStream,
		maxRetries:       cfg.MaxRetries,
	}
	if err := c.createConsumerGroup(ctx); err != nil {
		log.Warn().Err(err).Msg("Consumer group may already exist")
	}

	log.Info().Str("stream", cfg.StreamName).Str("group", cfg.ConsumerGroup).Msg("Redis stream client ready")
	return c, nil
}

func (c *RedisStreamClient) createConsumerGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.streamName, c.consumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

// Publish enqueues one transaction event.
func (c *RedisStreamClient) Publish(ctx context.Context, event *models.TransactionEvent) (string, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal transaction event: %w", err)
	}

	msgID, err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.streamName,
		Values: map[string]interface{}{"data": string(payload)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish transaction event: %w", err)
	}

	log.Debug().
		Str("message_id", msgID).
		Str("transaction_id", event.Transaction.TransactionID).
		Msg("Transaction enqueued")
	return msgID, nil
}

// PublishBatch enqueues a batch of events in one pipeline round trip.
func (c *RedisStreamClient) PublishBatch(ctx context.Context, events []*models.TransactionEvent) ([]string, error) {
	if len(events) == 0 {
		return nil, nil
	}

	pipe := c.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(events))
	for i, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("marshal transaction event %d: %w", i, err)
		}
		cmds[i] = pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: c.streamName,
			Values: map[string]interface{}{"data": string(payload)},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("publish transaction batch: %w", err)
	}

	msgIDs := make([]string, len(events))
	for i, cmd := range cmds {
		msgIDs[i] = cmd.Val()
	}
	log.Debug().Int("count", len(events)).Msg("Transaction batch enqueued")
	return msgIDs, nil
}

// Consume claims abandoned pending messages first, then reads new ones.
func (c *RedisStreamClient) Consume(ctx context.Context, consumerName string, count int64, block time.Duration) ([]StreamMessage, error) {
	claimed, err := c.claimAbandoned(ctx, consumerName, count)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to claim pending messages")
	}
	if len(claimed) > 0 {
		return claimed, nil
	}

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.consumerGroup,
		Consumer: consumerName,
		Streams:  []string{c.streamName, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("read stream: %w", err)
	}

	var messages []StreamMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			event, err := c.decode(msg)
			if err != nil {
				log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to decode stream message")
				continue
			}
			messages = append(messages, StreamMessage{ID: msg.ID, Event: event})
		}
	}
	return messages, nil
}

// claimAbandoned takes over messages another consumer left pending for
// more than 30 seconds.
func (c *RedisStreamClient) claimAbandoned(ctx context.Context, consumerName string, count int64) ([]StreamMessage, error) {
	const minIdle = 30 * time.Second

	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.streamName,
		Group:  c.consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, p := range pending {
		if p.Idle >= minIdle {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   c.streamName,
		Group:    c.consumerGroup,
		Consumer: consumerName,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, err
	}

	var messages []StreamMessage
	for _, msg := range claimed {
		event, err := c.decode(msg)
		if err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to decode claimed message")
			continue
		}
		messages = append(messages, StreamMessage{ID: msg.ID, Event: event})
	}
	return messages, nil
}

func (c *RedisStreamClient) decode(msg redis.XMessage) (*models.TransactionEvent, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("stream message missing data field")
	}
	var event models.TransactionEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil, fmt.Errorf("unmarshal transaction event: %w", err)
	}
	return &event, nil
}

// Acknowledge marks a message processed.
func (c *RedisStreamClient) Acknowledge(ctx context.Context, messageID string) error {
	if err := c.client.XAck(ctx, c.streamName, c.consumerGroup, messageID).Err(); err != nil {
		return fmt.Errorf("ack message: %w", err)
	}
	return nil
}

// AcknowledgeBatch marks several messages processed at once.
func (c *RedisStreamClient) AcknowledgeBatch(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, c.streamName, c.consumerGroup, messageIDs...).Err(); err != nil {
		return fmt.Errorf("ack messages: %w", err)
	}
	log.Debug().Int("count", len(messageIDs)).Msg("Messages acknowledged")
	return nil
}

// MaxRetries returns the configured redelivery budget before dead-letter.
func (c *RedisStreamClient) MaxRetries() int {
	return c.maxRetries
}

// SendToDeadLetter parks a poisoned event with the error that killed it.
func (c *RedisStreamClient) SendToDeadLetter(ctx context.Context, event *models.TransactionEvent, cause error) error {
	payload, _ := json.Marshal(event)
	err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.deadLetterStream,
		Values: map[string]interface{}{
			"data":  string(payload),
			"error": cause.Error(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("send to dead letter: %w", err)
	}

	log.Warn().
		Str("transaction_id", event.Transaction.TransactionID).
		Err(cause).
		Msg("Transaction event dead-lettered")
	return nil
}

// GetStreamInfo reports stream length and pending count for the control
// API.
func (c *RedisStreamClient) GetStreamInfo(ctx context.Context) (*StreamInfo, error) {
	info, err := c.client.XInfoStream(ctx, c.streamName).Result()
	if err != nil {
		return nil, fmt.Errorf("stream info: %w", err)
	}
	groups, err := c.client.XInfoGroups(ctx, c.streamName).Result()
	if err != nil {
		return nil, fmt.Errorf("group info: %w", err)
	}

	var pending int64
	for _, g := range groups {
		if g.Name == c.consumerGroup {
			pending = g.Pending
			break
		}
	}
	return &StreamInfo{Length: info.Length, PendingCount: pending, Groups: len(groups)}, nil
}

// Close releases the Redis connection.
func (c *RedisStreamClient) Close() error {
	return c.client.Close()
}
