package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ridesafe/fraud-engine/configs"
	"github.com/ridesafe/fraud-engine/internal/models"
	"github.com/ridesafe/fraud-engine/internal/queue"
)

// Worker consumes transaction events from the Redis stream and scores
// them. Failed events are requeued with an incremented retry count until
// the retry budget is spent, then dead-lettered.
type Worker struct {
	id        string
	processor *Processor
	stream    *queue.RedisStreamClient
	config    configs.WorkerConfig

	transactions TransactionSink
	assessments  AssessmentSink
	publisher    EventPublisher

	// procMu serializes scoring so concurrent consumers share one
	// transaction history.
	procMu  sync.Mutex
	wg      sync.WaitGroup
	stopCh  chan struct{}
	metrics *WorkerMetrics
}

// WorkerMetrics tracks worker throughput.
type WorkerMetrics struct {
	mu                sync.RWMutex
	ProcessedCount    int64
	FailedCount       int64
	TotalProcessingMs int64
	LastProcessedAt   time.Time
}

// NewWorker wires a scoring worker. Sinks and publisher may be nil.
func NewWorker(id string, processor *Processor, stream *queue.RedisStreamClient, config configs.WorkerConfig, txSink TransactionSink, asSink AssessmentSink, publisher EventPublisher) *Worker {
	return &Worker{
		id:           id,
		processor:    processor,
		stream:       stream,
		config:       config,
		transactions: txSink,
		assessments:  asSink,
		publisher:    publisher,
		stopCh:       make(chan struct{}),
		metrics:      &WorkerMetrics{},
	}
}

// Start launches the consumer goroutines and blocks until the context is
// cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	log.Info().
		Str("worker_id", w.id).
		Int("concurrency", w.config.Concurrency).
		Msg("Starting scoring worker")

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.consumeLoop(ctx, fmt.Sprintf("%s-%d", w.id, i))
	}

	select {
	case <-ctx.Done():
	case <-w.stopCh:
	}
	w.wg.Wait()
	log.Info().Str("worker_id", w.id).Msg("Worker stopped")
	return nil
}

// Stop signals the consumer goroutines to drain and exit.
func (w *Worker) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
}

func (w *Worker) consumeLoop(ctx context.Context, consumerName string) {
	defer w.wg.Done()

	log.Info().Str("consumer", consumerName).Msg("Consumer started")
	for {
		select {
		case <-w.stopCh:
			log.Info().Str("consumer", consumerName).Msg("Consumer stopping")
			return
		case <-ctx.Done():
			return
		default:
			w.consumeBatch(ctx, consumerName)
		}
	}
}

func (w *Worker) consumeBatch(ctx context.Context, consumerName string) {
	messages, err := w.stream.Consume(ctx, consumerName, int64(w.config.BatchSize), w.config.PollInterval)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Str("consumer", consumerName).Msg("Failed to consume messages")
		time.Sleep(time.Second)
		return
	}
	if len(messages) == 0 {
		return
	}

	var ackIDs []string
	for _, msg := range messages {
		if err := w.processMessage(ctx, msg); err != nil {
			log.Error().
				Err(err).
				Str("message_id", msg.ID).
				Str("transaction_id", msg.Event.Transaction.TransactionID).
				Msg("Failed to process message")

			if msg.Event.RetryCount < w.config.RetryAttempts {
				msg.Event.RetryCount++
				if _, err := w.stream.Publish(ctx, msg.Event); err != nil {
					log.Error().Err(err).Msg("Failed to requeue message")
				}
			} else {
				if err := w.stream.SendToDeadLetter(ctx, msg.Event, err); err != nil {
					log.Error().Err(err).Msg("Failed to dead-letter message")
				}
			}

			w.metrics.mu.Lock()
			w.metrics.FailedCount++
			w.metrics.mu.Unlock()
		}

		ackIDs = append(ackIDs, msg.ID)
	}

	if err := w.stream.AcknowledgeBatch(ctx, ackIDs); err != nil {
		log.Error().Err(err).Msg("Failed to acknowledge messages")
	}
}

func (w *Worker) processMessage(ctx context.Context, msg queue.StreamMessage) error {
	start := time.Now()

	tx := msg.Event.Transaction
	w.procMu.Lock()
	assessments, err := w.processor.ProcessBatch([]*models.Transaction{&tx})
	w.procMu.Unlock()
	if err != nil {
		return fmt.Errorf("score transaction: %w", err)
	}
	assessment := assessments[0]

	if w.transactions != nil {
		if err := w.transactions.SaveTransactions(ctx, []*models.Transaction{&tx}); err != nil {
			return fmt.Errorf("persist transaction: %w", err)
		}
	}
	if w.assessments != nil {
		if err := w.assessments.SaveAssessments(ctx, []*models.RiskAssessment{assessment}); err != nil {
			return fmt.Errorf("persist assessment: %w", err)
		}
	}
	if w.publisher != nil {
		event := &models.AssessmentEvent{
			Assessment: *assessment,
			UserID:     tx.UserID,
			DriverID:   tx.DriverID,
			Currency:   tx.Currency,
			Amount:     tx.Amount,
			EmittedAt:  time.Now().UTC(),
		}
		if err := w.publisher.PublishAssessments(ctx, []*models.AssessmentEvent{event}); err != nil {
			return fmt.Errorf("publish assessment event: %w", err)
		}
	}

	w.metrics.mu.Lock()
	w.metrics.ProcessedCount++
	w.metrics.TotalProcessingMs += time.Since(start).Milliseconds()
	w.metrics.LastProcessedAt = time.Now()
	w.metrics.mu.Unlock()
	return nil
}

// Metrics returns a copy of the worker counters.
func (w *Worker) Metrics() WorkerMetrics {
	w.metrics.mu.RLock()
	defer w.metrics.mu.RUnlock()
	return WorkerMetrics{
		ProcessedCount:    w.metrics.ProcessedCount,
		FailedCount:       w.metrics.FailedCount,
		TotalProcessingMs: w.metrics.TotalProcessingMs,
		LastProcessedAt:   w.metrics.LastProcessedAt,
	}
}
