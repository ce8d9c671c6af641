package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ridesafe/fraud-engine/internal/models"
)

var (
	// ErrAlreadyRunning is returned by Start when the pipeline loop is
	// active.
	ErrAlreadyRunning = errors.New("pipeline already running")

	// ErrNotRunning is returned by Stop when there is nothing to stop.
	ErrNotRunning = errors.New("pipeline not running")
)

// TransactionSink persists raw transactions.
type TransactionSink interface {
	SaveTransactions(ctx context.Context, txns []*models.Transaction) error
}

// AssessmentSink persists risk assessments.
type AssessmentSink interface {
	SaveAssessments(ctx context.Context, assessments []*models.RiskAssessment) error
}

// EventPublisher fans scored assessments out to downstream consumers.
type EventPublisher interface {
	PublishAssessments(ctx context.Context, events []*models.AssessmentEvent) error
}

// Status is a snapshot of the pipeline loop.
type Status struct {
	Running         bool       `json:"running"`
	Total           int        `json:"total_transactions"`
	Processed       int        `json:"processed_count"`
	Progress        float64    `json:"progress"`
	Batches         int        `json:"batches_processed"`
	HighRiskCount   int        `json:"high_risk_count"`
	MediumRiskCount int        `json:"medium_risk_count"`
	LowRiskCount    int        `json:"low_risk_count"`
	LastBatchAt     *time.Time `json:"last_batch_at,omitempty"`
	Exhausted       bool       `json:"exhausted"`
}

// Runner drives the stream through the processor on an interval, feeding
// the configured sinks. Sinks and publisher may be nil; the loop then only
// scores.
type Runner struct {
	stream    *TransactionStream
	processor *Processor
	interval  time.Duration

	transactions TransactionSink
	assessments  AssessmentSink
	publisher    EventPublisher

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	status  Status
}

// NewRunner wires a runner. interval is the pause between batches.
func NewRunner(stream *TransactionStream, processor *Processor, interval time.Duration, txSink TransactionSink, asSink AssessmentSink, publisher EventPublisher) *Runner {
	return &Runner{
		stream:       stream,
		processor:    processor,
		interval:     interval,
		transactions: txSink,
		assessments:  asSink,
		publisher:    publisher,
		status:       Status{Total: stream.Total()},
	}
}

// Start launches the batch loop in the background.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	r.status.Running = true

	go r.loop(loopCtx)

	log.Info().
		Int("total", r.stream.Total()).
		Dur("interval", r.interval).
		Msg("Pipeline started")
	return nil
}

// Stop halts the loop and waits for the in-flight batch to finish.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done

	log.Info().Msg("Pipeline stopped")
	return nil
}

// Reset rewinds the stream and clears counters. The pipeline must be
// stopped first. The processor history is rebuilt empty so a replay scores
// identically.
func (r *Runner) Reset(fresh *Processor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRunning
	}
	r.stream.Reset()
	r.processor = fresh
	r.status = Status{Total: r.stream.Total()}
	log.Info().Msg("Pipeline reset")
	return nil
}

// Status returns a snapshot of the loop's progress.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.status
	s.Processed = r.stream.Processed()
	s.Progress = r.stream.Progress()
	s.Exhausted = r.stream.Exhausted()
	return s
}

func (r *Runner) loop(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.status.Running = false
		close(r.done)
		r.mu.Unlock()
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.step(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Msg("Pipeline batch failed")
		}
		if r.stream.Exhausted() {
			log.Info().Msg("Transaction stream exhausted")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// step processes one batch and pushes results to the sinks.
func (r *Runner) step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := r.stream.NextBatch()
	if len(batch) == 0 {
		return nil
	}

	assessments, err := r.processor.ProcessBatch(batch)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.status.Batches++
	now := time.Now().UTC()
	r.status.LastBatchAt = &now
	for _, a := range assessments {
		switch a.RiskLevel {
		case models.RiskLevelHigh:
			r.status.HighRiskCount++
		case models.RiskLevelMedium:
			r.status.MediumRiskCount++
		default:
			r.status.LowRiskCount++
		}
	}
	r.mu.Unlock()

	if r.transactions != nil {
		if err := r.transactions.SaveTransactions(ctx, batch); err != nil {
			log.Error().Err(err).Msg("Failed to persist transactions")
		}
	}
	if r.assessments != nil {
		if err := r.assessments.SaveAssessments(ctx, assessments); err != nil {
			log.Error().Err(err).Msg("Failed to persist assessments")
		}
	}
	if r.publisher != nil {
		events := make([]*models.AssessmentEvent, 0, len(assessments))
		for i, a := range assessments {
			events = append(events, &models.AssessmentEvent{
				Assessment: *a,
				UserID:     batch[i].UserID,
				DriverID:   batch[i].DriverID,
				Currency:   batch[i].Currency,
				Amount:     batch[i].Amount,
				EmittedAt:  time.Now().UTC(),
			})
		}
		if err := r.publisher.PublishAssessments(ctx, events); err != nil {
			log.Error().Err(err).Msg("Failed to publish assessment events")
		}
	}
	return nil
}
