package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridesafe/fraud-engine/internal/models"
)

type captureSink struct {
	mu          sync.Mutex
	txns        []*models.Transaction
	assessments []*models.RiskAssessment
	events      []*models.AssessmentEvent
}

func (c *captureSink) SaveTransactions(_ context.Context, txns []*models.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txns = append(c.txns, txns...)
	return nil
}

func (c *captureSink) SaveAssessments(_ context.Context, as []*models.RiskAssessment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assessments = append(c.assessments, as...)
	return nil
}

func (c *captureSink) PublishAssessments(_ context.Context, evs []*models.AssessmentEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evs...)
	return nil
}

func (c *captureSink) counts() (int, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.txns), len(c.assessments), len(c.events)
}

func newRunnerFixture(t *testing.T, n, batchSize int) (*Runner, *captureSink) {
	t.Helper()
	path := writeDataset(t, n)
	stream, err := NewTransactionStream(path, batchSize)
	require.NoError(t, err)

	sink := &captureSink{}
	r := NewRunner(stream, newTestProcessor(t), time.Millisecond, sink, sink, sink)
	return r, sink
}

func TestRunner_ProcessesWholeStream(t *testing.T) {
	r, sink := newRunnerFixture(t, 80, 20)

	require.NoError(t, r.Start(context.Background()))

	deadline := time.After(10 * time.Second)
	for {
		s := r.Status()
		if s.Exhausted && !s.Running {
			break
		}
		select {
		case <-deadline:
			t.Fatal("pipeline did not drain in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	s := r.Status()
	assert.Equal(t, s.Total, s.Processed)
	assert.Positive(t, s.Batches)
	assert.Equal(t, s.Total, s.HighRiskCount+s.MediumRiskCount+s.LowRiskCount)

	nTx, nAs, nEv := sink.counts()
	assert.Equal(t, s.Total, nTx)
	assert.Equal(t, s.Total, nAs)
	assert.Equal(t, s.Total, nEv)
}

func TestRunner_StartTwiceFails(t *testing.T) {
	r, _ := newRunnerFixture(t, 2000, 5)

	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	assert.ErrorIs(t, r.Start(context.Background()), ErrAlreadyRunning)
}

func TestRunner_StopWithoutStart(t *testing.T) {
	r, _ := newRunnerFixture(t, 100, 10)

	assert.ErrorIs(t, r.Stop(), ErrNotRunning)
}

func TestRunner_ResetRequiresStopped(t *testing.T) {
	r, _ := newRunnerFixture(t, 2000, 5)

	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Reset(newTestProcessor(t)), ErrAlreadyRunning)
	require.NoError(t, r.Stop())

	require.NoError(t, r.Reset(newTestProcessor(t)))
	s := r.Status()
	assert.Zero(t, s.Processed)
	assert.Zero(t, s.Batches)
	assert.False(t, s.Running)
}
