// Package analytics serves the reporting endpoints and maintains the
// live counters fed by the assessment event stream.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ridesafe/fraud-engine/internal/models"
	"github.com/ridesafe/fraud-engine/internal/queue"
	"github.com/ridesafe/fraud-engine/internal/repositories"
)

const (
	countersKey     = "analytics:counters"
	recentEventsKey = "analytics:recent_events"
	recentEventsCap = 100
)

// Service answers the analytics queries, caching aggregates in Redis.
type Service struct {
	assessmentRepo *repositories.AssessmentRepository
	cache          *queue.CacheClient
}

// NewService creates a new analytics service
func NewService(assessmentRepo *repositories.AssessmentRepository, cache *queue.CacheClient) *Service {
	return &Service{
		assessmentRepo: assessmentRepo,
		cache:          cache,
	}
}

// GetRiskSummary aggregates assessments over the trailing window.
func (s *Service) GetRiskSummary(ctx context.Context, window time.Duration) (*models.RiskSummary, error) {
	cacheKey := fmt.Sprintf("risk_summary:%s", window)
	var cached models.RiskSummary
	if s.cache != nil {
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	summary, err := s.assessmentRepo.GetRiskSummary(ctx, time.Now().UTC().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("get risk summary: %w", err)
	}

	if s.cache != nil {
		// Short TTL for intraday windows, longer for historical ones.
		ttl := 5 * time.Minute
		if window > 24*time.Hour {
			ttl = time.Hour
		}
		if err := s.cache.Set(ctx, cacheKey, summary, ttl); err != nil {
			log.Warn().Err(err).Msg("Failed to cache risk summary")
		}
	}
	return summary, nil
}

// GetTopRules returns the most frequently triggered rule tags over the
// trailing window.
func (s *Service) GetTopRules(ctx context.Context, window time.Duration, limit int) ([]models.RuleCount, error) {
	cacheKey := fmt.Sprintf("top_rules:%s:%d", window, limit)
	var cached []models.RuleCount
	if s.cache != nil {
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	rules, err := s.assessmentRepo.GetTopRules(ctx, time.Now().UTC().Add(-window), limit)
	if err != nil {
		return nil, fmt.Errorf("get top rules: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, rules, 5*time.Minute); err != nil {
			log.Warn().Err(err).Msg("Failed to cache top rules")
		}
	}
	return rules, nil
}

// GetHourlyVolume returns per-hour assessment volume over the trailing
// window.
func (s *Service) GetHourlyVolume(ctx context.Context, window time.Duration) ([]models.HourlyVolume, error) {
	cacheKey := fmt.Sprintf("hourly_volume:%s", window)
	var cached []models.HourlyVolume
	if s.cache != nil {
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	volumes, err := s.assessmentRepo.GetHourlyVolume(ctx, time.Now().UTC().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("get hourly volume: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, volumes, 5*time.Minute); err != nil {
			log.Warn().Err(err).Msg("Failed to cache hourly volume")
		}
	}
	return volumes, nil
}

// GetAssessmentsByLevel returns stored assessments at one risk level.
func (s *Service) GetAssessmentsByLevel(ctx context.Context, riskLevel string, page, pageSize int) ([]*models.RiskAssessment, int, error) {
	return s.assessmentRepo.GetByRiskLevel(ctx, riskLevel, page, pageSize)
}

// LiveCounters reads the counters the event collector maintains.
func (s *Service) LiveCounters(ctx context.Context) (map[string]string, error) {
	if s.cache == nil {
		return map[string]string{}, nil
	}
	return s.cache.HGetAll(ctx, countersKey)
}

// RecentEvents returns the newest assessment events, most recent first.
func (s *Service) RecentEvents(ctx context.Context, limit int) ([]*models.AssessmentEvent, error) {
	if s.cache == nil {
		return nil, nil
	}
	if limit <= 0 || limit > recentEventsCap {
		limit = recentEventsCap
	}

	raw, err := s.cache.LRange(ctx, recentEventsKey, 0, int64(limit-1))
	if err != nil {
		return nil, err
	}

	events := make([]*models.AssessmentEvent, 0, len(raw))
	for _, item := range raw {
		event := &models.AssessmentEvent{}
		if err := json.Unmarshal([]byte(item), event); err != nil {
			log.Warn().Err(err).Msg("Skipping malformed cached event")
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Collector folds assessment events into the live counters and the
// recent event list. It runs inside the Kafka analytics worker.
type Collector struct {
	cache *queue.CacheClient
}

// NewCollector creates a new event collector
func NewCollector(cache *queue.CacheClient) *Collector {
	return &Collector{cache: cache}
}

// Record updates the counters for one assessment event.
func (c *Collector) Record(ctx context.Context, event *models.AssessmentEvent) error {
	if _, err := c.cache.HIncrBy(ctx, countersKey, "total", 1); err != nil {
		return err
	}
	if _, err := c.cache.HIncrBy(ctx, countersKey, event.Assessment.RiskLevel, 1); err != nil {
		return err
	}
	if event.Assessment.RiskLevel == models.RiskLevelHigh {
		if _, err := c.cache.HIncrBy(ctx, countersKey, "amount_at_risk", int64(event.Amount)); err != nil {
			return err
		}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := c.cache.LPush(ctx, recentEventsKey, string(payload)); err != nil {
		return err
	}
	return c.cache.LTrim(ctx, recentEventsKey, 0, recentEventsCap-1)
}
