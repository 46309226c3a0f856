package businesshours

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store persists per-org calendars in Redis as JSON.
type Store struct {
	redis    *redis.Client
	fallback WeeklyHours
}

// NewStore creates a calendar store. fallback is returned for orgs without a stored calendar.
func NewStore(redisClient *redis.Client, fallback WeeklyHours) *Store {
	return &Store{redis: redisClient, fallback: fallback}
}

func (s *Store) key(orgID string) string {
	return fmt.Sprintf("nurture:business_hours:%s", orgID)
}

// Get returns the org's calendar, or the fallback when none is stored.
func (s *Store) Get(ctx context.Context, orgID string) (WeeklyHours, error) {
	data, err := s.redis.Get(ctx, s.key(orgID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return s.fallback, nil
	}
	if err != nil {
		return WeeklyHours{}, fmt.Errorf("businesshours: get calendar: %w", err)
	}
	var cal WeeklyHours
	if err := json.Unmarshal(data, &cal); err != nil {
		return WeeklyHours{}, fmt.Errorf("businesshours: unmarshal calendar: %w", err)
	}
	return cal, nil
}

// Set validates and stores an org's calendar.
func (s *Store) Set(ctx context.Context, orgID string, cal WeeklyHours) error {
	if err := cal.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cal)
	if err != nil {
		return fmt.Errorf("businesshours: marshal calendar: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(orgID), data, 0).Err(); err != nil {
		return fmt.Errorf("businesshours: set calendar: %w", err)
	}
	return nil
}

// StaticSource serves one calendar for every org.
type StaticSource WeeklyHours

// Get returns the static calendar.
func (s StaticSource) Get(_ context.Context, _ string) (WeeklyHours, error) {
	return WeeklyHours(s), nil
}
