package queue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/welleazyhts/Renewal-Backend/utils"
)

// PauseStore keeps the set of paused campaigns in redis so every worker
// process observes a pause without polling the database.
type PauseStore struct {
	rc     *redis.Client
	prefix string
}

func NewPauseStore(rc *redis.Client, prefix string) *PauseStore {
	return &PauseStore{rc: rc, prefix: prefix}
}

func (s *PauseStore) key() string {
	return s.prefix + utils.CampaignPauseSetKey
}

// Pause marks the campaign as paused.
func (s *PauseStore) Pause(ctx context.Context, campaignID uint) error {
	if s.rc == nil {
		return nil
	}
	if err := s.rc.SAdd(ctx, s.key(), strconv.FormatUint(uint64(campaignID), 10)).Err(); err != nil {
		return fmt.Errorf("failed to set pause flag: %w", err)
	}
	return nil
}

// Resume clears the pause flag.
func (s *PauseStore) Resume(ctx context.Context, campaignID uint) error {
	if s.rc == nil {
		return nil
	}
	if err := s.rc.SRem(ctx, s.key(), strconv.FormatUint(uint64(campaignID), 10)).Err(); err != nil {
		return fmt.Errorf("failed to clear pause flag: %w", err)
	}
	return nil
}

// IsPaused reports whether the campaign is currently paused.
func (s *PauseStore) IsPaused(ctx context.Context, campaignID uint) (bool, error) {
	if s.rc == nil {
		return false, nil
	}
	paused, err := s.rc.SIsMember(ctx, s.key(), strconv.FormatUint(uint64(campaignID), 10)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read pause flag: %w", err)
	}
	return paused, nil
}

// PausedCampaigns returns the ids of every paused campaign. Workers pass
// these to the claim query so paused work stays invisible.
func (s *PauseStore) PausedCampaigns(ctx context.Context) ([]uint, error) {
	if s.rc == nil {
		return nil, nil
	}
	members, err := s.rc.SMembers(ctx, s.key()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list paused campaigns: %w", err)
	}
	ids := make([]uint, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}
