// Package reward defines the post-completion reward collaborator. Reward
// evaluation itself belongs to the surrounding system; the engine only calls
// the Trigger after a challenge completes and forwards any grant.
package reward

import (
	"context"
	"sort"

	"github.com/mcdev12/questhunt/go/internal/models"
)

// Trigger is consulted after every challenge completion.
type Trigger interface {
	// CheckForReward returns the reward the tracker's new state earns, or nil.
	CheckForReward(ctx context.Context, tracker *models.JourneyTracker) (*models.Reward, error)
}

// ThresholdTrigger grants the highest-threshold reward the player's score has
// reached. Deduplicating repeat grants is the consumer's concern. Good enough
// for wiring and tests; production deployments inject their own Trigger.
type ThresholdTrigger struct {
	rewards []models.Reward // sorted ascending by threshold
}

// NewThresholdTrigger creates a trigger over a fixed reward table.
func NewThresholdTrigger(rewards []models.Reward) *ThresholdTrigger {
	sorted := append([]models.Reward(nil), rewards...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ScoreThreshold < sorted[j].ScoreThreshold
	})
	return &ThresholdTrigger{rewards: sorted}
}

func (t *ThresholdTrigger) CheckForReward(ctx context.Context, tracker *models.JourneyTracker) (*models.Reward, error) {
	var earned *models.Reward
	for i := range t.rewards {
		if tracker.Score >= t.rewards[i].ScoreThreshold {
			earned = &t.rewards[i]
		}
	}
	return earned, nil
}

// NoopTrigger never grants anything.
type NoopTrigger struct{}

func (NoopTrigger) CheckForReward(ctx context.Context, tracker *models.JourneyTracker) (*models.Reward, error) {
	return nil, nil
}
