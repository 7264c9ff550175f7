package moderation

import (
	"fmt"

	"github.com/jedoz/abuseguard/internal/policy"
)

// Default thresholds.
const (
	DefaultBlockThreshold  = 80
	DefaultReviewThreshold = 50
)

// Action is what the caller does with a scored submission.
type Action string

const (
	ActionPass   Action = "pass"
	ActionReview Action = "review"
	ActionBlock  Action = "block"
)

// Thresholds splits scores into pass / review / block.
type Thresholds struct {
	Block  int
	Review int
}

// DefaultThresholds returns block=80, review=50.
func DefaultThresholds() Thresholds {
	return Thresholds{Block: DefaultBlockThreshold, Review: DefaultReviewThreshold}
}

// Validate checks 0 <= review <= block <= 100.
func (t Thresholds) Validate() error {
	if t.Review < 0 || t.Block > MaxScore || t.Review > t.Block {
		return fmt.Errorf("moderation: invalid thresholds review=%d block=%d", t.Review, t.Block)
	}
	return nil
}

// Verdict is a scored submission and the action its score maps to.
type Verdict struct {
	Score  int
	Action Action
}

// Evaluate maps score to an action: >= Block blocks, [Review, Block) forces
// review, anything lower passes.
func (t Thresholds) Evaluate(score int) Verdict {
	switch {
	case score >= t.Block:
		return Verdict{Score: score, Action: ActionBlock}
	case score >= t.Review:
		return Verdict{Score: score, Action: ActionReview}
	}
	return Verdict{Score: score, Action: ActionPass}
}

// Err returns a SPAM_BLOCKED policy error for blocking verdicts, nil otherwise.
func (v Verdict) Err() error {
	if v.Action == ActionBlock {
		return policy.SpamBlocked(v.Score)
	}
	return nil
}
