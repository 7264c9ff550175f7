package moderation

// Signal kinds published towards the moderation workflow.
const (
	SignalSpamBlock       = "spam_block"
	SignalSpamReview      = "spam_review"
	SignalDuplicateBlock  = "duplicate_block"
	SignalDuplicateReview = "duplicate_review"
	SignalBlacklistHit    = "blacklist_hit"
)

// Signal is published to abuse.signal.<kind> whenever a guard blocks a
// submission or forces it into review. The moderation case lifecycle lives
// elsewhere; this is only its input.
type Signal struct {
	Kind       string   `json:"kind"`
	UserID     string   `json:"user_id,omitempty"`
	AdID       string   `json:"ad_id,omitempty"`
	IP         string   `json:"ip,omitempty"`
	Score      int      `json:"score,omitempty"`
	Similarity float64  `json:"similarity,omitempty"`
	Threshold  float64  `json:"threshold,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	Types      []string `json:"types,omitempty"`
	Ts         int64    `json:"ts"`
}
