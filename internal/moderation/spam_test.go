package moderation

import (
	"strings"
	"testing"

	"github.com/jedoz/abuseguard/internal/policy"
)

func TestScore_Empty(t *testing.T) {
	s := NewScorer(nil)
	if got := s.Score(Submission{}); got != 0 {
		t.Errorf("Score(empty) = %d, want 0", got)
	}
}

func TestScore_Rules(t *testing.T) {
	s := NewScorer(nil) // no keyword blocklist, isolate the other rules

	tests := []struct {
		name string
		in   Submission
		want int
	}{
		{"clean", Submission{Title: "Toyota Corolla 2012", Description: "Good condition"}, 0},
		{"whatsapp", Submission{Title: "Contact WhatsApp"}, WeightContactHandle},
		{"telegram", Submission{Description: "join my telegram"}, WeightContactHandle},
		{"snap", Submission{Description: "add me on snapchat"}, WeightContactHandle},
		{"two handles count once", Submission{Description: "whatsapp or telegram"}, WeightContactHandle},
		{"http url", Submission{Description: "see http://x.co"}, WeightURL},
		{"https url", Submission{Description: "see HTTPS://x.co"}, WeightURL},
		{"www url", Submission{Description: "www.site.cm"}, WeightURL},
		{"gratuit", Submission{Title: "Livraison GRATUIT"}, WeightFreeOffer},
		{"free", Submission{Title: "free delivery"}, WeightFreeOffer},
		{"20 digits not enough", Submission{Description: strings.Repeat("12345", 4)}, 0},
		{"21 digits", Submission{Description: strings.Repeat("1234567", 3)}, WeightDigits20},
		{"41 digits", Submission{Description: strings.Repeat("1234567", 5) + "123456"}, WeightDigits20 + WeightDigits40},
		{"7 repeated chars", Submission{Title: "wo" + strings.Repeat("w", 6)}, 0},
		{"8 repeated chars", Submission{Title: "w" + strings.Repeat("o", 8) + "w"}, WeightCharFlood},
		{"repeated punctuation", Submission{Title: "deal" + strings.Repeat("!", 8)}, WeightCharFlood},
		{"phone 8 chars", Submission{Phone: "69912345"}, WeightPhone},
		{"phone 7 chars", Submission{Phone: "6991234"}, 0},
		{"phone length counts as given", Submission{Phone: " 6991234"}, WeightPhone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Score(tt.in); got != tt.want {
				t.Errorf("Score(%+v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestScore_AdditiveSignals(t *testing.T) {
	s := NewScorer(nil)
	got := s.Score(Submission{
		Title:       "Call me on WhatsApp now free!!!",
		Description: "http://x.co",
	})
	if got < WeightContactHandle+WeightURL+WeightFreeOffer {
		t.Errorf("Score = %d, want >= 30", got)
	}
}

func TestScore_TitleAndDescriptionAreSeparated(t *testing.T) {
	s := NewScorer(nil)
	// "snap" must not be formed across the title/description boundary.
	if got := s.Score(Submission{Title: "sn", Description: "ap"}); got != 0 {
		t.Errorf("Score = %d, want 0", got)
	}
}

func TestScore_KeywordClampsTo100(t *testing.T) {
	s := NewScorer([]string{"Viagra", " ", ""})

	if got := s.Score(Submission{Description: "cheap viagra here"}); got != 80 {
		t.Errorf("single keyword Score = %d, want 80", got)
	}

	s = NewScorer([]string{"viagra", "casino"})
	if got := s.Score(Submission{Title: "viagra", Description: "casino"}); got != MaxScore {
		t.Errorf("two keywords Score = %d, want %d", got, MaxScore)
	}

	got := s.Score(Submission{
		Title:       "CASINO whatsapp http://x.co free",
		Description: strings.Repeat("9", 50) + strings.Repeat("!", 8),
		Phone:       "+237699000000",
	})
	if got != MaxScore {
		t.Errorf("everything Score = %d, want %d", got, MaxScore)
	}
}

func TestScore_KeywordAloneReachesBlock(t *testing.T) {
	s := NewScorer([]string{"escort"})
	v := DefaultThresholds().Evaluate(s.Score(Submission{Title: "escort"}))
	if v.Action != ActionBlock {
		t.Errorf("Action = %q, want %q", v.Action, ActionBlock)
	}
}

func TestNewScorer_NormalizesKeywords(t *testing.T) {
	s := NewScorer([]string{" Casino ", "casino", "", "BET"})
	got := s.Keywords()
	if len(got) != 2 || got[0] != "casino" || got[1] != "bet" {
		t.Errorf("Keywords() = %v, want [casino bet]", got)
	}
}

func TestHasCharFlood(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"", false},
		{strings.Repeat("a", 7), false},
		{strings.Repeat("a", 8), true},
		{"aaaabaaaa", false},
		{strings.Repeat(" ", 8) + "x", true},
		{strings.Repeat("é", 8), true},
	}
	for _, tt := range tests {
		if got := hasCharFlood(tt.input); got != tt.want {
			t.Errorf("hasCharFlood(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestThresholdsEvaluate(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		score int
		want  Action
	}{
		{0, ActionPass},
		{49, ActionPass},
		{50, ActionReview},
		{79, ActionReview},
		{80, ActionBlock},
		{100, ActionBlock},
	}
	for _, tt := range tests {
		if got := th.Evaluate(tt.score).Action; got != tt.want {
			t.Errorf("Evaluate(%d) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestVerdictErr(t *testing.T) {
	if err := (Verdict{Score: 60, Action: ActionReview}).Err(); err != nil {
		t.Errorf("review verdict Err = %v, want nil", err)
	}
	pe, ok := policy.AsError((Verdict{Score: 90, Action: ActionBlock}).Err())
	if !ok {
		t.Fatal("block verdict should return a policy error")
	}
	if pe.Code != policy.CodeSpamBlocked || pe.Details["score"] != 90 {
		t.Errorf("got %+v, want SPAM_BLOCKED with score 90", pe)
	}
}

func TestThresholdsValidate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Errorf("default thresholds invalid: %v", err)
	}
	if err := (Thresholds{Block: 40, Review: 50}).Validate(); err == nil {
		t.Error("review above block should be invalid")
	}
	if err := (Thresholds{Block: 120, Review: 50}).Validate(); err == nil {
		t.Error("block above 100 should be invalid")
	}
}

func BenchmarkScore(b *testing.B) {
	s := NewScorer([]string{"casino", "viagra", "escort"})
	in := Submission{
		Title:       "Appartement meublé à louer",
		Description: strings.Repeat("Très bel appartement au centre ville, proche commodités. ", 20),
		Phone:       "+237699000000",
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Score(in)
	}
}
