package models

import (
	"testing"
	"time"
)

func TestMatchIDForStability(t *testing.T) {
	a := MatchIDFor("p-001", "s-001")
	b := MatchIDFor("p-001", "s-001")
	if a != b {
		t.Fatal("match id must be deterministic")
	}
	if a == MatchIDFor("p-001", "s-002") {
		t.Fatal("different counterparts must yield different ids")
	}

	// No counterpart collapses to the NONE sentinel, never to an empty hash
	// input that could collide with a real id.
	none := MatchIDFor("p-001", "")
	if none != MatchIDFor("p-001", "NONE") {
		t.Fatal("empty matched_id must alias the NONE sentinel")
	}
	if none == a {
		t.Fatal("no-match id collided with a matched id")
	}
}

func TestConfidenceFor(t *testing.T) {
	cases := []struct {
		matchType MatchType
		score     float64
		want      MatchConfidence
	}{
		{MatchTypeExactCreditCode, 1.0, ConfidenceHigh},
		{MatchTypeExactNameCanonical, 1.0, ConfidenceHigh},
		{MatchTypeFuzzyPrefiltered, 0.95, ConfidenceHigh},
		{MatchTypeFuzzyPrefiltered, 0.90, ConfidenceHigh},
		{MatchTypeFuzzyPrefiltered, 0.80, ConfidenceMedium},
		{MatchTypeFuzzyPrefiltered, 0.75, ConfidenceMedium},
		{MatchTypeGraphAssisted, 0.72, ConfidenceLow},
		{MatchTypeNone, 0, ConfidenceNone},
	}
	for _, tc := range cases {
		if got := ConfidenceFor(tc.matchType, tc.score); got != tc.want {
			t.Errorf("ConfidenceFor(%s, %.2f) = %s, want %s", tc.matchType, tc.score, got, tc.want)
		}
	}
}

func TestReviewTransitions(t *testing.T) {
	allowed := []struct{ from, to string }{
		{ReviewStatusPending, ReviewStatusApproved},
		{ReviewStatusPending, ReviewStatusRejected},
		{ReviewStatusApproved, ReviewStatusPending},
		{ReviewStatusRejected, ReviewStatusPending},
	}
	for _, tr := range allowed {
		if !CanTransitionReview(tr.from, tr.to) {
			t.Errorf("%s -> %s should be allowed", tr.from, tr.to)
		}
	}

	denied := []struct{ from, to string }{
		{ReviewStatusApproved, ReviewStatusRejected},
		{ReviewStatusRejected, ReviewStatusApproved},
		{ReviewStatusPending, ReviewStatusPending},
		{ReviewStatusPending, "archived"},
		{"", ReviewStatusApproved},
	}
	for _, tr := range denied {
		if CanTransitionReview(tr.from, tr.to) {
			t.Errorf("%s -> %s should be denied", tr.from, tr.to)
		}
	}
}

func TestSetReviewRecordsReviewer(t *testing.T) {
	lr := &LinkageResult{ReviewStatus: ReviewStatusPending}
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	if !lr.SetReview(ReviewStatusApproved, "đúng đơn vị", "reviewer-1", now) {
		t.Fatal("pending -> approved rejected")
	}
	if lr.Reviewer != "reviewer-1" || lr.ReviewTimestamp == nil || !lr.ReviewTimestamp.Equal(now) {
		t.Fatalf("review metadata not recorded: %+v", lr)
	}
	if !lr.UpdatedTime.Equal(now) {
		t.Fatal("updated_time must advance with the review")
	}

	// Terminal to terminal is refused and leaves the record untouched.
	if lr.SetReview(ReviewStatusRejected, "", "reviewer-2", now.Add(time.Hour)) {
		t.Fatal("approved -> rejected should be refused")
	}
	if lr.Reviewer != "reviewer-1" {
		t.Fatal("refused transition mutated the record")
	}
}

func TestHasMatch(t *testing.T) {
	if (&LinkageResult{MatchType: MatchTypeNone}).HasMatch() {
		t.Fatal("none result reported a match")
	}
	if (&LinkageResult{MatchType: MatchTypeFuzzyPrefiltered}).HasMatch() {
		t.Fatal("match type without matched_id reported a match")
	}
	if !(&LinkageResult{MatchType: MatchTypeFuzzyPrefiltered, MatchedID: "s-001"}).HasMatch() {
		t.Fatal("matched result not reported")
	}
}
