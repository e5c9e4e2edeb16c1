package model_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/cyberscope/pkg/domain/model"
	"github.com/secmon-lab/cyberscope/pkg/domain/types"
)

func TestNewThreat_DerivesTier(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	published := now.Add(-48 * time.Hour)

	testCases := []struct {
		name  string
		score float64
		tier  types.SeverityTier
	}{
		{"critical boundary", 9.0, types.SeverityCritical},
		{"just below critical", 8.9, types.SeverityHigh},
		{"high boundary", 7.0, types.SeverityHigh},
		{"just below high", 6.9, types.SeverityMedium},
		{"medium boundary", 4.0, types.SeverityMedium},
		{"just below medium", 3.9, types.SeverityLow},
		{"zero", 0.0, types.SeverityLow},
		{"max", 10.0, types.SeverityCritical},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			threat, err := model.NewThreat("CVE-2024-0001", "Test threat", "desc", tc.score, published, published, "NVD", now)
			gt.NoError(t, err)
			gt.Equal(t, threat.SeverityTier, tc.tier)
		})
	}
}

func TestThreat_Validate(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	published := now.Add(-48 * time.Hour)

	t.Run("missing ID", func(t *testing.T) {
		_, err := model.NewThreat("", "Title", "desc", 5.0, published, published, "NVD", now)
		gt.Error(t, err)
	})

	t.Run("missing title", func(t *testing.T) {
		_, err := model.NewThreat("CVE-2024-0001", "", "desc", 5.0, published, published, "NVD", now)
		gt.Error(t, err)
	})

	t.Run("severity out of range", func(t *testing.T) {
		_, err := model.NewThreat("CVE-2024-0001", "Title", "desc", 10.1, published, published, "NVD", now)
		gt.Error(t, err)

		_, err = model.NewThreat("CVE-2024-0001", "Title", "desc", -0.1, published, published, "NVD", now)
		gt.Error(t, err)
	})

	t.Run("zero published timestamp", func(t *testing.T) {
		_, err := model.NewThreat("CVE-2024-0001", "Title", "desc", 5.0, time.Time{}, published, "NVD", now)
		gt.Error(t, err)
	})

	t.Run("tier mismatch", func(t *testing.T) {
		threat, err := model.NewThreat("CVE-2024-0001", "Title", "desc", 5.0, published, published, "NVD", now)
		gt.NoError(t, err)
		threat.SeverityTier = types.SeverityCritical
		gt.Error(t, threat.Validate())
	})
}

func TestThreat_SupersededBy(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	base, err := model.NewThreat("CVE-2024-0001", "Title", "desc", 5.0, now.Add(-72*time.Hour), now.Add(-24*time.Hour), "NVD", now)
	gt.NoError(t, err)

	t.Run("strictly newer revision supersedes", func(t *testing.T) {
		newer := *base
		newer.ModifiedAt = base.ModifiedAt.Add(time.Second)
		gt.B(t, base.SupersededBy(&newer)).True()
	})

	t.Run("equal timestamp is a no-op", func(t *testing.T) {
		same := *base
		gt.B(t, base.SupersededBy(&same)).False()
	})

	t.Run("older revision is a no-op", func(t *testing.T) {
		older := *base
		older.ModifiedAt = base.ModifiedAt.Add(-time.Second)
		gt.B(t, base.SupersededBy(&older)).False()
	})

	t.Run("nil other", func(t *testing.T) {
		gt.B(t, base.SupersededBy(nil)).False()
	})
}

func TestThreat_AgeInDays(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	threat := &model.Threat{PublishedAt: now.AddDate(0, 0, -10)}
	gt.Equal(t, threat.AgeInDays(now), 10)

	fresh := &model.Threat{PublishedAt: now}
	gt.Equal(t, fresh.AgeInDays(now), 0)

	future := &model.Threat{PublishedAt: now.Add(time.Hour)}
	gt.Equal(t, future.AgeInDays(now), 0)
}

func TestEnrichment_Covers(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	e := model.NewPendingEnrichment("CVE-2024-0001", "buffer overflow in parser", now)

	gt.B(t, e.Covers("buffer overflow in parser")).True()
	gt.B(t, e.Covers("buffer overflow in parser, updated")).False()
}

func TestEnrichment_Validate(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("pending without summary is valid", func(t *testing.T) {
		e := model.NewPendingEnrichment("CVE-2024-0001", "desc", now)
		gt.NoError(t, e.Validate())
	})

	t.Run("terminal without summary is invalid", func(t *testing.T) {
		e := model.NewPendingEnrichment("CVE-2024-0001", "desc", now)
		e.Status = types.EnrichmentComplete
		gt.Error(t, e.Validate())
	})

	t.Run("missing threat ID", func(t *testing.T) {
		e := model.NewPendingEnrichment("", "desc", now)
		gt.Error(t, e.Validate())
	})
}

func TestRiskPolicy_Validate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		policy := model.DefaultRiskPolicy()
		gt.NoError(t, policy.Validate())
	})

	t.Run("cutoffs must be strictly decreasing", func(t *testing.T) {
		policy := model.DefaultRiskPolicy()
		policy.HighCutoff = policy.CriticalCutoff
		gt.Error(t, policy.Validate())
	})

	t.Run("floor ratio bounds", func(t *testing.T) {
		policy := model.DefaultRiskPolicy()
		policy.FloorRatio = 1.5
		gt.Error(t, policy.Validate())
	})

	t.Run("boost below one", func(t *testing.T) {
		policy := model.DefaultRiskPolicy()
		policy.TrendingBoost = 0.9
		gt.Error(t, policy.Validate())
	})
}
