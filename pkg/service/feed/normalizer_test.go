package feed_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/cyberscope/pkg/domain/model"
	"github.com/secmon-lab/cyberscope/pkg/domain/types"
	"github.com/secmon-lab/cyberscope/pkg/service/feed"
)

func TestNormalize(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	raw := model.RawRecord{
		ID:          "CVE-2024-0001",
		Title:       "Buffer overflow in parser.",
		Description: "Buffer overflow in parser. Remote attackers can execute arbitrary code.",
		SeverityRaw: "9.8",
		Published:   "2024-05-28T10:00:00.000",
		Modified:    "2024-05-30T08:30:00.000",
		Source:      "NVD",
	}

	threat, err := feed.Normalize(raw, now)
	gt.NoError(t, err)
	gt.Equal(t, threat.ID, types.ThreatID("CVE-2024-0001"))
	gt.Equal(t, threat.SeverityScore, 9.8)
	gt.Equal(t, threat.SeverityTier, types.SeverityCritical)
	gt.Equal(t, threat.PublishedAt, time.Date(2024, 5, 28, 10, 0, 0, 0, time.UTC))
	gt.Equal(t, threat.ModifiedAt, time.Date(2024, 5, 30, 8, 30, 0, 0, time.UTC))
	gt.Equal(t, threat.IngestedAt, now)
}

func TestNormalize_Deterministic(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	raw := model.RawRecord{
		ID:          "CVE-2024-0002",
		Title:       "Title",
		Description: "desc",
		SeverityRaw: "5.5",
		Published:   "2024-05-28T10:00:00Z",
		Source:      "NVD",
	}

	first, err := feed.Normalize(raw, now)
	gt.NoError(t, err)
	second, err := feed.Normalize(raw, now)
	gt.NoError(t, err)
	gt.Equal(t, first, second)
}

func TestNormalize_Defaults(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("title defaults to ID", func(t *testing.T) {
		raw := model.RawRecord{
			ID:          "CVE-2024-0003",
			SeverityRaw: "5.0",
			Published:   "2024-05-28T10:00:00Z",
			Source:      "NVD",
		}
		threat, err := feed.Normalize(raw, now)
		gt.NoError(t, err)
		gt.Equal(t, threat.Title, "CVE-2024-0003")
	})

	t.Run("modified defaults to published", func(t *testing.T) {
		raw := model.RawRecord{
			ID:          "CVE-2024-0004",
			Title:       "Title",
			SeverityRaw: "5.0",
			Published:   "2024-05-28T10:00:00Z",
			Source:      "NVD",
		}
		threat, err := feed.Normalize(raw, now)
		gt.NoError(t, err)
		gt.Equal(t, threat.ModifiedAt, threat.PublishedAt)
	})
}

func TestNormalize_Rejects(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name string
		raw  model.RawRecord
	}{
		{
			name: "missing ID",
			raw: model.RawRecord{
				SeverityRaw: "5.0",
				Published:   "2024-05-28T10:00:00Z",
			},
		},
		{
			name: "unparseable severity",
			raw: model.RawRecord{
				ID:          "CVE-2024-0005",
				SeverityRaw: "critical",
				Published:   "2024-05-28T10:00:00Z",
			},
		},
		{
			name: "severity out of range",
			raw: model.RawRecord{
				ID:          "CVE-2024-0006",
				SeverityRaw: "11.0",
				Published:   "2024-05-28T10:00:00Z",
			},
		},
		{
			name: "unparseable published timestamp",
			raw: model.RawRecord{
				ID:          "CVE-2024-0007",
				SeverityRaw: "5.0",
				Published:   "last tuesday",
			},
		},
		{
			name: "unparseable modified timestamp",
			raw: model.RawRecord{
				ID:          "CVE-2024-0008",
				SeverityRaw: "5.0",
				Published:   "2024-05-28T10:00:00Z",
				Modified:    "not a time",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := feed.Normalize(tc.raw, now)
			gt.Error(t, err)
			gt.B(t, goerr.HasTag(err, model.ErrTagRecordRejected)).True()
		})
	}
}
