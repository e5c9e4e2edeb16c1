package feed

import (
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/cyberscope/pkg/domain/model"
	"github.com/secmon-lab/cyberscope/pkg/domain/types"
)

// Normalize converts a raw feed record into the canonical Threat
// entity. It is deterministic: the same input always yields the same
// threat, with the supplied now used only for the ingestion timestamp
// and as the default when the modified timestamp is absent.
//
// A malformed record yields a record_rejected error so that one bad
// record never aborts an ingestion cycle.
func Normalize(raw model.RawRecord, now time.Time) (*model.Threat, error) {
	if raw.ID == "" {
		return nil, goerr.New("record has no identifier",
			goerr.T(model.ErrTagRecordRejected))
	}

	severity, err := strconv.ParseFloat(strings.TrimSpace(raw.SeverityRaw), 64)
	if err != nil {
		return nil, goerr.Wrap(err, "record has unparseable severity score",
			goerr.T(model.ErrTagRecordRejected),
			goerr.V("id", raw.ID),
			goerr.V("severity", raw.SeverityRaw))
	}
	if severity < 0 || severity > 10 {
		return nil, goerr.New("severity score out of range",
			goerr.T(model.ErrTagRecordRejected),
			goerr.V("id", raw.ID),
			goerr.V("severity", severity))
	}

	published, err := parseFeedTime(raw.Published)
	if err != nil {
		return nil, goerr.Wrap(err, "record has unparseable published timestamp",
			goerr.T(model.ErrTagRecordRejected),
			goerr.V("id", raw.ID),
			goerr.V("published", raw.Published))
	}

	modified := published
	if raw.Modified != "" {
		modified, err = parseFeedTime(raw.Modified)
		if err != nil {
			return nil, goerr.Wrap(err, "record has unparseable modified timestamp",
				goerr.T(model.ErrTagRecordRejected),
				goerr.V("id", raw.ID),
				goerr.V("modified", raw.Modified))
		}
	}

	title := strings.TrimSpace(raw.Title)
	if title == "" {
		title = raw.ID
	}

	return model.NewThreat(
		types.ThreatID(raw.ID),
		title,
		strings.TrimSpace(raw.Description),
		severity,
		published,
		modified,
		raw.Source,
		now,
	)
}

// parseFeedTime accepts the timestamp shapes seen across disclosure
// feeds: RFC3339 with or without zone, and NVD's millisecond form.
func parseFeedTime(value string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, goerr.New("unsupported timestamp format", goerr.V("value", value))
}
