package model

import (
	"log/slog"
	"time"

	"github.com/secmon-lab/cyberscope/pkg/domain/types"
)

// CycleReport summarizes one ingestion cycle
type CycleReport struct {
	CycleID            types.CycleID
	StartedAt          time.Time
	FinishedAt         time.Time
	Fetched            int
	Normalized         int
	Rejected           int
	NewOrUpdated       int
	EnrichmentsQueued  int
	CheckpointAdvanced bool
}

// LogValue returns structured log value
func (r CycleReport) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("cycleID", r.CycleID.String()),
		slog.Int("fetched", r.Fetched),
		slog.Int("normalized", r.Normalized),
		slog.Int("rejected", r.Rejected),
		slog.Int("newOrUpdated", r.NewOrUpdated),
		slog.Int("enrichmentsQueued", r.EnrichmentsQueued),
		slog.Bool("checkpointAdvanced", r.CheckpointAdvanced),
	)
}
