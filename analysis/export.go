package analysis

import (
	"fmt"
	"time"
)

// ExportRecord is the downloadable summary of an analysis.
type ExportRecord struct {
	Score       int                  `json:"score"`
	Explanation string               `json:"explanation"`
	Suggestions []string             `json:"suggestions"`
	Features    ConversationFeatures `json:"features"`
	Timestamp   string               `json:"timestamp"`
}

// NewExportRecord captures the final score and narrative of result at time now.
func NewExportRecord(result AnalysisResult, now time.Time) ExportRecord {
	return ExportRecord{
		Score:       result.FinalScore,
		Explanation: result.Explanation,
		Suggestions: append([]string(nil), result.Suggestions...),
		Features:    result.Features,
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
}

// ExportFileName is the suggested download name for an export taken at now.
func ExportFileName(now time.Time) string {
	return fmt.Sprintf("vibe-o-meter-analysis-%d.json", now.UnixMilli())
}
