package analysis

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewExportRecord(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 10, 18, 30, 0, 0, time.FixedZone("PDT", -7*3600))
	res := AnalysisResult{
		LocalScore:  70,
		FinalScore:  74,
		Explanation: "Steady and warm.",
		Suggestions: []string{"a", "b", "c"},
		Features:    uniformFeatures(70),
	}
	rec := NewExportRecord(res, now)
	if rec.Score != 74 || rec.Timestamp != "2024-05-11T01:30:00Z" {
		t.Fatalf("rec=%+v", rec)
	}

	rec.Suggestions[0] = "changed"
	if res.Suggestions[0] != "a" {
		t.Fatalf("export shares the suggestions slice")
	}

	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, k := range []string{"score", "explanation", "suggestions", "features", "timestamp"} {
		if _, ok := decoded[k]; !ok {
			t.Fatalf("missing key %q in %s", k, b)
		}
	}
}

func TestExportFileName(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1715365800123)
	if got := ExportFileName(now); got != "vibe-o-meter-analysis-1715365800123.json" {
		t.Fatalf("got=%q", got)
	}
}
