package analysis

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
)

type fakeEnhancer struct {
	mu    sync.Mutex
	calls []EnhanceRequest
	enh   Enhancement
	err   error
}

func (f *fakeEnhancer) Enhance(_ context.Context, req EnhanceRequest) (Enhancement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.enh, f.err
}

func (f *fakeEnhancer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRecognizer struct {
	texts map[string]string
}

func (f fakeRecognizer) Recognize(_ context.Context, img Image) (string, error) {
	text, ok := f.texts[img.Name]
	if !ok {
		return "", errors.New("unreadable screenshot")
	}
	return text, nil
}

func effortEnhancement(score int) Enhancement {
	return Enhancement{Variant: SchemaEffort, Effort: &EffortResponse{
		Score: score, Explanation: "Model says warm.", EffortBalance: "even", Initiator: "You",
		Trend: "stable", BalanceMeter: 50, Suggestions: []string{"s1", "s2", "s3"},
	}}
}

func newTestPipeline(t *testing.T, cfg PipelineConfig) (*Pipeline, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	cfg.Logger = log.New(&logs, "", 0)
	if cfg.Parser == nil {
		cfg.Parser = NewParser(WithClock(fixedClock))
	}
	if cfg.Extractor == nil {
		cfg.Extractor = newTestExtractor(t)
	}
	p, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p, &logs
}

func hybridOptions() Options {
	opts := DefaultOptions()
	opts.Mode = ModeHybrid
	return opts
}

const pipelineChat = "A: email me at jane@example.com\nB: sure thing, love you"

func TestAnalyzeText_LocalModeNeverEnhances(t *testing.T) {
	t.Parallel()

	enh := &fakeEnhancer{enh: effortEnhancement(90)}
	p, _ := newTestPipeline(t, PipelineConfig{Enhancer: enh})

	res, err := p.AnalyzeText(context.Background(), pipelineChat, DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("AnalyzeText: %v", err)
	}
	if enh.callCount() != 0 {
		t.Fatalf("enhancer called %d times in local mode", enh.callCount())
	}
	if res.LLMScore != nil || res.FinalScore != res.LocalScore {
		t.Fatalf("res=%+v", res)
	}
	if res.MessageCount != 2 || len(res.ID) != 26 {
		t.Fatalf("MessageCount=%d ID=%q", res.MessageCount, res.ID)
	}
}

func TestAnalyzeText_HybridBlendsAndRedactsSnippet(t *testing.T) {
	t.Parallel()

	enh := &fakeEnhancer{enh: effortEnhancement(90)}
	p, _ := newTestPipeline(t, PipelineConfig{Enhancer: enh})

	res, err := p.AnalyzeText(context.Background(), pipelineChat, hybridOptions(), nil)
	if err != nil {
		t.Fatalf("AnalyzeText: %v", err)
	}
	if enh.callCount() != 1 {
		t.Fatalf("calls=%d, want 1", enh.callCount())
	}
	snippet := enh.calls[0].RedactedSnippet
	if strings.Contains(snippet, "jane@example.com") || !strings.Contains(snippet, PlaceholderEmail) {
		t.Fatalf("snippet not redacted: %q", snippet)
	}
	if snippet != "A: email me at [EMAIL]\nB: sure thing, love you" {
		t.Fatalf("snippet=%q", snippet)
	}
	if res.LLMScore == nil || *res.LLMScore != 90 {
		t.Fatalf("LLMScore=%v", res.LLMScore)
	}
	want := roundHalfUp(float64(res.LocalScore)*0.6 + 90*0.4)
	if res.FinalScore != want {
		t.Fatalf("FinalScore=%d, want %d", res.FinalScore, want)
	}
	if res.Explanation != "Model says warm." || res.Suggestions[0] != "s1" {
		t.Fatalf("res=%+v", res)
	}
}

func TestAnalyzeText_EnhancementFailureFallsBackToLocal(t *testing.T) {
	t.Parallel()

	enh := &fakeEnhancer{err: ErrRateLimited}
	p, logs := newTestPipeline(t, PipelineConfig{Enhancer: enh})

	res, err := p.AnalyzeText(context.Background(), pipelineChat, hybridOptions(), nil)
	if err != nil {
		t.Fatalf("AnalyzeText: %v", err)
	}
	if res.LLMScore != nil || res.FinalScore != res.LocalScore || len(res.Suggestions) != 3 {
		t.Fatalf("res=%+v", res)
	}
	if !strings.Contains(logs.String(), "warning") {
		t.Fatalf("expected a warning log, got %q", logs.String())
	}
}

func TestAnalyzeText_ProgressMovesForward(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, PipelineConfig{})
	progress := make(chan Progress, 64)
	if _, err := p.AnalyzeText(context.Background(), pipelineChat, DefaultOptions(), progress); err != nil {
		t.Fatalf("AnalyzeText: %v", err)
	}
	close(progress)

	var events []Progress
	for ev := range progress {
		events = append(events, ev)
	}
	assertForwardProgress(t, events)
	if events[0].Stage != StageUploading {
		t.Fatalf("first stage=%s", events[0].Stage)
	}
}

func assertForwardProgress(t *testing.T, events []Progress) {
	t.Helper()
	if len(events) == 0 {
		t.Fatalf("no progress events")
	}
	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1], events[i]
		if stageOrder[cur.Stage] < stageOrder[prev.Stage] ||
			(cur.Stage == prev.Stage && cur.Percent < prev.Percent) {
			t.Fatalf("progress moved backwards: %+v then %+v", prev, cur)
		}
	}
	last := events[len(events)-1]
	if last.Stage != StageComplete || last.Percent != 100 {
		t.Fatalf("last=%+v", last)
	}
}

func TestAnalyzeText_EmptyInput(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, PipelineConfig{})
	_, err := p.AnalyzeText(context.Background(), "   \n", DefaultOptions(), nil)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v, want ErrInvalidInput", err)
	}
}

func TestAnalyzeText_Canceled(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, PipelineConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.AnalyzeText(ctx, pipelineChat, DefaultOptions(), nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}

func TestAnalyzeImages_DedupesAcrossScreenshots(t *testing.T) {
	t.Parallel()

	rec := fakeRecognizer{texts: map[string]string{
		"1.png": "A: see you at eight tonight\nB: sounds great",
		"2.png": "B: sounds great\nA: can't wait",
		"3.png": "A: can't wait\nB: me neither",
	}}
	p, _ := newTestPipeline(t, PipelineConfig{Recognizer: rec, OCRConcurrency: 2})
	images := []Image{{Name: "1.png"}, {Name: "2.png"}, {Name: "3.png"}}

	progress := make(chan Progress, 64)
	res, err := p.AnalyzeImages(context.Background(), images, DefaultOptions(), progress)
	if err != nil {
		t.Fatalf("AnalyzeImages: %v", err)
	}
	close(progress)

	if res.MessageCount != 4 {
		t.Fatalf("MessageCount=%d, want 4", res.MessageCount)
	}
	if res.Features.MsgCountA != 2 || res.Features.MsgCountB != 2 {
		t.Fatalf("counts=%d/%d", res.Features.MsgCountA, res.Features.MsgCountB)
	}

	var events []Progress
	sawOCR := false
	for ev := range progress {
		events = append(events, ev)
		sawOCR = sawOCR || ev.Stage == StageOCR
	}
	assertForwardProgress(t, events)
	if !sawOCR {
		t.Fatalf("no OCR progress in %+v", events)
	}
}

func TestAnalyzeImages_RecognitionFailureAborts(t *testing.T) {
	t.Parallel()

	rec := fakeRecognizer{texts: map[string]string{"ok.png": "A: hi"}}
	p, _ := newTestPipeline(t, PipelineConfig{Recognizer: rec})
	_, err := p.AnalyzeImages(context.Background(), []Image{{Name: "ok.png"}, {Name: "blurry.png"}}, DefaultOptions(), nil)
	if err == nil || !strings.Contains(err.Error(), "blurry.png") {
		t.Fatalf("err=%v", err)
	}
}

func TestAnalyzeImages_RequiresRecognizer(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, PipelineConfig{})
	if _, err := p.AnalyzeImages(context.Background(), []Image{{Name: "x.png"}}, DefaultOptions(), nil); !errors.Is(err, ErrNoRecognizer) {
		t.Fatalf("err=%v, want ErrNoRecognizer", err)
	}
	if _, err := p.AnalyzeImages(context.Background(), nil, DefaultOptions(), nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v, want ErrInvalidInput", err)
	}
}
