package analysis

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
)

// Enhancer asks an external model for a second opinion on the features and redacted snippet.
// Implementations must return a validated Enhancement.
type Enhancer interface {
	Enhance(ctx context.Context, req EnhanceRequest) (Enhancement, error)
}

// TextRecognizer extracts chat text from a screenshot.
type TextRecognizer interface {
	Recognize(ctx context.Context, img Image) (string, error)
}

// Image is one uploaded screenshot (or plain text dump).
type Image struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Stage is a processing phase. Stages only move forward.
type Stage string

const (
	StageUploading Stage = "uploading"
	StageOCR       Stage = "ocr"
	StageParsing   Stage = "parsing"
	StageAnalyzing Stage = "analyzing"
	StageComplete  Stage = "complete"
)

var stageOrder = map[Stage]int{
	StageUploading: 0,
	StageOCR:       1,
	StageParsing:   2,
	StageAnalyzing: 3,
	StageComplete:  4,
}

// Progress is one status update emitted while a pipeline runs.
type Progress struct {
	Stage   Stage  `json:"stage"`
	Percent int    `json:"progress"`
	Message string `json:"message,omitempty"`
}

// Options are per-run settings.
type Options struct {
	Mode         Mode
	Redaction    RedactionOptions
	WindowDays   int
	SnippetLines int
}

// DefaultOptions is local-only analysis over 30 days with every redaction category on.
func DefaultOptions() Options {
	return Options{
		Mode:         ModeLocal,
		Redaction:    DefaultRedactionOptions(),
		WindowDays:   DefaultWindowDays,
		SnippetLines: DefaultSnippetLines,
	}
}

// PipelineConfig wires a Pipeline. Nil parser, extractor and scorer fall back to the
// embedded lexicon; a nil Enhancer disables enhancement; a nil Recognizer disables images.
type PipelineConfig struct {
	Parser         *Parser
	Extractor      *Extractor
	Scorer         *Scorer
	Enhancer       Enhancer
	Recognizer     TextRecognizer
	Logger         *log.Logger
	OCRConcurrency int
}

// Pipeline runs OCR, parsing, deduplication, redaction, feature extraction, scoring and the
// optional model enhancement. Runs share no mutable state.
type Pipeline struct {
	parser         *Parser
	extractor      *Extractor
	scorer         *Scorer
	enhancer       Enhancer
	recognizer     TextRecognizer
	logger         *log.Logger
	ocrConcurrency int

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	p := &Pipeline{
		parser:         cfg.Parser,
		extractor:      cfg.Extractor,
		scorer:         cfg.Scorer,
		enhancer:       cfg.Enhancer,
		recognizer:     cfg.Recognizer,
		logger:         cfg.Logger,
		ocrConcurrency: cfg.OCRConcurrency,
		entropy:        ulid.Monotonic(rand.Reader, 0),
	}
	if p.parser == nil {
		p.parser = NewParser()
	}
	if p.extractor == nil || p.scorer == nil {
		lex := DefaultLexicon()
		if p.extractor == nil {
			e, err := NewExtractor(lex)
			if err != nil {
				return nil, fmt.Errorf("NewPipeline: %w", err)
			}
			p.extractor = e
		}
		if p.scorer == nil {
			s, err := NewScorer(DefaultScoringTable())
			if err != nil {
				return nil, fmt.Errorf("NewPipeline: %w", err)
			}
			p.scorer = s
		}
	}
	if p.logger == nil {
		p.logger = log.Default()
	}
	if p.ocrConcurrency <= 0 {
		p.ocrConcurrency = 4
	}
	return p, nil
}

// AnalyzeText runs the pipeline over pasted chat text. Progress updates are sent on progress
// when it is non-nil; the caller owns the channel.
func (p *Pipeline) AnalyzeText(ctx context.Context, text string, opts Options, progress chan<- Progress) (AnalysisResult, error) {
	if strings.TrimSpace(text) == "" {
		return AnalysisResult{}, invalidInputf("AnalyzeText: conversation text is empty")
	}
	r := newReporter(ctx, progress)
	if err := r.emit(StageUploading, 100, "Conversation received"); err != nil {
		return AnalysisResult{}, err
	}
	if err := r.emit(StageParsing, 0, "Parsing messages"); err != nil {
		return AnalysisResult{}, err
	}
	messages := p.parser.Parse(text)
	if err := r.emit(StageParsing, 100, fmt.Sprintf("Parsed %d messages", len(messages))); err != nil {
		return AnalysisResult{}, err
	}
	return p.analyze(ctx, messages, opts, r)
}

// AnalyzeImages recognizes every image (concurrently, results kept in input order), then
// parses, deduplicates and analyzes the combined text. Any recognition failure aborts the run.
func (p *Pipeline) AnalyzeImages(ctx context.Context, images []Image, opts Options, progress chan<- Progress) (AnalysisResult, error) {
	if len(images) == 0 {
		return AnalysisResult{}, invalidInputf("AnalyzeImages: no images")
	}
	if p.recognizer == nil {
		return AnalysisResult{}, fmt.Errorf("AnalyzeImages: %w", ErrNoRecognizer)
	}
	r := newReporter(ctx, progress)
	if err := r.emit(StageUploading, 100, fmt.Sprintf("Received %d images", len(images))); err != nil {
		return AnalysisResult{}, err
	}
	if err := r.emit(StageOCR, 0, "Reading screenshots"); err != nil {
		return AnalysisResult{}, err
	}

	texts := make([]string, len(images))
	var done atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.ocrConcurrency)
	for i, img := range images {
		g.Go(func() error {
			text, err := p.recognizer.Recognize(gctx, img)
			if err != nil {
				return fmt.Errorf("AnalyzeImages: recognize %s: %w", imageLabel(img, i), err)
			}
			texts[i] = text
			n := int(done.Add(1))
			return r.emit(StageOCR, percentOf(n, len(images)), fmt.Sprintf("Processed %d of %d images", n, len(images)))
		})
	}
	if err := g.Wait(); err != nil {
		return AnalysisResult{}, err
	}

	if err := r.emit(StageParsing, 0, "Parsing messages"); err != nil {
		return AnalysisResult{}, err
	}
	var all []Message
	for i, text := range texts {
		all = append(all, p.parser.Parse(text)...)
		if err := r.emit(StageParsing, percentOf(i+1, len(texts)), ""); err != nil {
			return AnalysisResult{}, err
		}
	}
	return p.analyze(ctx, RemoveDuplicates(all), opts, r)
}

func (p *Pipeline) analyze(ctx context.Context, messages []Message, opts Options, r *reporter) (AnalysisResult, error) {
	redacted := NewRedactor(opts.Redaction).RedactAll(messages)

	if err := r.emit(StageAnalyzing, 0, "Extracting features"); err != nil {
		return AnalysisResult{}, err
	}
	features := p.extractor.Extract(redacted, opts.WindowDays)
	if err := r.emit(StageAnalyzing, 50, "Scoring"); err != nil {
		return AnalysisResult{}, err
	}
	result := p.scorer.Score(features, redacted)
	if err := r.emit(StageAnalyzing, 75, ""); err != nil {
		return AnalysisResult{}, err
	}

	if opts.Mode.Enhances() && p.enhancer != nil {
		result = p.enhance(ctx, result, redacted, opts)
	}
	result.ID = p.newID()

	if err := r.emit(StageAnalyzing, 100, ""); err != nil {
		return AnalysisResult{}, err
	}
	if err := r.emit(StageComplete, 100, "Analysis complete"); err != nil {
		return AnalysisResult{}, err
	}
	return result, nil
}

// enhance blends the model opinion in. Failures are logged and the local result is kept.
func (p *Pipeline) enhance(ctx context.Context, local AnalysisResult, redacted RedactedMessages, opts Options) AnalysisResult {
	req := EnhanceRequest{Features: local.Features, RedactedSnippet: CreateSnippet(redacted, opts.SnippetLines)}
	enh, err := p.enhancer.Enhance(ctx, req)
	if err != nil {
		p.logger.Printf("warning: AI enhancement failed, using local analysis only: %v", err)
		return local
	}
	blended, err := Blend(local, enh)
	if err != nil {
		p.logger.Printf("warning: AI enhancement unusable, using local analysis only: %v", err)
		return local
	}
	return blended
}

func (p *Pipeline) newID() string {
	p.idMu.Lock()
	defer p.idMu.Unlock()
	return ulid.MustNew(ulid.Now(), p.entropy).String()
}

func imageLabel(img Image, i int) string {
	if img.Name != "" {
		return img.Name
	}
	return fmt.Sprintf("image %d", i+1)
}

func percentOf(n, total int) int {
	if total <= 0 {
		return 100
	}
	return roundHalfUp(float64(n) / float64(total) * 100)
}

// reporter serializes progress updates and drops any that would move backwards.
type reporter struct {
	ctx     context.Context
	ch      chan<- Progress
	mu      sync.Mutex
	stage   int
	percent int
	started bool
}

func newReporter(ctx context.Context, ch chan<- Progress) *reporter {
	return &reporter{ctx: ctx, ch: ch}
}

func (r *reporter) emit(stage Stage, percent int, message string) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	if r.ch == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ord := stageOrder[stage]
	if r.started && (ord < r.stage || (ord == r.stage && percent < r.percent)) {
		return nil
	}
	r.started = true
	r.stage, r.percent = ord, percent

	select {
	case r.ch <- Progress{Stage: stage, Percent: percent, Message: message}:
		return nil
	case <-r.ctx.Done():
		return r.ctx.Err()
	}
}
