package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/theimaginaryfoundation/vibe-o-meter/analysis"
	"github.com/theimaginaryfoundation/vibe-o-meter/analysis/fileutils"
	"github.com/theimaginaryfoundation/vibe-o-meter/analysis/provider"
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".heic": true, ".gif": true}

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "vibe-check: %s\n", err.Error())
		os.Exit(1)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.InputPath, "in", cfg.InputPath, "Path to a chat .txt file, a screenshot, or a directory of screenshots/.txt files")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "Analysis mode: local, hybrid or cloud (hybrid/cloud call the enhancement provider)")
	fs.StringVar(&cfg.Provider, "provider", cfg.Provider, "Enhancement provider: none, openai, gemini or remote")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "Model for the enhancement provider (default depends on provider)")
	fs.StringVar(&cfg.Schema, "schema", cfg.Schema, "Enhancement response schema: effort or devotion")
	fs.StringVar(&cfg.APIKey, "api-key", "", "Provider API key (overrides OPENAI_API_KEY / GEMINI_API_KEY)")
	fs.StringVar(&cfg.GeminiAPIKey, "gemini-api-key", "", "Gemini API key used for screenshot OCR (overrides GEMINI_API_KEY)")
	fs.StringVar(&cfg.RemoteURL, "remote-url", cfg.RemoteURL, "Enhance endpoint for -provider remote (e.g. http://localhost:3001/api/analysis/enhance)")
	fs.StringVar(&cfg.OCRModel, "ocr-model", cfg.OCRModel, "Gemini model used for OCR")
	fs.IntVar(&cfg.Retries, "retries", cfg.Retries, "Retries for rate-limited or failed model calls")
	fs.IntVar(&cfg.WindowDays, "window-days", cfg.WindowDays, "Only analyze messages from the last N days")
	fs.IntVar(&cfg.SnippetLines, "snippet-lines", cfg.SnippetLines, "Trailing messages included in the redacted snippet sent for enhancement")
	fs.StringVar(&cfg.Redact, "redact", cfg.Redact, "PII to redact: all, none, or a comma list of emails,phones,addresses,urls,amounts")
	fs.StringVar(&cfg.LexiconPath, "lexicon", cfg.LexiconPath, "Optional YAML lexicon overriding the built-in word lists and weights")
	fs.IntVar(&cfg.OCRConcurrency, "ocr-concurrency", cfg.OCRConcurrency, "Screenshots recognized in parallel")
	fs.StringVar(&cfg.ExportPath, "export", cfg.ExportPath, "Write the export document to this file or directory")
	fs.BoolVar(&cfg.Pretty, "pretty", false, "Pretty-print JSON output")
	fs.BoolVar(&cfg.Overwrite, "overwrite", false, "Overwrite an existing export file")
	fs.BoolVar(&cfg.JSON, "json", false, "Print the full analysis result as JSON instead of a summary")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  %s [flags]\n\nFlags:\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output(), "\nExample:")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/vibe-check -in chat.txt -mode hybrid -provider openai -export exports/")
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.InputPath != "" {
		cfg.InputPath = filepath.Clean(cfg.InputPath)
	}
	return cfg, nil
}

// applyEnv fills API keys the flags left empty.
func applyEnv(cfg *Config) {
	if cfg.APIKey == "" {
		switch strings.ToLower(cfg.Provider) {
		case provider.OpenAI:
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		case provider.Gemini:
			cfg.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}
}

func (c Config) providerConfig() provider.Config {
	schema, _ := analysis.ParseSchemaVariant(c.Schema)
	p := c.Provider
	if mode, _ := analysis.ParseMode(c.Mode); !mode.Enhances() {
		p = provider.None
	}
	return provider.Config{
		Provider:     p,
		Model:        c.Model,
		APIKey:       c.APIKey,
		Schema:       schema,
		RemoteURL:    c.RemoteURL,
		Retries:      c.Retries,
		GeminiAPIKey: c.GeminiAPIKey,
		OCRModel:     c.OCRModel,
	}
}

func run(ctx context.Context, cfg Config, stdout, stderr io.Writer) error {
	mode, _ := analysis.ParseMode(cfg.Mode)
	redaction, _ := parseRedaction(cfg.Redact)
	opts := analysis.Options{Mode: mode, Redaction: redaction, WindowDays: cfg.WindowDays, SnippetLines: cfg.SnippetLines}

	inputs, err := collectInputs(cfg.InputPath)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no .txt or image files found in %s", cfg.InputPath)
	}

	pipeline, err := buildPipeline(ctx, cfg, stderr)
	if err != nil {
		return err
	}

	progress := make(chan analysis.Progress, 16)
	done := make(chan struct{})
	start := time.Now()
	go func() {
		defer close(done)
		for p := range progress {
			fmt.Fprintf(stderr, "progress vibe-check: stage=%s %d%% %s (elapsed=%s)\n",
				p.Stage, p.Percent, p.Message, time.Since(start).Round(time.Millisecond))
		}
	}()

	var result analysis.AnalysisResult
	if len(inputs) == 1 && strings.EqualFold(filepath.Ext(inputs[0]), ".txt") {
		var text []byte
		text, err = os.ReadFile(inputs[0])
		if err == nil {
			result, err = pipeline.AnalyzeText(ctx, string(text), opts, progress)
		}
	} else {
		var images []analysis.Image
		images, err = readImages(inputs)
		if err == nil {
			result, err = pipeline.AnalyzeImages(ctx, images, opts, progress)
		}
	}
	close(progress)
	<-done
	if err != nil {
		return err
	}

	if err := printResult(stdout, result, cfg); err != nil {
		return err
	}
	if cfg.ExportPath != "" {
		path, err := writeExport(cfg, result, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "export=%s\n", path)
	}
	return nil
}

func buildPipeline(ctx context.Context, cfg Config, stderr io.Writer) (*analysis.Pipeline, error) {
	lex, err := analysis.LoadLexicon(cfg.LexiconPath)
	if err != nil {
		return nil, err
	}
	extractor, err := analysis.NewExtractor(lex)
	if err != nil {
		return nil, err
	}
	scorer, err := analysis.NewScorer(lex.Scoring)
	if err != nil {
		return nil, err
	}

	pcfg := cfg.providerConfig()
	enhancer, err := provider.NewEnhancer(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	recognizer, err := provider.NewRecognizer(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	return analysis.NewPipeline(analysis.PipelineConfig{
		Extractor:      extractor,
		Scorer:         scorer,
		Enhancer:       enhancer,
		Recognizer:     recognizer,
		Logger:         log.New(stderr, "vibe-check: ", log.LstdFlags),
		OCRConcurrency: cfg.OCRConcurrency,
	})
}

func collectInputs(inputPath string) ([]string, error) {
	fi, err := os.Stat(inputPath)
	if err != nil {
		return nil, fmt.Errorf("stat -in: %w", err)
	}

	if !fi.IsDir() {
		if !isSupportedInput(inputPath) {
			return nil, fmt.Errorf("input file must be .txt or an image: %s", inputPath)
		}
		return []string{inputPath}, nil
	}

	entries, err := os.ReadDir(inputPath)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !isSupportedInput(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("read dir entry info %s: %w", e.Name(), err)
		}
		if info.Mode()&fs.ModeType != 0 {
			continue
		}
		files = append(files, filepath.Join(inputPath, e.Name()))
	}
	// Screenshots are usually numbered in scroll order.
	sort.Strings(files)
	return files, nil
}

func isSupportedInput(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".txt" || imageExts[ext]
}

func readImages(paths []string) ([]analysis.Image, error) {
	images := make([]analysis.Image, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		images = append(images, analysis.Image{Name: filepath.Base(p), MIMEType: mimeTypeFor(p, data), Data: data})
	}
	return images, nil
}

func mimeTypeFor(path string, data []byte) string {
	if strings.EqualFold(filepath.Ext(path), ".txt") {
		return "text/plain; charset=utf-8"
	}
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func printResult(w io.Writer, result analysis.AnalysisResult, cfg Config) error {
	if cfg.JSON {
		enc := json.NewEncoder(w)
		if cfg.Pretty {
			enc.SetIndent("", "  ")
		}
		return enc.Encode(result)
	}

	fmt.Fprintf(w, "id=%s messages=%d local_score=%d final_score=%d", result.ID, result.MessageCount, result.LocalScore, result.FinalScore)
	if result.LLMScore != nil {
		fmt.Fprintf(w, " llm_score=%d", *result.LLMScore)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, result.Explanation)
	for _, c := range result.Contributions {
		if c.Contribution == 0 {
			continue
		}
		fmt.Fprintf(w, "  %+4d  %s\n", c.Contribution, c.Label)
	}
	for i, s := range result.Suggestions {
		fmt.Fprintf(w, "%d. %s\n", i+1, s)
	}
	return nil
}

// writeExport writes the export document. A directory (existing, or a path ending in a separator)
// gets the default export file name.
func writeExport(cfg Config, result analysis.AnalysisResult, now time.Time) (string, error) {
	path := cfg.ExportPath
	if fi, err := os.Stat(path); (err == nil && fi.IsDir()) || strings.HasSuffix(path, string(os.PathSeparator)) {
		path = filepath.Join(path, analysis.ExportFileName(now))
	}
	if err := fileutils.WriteJSONFileAtomic(path, analysis.NewExportRecord(result, now), cfg.Pretty, cfg.Overwrite); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}
