package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/theimaginaryfoundation/vibe-o-meter/analysis"
	"github.com/theimaginaryfoundation/vibe-o-meter/analysis/provider"
)

// server holds the shared collaborators. Per-request state lives in the handlers.
type server struct {
	cfg        Config
	pipeline   *analysis.Pipeline
	enhancer   analysis.Enhancer
	recognizer analysis.TextRecognizer
	logger     *log.Logger
	origins    originPolicy
	limiter    *rateLimiter
	now        func() time.Time
}

type analyzeRequest struct {
	Text         string                     `json:"text"`
	Mode         string                     `json:"mode"`
	WindowDays   int                        `json:"windowDays"`
	SnippetLines int                        `json:"snippetLines"`
	Redaction    *analysis.RedactionOptions `json:"redaction"`
}

type redactPreviewRequest struct {
	Text      string                     `json:"text"`
	Redaction *analysis.RedactionOptions `json:"redaction"`
}

func (s *server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.LoggerWithWriter(s.logger.Writer()), gin.Recovery(), corsMiddleware(s.origins))

	r.GET("/health", s.handleHealth)

	api := r.Group("/api", s.limiter.middleware())
	a := api.Group("/analysis")
	{
		a.POST("/enhance", bodyLimit(s.cfg.MaxBodyBytes), s.handleEnhance)
		a.POST("/analyze", bodyLimit(s.cfg.MaxBodyBytes), s.handleAnalyze)
		a.POST("/analyze-images", bodyLimit(s.cfg.MaxUploadBytes), s.handleAnalyzeImages)
		a.POST("/redact-preview", bodyLimit(s.cfg.MaxBodyBytes), s.handleRedactPreview)
		a.POST("/export", bodyLimit(s.cfg.MaxBodyBytes), s.handleExport)
		a.GET("/stream", s.handleStream)
		if s.cfg.isDevelopment() {
			a.GET("/test", s.handleTest)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	return r
}

func (s *server) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func (s *server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": s.timestamp()})
}

func (s *server) handleTest(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":       "Analysis API is working",
		"llmConfigured": s.enhancer != nil,
		"ocrConfigured": provider.HasImageOCR(s.recognizer),
		"timestamp":     s.timestamp(),
	})
}

func (s *server) handleEnhance(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.bodyError(c, err)
		return
	}
	req, err := analysis.DecodeEnhanceRequest(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": userMessage(err)})
		return
	}
	if s.enhancer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "AI enhancement is not configured"})
		return
	}

	enh, err := s.enhancer.Enhance(c.Request.Context(), req)
	if err != nil {
		s.logger.Printf("enhance failed: %v", err)
		switch {
		case errors.Is(err, analysis.ErrUnauthorized):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key configuration"})
		case errors.Is(err, analysis.ErrRateLimited):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "API rate limit exceeded. Please try again later."})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Failed to enhance analysis",
				"message": "AI service temporarily unavailable",
			})
		}
		return
	}
	c.JSON(http.StatusOK, enh)
}

func (s *server) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bodyError(c, err)
		return
	}
	opts, err := requestOptions(req.Mode, req.WindowDays, req.SnippetLines, req.Redaction)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": userMessage(err)})
		return
	}
	result, err := s.pipeline.AnalyzeText(c.Request.Context(), req.Text, opts, nil)
	if err != nil {
		s.analysisError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *server) handleAnalyzeImages(c *gin.Context) {
	if !provider.HasImageOCR(s.recognizer) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Screenshot OCR is not configured"})
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		s.bodyError(c, err)
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required field: images"})
		return
	}

	images := make([]analysis.Image, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			s.bodyError(c, err)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			s.bodyError(c, err)
			return
		}
		images = append(images, analysis.Image{Name: fh.Filename, MIMEType: uploadMIMEType(fh.Filename, fh.Header.Get("Content-Type"), data), Data: data})
	}

	opts, err := requestOptions(formValue(form.Value["mode"]), formInt(form.Value["windowDays"]), formInt(form.Value["snippetLines"]), nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": userMessage(err)})
		return
	}
	result, err := s.pipeline.AnalyzeImages(c.Request.Context(), images, opts, nil)
	if err != nil {
		s.analysisError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *server) handleRedactPreview(c *gin.Context) {
	var req redactPreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bodyError(c, err)
		return
	}
	opts := analysis.DefaultRedactionOptions()
	if req.Redaction != nil {
		opts = *req.Redaction
	}
	c.JSON(http.StatusOK, analysis.NewRedactor(opts).Preview(req.Text))
}

func (s *server) handleExport(c *gin.Context) {
	var result analysis.AnalysisResult
	if err := c.ShouldBindJSON(&result); err != nil {
		s.bodyError(c, err)
		return
	}
	now := s.now()
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, analysis.ExportFileName(now)))
	c.JSON(http.StatusOK, analysis.NewExportRecord(result, now))
}

func (s *server) bodyError(c *gin.Context, err error) {
	if isTooLarge(err) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
}

func (s *server) analysisError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, analysis.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": userMessage(err)})
	case errors.Is(err, analysis.ErrNoRecognizer):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Screenshot OCR is not configured"})
	case errors.Is(err, analysis.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "API rate limit exceeded. Please try again later."})
	case errors.Is(err, analysis.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key configuration"})
	default:
		s.logger.Printf("analysis failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Analysis failed"})
	}
}

// requestOptions applies request overrides to the default options.
func requestOptions(mode string, windowDays, snippetLines int, redaction *analysis.RedactionOptions) (analysis.Options, error) {
	opts := analysis.DefaultOptions()
	parsed, err := analysis.ParseMode(mode)
	if err != nil {
		return analysis.Options{}, err
	}
	opts.Mode = parsed
	if windowDays < 0 || snippetLines < 0 {
		return analysis.Options{}, fmt.Errorf("windowDays and snippetLines must be positive: %w", analysis.ErrInvalidInput)
	}
	if windowDays > 0 {
		opts.WindowDays = windowDays
	}
	if snippetLines > 0 {
		opts.SnippetLines = snippetLines
	}
	if redaction != nil {
		opts.Redaction = *redaction
	}
	return opts, nil
}

func formValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func formInt(values []string) int {
	if len(values) == 0 {
		return 0
	}
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(values[0]), "%d", &n); err != nil {
		return -1
	}
	return n
}

func uploadMIMEType(name, declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

// userMessage strips the sentinel suffix from validation errors.
func userMessage(err error) string {
	return strings.TrimSuffix(err.Error(), ": "+analysis.ErrInvalidInput.Error())
}
