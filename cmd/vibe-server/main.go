package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/theimaginaryfoundation/vibe-o-meter/analysis"
	"github.com/theimaginaryfoundation/vibe-o-meter/analysis/provider"
)

const rateLimitTableSize = 10000

type Server struct {
	httpServer *http.Server
	logger     *log.Logger
}

func NewServer(addr string, handler http.Handler, logger *log.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           h2c.NewHandler(handler, &http2.Server{}),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (s *Server) Start() error {
	s.logger.Printf("Starting vibe-o-meter API server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func main() {
	_ = godotenv.Load()

	cfg, err := loadConfig(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(os.Stderr, "vibe-server: ", log.LstdFlags)
	if !cfg.isDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("init: %v", err)
	}
	logger.Printf("Health check: http://localhost%s/health", cfg.Port)
	logger.Printf("LLM provider: %s (schema %s)", cfg.Provider, cfg.Schema)
	if !provider.HasImageOCR(srv.recognizer) {
		logger.Printf("Screenshot OCR disabled: GEMINI_API_KEY not set")
	}

	httpSrv := NewServer(cfg.Port, srv.routes(), logger)
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatalf("server: %v", err)
		}
	case <-ctx.Done():
		logger.Printf("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("shutdown: %v", err)
		}
	}
}

// newServer builds the pipeline and collaborators described by cfg.
func newServer(ctx context.Context, cfg Config, logger *log.Logger) (*server, error) {
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
	return assembleServer(cfg, logger, extractor, scorer, enhancer, recognizer)
}

func assembleServer(cfg Config, logger *log.Logger, extractor *analysis.Extractor, scorer *analysis.Scorer, enhancer analysis.Enhancer, recognizer analysis.TextRecognizer) (*server, error) {
	pipeline, err := analysis.NewPipeline(analysis.PipelineConfig{
		Extractor:      extractor,
		Scorer:         scorer,
		Enhancer:       enhancer,
		Recognizer:     recognizer,
		Logger:         logger,
		OCRConcurrency: cfg.OCRConcurrency,
	})
	if err != nil {
		return nil, err
	}
	limiter, err := newRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow, rateLimitTableSize)
	if err != nil {
		return nil, err
	}
	return &server{
		cfg:        cfg,
		pipeline:   pipeline,
		enhancer:   enhancer,
		recognizer: recognizer,
		logger:     logger,
		origins:    newOriginPolicy(cfg),
		limiter:    limiter,
		now:        time.Now,
	}, nil
}
