package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/theimaginaryfoundation/vibe-o-meter/analysis"
)

const (
	streamWriteWait = 10 * time.Second
	streamPongWait  = 60 * time.Second
	streamPingEvery = (streamPongWait * 9) / 10
)

// streamRequest is the first client frame. Either Text or Images must be set.
type streamRequest struct {
	Text         string                     `json:"text,omitempty"`
	Images       []streamImage              `json:"images,omitempty"`
	Mode         string                     `json:"mode,omitempty"`
	WindowDays   int                        `json:"windowDays,omitempty"`
	SnippetLines int                        `json:"snippetLines,omitempty"`
	Redaction    *analysis.RedactionOptions `json:"redaction,omitempty"`
}

// streamImage carries base64 screenshot bytes ([]byte fields are base64 in JSON).
type streamImage struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type streamFrame struct {
	Type     string                   `json:"type"`
	Progress *analysis.Progress       `json:"progress,omitempty"`
	Result   *analysis.AnalysisResult `json:"result,omitempty"`
	Message  string                   `json:"message,omitempty"`
}

type streamOutcome struct {
	result analysis.AnalysisResult
	err    error
}

func (s *server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.origins.allowed(strings.TrimSpace(r.Header.Get("Origin")))
		},
	}
}

// handleStream runs one analysis per connection and pushes progress frames, then a single
// result or error frame, then closes.
func (s *server) handleStream(c *gin.Context) {
	up := s.upgrader()
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.cfg.MaxUploadBytes)

	if err := conn.SetReadDeadline(time.Now().Add(streamPongWait)); err != nil {
		s.logger.Printf("stream set read deadline failed: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	var req streamRequest
	if err := conn.ReadJSON(&req); err != nil {
		s.writeFrame(conn, streamFrame{Type: "error", Message: "Invalid request body"})
		return
	}
	opts, err := requestOptions(req.Mode, req.WindowDays, req.SnippetLines, req.Redaction)
	if err != nil {
		s.writeFrame(conn, streamFrame{Type: "error", Message: userMessage(err)})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The client sends nothing after the request; reading keeps pongs flowing and notices a close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	progress := make(chan analysis.Progress, 16)
	done := make(chan streamOutcome, 1)
	go func() {
		res, err := s.runStream(ctx, req, opts, progress)
		close(progress)
		done <- streamOutcome{result: res, err: err}
	}()

	ticker := time.NewTicker(streamPingEvery)
	defer ticker.Stop()

	for {
		select {
		case p, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			if err := s.writeFrame(conn, streamFrame{Type: "progress", Progress: &p}); err != nil {
				cancel()
			}
		case out := <-done:
			if progress != nil {
				for p := range progress {
					_ = s.writeFrame(conn, streamFrame{Type: "progress", Progress: &p})
				}
			}
			if out.err != nil {
				s.writeFrame(conn, streamFrame{Type: "error", Message: streamErrorMessage(out.err)})
			} else {
				s.writeFrame(conn, streamFrame{Type: "result", Result: &out.result})
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
				cancel()
				continue
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cancel()
			}
		}
	}
}

func (s *server) runStream(ctx context.Context, req streamRequest, opts analysis.Options, progress chan<- analysis.Progress) (analysis.AnalysisResult, error) {
	if len(req.Images) == 0 {
		return s.pipeline.AnalyzeText(ctx, req.Text, opts, progress)
	}
	images := make([]analysis.Image, len(req.Images))
	for i, img := range req.Images {
		images[i] = analysis.Image{Name: img.Name, MIMEType: uploadMIMEType(img.Name, img.MIMEType, img.Data), Data: img.Data}
	}
	return s.pipeline.AnalyzeImages(ctx, images, opts, progress)
}

func (s *server) writeFrame(conn *websocket.Conn, f streamFrame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(f)
}

func streamErrorMessage(err error) string {
	switch {
	case errors.Is(err, analysis.ErrInvalidInput):
		return userMessage(err)
	case errors.Is(err, analysis.ErrNoRecognizer):
		return "Screenshot OCR is not configured"
	case errors.Is(err, context.Canceled):
		return "Analysis canceled"
	}
	return "Analysis failed"
}
