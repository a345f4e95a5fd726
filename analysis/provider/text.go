package provider

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/theimaginaryfoundation/vibe-o-meter/analysis"
)

// PlainTextRecognizer returns text/* inputs as-is and hands everything else to Next.
// It lets a batch mix screenshots with exported chat text.
type PlainTextRecognizer struct {
	Next analysis.TextRecognizer
}

func (p PlainTextRecognizer) Recognize(ctx context.Context, img analysis.Image) (string, error) {
	if strings.HasPrefix(img.MIMEType, "text/") {
		if !utf8.Valid(img.Data) {
			return "", fmt.Errorf("PlainTextRecognizer: %s is not valid UTF-8: %w", img.Name, analysis.ErrInvalidInput)
		}
		return string(img.Data), nil
	}
	if p.Next == nil {
		return "", fmt.Errorf("PlainTextRecognizer: %s (%s): %w", img.Name, img.MIMEType, analysis.ErrNoRecognizer)
	}
	return p.Next.Recognize(ctx, img)
}
