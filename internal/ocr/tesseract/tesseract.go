// Package tesseract provides an ocr.Extractor backed by the Tesseract engine
// through gosseract.
package tesseract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/pavelanni/scangrader/internal/model"
	"github.com/pavelanni/scangrader/internal/ocr"
)

// Options configure the engine.
type Options struct {
	Languages []string
	// PageSegMode is Tesseract's PSM; 0 leaves the engine default.
	PageSegMode int
	// Timeout bounds a single recognition. Zero means no extra bound beyond ctx.
	Timeout time.Duration
}

// Engine implements ocr.Extractor. A fresh gosseract client is created per
// call so concurrent batch items never share engine state.
type Engine struct {
	opts          Options
	clientFactory func() *gosseract.Client
}

// New constructs a Tesseract-backed extractor.
func New(opts Options) *Engine {
	if len(opts.Languages) == 0 {
		opts.Languages = []string{"eng"}
	}
	return &Engine{opts: opts, clientFactory: gosseract.NewClient}
}

// Version reports the linked Tesseract version.
func Version() string {
	c := gosseract.NewClient()
	defer c.Close()
	return c.Version()
}

type outcome struct {
	ex  model.Extraction
	err error
}

// Extract recognises the text in img.
func (e *Engine) Extract(ctx context.Context, img []byte) (model.Extraction, error) {
	format, err := ocr.Validate(img)
	if err != nil {
		return model.Extraction{}, err
	}

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		ex, err := e.recognize(img)
		done <- outcome{ex: ex, err: err}
	}()

	select {
	case <-ctx.Done():
		// The cgo call cannot be interrupted; its result is dropped once it finishes.
		return model.Extraction{}, fmt.Errorf("tesseract: %w", ctx.Err())
	case out := <-done:
		if out.err != nil {
			return model.Extraction{}, out.err
		}
		slog.Debug("ocr complete",
			"format", format.Name,
			"width", format.Width,
			"height", format.Height,
			"chars", len(out.ex.Text),
			"confidence", out.ex.Confidence,
			"elapsed", time.Since(start),
		)
		return out.ex, nil
	}
}

func (e *Engine) recognize(img []byte) (model.Extraction, error) {
	c := e.clientFactory()
	defer c.Close()

	if err := c.SetLanguage(e.opts.Languages...); err != nil {
		return model.Extraction{}, fmt.Errorf("set languages: %w", err)
	}
	if e.opts.PageSegMode > 0 {
		if err := c.SetPageSegMode(gosseract.PageSegMode(e.opts.PageSegMode)); err != nil {
			return model.Extraction{}, fmt.Errorf("set page segmentation mode: %w", err)
		}
	}
	if err := c.SetImageFromBytes(img); err != nil {
		return model.Extraction{}, &ocr.ExtractionError{Reason: "load image", Err: err}
	}
	text, err := c.Text()
	if err != nil {
		return model.Extraction{}, &ocr.ExtractionError{Reason: "recognize text", Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Extraction{}, nil
	}
	return model.Extraction{Text: text, Confidence: meanWordConfidence(c)}, nil
}

// meanWordConfidence averages the per-word confidences (0-100) Tesseract
// reports for the last recognition.
func meanWordConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return model.ClampFloat(sum/float64(len(boxes)), 0, 100)
}
