package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/pavelanni/scangrader/internal/model"
)

// Extractor recognises the text in an answer image.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (model.Extraction, error)
}

// ExtractionError reports an image that could not be read.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return "extract text: " + e.Reason + ": " + e.Err.Error()
	}
	return "extract text: " + e.Reason
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// IsExtractionError reports whether err is or wraps an ExtractionError.
func IsExtractionError(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee)
}

// Format describes a decoded image header.
type Format struct {
	Name   string
	Width  int
	Height int
}

// Validate checks that data is a decodable image with non-zero size.
func Validate(data []byte) (Format, error) {
	if len(data) == 0 {
		return Format{}, &ExtractionError{Reason: "empty image"}
	}
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Format{}, &ExtractionError{Reason: "unreadable image", Err: err}
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return Format{}, &ExtractionError{Reason: fmt.Sprintf("degenerate %s image %dx%d", name, cfg.Width, cfg.Height)}
	}
	return Format{Name: name, Width: cfg.Width, Height: cfg.Height}, nil
}

// Step is one scripted extraction outcome.
type Step struct {
	Result model.Extraction
	Err    error
}

// Scripted is an Extractor that replays fixed outcomes in call order.
// Once the script runs out the last step repeats. It is safe for concurrent use.
type Scripted struct {
	mu    sync.Mutex
	steps []Step
	calls int
	// ByImage, when set, selects the outcome by the image content instead of
	// call order. Useful when a batch runs items concurrently.
	ByImage map[string]Step
}

// NewScripted returns a Scripted extractor with the given steps.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// Extract returns the next scripted outcome.
func (s *Scripted) Extract(ctx context.Context, img []byte) (model.Extraction, error) {
	if err := ctx.Err(); err != nil {
		return model.Extraction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.ByImage != nil {
		if st, ok := s.ByImage[string(img)]; ok {
			return st.Result, st.Err
		}
		return model.Extraction{}, &ExtractionError{Reason: "no scripted result for image"}
	}
	if len(s.steps) == 0 {
		return model.Extraction{}, nil
	}
	i := s.calls - 1
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i].Result, s.steps[i].Err
}

// Calls returns how many times Extract was invoked.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
