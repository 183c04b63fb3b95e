// Package ocr defines the text-extraction collaborator used by the grading
// pipeline. Engines turn answer-image bytes into text plus a confidence
// percentage; a blank result is a valid "nothing legible" outcome, while an
// ExtractionError is reserved for input that cannot be read at all.
package ocr
