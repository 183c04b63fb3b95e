package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/scangrader/internal/archive"
	"github.com/pavelanni/scangrader/internal/grading"
	"github.com/pavelanni/scangrader/internal/llm"
	"github.com/pavelanni/scangrader/internal/llm/prompts"
	"github.com/pavelanni/scangrader/internal/model"
	"github.com/pavelanni/scangrader/internal/ocr"
	"github.com/pavelanni/scangrader/internal/ocr/tesseract"
	"github.com/pavelanni/scangrader/internal/store"
)

func addPipelineFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Duration("llm-timeout", 60*time.Second, "Timeout for one grading call")
	f.Float64("llm-rps", 0, "Maximum LLM requests per second (0 = unlimited)")
	f.Int("llm-burst", 1, "LLM request burst size")
	f.Bool("offline", false, "Skip the LLM and grade with the heuristic scorer only")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
	f.StringSlice("ocr-lang", []string{"eng"}, "Tesseract languages")
	f.Int("ocr-psm", 0, "Tesseract page segmentation mode (0 = engine default)")
	f.Duration("ocr-timeout", 30*time.Second, "Timeout for one OCR call")
	f.Int("concurrency", grading.DefaultConcurrency, "Answers graded in parallel per batch")
}

type pipeline struct {
	batch     *grading.Batch
	variant   prompts.PromptVariant
	modelName string
}

func (p *pipeline) info() model.GraderInfo {
	return model.GraderInfo{PromptVariant: string(p.variant), Model: p.modelName}
}

// newPipeline builds the grader from config. A nil extractor selects Tesseract.
func newPipeline(ctx context.Context, v *viper.Viper, extractor ocr.Extractor) (*pipeline, error) {
	variant := prompts.PromptVariant(strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant"))))
	if !prompts.IsValidVariant(string(variant)) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		variant = prompts.PromptStandard
	}

	if extractor == nil {
		extractor = tesseract.New(tesseract.Options{
			Languages:   v.GetStringSlice("ocr-lang"),
			PageSegMode: v.GetInt("ocr-psm"),
			Timeout:     v.GetDuration("ocr-timeout"),
		})
		slog.Info("using tesseract", "version", tesseract.Version(), "languages", v.GetStringSlice("ocr-lang"))
	}

	var m grading.Model
	modelName := "heuristic"
	if !v.GetBool("offline") {
		client, err := llm.New(llm.Options{
			BaseURL:           v.GetString("llm-url"),
			APIKey:            v.GetString("llm-key"),
			Model:             v.GetString("llm-model"),
			Timeout:           v.GetDuration("llm-timeout"),
			RequestsPerSecond: v.GetFloat64("llm-rps"),
			Burst:             v.GetInt("llm-burst"),
			JSONMode:          true,
			Temperature:       0.1,
		})
		if err != nil {
			return nil, fmt.Errorf("create LLM client: %w", err)
		}
		if err := client.Ping(ctx); err != nil {
			// Grading still works through the heuristic fallback.
			slog.Warn("LLM health check failed, answers will fall back to heuristic scoring", "error", err)
		} else {
			slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", client.Model())
		}
		m = client
		modelName = client.Model()
	}

	g, err := grading.NewGrader(extractor, m, variant)
	if err != nil {
		return nil, fmt.Errorf("create grader: %w", err)
	}
	return &pipeline{
		batch:     grading.NewBatch(g, v.GetInt("concurrency")),
		variant:   variant,
		modelName: modelName,
	}, nil
}

func newArchive(ctx context.Context, v *viper.Viper) (archive.Store, error) {
	return archive.New(ctx, archive.Config{
		Kind:           v.GetString("archive"),
		Dir:            v.GetString("archive-dir"),
		MinioEndpoint:  v.GetString("minio-endpoint"),
		MinioAccessKey: v.GetString("minio-access-key"),
		MinioSecretKey: v.GetString("minio-secret-key"),
		MinioBucket:    v.GetString("minio-bucket"),
		MinioSecure:    v.GetBool("minio-secure"),
	})
}

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade [image...]",
		Short: "Grade answer images against one question and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runGrade,
	}
	f := cmd.Flags()
	f.String("db", "scangrader.db", "SQLite database path (used with --question-id)")
	f.Int64("question-id", 0, "Grade against a stored question")
	f.Bool("save", false, "Store the results as submissions (requires --question-id)")
	f.String("question", "", "Question text when no --question-id is given")
	f.String("subject", "", "Question subject")
	f.Int("max-marks", 10, "Maximum marks for the question")
	f.String("answer-key", "", "Optional reference answer")
	f.StringSlice("students", nil, "Student for each image as name:roll, in image order")
	f.String("ocr-fixture", "", "JSON file mapping image file names to {text, confidence}; replaces tesseract")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addPipelineFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func runGrade(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx, stop := signalContext()
	defer stop()

	items := make([]grading.Item, 0, len(args))
	students := v.GetStringSlice("students")
	for i, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		item := grading.Item{FileName: filepath.Base(path), Image: data}
		if i < len(students) {
			item.Student = parseStudent(students[i])
		}
		items = append(items, item)
	}

	var extractor ocr.Extractor
	if fixture := v.GetString("ocr-fixture"); fixture != "" {
		scripted, err := loadFixture(fixture, items)
		if err != nil {
			return err
		}
		extractor = scripted
	}

	var db *store.Store
	q := model.Question{
		Number:    1,
		Text:      v.GetString("question"),
		Subject:   v.GetString("subject"),
		MaxMarks:  v.GetInt("max-marks"),
		AnswerKey: v.GetString("answer-key"),
	}
	if id := v.GetInt64("question-id"); id > 0 {
		var err error
		db, err = store.New(v.GetString("db"))
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if q, err = db.GetQuestion(id); err != nil {
			return fmt.Errorf("load question %d: %w", id, err)
		}
	} else if v.GetBool("save") {
		return fmt.Errorf("--save requires --question-id")
	}
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("either --question or --question-id is required")
	}
	if q.MaxMarks <= 0 {
		return fmt.Errorf("max marks must be positive")
	}

	p, err := newPipeline(ctx, v, extractor)
	if err != nil {
		return err
	}
	report := p.batch.Grade(ctx, q, items)

	if v.GetBool("save") {
		subs := make([]store.NewSubmission, 0, len(report.Items))
		for _, it := range report.Items {
			if it.Result == nil {
				continue
			}
			subs = append(subs, store.NewSubmission{FileName: it.FileName, Result: *it.Result})
		}
		if _, err := db.SaveSubmissions(q.SessionID, q.ID, subs); err != nil {
			return fmt.Errorf("save submissions: %w", err)
		}
		if err := db.SetGraderInfo(p.info()); err != nil {
			return fmt.Errorf("record grader info: %w", err)
		}
	}

	return writeJSONOutput(v.GetString("output"), report)
}

func parseStudent(s string) model.StudentInfo {
	name, roll, _ := strings.Cut(s, ":")
	return model.StudentInfo{Name: strings.TrimSpace(name), RollNumber: strings.TrimSpace(roll)}
}

// loadFixture builds a scripted extractor from recorded OCR output. Images
// missing from the fixture are reported as unreadable. The extractor only sees
// image bytes, so files with identical content must share one fixture entry.
func loadFixture(path string, items []grading.Item) (*ocr.Scripted, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var byName map[string]model.Extraction
	if err := json.Unmarshal(data, &byName); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	s := &ocr.Scripted{ByImage: make(map[string]ocr.Step, len(items))}
	seen := make(map[string]string, len(items))
	for _, it := range items {
		key := string(it.Image)
		if prev, ok := seen[key]; ok {
			a, aok := byName[prev]
			b, bok := byName[it.FileName]
			if a != b || aok != bok {
				return nil, fmt.Errorf("fixture %s: %s and %s have identical images but different entries", path, prev, it.FileName)
			}
			continue
		}
		seen[key] = it.FileName
		if ex, ok := byName[it.FileName]; ok {
			s.ByImage[key] = ocr.Step{Result: ex}
		}
	}
	return s, nil
}
