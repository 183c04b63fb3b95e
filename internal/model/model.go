package model

// Question is a single question from a question paper.
type Question struct {
	ID        int64  `json:"id"`
	SessionID int64  `json:"session_id"`
	Number    int    `json:"number"`
	Text      string `json:"text"`
	Subject   string `json:"subject"`
	MaxMarks  int    `json:"max_marks"`
	AnswerKey string `json:"answer_key,omitempty"`
}

// StudentInfo identifies whose answer is being graded.
type StudentInfo struct {
	Name       string `json:"student_name"`
	RollNumber string `json:"roll_number"`
}

// Extraction is the text recognised in an answer image.
// Confidence is a percentage in [0,100]. Blank Text means nothing legible.
type Extraction struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Method records which path of the pipeline produced a result.
type Method string

const (
	MethodModel      Method = "model"
	MethodHeuristic  Method = "heuristic"
	MethodUnreadable Method = "unreadable"
)

const (
	MinConfidence = 1
	MaxConfidence = 10
)

// GradingResult is the structured outcome of grading one answer.
// Build it with NewGradingResult so that marks and confidence stay in range.
type GradingResult struct {
	Marks         int         `json:"marks"`
	MaxMarks      int         `json:"max_marks"`
	Feedback      string      `json:"feedback"`
	Strengths     string      `json:"strengths"`
	Improvements  string      `json:"improvements"`
	Confidence    int         `json:"confidence"`
	OCRText       string      `json:"ocr_text"`
	OCRConfidence float64     `json:"ocr_confidence"`
	Method        Method      `json:"method"`
	Student       StudentInfo `json:"student"`
}

// Grade is the unclamped input to NewGradingResult.
type Grade struct {
	Marks        int
	Feedback     string
	Strengths    string
	Improvements string
	Confidence   int
}

// NewGradingResult clamps marks to [0,maxMarks] and confidence to [1,10].
func NewGradingResult(g Grade, maxMarks int, method Method) GradingResult {
	if maxMarks < 0 {
		maxMarks = 0
	}
	return GradingResult{
		Marks:        Clamp(g.Marks, 0, maxMarks),
		MaxMarks:     maxMarks,
		Feedback:     g.Feedback,
		Strengths:    g.Strengths,
		Improvements: g.Improvements,
		Confidence:   Clamp(g.Confidence, MinConfidence, MaxConfidence),
		Method:       method,
	}
}

// WithExtraction returns a copy carrying the OCR output and student details.
func (r GradingResult) WithExtraction(ex Extraction, student StudentInfo) GradingResult {
	r.OCRText = ex.Text
	r.OCRConfidence = ClampFloat(ex.Confidence, 0, 100)
	r.Student = student
	return r
}

// Percentage returns marks as a percentage of the maximum.
func (r GradingResult) Percentage() float64 {
	if r.MaxMarks <= 0 {
		return 0
	}
	return float64(r.Marks) / float64(r.MaxMarks) * 100
}

// LetterGrade returns the A-F grade for the result's percentage.
func (r GradingResult) LetterGrade() string {
	return LetterGrade(r.Percentage())
}

// LetterGrade maps a percentage onto the A-F scale.
func LetterGrade(percentage float64) string {
	switch {
	case percentage >= 90:
		return "A"
	case percentage >= 80:
		return "B"
	case percentage >= 70:
		return "C"
	case percentage >= 60:
		return "D"
	default:
		return "F"
	}
}

// Clamp forces v into [lo,hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampFloat forces v into [lo,hi].
func ClampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
