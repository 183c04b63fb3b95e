package model

// BatchSummary aggregates a set of grading results. For a batch, Total is
// the number of submitted items and Errored includes items that produced no
// result. AveragePercentage covers only items with a result.
type BatchSummary struct {
	Total             int     `json:"total"`
	Graded            int     `json:"graded"`
	Errored           int     `json:"errored"`
	AveragePercentage float64 `json:"average_percentage"`
}

// OverallBand names the overall-feedback band for a percentage.
type OverallBand string

const (
	BandExcellent        OverallBand = "OverallExcellent"
	BandVeryGood         OverallBand = "OverallVeryGood"
	BandGood             OverallBand = "OverallGood"
	BandFair             OverallBand = "OverallFair"
	BandNeedsImprovement OverallBand = "OverallNeedsImprovement"
)

// Summarize derives a BatchSummary. Unreadable results count as errored but
// still contribute their zero marks to the average.
func Summarize(results []GradingResult) BatchSummary {
	var s BatchSummary
	var marks, maxMarks int
	for _, r := range results {
		s.Total++
		if r.Method == MethodUnreadable {
			s.Errored++
		} else {
			s.Graded++
		}
		marks += r.Marks
		maxMarks += r.MaxMarks
	}
	if maxMarks > 0 {
		s.AveragePercentage = float64(marks) / float64(maxMarks) * 100
	}
	return s
}

// Band returns the overall-feedback band for the summary's average.
func (s BatchSummary) Band() OverallBand {
	switch p := s.AveragePercentage; {
	case p >= 90:
		return BandExcellent
	case p >= 80:
		return BandVeryGood
	case p >= 70:
		return BandGood
	case p >= 60:
		return BandFair
	default:
		return BandNeedsImprovement
	}
}
