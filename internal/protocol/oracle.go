package protocol

// Analysis is the oracle's judgement of a single statement.
type Analysis struct {
	Coherence float64  `json:"coherence"`
	Themes    []string `json:"themes,omitempty"`
}

// Comparison is the oracle's judgement of how two statements relate.
type Comparison struct {
	Similarity  float64 `json:"similarity"`
	Explanation string  `json:"explanation,omitempty"`
}

// Recalled is one result of a semantic recall query.
type Recalled struct {
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// Oracle is the external semantic-analysis service. The core consumes only
// the numeric outputs and never retries blindly: a retried oracle call must
// not cause a second stake lock or a second reward, so retry policy belongs
// to the caller. Oracle calls are always made outside stake/task critical
// sections because they may be slow.
type Oracle interface {
	Analyze(text string) (Analysis, error)
	Compare(a, b string) (Comparison, error)
	Recall(query string, limit int, threshold float64) ([]Recalled, error)
}

// Oracle decision thresholds for verification and counterexample tasks.
const (
	verifyThreshold         = 0.7 // coherence above this verifies a claim
	rejectThreshold         = 0.3 // coherence below this rejects it
	counterexampleThreshold = 0.6 // contradiction strength above this counts
)
