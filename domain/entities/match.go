package entities

// MatchMethod names the fallback stage that produced a result
type MatchMethod string

const (
	MethodMemory   MatchMethod = "memory"
	MethodOCRFuzzy MatchMethod = "ocr_fuzzy"
	MethodTemplate MatchMethod = "template"
)

// SignalScores holds the per-signal ranking scores, each in [0,1]
type SignalScores struct {
	Fuzzy    float64 `json:"fuzzy"`
	Detector float64 `json:"detector"`
	Geometry float64 `json:"geometry"`
	Memory   float64 `json:"memory"`
}

// Candidate is a scored element produced during one resolution
type Candidate struct {
	Element   VisualElement `json:"element"`
	Order     int           `json:"order"`
	Scores    SignalScores  `json:"scores"`
	Composite float64       `json:"composite"`
}

// MatchResult is the final resolution passed to the executor
type MatchResult struct {
	Point      Point          `json:"point"`
	Element    *VisualElement `json:"element,omitempty"`
	Method     MatchMethod    `json:"method"`
	Confidence float64        `json:"confidence"`
	Expanded   bool           `json:"expanded"`
	Threshold  float64        `json:"threshold"`
	Key        MemoryKey      `json:"key"`
}
