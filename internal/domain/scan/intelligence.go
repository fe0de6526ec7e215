package scan

import "encoding/json"

// Pillar is one dimension of the hygiene score (performance, accessibility,
// security, ...).
type Pillar struct {
	Score  *float64 `json:"score,omitempty"`
	Status string   `json:"status,omitempty"`
	Issues int      `json:"issues,omitempty"`
}

// HygieneScore is the payload of GET /api/hygiene/score.
type HygieneScore struct {
	URL     string            `json:"url,omitempty"`
	Score   *float64          `json:"score,omitempty"`
	Grade   string            `json:"grade,omitempty"`
	Pillars map[string]Pillar `json:"pillars,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type hygieneAlias HygieneScore

// UnmarshalJSON decodes the known fields and keeps the verbatim payload.
func (h *HygieneScore) UnmarshalJSON(b []byte) error {
	var a hygieneAlias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*h = HygieneScore(a)
	h.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// Pillar returns the named pillar and whether it was scored.
func (h *HygieneScore) Pillar(name string) (Pillar, bool) {
	p, ok := h.Pillars[name]
	if !ok || p.Score == nil {
		return Pillar{}, false
	}
	return p, true
}

// SeverityMatrix is the payload of GET /api/severity/matrix: issue counts by
// severity and category.
type SeverityMatrix struct {
	URL    string                      `json:"url,omitempty"`
	Matrix map[Severity]map[string]int `json:"matrix,omitempty"`
	Risk   *float64                    `json:"riskScore,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type severityAlias SeverityMatrix

// UnmarshalJSON decodes the known fields and keeps the verbatim payload.
func (s *SeverityMatrix) UnmarshalJSON(b []byte) error {
	var a severityAlias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*s = SeverityMatrix(a)
	s.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// Count returns the number of issues for severity across all categories.
func (s *SeverityMatrix) Count(sev Severity) int {
	n := 0
	for _, c := range s.Matrix[sev] {
		n += c
	}
	return n
}
