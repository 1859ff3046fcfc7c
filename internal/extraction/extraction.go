// internal/extraction/extraction.go

// Package extraction defines the structured facts pulled from a transcript and
// turns arbitrary model output into a valid Extraction in two phases: a total
// normalization into the canonical shape, then strict validation of that shape.
package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Morale string

const (
	MoraleLow    Morale = "low"
	MoraleMedium Morale = "medium"
	MoraleHigh   Morale = "high"
)

func (m Morale) Valid() bool {
	switch m {
	case MoraleLow, MoraleMedium, MoraleHigh:
		return true
	}
	return false
}

type Risk string

const (
	RiskNone     Risk = "none"
	RiskPossible Risk = "possible"
	RiskImminent Risk = "imminent"
)

func (r Risk) Valid() bool {
	switch r {
	case RiskNone, RiskPossible, RiskImminent:
		return true
	}
	return false
}

// Elevated reports whether the response should lead with safety resources.
func (r Risk) Elevated() bool {
	return r == RiskPossible || r == RiskImminent
}

type Identity struct {
	Name      *string  `json:"name"`
	Age       *float64 `json:"age"`
	Location  *string  `json:"location"`
	Languages []string `json:"languages"`
}

type Work struct {
	JobTitle *string `json:"job_title"`
	Industry *string `json:"industry"`
	Company  *string `json:"company"`
}

type EmotionalState struct {
	OverallMorale    Morale   `json:"overall_morale"`
	DominantEmotions []string `json:"dominant_emotions"`
	Stressors        []string `json:"stressors"`
	Hardships        []string `json:"hardships"`
	Goals            []string `json:"goals"`
}

type Relationships struct {
	ImportantPeople []string `json:"important_people"`
}

type Preferences struct {
	Values   []string `json:"values"`
	Likes    []string `json:"likes"`
	Dislikes []string `json:"dislikes"`
}

type Safety struct {
	SelfHarmRisk Risk    `json:"self_harm_risk"`
	Notes        *string `json:"notes"`
}

type Confidence struct {
	Identity       float64 `json:"identity"`
	Work           float64 `json:"work"`
	EmotionalState float64 `json:"emotional_state"`
}

type SourceQuote struct {
	Field string `json:"field"`
	Quote string `json:"quote"`
}

// Extraction is the validated output of one transcript analysis.
type Extraction struct {
	Identity       Identity       `json:"identity"`
	Work           Work           `json:"work"`
	EmotionalState EmotionalState `json:"emotional_state"`
	Relationships  Relationships  `json:"relationships"`
	Preferences    Preferences    `json:"preferences"`
	Safety         Safety         `json:"safety"`
	Confidence     Confidence     `json:"confidence"`
	SourceQuotes   []SourceQuote  `json:"source_quotes"`
}

// Default returns the all-default Extraction used whenever model output is
// unusable.
func Default() Extraction {
	return Extraction{
		Identity:       Identity{Languages: []string{}},
		EmotionalState: EmotionalState{OverallMorale: MoraleMedium, DominantEmotions: []string{}, Stressors: []string{}, Hardships: []string{}, Goals: []string{}},
		Relationships:  Relationships{ImportantPeople: []string{}},
		Preferences:    Preferences{Values: []string{}, Likes: []string{}, Dislikes: []string{}},
		Safety:         Safety{SelfHarmRisk: RiskNone},
		SourceQuotes:   []SourceQuote{},
	}
}

// Name returns the extracted name, if any.
func (e Extraction) Name() string {
	if e.Identity.Name == nil {
		return ""
	}
	return *e.Identity.Name
}

// Map converts the extraction into the generic mapping stored in records and
// merged into the memory profile. Unknown names stay as nulls so the merge keeps
// whatever the profile already knows.
func (e Extraction) Map() map[string]any {
	raw, err := json.Marshal(e)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

var ErrIncompatible = errors.New("extraction: structurally incompatible output")

// Parse normalizes raw model output and validates the canonical result.
func Parse(raw []byte) (Extraction, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Extraction{}, fmt.Errorf("extraction: invalid json: %w", err)
	}
	canonical, err := Normalize(doc)
	if err != nil {
		return Extraction{}, err
	}
	b, err := json.Marshal(canonical)
	if err != nil {
		return Extraction{}, fmt.Errorf("extraction: encode canonical: %w", err)
	}
	var e Extraction
	if err := json.Unmarshal(b, &e); err != nil {
		return Extraction{}, fmt.Errorf("extraction: decode canonical: %w", err)
	}
	if err := Validate(e); err != nil {
		return Extraction{}, err
	}
	return e, nil
}

// ParseOrDefault never fails; unusable output yields Default.
func ParseOrDefault(raw []byte) (Extraction, error) {
	e, err := Parse(raw)
	if err != nil {
		return Default(), err
	}
	return e, nil
}

// Validate checks an Extraction against the strict schema.
func Validate(e Extraction) error {
	if !e.EmotionalState.OverallMorale.Valid() {
		return fmt.Errorf("extraction: invalid overall_morale %q", e.EmotionalState.OverallMorale)
	}
	if !e.Safety.SelfHarmRisk.Valid() {
		return fmt.Errorf("extraction: invalid self_harm_risk %q", e.Safety.SelfHarmRisk)
	}
	lists := map[string][]string{
		"identity.languages":                e.Identity.Languages,
		"emotional_state.dominant_emotions": e.EmotionalState.DominantEmotions,
		"emotional_state.stressors":         e.EmotionalState.Stressors,
		"emotional_state.hardships":         e.EmotionalState.Hardships,
		"emotional_state.goals":             e.EmotionalState.Goals,
		"relationships.important_people":    e.Relationships.ImportantPeople,
		"preferences.values":                e.Preferences.Values,
		"preferences.likes":                 e.Preferences.Likes,
		"preferences.dislikes":              e.Preferences.Dislikes,
	}
	for field, list := range lists {
		if list == nil {
			return fmt.Errorf("extraction: %s is required", field)
		}
	}
	if e.SourceQuotes == nil {
		return errors.New("extraction: source_quotes is required")
	}
	return nil
}
