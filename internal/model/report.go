package model

import "time"

// MICRResult represents the complete analysis of one check image
type MICRResult struct {
	ID            string    `json:"id"`                      // Analysis ID (uuid)
	Source        string    `json:"source"`                  // Path or URL that was analysed
	ImageHash     string    `json:"image_hash"`              // sha256 of the image bytes
	AnalyzedAt    time.Time `json:"analyzed_at"`             // When the analysis finished
	RawLine       string    `json:"raw_line"`                // MICR line as read by the model
	RawConfidence float64   `json:"raw_confidence"`          // Model's confidence for the whole line
	Success       bool      `json:"success"`                 // Whether the model reported a readable line
	ErrorMessage  string    `json:"error_message,omitempty"` // Why the analysis failed, if it did

	Components map[FieldKind]*MICRComponent `json:"components"` // Nil entry when the component is absent

	Validation *ValidationReport `json:"validation,omitempty"` // Format validation of the final values

	LLM            LLMInfo       `json:"llm"`
	Cached         bool          `json:"cached"`          // Model response came from cache
	ProcessingTime time.Duration `json:"processing_time"` // Wall time of the analysis
}

// MICRComponent is one MICR field with its confidence breakdown
type MICRComponent struct {
	Kind        FieldKind           `json:"kind"`
	Value       string              `json:"value"`
	Description string              `json:"description,omitempty"`
	Confidence  ConfidenceBreakdown `json:"confidence"`
	Errors      []string            `json:"errors,omitempty"`
	Warnings    []string            `json:"warnings,omitempty"`
}

// Combined returns the component's combined confidence
func (c *MICRComponent) Combined() float64 {
	if c == nil {
		return 0
	}
	return c.Confidence.Combined
}

// IsValid reports whether the component has a value that passed validation
func (c *MICRComponent) IsValid() bool {
	return c != nil && c.Value != "" && c.Confidence.ValidationPassed
}

// IsHighConfidence reports whether the combined confidence reaches threshold
func (c *MICRComponent) IsHighConfidence(threshold float64) bool {
	return c != nil && c.Confidence.Combined >= threshold
}

// Component returns the component of the given kind (nil if absent)
func (r *MICRResult) Component(kind FieldKind) *MICRComponent {
	if r.Components == nil {
		return nil
	}
	return r.Components[kind]
}

// OverallConfidence averages the valid essential components and scales by completeness
func (r *MICRResult) OverallConfidence() float64 {
	var sum float64
	valid := 0
	for _, kind := range EssentialFieldKinds {
		c := r.Component(kind)
		if c.IsValid() {
			sum += c.Combined()
			valid++
		}
	}
	if valid == 0 {
		return 0
	}
	avg := sum / float64(valid)
	completeness := float64(valid) / float64(len(EssentialFieldKinds))
	return avg * completeness
}

// IsComplete reports whether every essential component is present and valid
func (r *MICRResult) IsComplete() bool {
	for _, kind := range EssentialFieldKinds {
		if !r.Component(kind).IsValid() {
			return false
		}
	}
	return true
}

// LowConfidenceComponents returns the present components below threshold
func (r *MICRResult) LowConfidenceComponents(threshold float64) []*MICRComponent {
	var low []*MICRComponent
	for _, kind := range AllFieldKinds {
		c := r.Component(kind)
		if c != nil && c.Combined() < threshold {
			low = append(low, c)
		}
	}
	return low
}

// LLMInfo records which model produced the response
type LLMInfo struct {
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	TokensUsed    int    `json:"tokens_used,omitempty"`
	LogprobTokens int    `json:"logprob_tokens"` // Number of tokens with logprobs returned
}

// ValidationReport is the outcome of validating a MICR result against format rules
type ValidationReport struct {
	IsValid     bool                       `json:"is_valid"`
	FormatValid bool                       `json:"format_valid"`
	Fields      map[FieldKind]FieldOutcome `json:"fields"`
	Errors      []string                   `json:"errors,omitempty"`
	Warnings    []string                   `json:"warnings,omitempty"`
}

// Passed reports whether the given field passed validation
// Fields that were not validated count as passed
func (v *ValidationReport) Passed(kind FieldKind) bool {
	if v == nil || v.Fields == nil {
		return true
	}
	outcome, ok := v.Fields[kind]
	if !ok {
		return true
	}
	return outcome.Passed
}

// FieldOutcome is the validation result for one component
type FieldOutcome struct {
	Passed   bool     `json:"passed"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}
