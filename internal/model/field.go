package model

// FieldKind identifies a MICR line component
type FieldKind string

const (
	FieldTransit     FieldKind = "transit_number"     // Branch transit, 5 digits
	FieldInstitution FieldKind = "institution_number" // Bank institution, 3 digits
	FieldAccount     FieldKind = "account_number"     // Account, variable length
	FieldCheque      FieldKind = "cheque_number"      // Cheque serial, optional
	FieldAmount      FieldKind = "amount"             // Encoded amount, rarely present
	FieldAuxiliary   FieldKind = "auxiliary_on_us"    // Auxiliary on-us, rarely present
)

// AllFieldKinds lists components in MICR line order used for reports
var AllFieldKinds = []FieldKind{
	FieldTransit,
	FieldInstitution,
	FieldAccount,
	FieldCheque,
	FieldAmount,
	FieldAuxiliary,
}

// EssentialFieldKinds are the components a usable MICR line must carry
var EssentialFieldKinds = []FieldKind{
	FieldTransit,
	FieldInstitution,
	FieldAccount,
}

// Label returns a human-readable component name
func (k FieldKind) Label() string {
	switch k {
	case FieldTransit:
		return "Transit number"
	case FieldInstitution:
		return "Institution number"
	case FieldAccount:
		return "Account number"
	case FieldCheque:
		return "Cheque number"
	case FieldAmount:
		return "Amount"
	case FieldAuxiliary:
		return "Auxiliary on-us"
	default:
		return string(k)
	}
}

// FieldStatus tags how a component came out of the model response
type FieldStatus string

const (
	FieldPresent     FieldStatus = "present"     // Value decoded and non-empty
	FieldUnparseable FieldStatus = "unparseable" // Key present but value had the wrong shape
	FieldAbsent      FieldStatus = "absent"      // Key missing or value empty
)

// ExtractedField is a value the model claims to have read, with its self-reported confidence
type ExtractedField struct {
	Kind          FieldKind   `json:"kind"`
	Value         string      `json:"value,omitempty"`
	LLMConfidence float64     `json:"llm_confidence"`
	Description   string      `json:"description,omitempty"`
	Status        FieldStatus `json:"status"`
	Error         string      `json:"error,omitempty"` // Decode error when Status is unparseable
}

// IsPresent reports whether the field carries a usable value
func (f ExtractedField) IsPresent() bool {
	return f.Status == FieldPresent && f.Value != ""
}

// AlignmentStrategy names the token-alignment strategy that located a value
type AlignmentStrategy string

const (
	StrategyExact          AlignmentStrategy = "exact"
	StrategyReconstruction AlignmentStrategy = "reconstruction"
	StrategyApproximate    AlignmentStrategy = "approximate"
	StrategyNone           AlignmentStrategy = "none" // Alignment miss
)

// ConfidenceBreakdown is the per-field scoring record
// combined = llm_weight*llm + logprob_weight*logprob + validation_weight*validation
type ConfidenceBreakdown struct {
	Field                FieldKind         `json:"field"`
	Value                string            `json:"value"`
	LLMConfidence        float64           `json:"llm_confidence"`
	LogprobConfidence    float64           `json:"logprob_confidence"`
	ValidationConfidence float64           `json:"validation_confidence"`
	LLMWeight            float64           `json:"llm_weight"`
	LogprobWeight        float64           `json:"logprob_weight"`
	ValidationWeight     float64           `json:"validation_weight"`
	Combined             float64           `json:"combined_confidence"`
	Strategy             AlignmentStrategy `json:"strategy"`
	Renormalized         bool              `json:"renormalized"` // Logprob weight redistributed after an alignment miss
	ValidationPassed     bool              `json:"validation_passed"`
}

// LLMContribution is the weighted self-reported share of the combined score
func (b ConfidenceBreakdown) LLMContribution() float64 {
	return b.LLMWeight * b.LLMConfidence
}

// LogprobContribution is the weighted token-probability share of the combined score
func (b ConfidenceBreakdown) LogprobContribution() float64 {
	return b.LogprobWeight * b.LogprobConfidence
}

// ValidationContribution is the weighted format-validation share of the combined score
func (b ConfidenceBreakdown) ValidationContribution() float64 {
	return b.ValidationWeight * b.ValidationConfidence
}
