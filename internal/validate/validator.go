package validate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/micr/internal/model"
)

// e13bControlChars are the MICR E-13B symbols (transit, amount, on-us, dash)
// and the ASCII letters commonly used to transcribe them
const e13bControlChars = "⑆⑇⑈⑉ABCDabcd"

// Rules holds the Canadian MICR format rules
type Rules struct {
	TransitLength          int     `json:"transit_length" yaml:"transit_length" mapstructure:"transit_length"`
	InstitutionLength      int     `json:"institution_length" yaml:"institution_length" mapstructure:"institution_length"`
	MinAccountLength       int     `json:"min_account_length" yaml:"min_account_length" mapstructure:"min_account_length"`
	MaxAccountLength       int     `json:"max_account_length" yaml:"max_account_length" mapstructure:"max_account_length"`
	MinChequeLength        int     `json:"min_cheque_length" yaml:"min_cheque_length" mapstructure:"min_cheque_length"`
	MaxChequeLength        int     `json:"max_cheque_length" yaml:"max_cheque_length" mapstructure:"max_cheque_length"`
	MinRawLineLength       int     `json:"min_raw_line_length" yaml:"min_raw_line_length" mapstructure:"min_raw_line_length"`
	MaxRawLineLength       int     `json:"max_raw_line_length" yaml:"max_raw_line_length" mapstructure:"max_raw_line_length"`
	LowConfidenceThreshold float64 `json:"low_confidence_threshold" yaml:"low_confidence_threshold" mapstructure:"low_confidence_threshold"`
	MaxConfidenceSpread    float64 `json:"max_confidence_spread" yaml:"max_confidence_spread" mapstructure:"max_confidence_spread"`
}

// DefaultRules returns the Canadian rules
func DefaultRules() Rules {
	return Rules{
		TransitLength:          5,
		InstitutionLength:      3,
		MinAccountLength:       3,
		MaxAccountLength:       20,
		MinChequeLength:        1,
		MaxChequeLength:        10,
		MinRawLineLength:       10,
		MaxRawLineLength:       100,
		LowConfidenceThreshold: 0.7,
		MaxConfidenceSpread:    0.4,
	}
}

// Validator checks MICR components against the format rules
type Validator struct {
	rules        Rules
	institutions *InstitutionRegistry
}

// NewValidator creates a new validator
func NewValidator(rules Rules, institutions *InstitutionRegistry) *Validator {
	if institutions == nil {
		institutions = NewInstitutionRegistry(nil)
	}
	return &Validator{
		rules:        rules,
		institutions: institutions,
	}
}

// Institutions returns the registry used for institution lookups
func (v *Validator) Institutions() *InstitutionRegistry {
	return v.institutions
}

// ValidateField checks a single component value. Only the transit, institution
// and account numbers are required; the other components pass when empty.
func (v *Validator) ValidateField(kind model.FieldKind, value string) model.FieldOutcome {
	value = strings.TrimSpace(value)
	out := model.FieldOutcome{Passed: true}

	fail := func(format string, args ...interface{}) model.FieldOutcome {
		out.Passed = false
		out.Errors = append(out.Errors, fmt.Sprintf(format, args...))
		return out
	}
	warn := func(format string, args ...interface{}) {
		out.Warnings = append(out.Warnings, fmt.Sprintf(format, args...))
	}

	switch kind {
	case model.FieldTransit:
		if value == "" {
			return fail("transit number missing")
		}
		if len(value) != v.rules.TransitLength {
			return fail("transit number must have %d digits, found %d", v.rules.TransitLength, len(value))
		}
		if !isDigits(value) {
			return fail("transit number must contain only digits: %s", value)
		}
		if isAllZeros(value) {
			return fail("invalid transit number: %s", value)
		}
		if strings.HasPrefix(value, "000") {
			warn("transit number starts with 000, unlikely")
		}

	case model.FieldInstitution:
		if value == "" {
			return fail("institution number missing")
		}
		if len(value) != v.rules.InstitutionLength {
			return fail("institution number must have %d digits, found %d", v.rules.InstitutionLength, len(value))
		}
		if !isDigits(value) {
			return fail("institution number must contain only digits: %s", value)
		}
		if isAllZeros(value) {
			return fail("invalid institution number: %s", value)
		}
		if name := v.institutions.Name(value); name != "" {
			warn("known institution: %s (%s)", name, value)
		} else {
			warn("unknown institution: %s (may be a local credit union)", value)
		}

	case model.FieldAccount:
		if value == "" {
			return fail("account number missing")
		}
		if len(value) < v.rules.MinAccountLength {
			return fail("account number too short: %d characters (minimum %d)", len(value), v.rules.MinAccountLength)
		}
		if len(value) > v.rules.MaxAccountLength {
			return fail("account number too long: %d characters (maximum %d)", len(value), v.rules.MaxAccountLength)
		}
		if !isDigits(value) {
			return fail("account number must contain only digits: %s", value)
		}
		if isAllZeros(value) {
			return fail("invalid account number: all zeros")
		}

	case model.FieldCheque:
		if value == "" {
			return out
		}
		if !isDigits(value) {
			return fail("cheque number must contain only digits: %s", value)
		}
		if len(value) < v.rules.MinChequeLength {
			return fail("cheque number too short: %d characters (minimum %d)", len(value), v.rules.MinChequeLength)
		}
		if len(value) > v.rules.MaxChequeLength {
			return fail("cheque number too long: %d characters (maximum %d)", len(value), v.rules.MaxChequeLength)
		}
		if isAllZeros(value) {
			return fail("invalid cheque number: all zeros")
		}

	case model.FieldAmount, model.FieldAuxiliary:
		if value != "" && !isDigits(value) {
			return fail("%s must contain only digits: %s", strings.ToLower(kind.Label()), value)
		}

	default:
		return fail("unknown component: %s", kind)
	}

	return out
}

// ValidateMICR validates every component of a result, the raw line format and
// the consistency between components. Low-confidence warnings use the
// combined confidence already stored on each component.
func (v *Validator) ValidateMICR(result *model.MICRResult) *model.ValidationReport {
	report := &model.ValidationReport{
		Fields: make(map[model.FieldKind]model.FieldOutcome, len(model.AllFieldKinds)),
	}

	if result == nil || !result.Success {
		report.Errors = append(report.Errors, "MICR analysis failed")
		for _, kind := range model.AllFieldKinds {
			report.Fields[kind] = model.FieldOutcome{Passed: false}
		}
		return report
	}

	allPassed := true
	for _, kind := range model.AllFieldKinds {
		c := result.Component(kind)
		value := ""
		if c != nil {
			value = c.Value
		}

		outcome := v.ValidateField(kind, value)
		if outcome.Passed && c != nil && value != "" && c.Combined() < v.rules.LowConfidenceThreshold {
			outcome.Warnings = append(outcome.Warnings,
				fmt.Sprintf("low confidence for %s: %.1f%%", strings.ToLower(kind.Label()), c.Combined()*100))
		}

		report.Fields[kind] = outcome
		report.Errors = append(report.Errors, outcome.Errors...)
		report.Warnings = append(report.Warnings, outcome.Warnings...)
		if !outcome.Passed {
			allPassed = false
		}
	}

	report.FormatValid = v.validateRawLine(result.RawLine, report)
	v.validateConsistency(result, report)

	report.IsValid = allPassed && report.FormatValid
	return report
}

// validateRawLine only produces warnings; a missing raw line cannot be checked
func (v *Validator) validateRawLine(raw string, report *model.ValidationReport) bool {
	if raw == "" {
		report.Warnings = append(report.Warnings, "raw MICR line not available")
		return true
	}

	if !strings.ContainsAny(raw, e13bControlChars) {
		report.Warnings = append(report.Warnings, "no MICR control characters detected in raw line")
	}

	n := utf8.RuneCountInString(raw)
	switch {
	case n < v.rules.MinRawLineLength:
		report.Warnings = append(report.Warnings, "raw MICR line very short, possibly incomplete")
	case n > v.rules.MaxRawLineLength:
		report.Warnings = append(report.Warnings, "raw MICR line very long, possibly noisy")
	}
	return true
}

func (v *Validator) validateConsistency(result *model.MICRResult, report *model.ValidationReport) {
	var confidences []float64
	for _, kind := range model.EssentialFieldKinds {
		if c := result.Component(kind); c != nil && c.Combined() > 0 {
			confidences = append(confidences, c.Combined())
		}
	}

	if len(confidences) >= 2 {
		lo, hi := confidences[0], confidences[0]
		for _, c := range confidences[1:] {
			if c < lo {
				lo = c
			}
			if c > hi {
				hi = c
			}
		}
		if hi-lo > v.rules.MaxConfidenceSpread {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("large confidence spread between components: %.1f%% to %.1f%%", lo*100, hi*100))
		}
	}

	if result.RawLine == "" {
		return
	}
	for _, kind := range model.EssentialFieldKinds {
		c := result.Component(kind)
		if c == nil || c.Value == "" {
			continue
		}
		if !strings.Contains(result.RawLine, c.Value) {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("value '%s' not found in raw MICR line", c.Value))
		}
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isAllZeros(s string) bool {
	return strings.Trim(s, "0") == ""
}
