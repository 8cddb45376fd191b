package extract

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/ppiankov/micr/internal/model"
)

// ErrUnparseable is returned when the model output is not a usable JSON object
var ErrUnparseable = eris.New("extract: unparseable model response")

// ParsedResponse is the structured content of one model completion
type ParsedResponse struct {
	RawLine       string                                   `json:"raw_line"`
	RawConfidence float64                                  `json:"raw_confidence"`
	Success       bool                                     `json:"success"`
	ErrorMessage  string                                   `json:"error_message,omitempty"`
	Format        string                                   `json:"format"` // Name of the layout that matched
	Fields        map[model.FieldKind]model.ExtractedField `json:"fields"`
}

// Field returns the extracted field of the given kind; absent when missing
func (p *ParsedResponse) Field(kind model.FieldKind) model.ExtractedField {
	if f, ok := p.Fields[kind]; ok {
		return f
	}
	return model.ExtractedField{Kind: kind, Status: model.FieldAbsent}
}

// Present returns the fields carrying a value, in MICR line order
func (p *ParsedResponse) Present() []model.ExtractedField {
	var out []model.ExtractedField
	for _, kind := range model.AllFieldKinds {
		if f := p.Field(kind); f.IsPresent() {
			out = append(out, f)
		}
	}
	return out
}

// Unparseable returns the fields whose value had the wrong shape
func (p *ParsedResponse) Unparseable() []model.ExtractedField {
	var out []model.ExtractedField
	for _, kind := range model.AllFieldKinds {
		if f := p.Field(kind); f.Status == model.FieldUnparseable {
			out = append(out, f)
		}
	}
	return out
}

// envelope holds the keys shared by every response layout
type envelope struct {
	RawLine       string   `json:"raw_line"`
	RawConfidence *float64 `json:"raw_confidence"`
	Success       *bool    `json:"success"`
	ErrorMessage  *string  `json:"error_message"`
}

// ParseResponse decodes a model completion into per-field values. Markdown
// code fences and prose around the JSON object are ignored. A field whose
// value has the wrong shape is tagged unparseable instead of failing the
// whole response.
func ParseResponse(text string) (*ParsedResponse, error) {
	body := ExtractJSON(text)
	if body == "" {
		return nil, eris.Wrap(ErrUnparseable, "no JSON object in response")
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &top); err != nil {
		return nil, eris.Wrapf(ErrUnparseable, "decode object: %v", err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, eris.Wrapf(ErrUnparseable, "decode envelope: %v", err)
	}

	resp := &ParsedResponse{
		RawLine: strings.TrimSpace(env.RawLine),
		Fields:  make(map[model.FieldKind]model.ExtractedField, len(model.AllFieldKinds)),
	}
	if env.RawConfidence != nil {
		resp.RawConfidence = *env.RawConfidence
	}
	if env.ErrorMessage != nil {
		resp.ErrorMessage = *env.ErrorMessage
	}

	layout := detectLayout(top)
	resp.Format = layout.Name()

	raw, err := layout.Components(top)
	if err != nil {
		return nil, eris.Wrapf(ErrUnparseable, "%s layout: %v", layout.Name(), err)
	}

	for _, kind := range model.AllFieldKinds {
		resp.Fields[kind] = decodeField(kind, raw[string(kind)], resp.RawConfidence)
	}

	if env.Success != nil {
		resp.Success = *env.Success
	} else {
		resp.Success = len(resp.Present()) > 0
	}

	return resp, nil
}

// ExtractJSON returns the JSON object contained in text, dropping code
// fences and any prose before the first brace or after the last one
func ExtractJSON(text string) string {
	s := strings.TrimSpace(text)

	if strings.HasPrefix(s, "```") {
		// Opening fence and its language tag
		s = strings.TrimLeftFunc(s[3:], unicode.IsLetter)
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

// decodeField converts one component into an ExtractedField. Objects carry
// their own confidence; bare strings inherit the line confidence.
func decodeField(kind model.FieldKind, raw json.RawMessage, lineConfidence float64) model.ExtractedField {
	field := model.ExtractedField{Kind: kind, Status: model.FieldAbsent}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return field
	}

	switch raw[0] {
	case '"':
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return unparseable(field, err)
		}
		field.Value = strings.TrimSpace(value)
		field.LLMConfidence = lineConfidence

	case '{':
		var obj struct {
			Value       *string  `json:"value"`
			Confidence  *float64 `json:"confidence"`
			Description string   `json:"description"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return unparseable(field, err)
		}
		if obj.Value != nil {
			field.Value = strings.TrimSpace(*obj.Value)
		}
		if obj.Confidence != nil {
			field.LLMConfidence = *obj.Confidence
		}
		field.Description = obj.Description

	default:
		return unparseable(field, eris.Errorf("expected string or object, got %s", truncate(string(raw), 32)))
	}

	if field.Value != "" {
		field.Status = model.FieldPresent
	}
	return field
}

func unparseable(field model.ExtractedField, err error) model.ExtractedField {
	field.Status = model.FieldUnparseable
	field.Value = ""
	field.Error = err.Error()
	return field
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
