package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/micr/internal/model"
)

const nestedResponse = `{
  "raw_line": "⑈0042⑈ ⑆12345⑉003⑆ 987654321⑈",
  "raw_confidence": 0.93,
  "components": {
    "transit_number": {"value": "12345", "confidence": 0.98, "description": "Branch transit"},
    "institution_number": {"value": "003", "confidence": 0.97},
    "account_number": {"value": "987654321", "confidence": 0.9},
    "cheque_number": {"value": "0042", "confidence": 0.95},
    "amount": {"value": "", "confidence": 0.0},
    "auxiliary_on_us": null
  },
  "success": true,
  "error_message": null
}`

const flatResponse = `{
  "raw_line": "001234 ⑆ 12345 ⑆ 003 ⑈ 987654321 ⑈",
  "raw_confidence": 0.97,
  "cheque_number": "001234",
  "transit_number": "12345",
  "institution_number": "003",
  "account_number": "987654321",
  "amount": "",
  "auxiliary_on_us": "",
  "success": true,
  "error_message": null
}`

func TestParseResponse_Nested(t *testing.T) {
	resp, err := ParseResponse(nestedResponse)
	require.NoError(t, err)

	assert.Equal(t, "nested", resp.Format)
	assert.True(t, resp.Success)
	assert.Equal(t, 0.93, resp.RawConfidence)
	assert.Equal(t, "⑈0042⑈ ⑆12345⑉003⑆ 987654321⑈", resp.RawLine)

	transit := resp.Field(model.FieldTransit)
	assert.Equal(t, model.FieldPresent, transit.Status)
	assert.Equal(t, "12345", transit.Value)
	assert.Equal(t, 0.98, transit.LLMConfidence)
	assert.Equal(t, "Branch transit", transit.Description)

	assert.Equal(t, model.FieldAbsent, resp.Field(model.FieldAmount).Status)
	assert.Equal(t, model.FieldAbsent, resp.Field(model.FieldAuxiliary).Status)

	present := resp.Present()
	require.Len(t, present, 4)
	assert.Equal(t, model.FieldTransit, present[0].Kind)
	assert.Equal(t, model.FieldCheque, present[3].Kind)
}

func TestParseResponse_FlatUsesLineConfidence(t *testing.T) {
	resp, err := ParseResponse(flatResponse)
	require.NoError(t, err)

	assert.Equal(t, "flat", resp.Format)
	for _, f := range resp.Present() {
		assert.Equal(t, 0.97, f.LLMConfidence, f.Kind)
	}
	assert.Equal(t, "001234", resp.Field(model.FieldCheque).Value)
	assert.Len(t, resp.Present(), 4)
}

func TestParseResponse_CodeFences(t *testing.T) {
	tests := []struct {
		desc string
		text string
	}{
		{"json fence", "```json\n" + flatResponse + "\n```"},
		{"bare fence", "```\n" + flatResponse + "\n```"},
		{"fence without newline", "```json" + flatResponse + "```"},
		{"prose around object", "Here is the MICR line:\n" + flatResponse + "\nLet me know if you need more."},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			resp, err := ParseResponse(tt.text)
			require.NoError(t, err)
			assert.Equal(t, "12345", resp.Field(model.FieldTransit).Value)
		})
	}
}

func TestParseResponse_Unparseable(t *testing.T) {
	tests := []struct {
		desc string
		text string
	}{
		{"empty", ""},
		{"prose only", "I cannot read this cheque."},
		{"truncated", `{"raw_line": "⑆12345`},
		{"array", `["12345", "003"]`},
		{"wrong envelope type", `{"raw_line": 12345, "transit_number": "12345"}`},
		{"components not an object", `{"components": "12345"}`},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			resp, err := ParseResponse(tt.text)
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.True(t, errors.Is(err, ErrUnparseable))
		})
	}
}

func TestParseResponse_FieldLevelUnparseable(t *testing.T) {
	resp, err := ParseResponse(`{
		"raw_line": "⑆12345⑆003⑈987654321⑈",
		"raw_confidence": 0.8,
		"components": {
			"transit_number": {"value": "12345", "confidence": 0.9},
			"institution_number": 3,
			"account_number": {"value": 987654321, "confidence": 0.9}
		}
	}`)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, model.FieldPresent, resp.Field(model.FieldTransit).Status)

	institution := resp.Field(model.FieldInstitution)
	assert.Equal(t, model.FieldUnparseable, institution.Status)
	assert.Contains(t, institution.Error, "expected string or object")

	account := resp.Field(model.FieldAccount)
	assert.Equal(t, model.FieldUnparseable, account.Status)
	assert.Empty(t, account.Value)

	assert.Len(t, resp.Unparseable(), 2)
}

func TestParseResponse_SuccessDefaults(t *testing.T) {
	resp, err := ParseResponse(`{"raw_line": "", "transit_number": ""}`)
	require.NoError(t, err)
	assert.False(t, resp.Success)

	resp, err = ParseResponse(`{"success": false, "error_message": "no cheque in image"}`)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "no cheque in image", resp.ErrorMessage)
	assert.Empty(t, resp.Present())
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":{"b":2}}`, ExtractJSON(`result: {"a":{"b":2}} done`))
	assert.Equal(t, "", ExtractJSON("no object"))
	assert.Equal(t, "", ExtractJSON("} backwards {"))
}
