package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstitutionRegistry_BuiltIn(t *testing.T) {
	r := NewInstitutionRegistry(nil)

	tests := []struct {
		code  string
		known bool
		name  string
	}{
		{"001", true, "Bank of Montreal"},
		{"003", true, "Royal Bank of Canada"},
		{"177", true, "Desjardins"},
		{" 004 ", true, "Toronto-Dominion Bank"},
		{"555", false, ""},
		{"", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.known, r.Known(tt.code))
			assert.Equal(t, tt.name, r.Name(tt.code))
		})
	}
}

func TestInstitutionRegistry_Overrides(t *testing.T) {
	r := NewInstitutionRegistry(map[string]string{
		"555": "Caisse Locale",
		"003": "RBC Royal Bank",
		"12":  "Too Short",
		"abc": "Not Digits",
	})

	assert.Equal(t, "Caisse Locale", r.Name("555"))
	assert.Equal(t, "RBC Royal Bank", r.Name("003"))
	assert.False(t, r.Known("12"))
	assert.False(t, r.Known("abc"))
	assert.Equal(t, len(canadianInstitutions)+1, r.Len())
}

func TestInstitutionRegistry_AllSortedByCode(t *testing.T) {
	r := NewInstitutionRegistry(nil)

	all := r.All()

	require.Len(t, all, len(canadianInstitutions))
	assert.Equal(t, "001", all[0].Code)
	assert.Equal(t, "899", all[len(all)-1].Code)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Code, all[i].Code)
	}
}
