package validate

import (
	"sort"
	"strings"

	"go.uber.org/zap"
)

// canadianInstitutions maps Payments Canada institution numbers to bank names
var canadianInstitutions = map[string]string{
	"001": "Bank of Montreal",
	"002": "Bank of Nova Scotia",
	"003": "Royal Bank of Canada",
	"004": "Toronto-Dominion Bank",
	"006": "National Bank of Canada",
	"010": "Canadian Imperial Bank of Commerce",
	"016": "HSBC Bank Canada",
	"030": "Canadian Western Bank",
	"039": "Laurentian Bank of Canada",
	"117": "Northern Trust Company, Canada",
	"127": "Manulife Bank of Canada",
	"177": "Desjardins",
	"219": "Tangerine",
	"260": "CIBC Trust Corporation",
	"269": "Simplii Financial",
	"308": "Bank of China (Canada)",
	"309": "Citibank Canada",
	"326": "President's Choice Bank",
	"338": "Equitable Bank",
	"509": "Concentra Bank",
	"540": "Mogo Money Inc.",
	"614": "Tandia Financial Credit Union",
	"815": "Bridgewater Bank",
	"828": "CentreVue Bank",
	"837": "Paymi",
	"865": "Koova Credit Union Limited",
	"889": "Alterna Bank",
	"899": "Wealth One Bank of Canada",
}

// Institution is one entry of the registry
type Institution struct {
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}

// InstitutionRegistry resolves institution numbers to bank names
type InstitutionRegistry struct {
	names map[string]string
}

// NewInstitutionRegistry creates a registry from the built-in Canadian table.
// Overrides add or rename entries; codes that are not three digits are skipped.
func NewInstitutionRegistry(overrides map[string]string) *InstitutionRegistry {
	r := &InstitutionRegistry{
		names: make(map[string]string, len(canadianInstitutions)+len(overrides)),
	}

	for code, name := range canadianInstitutions {
		r.names[code] = name
	}

	for code, name := range overrides {
		code = strings.TrimSpace(code)
		if len(code) != 3 || !isDigits(code) {
			zap.L().Warn("validate: ignoring institution override with invalid code",
				zap.String("code", code),
				zap.String("name", name),
			)
			continue
		}
		r.names[code] = strings.TrimSpace(name)
	}

	return r
}

// Name returns the bank name for code, or "" when unknown
func (r *InstitutionRegistry) Name(code string) string {
	return r.names[strings.TrimSpace(code)]
}

// Known reports whether code is a registered institution
func (r *InstitutionRegistry) Known(code string) bool {
	_, ok := r.names[strings.TrimSpace(code)]
	return ok
}

// All returns every institution ordered by code
func (r *InstitutionRegistry) All() []Institution {
	out := make([]Institution, 0, len(r.names))
	for code, name := range r.names {
		out = append(out, Institution{Code: code, Name: name})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Code < out[j].Code
	})
	return out
}

// Len returns the number of registered institutions
func (r *InstitutionRegistry) Len() int {
	return len(r.names)
}
