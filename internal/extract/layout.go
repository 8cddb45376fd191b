package extract

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/ppiankov/micr/internal/model"
)

// Layout is a response shape the model may answer with
type Layout interface {
	// Name returns the layout name
	Name() string

	// CanHandle checks if the decoded top-level object uses this layout
	CanHandle(top map[string]json.RawMessage) bool

	// Components returns the raw component values keyed by field kind
	Components(top map[string]json.RawMessage) (map[string]json.RawMessage, error)
}

// layouts are tried in order; flat is the fallback
var layouts = []Layout{
	nestedLayout{},
	flatLayout{},
}

func detectLayout(top map[string]json.RawMessage) Layout {
	for _, l := range layouts {
		if l.CanHandle(top) {
			return l
		}
	}
	return flatLayout{}
}

// nestedLayout keeps the components under a "components" object
type nestedLayout struct{}

func (nestedLayout) Name() string { return "nested" }

func (nestedLayout) CanHandle(top map[string]json.RawMessage) bool {
	_, ok := top["components"]
	return ok
}

func (nestedLayout) Components(top map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	var components map[string]json.RawMessage
	if err := json.Unmarshal(top["components"], &components); err != nil {
		return nil, eris.Wrap(err, "components must be an object")
	}
	return components, nil
}

// flatLayout keeps each component at the top level
type flatLayout struct{}

func (flatLayout) Name() string { return "flat" }

func (flatLayout) CanHandle(top map[string]json.RawMessage) bool {
	for _, kind := range model.AllFieldKinds {
		if _, ok := top[string(kind)]; ok {
			return true
		}
	}
	return false
}

func (flatLayout) Components(top map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	return top, nil
}
