package model

import "math"

// TokenLogprob is one generated token and its natural-log probability
type TokenLogprob struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"` // <= 0
}

// Probability converts the log-probability back to linear scale
func (t TokenLogprob) Probability() float64 {
	return math.Exp(t.Logprob)
}

// JoinTokens concatenates token texts in generation order
func JoinTokens(tokens []TokenLogprob) string {
	n := 0
	for _, t := range tokens {
		n += len(t.Token)
	}
	buf := make([]byte, 0, n)
	for _, t := range tokens {
		buf = append(buf, t.Token...)
	}
	return string(buf)
}
