package score

import (
	"math"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/ppiankov/micr/internal/model"
)

// maxStrayTokens bounds how many non-matching tokens the approximate
// strategy may skip between two matched chunks of the same value
const maxStrayTokens = 8

// Alignment describes where a value was found in the token stream
type Alignment struct {
	Found      bool                    `json:"found"`
	Strategy   model.AlignmentStrategy `json:"strategy"`
	Confidence float64                 `json:"confidence"` // Probability-derived, in [0,1]
	Start      int                     `json:"start"`      // First matched token index, -1 on miss
	End        int                     `json:"end"`        // One past the last matched token index, -1 on miss
}

// Miss is the sentinel returned when no strategy locates the value
func Miss() Alignment {
	return Alignment{Strategy: model.StrategyNone, Start: -1, End: -1}
}

// Align locates target in the token stream and derives a confidence from
// the matched tokens' log-probabilities. Strategies are tried in order
// (exact, reconstruction, approximate) and the first success is returned.
func Align(tokens []model.TokenLogprob, target string) Alignment {
	return align(tokens, target, zap.L())
}

func align(tokens []model.TokenLogprob, target string, logger *zap.Logger) Alignment {
	target = strings.TrimSpace(target)
	if target == "" || len(tokens) == 0 {
		return Miss()
	}

	lps := sanitizeLogprobs(tokens, logger)

	if a, ok := exactMatch(tokens, lps, target); ok {
		return a
	}
	if a, ok := reconstructionMatch(tokens, lps, target); ok {
		return a
	}
	if a, ok := approximateMatch(tokens, lps, target); ok {
		return a
	}
	return Miss()
}

// sanitizeLogprobs clamps positive logprobs to 0 and maps NaN to -Inf (probability 0)
func sanitizeLogprobs(tokens []model.TokenLogprob, logger *zap.Logger) []float64 {
	lps := make([]float64, len(tokens))
	for i, t := range tokens {
		lp := t.Logprob
		switch {
		case math.IsNaN(lp):
			logger.Warn("score: NaN logprob treated as zero probability",
				zap.Int("token_index", i),
				zap.String("token", t.Token),
			)
			lp = math.Inf(-1)
		case lp > 0:
			logger.Warn("score: positive logprob clamped to 0",
				zap.Int("token_index", i),
				zap.String("token", t.Token),
				zap.Float64("logprob", lp),
			)
			lp = 0
		}
		lps[i] = lp
	}
	return lps
}

// exactMatch finds a single token whose text equals target
func exactMatch(tokens []model.TokenLogprob, lps []float64, target string) (Alignment, bool) {
	for i, t := range tokens {
		if strings.TrimSpace(t.Token) == target {
			return Alignment{
				Found:      true,
				Strategy:   model.StrategyExact,
				Confidence: math.Exp(lps[i]),
				Start:      i,
				End:        i + 1,
			}, true
		}
	}
	return Alignment{}, false
}

// reconstructionMatch finds a contiguous run of two or more tokens whose
// concatenation equals target and returns the geometric mean probability
func reconstructionMatch(tokens []model.TokenLogprob, lps []float64, target string) (Alignment, bool) {
	for i := range tokens {
		first := strings.TrimLeftFunc(tokens[i].Token, unicode.IsSpace)
		if first == "" || !strings.HasPrefix(target, first) {
			continue
		}

		var b strings.Builder
		b.WriteString(first)
		sum := lps[i]

		for j := i + 1; j < len(tokens); j++ {
			b.WriteString(tokens[j].Token)
			sum += lps[j]

			joined := b.String()
			if strings.TrimRightFunc(joined, unicode.IsSpace) == target {
				count := j - i + 1
				return Alignment{
					Found:      true,
					Strategy:   model.StrategyReconstruction,
					Confidence: math.Exp(sum / float64(count)),
					Start:      i,
					End:        j + 1,
				}, true
			}
			if !strings.HasPrefix(target, joined) {
				break
			}
		}
	}
	return Alignment{}, false
}

// approximateMatch scans tokens in order and matches consecutive alphanumeric
// chunks of target, skipping stray tokens in between. Every alphanumeric
// character of target must be covered. The confidence is the average of the
// matched tokens' probabilities weighted by matched length.
func approximateMatch(tokens []model.TokenLogprob, lps []float64, target string) (Alignment, bool) {
	clean := alnumOnly(target)
	if clean == "" {
		return Alignment{}, false
	}

	chunks := make([]string, len(tokens))
	for i, t := range tokens {
		chunks[i] = alnumOnly(t.Token)
	}

	for start := range tokens {
		if chunks[start] == "" {
			continue
		}
		consumed := leadingOverlap(chunks[start], clean)
		if consumed == 0 {
			continue
		}

		cursor := consumed
		weighted := math.Exp(lps[start]) * float64(consumed)
		total := float64(consumed)
		end := start + 1
		stray := 0

		for j := start + 1; cursor < len(clean) && j < len(tokens); j++ {
			c := chunks[j]
			if c == "" {
				continue
			}
			n := continuation(c, clean[cursor:])
			if n == 0 {
				stray++
				if stray > maxStrayTokens {
					break
				}
				continue
			}
			stray = 0
			cursor += n
			weighted += math.Exp(lps[j]) * float64(n)
			total += float64(n)
			end = j + 1
		}

		if cursor == len(clean) {
			return Alignment{
				Found:      true,
				Strategy:   model.StrategyApproximate,
				Confidence: clamp01(weighted / total),
				Start:      start,
				End:        end,
			}, true
		}
	}
	return Alignment{}, false
}

// leadingOverlap returns how many characters of target a starting chunk covers:
// the whole target when the chunk contains it, otherwise the longest suffix of
// the chunk that is a prefix of target
func leadingOverlap(chunk, target string) int {
	if strings.Contains(chunk, target) {
		return len(target)
	}
	maxLen := len(chunk)
	if maxLen > len(target) {
		maxLen = len(target)
	}
	for n := maxLen; n > 0; n-- {
		if strings.HasSuffix(chunk, target[:n]) {
			return n
		}
	}
	return 0
}

// continuation returns how many characters of rest a chunk covers from its start
func continuation(chunk, rest string) int {
	if strings.HasPrefix(rest, chunk) {
		return len(chunk)
	}
	if strings.HasPrefix(chunk, rest) {
		return len(rest)
	}
	return 0
}

func alnumOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
