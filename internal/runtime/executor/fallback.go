package executor

import (
	"net/http"
	"strings"
)

// Decision is the outcome of one failed attempt.
type Decision int

const (
	// Fail stops the whole call and surfaces the error.
	Fail Decision = iota
	// RetrySame tries the current candidate again.
	RetrySame
	// NextCandidate abandons the current candidate and moves down the chain.
	NextCandidate
)

func (d Decision) String() string {
	switch d {
	case RetrySame:
		return "retry"
	case NextCandidate:
		return "next-candidate"
	default:
		return "fail"
	}
}

// Decide maps a failed attempt to the next step. status is 0 for transport failures,
// which are treated like transient overload. attempt is 1-based and maxAttempts caps
// the attempts per candidate.
func Decide(status, attempt, maxAttempts int) Decision {
	switch status {
	case http.StatusBadRequest:
		return NextCandidate
	case 0, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		if attempt >= maxAttempts {
			return NextCandidate
		}
		return RetrySame
	default:
		return Fail
	}
}

// BuildFallbackChain puts requested first, followed by the fixed priority list.
// Blank entries are dropped and duplicates keep their first position.
func BuildFallbackChain(requested string, fallbacks []string) []string {
	chain := make([]string, 0, len(fallbacks)+1)
	seen := make(map[string]struct{}, len(fallbacks)+1)
	add := func(model string) {
		model = strings.TrimSpace(model)
		if model == "" {
			return
		}
		if _, ok := seen[model]; ok {
			return
		}
		seen[model] = struct{}{}
		chain = append(chain, model)
	}
	add(requested)
	for _, model := range fallbacks {
		add(model)
	}
	return chain
}
