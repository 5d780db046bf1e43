package util

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	reQuotes     = regexp.MustCompile(`["'` + "`" + `«»“”]`)
	reNonAllowed = regexp.MustCompile(`[^A-Z0-9\s]`)
	reSpaces     = regexp.MustCompile(`\s+`)
	reNameJunk   = regexp.MustCompile(`(?i)^(?:ship\s+to|deliver\s+to|recipient|customer|cliente|nombre|name)\s*[:\-]\s*`)
)

// NormalizeSpaces collapses runs of whitespace and trims.
func NormalizeSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(input, " "))
}

// CleanCustomerName strips label prefixes the extractor tends to copy from
// the screenshot ("Ship to: Ana Pérez") and collapses whitespace. Case is kept.
func CleanCustomerName(input string) string {
	s := reQuotes.ReplaceAllString(input, " ")
	s = NormalizeSpaces(s)
	s = reNameJunk.ReplaceAllString(s, "")
	return NormalizeSpaces(s)
}

// FirstToken is the first whitespace-delimited token.
func FirstToken(input string) string {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// NormalizeHeader folds a string to an accent-free upper-case key used for
// comparisons only.
func NormalizeHeader(input string) string {
	s := stripAccents(strings.ToUpper(input))
	s = reQuotes.ReplaceAllString(s, " ")
	s = reNonAllowed.ReplaceAllString(s, " ")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func stripAccents(input string) string {
	decomposed := norm.NFD.String(input)
	out := strings.Builder{}
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}

func DiceCoefficient(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	pairs := func(s string) []string {
		r := []rune(s)
		if len(r) < 2 {
			return nil
		}
		out := make([]string, 0, len(r)-1)
		for i := 0; i < len(r)-1; i++ {
			out = append(out, string(r[i:i+2]))
		}
		return out
	}

	aPairs := pairs(a)
	bPairs := pairs(b)
	if len(aPairs) == 0 || len(bPairs) == 0 {
		return 0
	}

	bCount := map[string]int{}
	for _, p := range bPairs {
		bCount[p]++
	}
	inter := 0
	for _, p := range aPairs {
		if bCount[p] > 0 {
			inter++
			bCount[p]--
		}
	}

	return float64(2*inter) / float64(len(aPairs)+len(bPairs))
}

// ClosestName returns the candidate most similar to name and its score. ok
// reports whether the score reaches minScore. Used to snap a freshly
// extracted name onto a customer the operator already typed.
func ClosestName(name string, candidates []string, minScore float64) (best string, score float64, ok bool) {
	key := NormalizeHeader(name)
	if key == "" {
		return "", 0, false
	}
	for _, c := range candidates {
		if s := DiceCoefficient(key, NormalizeHeader(c)); s > score {
			best, score = c, s
		}
	}
	if score >= minScore {
		return best, score, true
	}
	return "", score, false
}
