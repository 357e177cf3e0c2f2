package ranking

import (
	"sort"
	"strings"
)

// Ratio - Indel similarity of a and b in [0,100]: 2*LCS / (len(a)+len(b))
func Ratio(a, b string) float64 {
	return ratioRunes([]rune(a), []rune(b))
}

func ratioRunes(a, b []rune) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 100
	}
	return 200 * float64(lcs(a, b)) / float64(total)
}

// lcs - length of the longest common subsequence, two-row DP
func lcs(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// PartialRatio - best Ratio of the shorter string against every equal-length window of the longer
func PartialRatio(a, b string) float64 {
	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		return 0
	}
	best := 0.0
	for i := 0; i+len(short) <= len(long); i++ {
		if r := ratioRunes(short, long[i:i+len(short)]); r > best {
			best = r
			if best == 100 {
				break
			}
		}
	}
	return best
}

// TokenSetRatio - compares the shared token set against each side's remainder
func TokenSetRatio(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var common, onlyA, onlyB []string
	for tok := range ta {
		if tb[tok] {
			common = append(common, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range tb {
		if !ta[tok] {
			onlyB = append(onlyB, tok)
		}
	}
	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	sect := strings.Join(common, " ")
	if sect != "" && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 100
	}
	combA := strings.TrimSpace(sect + " " + strings.Join(onlyA, " "))
	combB := strings.TrimSpace(sect + " " + strings.Join(onlyB, " "))

	best := Ratio(combA, combB)
	if sect != "" {
		best = max(best, Ratio(sect, combA), Ratio(sect, combB))
	}
	return best
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		out[tok] = true
	}
	return out
}

// TextScore - blended similarity of two normalized strings in [0,100]. Short targets
// weight the partial-overlap measure higher than token-set.
func TextScore(target, text string, short bool) float64 {
	if target == "" || text == "" {
		return 0
	}
	tok := TokenSetRatio(target, text)
	part := PartialRatio(target, text)
	rat := Ratio(target, text)
	if short {
		return max(0.4*tok+0.5*part+0.1*rat, bestTokenRatio(target, text))
	}
	return max(0.6*tok+0.3*part+0.1*rat, tok)
}

// bestTokenRatio - best Ratio of target against any single token of text
func bestTokenRatio(target, text string) float64 {
	best := 0.0
	for _, tok := range strings.Fields(text) {
		best = max(best, Ratio(target, tok))
	}
	return best
}
