package flow

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ordinalWords maps ordinal words to 1-based indices.
var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
}

var digitPattern = regexp.MustCompile(`\b(\d{1,2})\b`)

// ParseSelection interprets a user reply against a numbered list of n titled
// items. It understands digits ("2", "1 and 3"), ordinal words, "last",
// "all", and a title substring. Returned indices are 0-based, deduplicated,
// ascending. ok is false when the reply selects nothing.
func ParseSelection(reply string, titles []string) (indices []int, all bool, ok bool) {
	n := len(titles)
	if n == 0 {
		return nil, false, false
	}
	lowered := strings.ToLower(strings.TrimSpace(reply))
	if lowered == "" {
		return nil, false, false
	}

	if lowered == "all" || lowered == "all of them" || lowered == "both" || lowered == "everything" {
		for i := 0; i < n; i++ {
			indices = append(indices, i)
		}
		return indices, true, true
	}

	seen := make(map[int]bool)
	for _, m := range digitPattern.FindAllString(lowered, -1) {
		idx, err := strconv.Atoi(m)
		if err != nil || idx < 1 || idx > n {
			continue
		}
		if !seen[idx-1] {
			seen[idx-1] = true
			indices = append(indices, idx-1)
		}
	}
	for word, idx := range ordinalWords {
		if idx <= n && containsWord(lowered, word) && !seen[idx-1] {
			seen[idx-1] = true
			indices = append(indices, idx-1)
		}
	}
	if containsWord(lowered, "last") && !seen[n-1] {
		seen[n-1] = true
		indices = append(indices, n-1)
	}
	if len(indices) > 0 {
		sort.Ints(indices)
		return indices, false, true
	}

	// Fall back to a title substring match; only an unambiguous hit counts.
	var hit = -1
	for i, title := range titles {
		t := strings.ToLower(title)
		if strings.Contains(t, lowered) || strings.Contains(lowered, t) {
			if hit >= 0 {
				return nil, false, false
			}
			hit = i
		}
	}
	if hit >= 0 {
		return []int{hit}, false, true
	}
	return nil, false, false
}

func containsWord(s, word string) bool {
	for _, f := range strings.Fields(s) {
		if strings.Trim(f, ".,!?") == word {
			return true
		}
	}
	return false
}

var affirmatives = map[string]bool{
	"yes": true, "y": true, "yeah": true, "yep": true, "yup": true,
	"sure": true, "ok": true, "okay": true, "confirm": true, "correct": true,
	"do it": true, "go ahead": true, "sounds good": true, "looks good": true,
}

var negatives = map[string]bool{
	"no": true, "n": true, "nope": true, "nah": true, "cancel": true,
	"stop": true, "never mind": true, "nevermind": true, "don't": true, "dont": true,
}

// IsAffirmative reports whether the reply confirms a pending action.
func IsAffirmative(reply string) bool {
	return affirmatives[strings.Trim(strings.ToLower(strings.TrimSpace(reply)), ".,!")]
}

// IsNegative reports whether the reply declines a pending action.
func IsNegative(reply string) bool {
	return negatives[strings.Trim(strings.ToLower(strings.TrimSpace(reply)), ".,!")]
}
