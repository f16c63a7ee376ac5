package search

import "strings"

// stopWords are ignored when checking for verbatim matches.
var stopWords = wordSet("the a an be is are was to of and in that have it for not on with as you do at this but by from")

func wordSet(words string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(words) {
		set[w] = struct{}{}
	}
	return set
}

// significantWords lowercases words, trims their punctuation and drops stop words.
func significantWords(text string) []string {
	var words []string
	for _, field := range strings.Fields(text) {
		word := strings.ToLower(strings.Trim(field, ".,!?;:'\"-()[]{}"))
		if word == "" {
			continue
		}
		if _, stop := stopWords[word]; !stop {
			words = append(words, word)
		}
	}
	return words
}

// containsAllQueryWords reports whether every significant query word occurs in text.
func containsAllQueryWords(text, query string) bool {
	wanted := significantWords(query)
	if len(wanted) == 0 {
		return false
	}

	present := make(map[string]struct{})
	for _, word := range significantWords(text) {
		present[word] = struct{}{}
	}
	for _, word := range wanted {
		if _, ok := present[word]; !ok {
			return false
		}
	}
	return true
}
