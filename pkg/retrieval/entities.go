package retrieval

import "strings"

// maxQueryEntities caps how many entity names one query can contribute
// to graph expansion.
const maxQueryEntities = 5

// ExtractEntities returns the vocabulary terms mentioned in the query.
//
// Matching is deliberately simple: the lowercased query is scanned for
// each lowercased vocabulary term as a whole-word substring, preserving
// vocabulary order. This is keyword matching, not NLP; the vocabulary
// is expected to hold the concept names known to the scope.
func ExtractEntities(query string, vocabulary []string) []string {
	if query == "" || len(vocabulary) == 0 {
		return nil
	}

	lowered := strings.ToLower(query)
	var entities []string
	for _, term := range vocabulary {
		if term == "" {
			continue
		}
		if containsWord(lowered, strings.ToLower(term)) {
			entities = append(entities, term)
			if len(entities) == maxQueryEntities {
				break
			}
		}
	}
	return entities
}

// containsWord reports whether term appears in text bounded by
// non-alphanumeric characters (or the text edges).
func containsWord(text, term string) bool {
	for start := 0; ; {
		idx := strings.Index(text[start:], term)
		if idx < 0 {
			return false
		}
		idx += start

		end := idx + len(term)
		leftOK := idx == 0 || !isWordByte(text[idx-1])
		rightOK := end == len(text) || !isWordByte(text[end])
		if leftOK && rightOK {
			return true
		}
		start = idx + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
