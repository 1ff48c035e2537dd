package moderation

import (
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// wordShapePattern enforces invariant M3: words accepted from the
// data-plane must match this shape. RE2 (the regexp package) has no
// backtracking engine, so it cannot express lookarounds or catastrophic
// nested quantifiers regardless of input; this validation exists to reject
// garbage before it reaches the matcher, not to defend the engine.
var wordShapePattern = regexp.MustCompile(`^[\pL\pN \-_'.!?]{1,100}$`)

// ValidateWord reports whether word is an acceptable banned-word entry
// (spec §4.3 invariant M3).
func ValidateWord(word string) bool {
	if word == "" {
		return false
	}
	return wordShapePattern.MatchString(word)
}

var leetDigits = map[rune]rune{
	'a': '4',
	'e': '3',
	'i': '1',
	'o': '0',
	's': '5',
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	default:
		return false
	}
}

// wordPattern holds the compiled exact and evasion regexes for one banned
// word within one entity's cache.
type wordPattern struct {
	exact   *regexp.Regexp
	evasion *regexp.Regexp
}

// compileExact builds a word-boundary-anchored literal match.
func compileExact(word string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
}

// compileEvasion builds a pattern tolerant of letters separated by
// whitespace or dots, vowels swapped for '*', and basic leet substitution
// (spec §4.3 stage A step 4).
func compileEvasion(word string) *regexp.Regexp {
	var b strings.Builder
	runes := []rune(word)
	for i, r := range runes {
		if i > 0 {
			b.WriteString(`[\s.]*`)
		}
		if unicode.IsSpace(r) {
			b.WriteString(`[\s.]*`)
			continue
		}
		lower := unicode.ToLower(r)
		class := []rune{lower}
		if isVowel(lower) {
			class = append(class, '*')
		}
		if digit, ok := leetDigits[lower]; ok {
			class = append(class, digit)
		}
		if len(class) == 1 {
			b.WriteString(regexp.QuoteMeta(string(class[0])))
			continue
		}
		b.WriteString("[")
		for _, c := range class {
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
		b.WriteString("]")
	}
	return regexp.MustCompile(`(?i)\b` + b.String() + `\b`)
}

// WordMatcher caches compiled patterns per (entity, word) pair, dropping
// entries on preset refresh or entity unassign (invariant M2).
type WordMatcher struct {
	mu    sync.Mutex
	byEnt map[string]map[string]wordPattern
}

// NewWordMatcher returns an empty matcher.
func NewWordMatcher() *WordMatcher {
	return &WordMatcher{byEnt: make(map[string]map[string]wordPattern)}
}

func (m *WordMatcher) patternFor(entityID, word string) wordPattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, ok := m.byEnt[entityID]
	if !ok {
		ent = make(map[string]wordPattern)
		m.byEnt[entityID] = ent
	}
	if p, ok := ent[word]; ok {
		return p
	}
	p := wordPattern{exact: compileExact(word), evasion: compileEvasion(word)}
	ent[word] = p
	return p
}

// Match checks lowercased message against words for entityID, exact matches
// taking priority over evasion matches. Returns the first hit word.
func (m *WordMatcher) Match(entityID, lowercasedMessage string, words []string) (hit string, matched bool) {
	for _, w := range words {
		if m.patternFor(entityID, w).exact.MatchString(lowercasedMessage) {
			return w, true
		}
	}
	for _, w := range words {
		if m.patternFor(entityID, w).evasion.MatchString(lowercasedMessage) {
			return w, true
		}
	}
	return "", false
}

// DropEntity evicts all cached patterns for entityID (preset refresh or
// unassign, invariant M2).
func (m *WordMatcher) DropEntity(entityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byEnt, entityID)
}
