package moderation

import "testing"

func TestValidateWordAcceptsPlainWords(t *testing.T) {
	for _, w := range []string{"badword", "bad-word", "don't", "hello world"} {
		if !ValidateWord(w) {
			t.Fatalf("expected %q to validate", w)
		}
	}
}

func TestValidateWordRejectsEmpty(t *testing.T) {
	if ValidateWord("") {
		t.Fatalf("empty word must not validate")
	}
}

func TestValidateWordRejectsDisallowedChars(t *testing.T) {
	for _, w := range []string{"bad$word", "bad(word)", "bad\\word"} {
		if ValidateWord(w) {
			t.Fatalf("expected %q to be rejected", w)
		}
	}
}

func TestMatchExact(t *testing.T) {
	m := NewWordMatcher()
	hit, ok := m.Match("e1", "this is a badword indeed", []string{"badword"})
	if !ok || hit != "badword" {
		t.Fatalf("expected exact match, got %q ok=%v", hit, ok)
	}
}

func TestMatchExactRespectsWordBoundary(t *testing.T) {
	m := NewWordMatcher()
	_, ok := m.Match("e1", "this is a badwordly thing", []string{"badword"})
	if ok {
		t.Fatalf("substring inside a larger word must not match")
	}
}

func TestMatchEvasionSpacedLetters(t *testing.T) {
	m := NewWordMatcher()
	hit, ok := m.Match("e1", "this is b a d w o r d indeed", []string{"badword"})
	if !ok || hit != "badword" {
		t.Fatalf("expected evasion match, got %q ok=%v", hit, ok)
	}
}

func TestMatchEvasionDottedLetters(t *testing.T) {
	m := NewWordMatcher()
	hit, ok := m.Match("e1", "this is b.a.d.w.o.r.d indeed", []string{"badword"})
	if !ok || hit != "badword" {
		t.Fatalf("expected evasion match, got %q ok=%v", hit, ok)
	}
}

func TestMatchEvasionLeetSubstitution(t *testing.T) {
	m := NewWordMatcher()
	hit, ok := m.Match("e1", "this is b4dw0rd indeed", []string{"badword"})
	if !ok || hit != "badword" {
		t.Fatalf("expected leet match, got %q ok=%v", hit, ok)
	}
}

func TestMatchEvasionVowelStar(t *testing.T) {
	m := NewWordMatcher()
	hit, ok := m.Match("e1", "this is b*dw*rd indeed", []string{"badword"})
	if !ok || hit != "badword" {
		t.Fatalf("expected vowel-star match, got %q ok=%v", hit, ok)
	}
}

func TestMatchNoHitReturnsFalse(t *testing.T) {
	m := NewWordMatcher()
	_, ok := m.Match("e1", "perfectly clean message", []string{"badword"})
	if ok {
		t.Fatalf("expected no match")
	}
}

func TestDropEntityClearsCache(t *testing.T) {
	m := NewWordMatcher()
	m.Match("e1", "badword", []string{"badword"})
	if len(m.byEnt["e1"]) == 0 {
		t.Fatalf("expected cache populated")
	}
	m.DropEntity("e1")
	if len(m.byEnt["e1"]) != 0 {
		t.Fatalf("expected cache cleared")
	}
}
