package internal

import (
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Moderator masks configured words in chat text. Matching ignores case and
// separators, so "b.a.d" is caught by "bad". A nil *Moderator passes text
// through untouched.
type Moderator struct {
	machine     *goahocorasick.Machine
	replacement rune
}

// NewModerator returns nil when words holds nothing to match.
func NewModerator(words []string, replacement rune) (*Moderator, error) {
	var patterns [][]rune
	for _, word := range words {
		folded, _ := fold(strings.TrimSpace(word))
		if len(folded) > 0 {
			patterns = append(patterns, folded)
		}
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return nil, err
	}
	if replacement == 0 {
		replacement = '*'
	}
	return &Moderator{machine: machine, replacement: replacement}, nil
}

func (m *Moderator) Censor(text string) string {
	if m == nil || text == "" {
		return text
	}
	folded, positions := fold(text)
	if len(folded) == 0 {
		return text
	}
	terms := m.machine.MultiPatternSearch(folded, false)
	if len(terms) == 0 {
		return text
	}
	original := []rune(text)
	for _, term := range terms {
		end := term.Pos + len(term.Word)
		if term.Pos < 0 || end > len(positions) {
			continue
		}
		for i := positions[term.Pos]; i <= positions[end-1]; i++ {
			original[i] = m.replacement
		}
	}
	return string(original)
}

// fold lowercases text and drops separators, returning the folded runes and
// the index of each one in the original rune slice.
func fold(text string) ([]rune, []int) {
	runes := []rune(text)
	folded := make([]rune, 0, len(runes))
	positions := make([]int, 0, len(runes))
	for i, r := range runes {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		folded = append(folded, unicode.ToLower(r))
		positions = append(positions, i)
	}
	return folded, positions
}
