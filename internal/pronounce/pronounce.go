// Package pronounce scores how closely a spoken transcript matches a spell's
// incantation.
//
// Three signals are blended:
//
//   - name score: normalised Levenshtein similarity against the canonical name;
//   - alias score: the best such similarity across the alias pool (the
//     canonical name plus every alias);
//   - phonetic score: Levenshtein similarity of Double Metaphone encodings,
//     taking the best of the canonical name and every phoneme hint.
//
// accuracy = 0.55·name + 0.25·alias + 0.20·phonetic, reported on a 0..100
// scale. A letter map produced by a diff of the normalised strings tells the
// player which letters of the incantation were heard.
//
// Every function here is pure: identical inputs always give identical output.
package pronounce

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/MrWong99/glyphcast/pkg/spell"
)

const (
	nameWeight     = 0.55
	aliasWeight    = 0.25
	phoneticWeight = 0.20
)

// Letter is one character of the normalised target and whether the speaker
// produced it.
type Letter struct {
	Char    rune `json:"char"`
	Correct bool `json:"correct"`
}

// Result is the outcome of scoring one transcript against one target.
type Result struct {
	Accuracy float64 // 0..100, weighted blend
	Phonetic float64 // 0..100
	Name     float64 // 0..1
	Alias    float64 // 0..1
	Letters  []Letter
}

// Forms are the written forms a spell can be recognised by.
type Forms struct {
	Name     string
	Aliases  []string
	Phonemes []string
}

// FormsOf extracts the scoring forms of a spell definition.
func FormsOf(d spell.Definition) Forms {
	return Forms{Name: d.Canonical, Aliases: d.Aliases, Phonemes: d.Phonemes}
}

// Target is a precomputed scoring target. Build it once per spell with
// [Compile]; it is immutable and safe to share.
type Target struct {
	name     string
	aliases  []string
	codes    []string // metaphone of the name, then of each phoneme hint
	nameCode string
}

// Compile normalises and encodes f.
func Compile(f Forms) Target {
	t := Target{name: Normalize(f.Name)}
	t.aliases = append(t.aliases, t.name)
	for _, a := range f.Aliases {
		if n := Normalize(a); n != "" && n != t.name {
			t.aliases = append(t.aliases, n)
		}
	}
	t.nameCode = Metaphone(t.name)
	t.codes = append(t.codes, t.nameCode)
	for _, p := range f.Phonemes {
		if c := Metaphone(Normalize(p)); c != "" {
			t.codes = append(t.codes, c)
		}
	}
	return t
}

// Name returns the normalised canonical name.
func (t Target) Name() string { return t.name }

// Score compares spoken against the target.
func (t Target) Score(spoken string) Result {
	s := Normalize(spoken)
	if s == "" {
		return Result{Letters: Letters(t.name, "")}
	}

	name := Similarity(t.name, s)

	alias := 0.0
	for _, a := range t.aliases {
		alias = max(alias, Similarity(a, s))
	}

	sc := Metaphone(s)
	phonetic := 0.0
	if sc != "" {
		for _, c := range t.codes {
			phonetic = max(phonetic, Similarity(c, sc))
		}
	}

	acc := nameWeight*name + aliasWeight*alias + phoneticWeight*phonetic
	acc = max(0, min(1, acc))
	return Result{
		Accuracy: acc * 100,
		Phonetic: phonetic * 100,
		Name:     name,
		Alias:    alias,
		Letters:  Letters(t.name, s),
	}
}

// Score is shorthand for Compile(f).Score(spoken).
func Score(f Forms, spoken string) Result {
	return Compile(f).Score(spoken)
}

// Normalize lowercases s, drops everything except ASCII letters and
// whitespace, and collapses runs of whitespace to single spaces.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z':
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' || r == '\v':
			space = true
		}
	}
	return b.String()
}

// Similarity returns 1 - levenshtein(a, b) / max(len(a), len(b), 1).
func Similarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b), 1)
	return 1 - float64(matchr.Levenshtein(a, b))/float64(longest)
}

// Metaphone returns the primary Double Metaphone codes of each word in s,
// concatenated.
func Metaphone(s string) string {
	var b strings.Builder
	for _, w := range strings.Fields(s) {
		primary, _ := matchr.DoubleMetaphone(w)
		b.WriteString(primary)
	}
	return b.String()
}

var dmp = diffmatchpatch.New()

// Letters marks each rune of target as correct when a character-level diff
// keeps it in spoken, and incorrect when spoken dropped it. Extra runes in
// spoken are ignored.
func Letters(target, spoken string) []Letter {
	out := make([]Letter, 0, utf8.RuneCountInString(target))
	if spoken == "" {
		for _, r := range target {
			out = append(out, Letter{Char: r})
		}
		return out
	}
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(target, spoken, false))
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			for _, r := range d.Text {
				out = append(out, Letter{Char: r, Correct: true})
			}
		case diffmatchpatch.DiffDelete:
			for _, r := range d.Text {
				out = append(out, Letter{Char: r})
			}
		}
	}
	return out
}
