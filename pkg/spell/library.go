package spell

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrUnknownSpell is returned when a spell ID is not present in a [Library].
var ErrUnknownSpell = errors.New("spell: unknown spell")

//go:embed default_spells.yaml
var defaultSpellsYAML []byte

// Library is an ordered, immutable collection of spell definitions. Order is
// significant: when two spells score identically the earlier one wins.
// All methods are safe for concurrent use.
type Library struct {
	spells []Definition
	byID   map[string]int
}

// libraryFile is the on-disk YAML layout.
type libraryFile struct {
	Spells []Definition `yaml:"spells"`
}

// NewLibrary validates defs and builds a Library. Missing mana costs are
// filled with [DefaultManaCost]. Every problem found is reported via
// errors.Join.
func NewLibrary(defs []Definition) (*Library, error) {
	if len(defs) == 0 {
		return nil, errors.New("spell: library must contain at least one spell")
	}
	lib := &Library{
		spells: make([]Definition, 0, len(defs)),
		byID:   make(map[string]int, len(defs)),
	}
	var errs []error
	for _, d := range defs {
		if err := d.validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := lib.byID[d.ID]; dup {
			errs = append(errs, fmt.Errorf("spell %q: duplicate id", d.ID))
			continue
		}
		if d.ManaCost == 0 {
			d.ManaCost = DefaultManaCost(d.Difficulty)
		}
		d.Aliases = append([]string(nil), d.Aliases...)
		d.Phonemes = append([]string(nil), d.Phonemes...)
		lib.byID[d.ID] = len(lib.spells)
		lib.spells = append(lib.spells, d)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return lib, nil
}

// LoadLibrary reads a YAML spell library from path.
func LoadLibrary(path string) (*Library, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("spell: open library %q: %w", path, err)
	}
	defer f.Close()
	return LoadLibraryFromReader(f)
}

// LoadLibraryFromReader parses a YAML spell library from r. Unknown keys are
// rejected.
func LoadLibraryFromReader(r io.Reader) (*Library, error) {
	var lf libraryFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&lf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("spell: library is empty")
		}
		return nil, fmt.Errorf("spell: decode library: %w", err)
	}
	return NewLibrary(lf.Spells)
}

var (
	defaultOnce sync.Once
	defaultLib  *Library
)

// Default returns the built-in twenty-spell library. The embedded data is
// validated at first use and panics if it is malformed.
func Default() *Library {
	defaultOnce.Do(func() {
		lib, err := LoadLibraryFromReader(bytes.NewReader(defaultSpellsYAML))
		if err != nil {
			panic(fmt.Sprintf("spell: embedded default library is invalid: %v", err))
		}
		defaultLib = lib
	})
	return defaultLib
}

// Len returns the number of spells in the library.
func (l *Library) Len() int { return len(l.spells) }

// All returns a deep copy of every definition in library order.
func (l *Library) All() []Definition {
	out := make([]Definition, len(l.spells))
	for i, d := range l.spells {
		d.Aliases = append([]string(nil), d.Aliases...)
		d.Phonemes = append([]string(nil), d.Phonemes...)
		out[i] = d
	}
	return out
}

// At returns the i-th definition in library order. It panics if i is out of
// range, like a slice index.
func (l *Library) At(i int) Definition { return l.spells[i] }

// ByID returns the definition with the given id.
func (l *Library) ByID(id string) (Definition, error) {
	i, ok := l.byID[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownSpell, id)
	}
	return l.spells[i], nil
}

// Keywords returns the distinct canonical names and single-token aliases of
// every spell. Speech engines use these as recognition boosts.
func (l *Library) Keywords() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || strings.ContainsAny(s, " -") {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	for _, d := range l.spells {
		for _, tok := range strings.Fields(d.Canonical) {
			add(tok)
		}
		for _, a := range d.Aliases {
			add(a)
		}
	}
	return out
}
