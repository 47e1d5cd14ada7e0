package ingest

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/qepting91/termfreq/internal/domain"
)

//go:embed vocabulary.yaml
var defaultVocabulary []byte

// ErrDuplicate is returned when an affix appears twice in one list
var ErrDuplicate = errors.New("duplicate affix")

var affixRegex = regexp.MustCompile(`^[a-z]+$`)

type category struct {
	Name    string `yaml:"category"`
	Affixes string `yaml:"affixes"`
}

type vocabularyFile struct {
	Prefixes []category `yaml:"prefixes"`
	Suffixes []category `yaml:"suffixes"`
}

// Vocabulary is the ordered, deduplicated prefix and suffix lists. The term
// space is their cartesian product.
type Vocabulary struct {
	Prefixes []string
	Suffixes []string
	index    map[string]domain.Term
}

// LoadVocabulary reads a vocabulary YAML file, or the built-in vocabulary
// when path is empty.
func LoadVocabulary(path string) (*Vocabulary, error) {
	if path == "" {
		return ParseVocabulary(defaultVocabulary)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	return ParseVocabulary(data)
}

func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var f vocabularyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse vocabulary yaml: %w", err)
	}

	prefixes, err := flatten(f.Prefixes)
	if err != nil {
		return nil, fmt.Errorf("prefixes: %w", err)
	}
	suffixes, err := flatten(f.Suffixes)
	if err != nil {
		return nil, fmt.Errorf("suffixes: %w", err)
	}
	if len(prefixes) == 0 || len(suffixes) == 0 {
		return nil, errors.New("vocabulary needs at least one prefix and one suffix")
	}

	v := &Vocabulary{Prefixes: prefixes, Suffixes: suffixes, index: make(map[string]domain.Term)}
	for _, t := range v.Terms() {
		if _, ok := v.index[t.String()]; !ok {
			v.index[t.String()] = t
		}
	}
	return v, nil
}

func flatten(cats []category) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, c := range cats {
		for _, a := range strings.Split(c.Affixes, ",") {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" {
				continue
			}
			if !affixRegex.MatchString(a) {
				return nil, fmt.Errorf("affix %q in %s: must be lowercase letters", a, c.Name)
			}
			if seen[a] {
				return nil, fmt.Errorf("%q in %s: %w", a, c.Name, ErrDuplicate)
			}
			seen[a] = true
			out = append(out, a)
		}
	}
	return out, nil
}

// Terms enumerates the term space prefix-major, suffix-minor
func (v *Vocabulary) Terms() []domain.Term {
	terms := make([]domain.Term, 0, len(v.Prefixes)*len(v.Suffixes))
	for _, p := range v.Prefixes {
		for _, s := range v.Suffixes {
			terms = append(terms, domain.Term{Prefix: p, Suffix: s})
		}
	}
	return terms
}

// Split maps a compound back to its prefix and suffix
func (v *Vocabulary) Split(compound string) (domain.Term, bool) {
	t, ok := v.index[compound]
	return t, ok
}
