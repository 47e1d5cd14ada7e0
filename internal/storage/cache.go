package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qepting91/termfreq/internal/domain"
)

var (
	// ErrNotFound is returned when no cache exists for a term
	ErrNotFound = errors.New("not found")

	// ErrSampleExists guards against re-sampling a term with a different plan
	ErrSampleExists = errors.New("sampled cache already exists")
)

// Cache stores one JSON document per term per mode. Writes go through a
// temp file and rename so a reader never sees a half-written document.
// Concurrent writers to the same term are not supported.
type Cache struct {
	ExhaustiveDir string
	SampledDir    string
}

func (c *Cache) path(term string, mode domain.Mode) (string, error) {
	if term == "" || strings.ContainsAny(term, `/\`) || term == "." || term == ".." {
		return "", fmt.Errorf("invalid term %q", term)
	}
	dir := c.ExhaustiveDir
	if mode == domain.ModeSampled {
		dir = c.SampledDir
	}
	return filepath.Join(dir, term+".json"), nil
}

func (c *Cache) Exists(term string, mode domain.Mode) (bool, error) {
	p, err := c.path(term, mode)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Load reads the collection for term in the given mode
func (c *Cache) Load(term string, mode domain.Mode) (*domain.Collection, error) {
	p, err := c.path(term, mode)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s cache for %q: %w", mode, term, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	coll, err := decodeCollection(data, term, mode)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", p, err)
	}
	return coll, nil
}

// LoadPreferred returns the sampled collection for term if there is one,
// otherwise the exhaustive one.
func (c *Cache) LoadPreferred(term string) (*domain.Collection, error) {
	coll, err := c.Load(term, domain.ModeSampled)
	if err == nil {
		return coll, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return c.Load(term, domain.ModeExhaustive)
}

// Save writes coll, replacing any previous document for its term and mode
func (c *Cache) Save(coll *domain.Collection) error {
	p, err := c.path(coll.Term, coll.Mode)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}

	coll.Updated = time.Now().UTC()
	if coll.Comments == nil {
		coll.Comments = []domain.Comment{}
	}

	f, err := os.CreateTemp(filepath.Dir(p), "."+coll.Term+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	enc := json.NewEncoder(f)
	enc.SetIndent("", " ")
	if err := enc.Encode(coll); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", coll.Term, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), p)
}

// decodeCollection accepts both the current document format and a bare JSON
// array of comments written by earlier tooling.
func decodeCollection(data []byte, term string, mode domain.Mode) (*domain.Collection, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var comments []domain.Comment
		if err := json.Unmarshal(trimmed, &comments); err != nil {
			return nil, err
		}
		coll := &domain.Collection{Term: term, Mode: mode, Comments: comments}
		switch mode {
		case domain.ModeExhaustive:
			if oldest, ok := coll.Oldest(); ok {
				coll.Cursor = oldest - 1
			}
			coll.Requests = (len(comments) + 99) / 100
		case domain.ModeSampled:
			coll.DaysPerYear = 30
		}
		return coll, nil
	}

	var coll domain.Collection
	if err := json.Unmarshal(trimmed, &coll); err != nil {
		return nil, err
	}
	if coll.Mode == "" {
		coll.Mode = mode
	}
	if coll.Mode != mode {
		return nil, fmt.Errorf("document is %s, expected %s", coll.Mode, mode)
	}
	if coll.Term == "" {
		coll.Term = term
	}
	return &coll, nil
}
