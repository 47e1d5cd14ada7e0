package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/qepting91/termfreq/internal/domain"
)

var (
	// ErrTagged marks n-gram tokens carrying a part-of-speech tag (e.g.
	// "dirtbag_NOUN"). They duplicate the untagged counts and are skipped.
	ErrTagged = errors.New("part-of-speech tagged token")

	ErrUnknownTerm = errors.New("term not in vocabulary")
)

// NgramCount is a term's total count over all years of an n-gram corpus
type NgramCount struct {
	Term  domain.Term
	Count int64
}

// NgramStats summarises one import
type NgramStats struct {
	Parsed  int
	Tagged  int
	Unknown int
}

// ParseNgramLine parses "token\tyear,count,volumes\t..." and sums the
// per-year counts.
func ParseNgramLine(line string, v *Vocabulary) (NgramCount, error) {
	parts := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	token := parts[0]
	if strings.Contains(token, "_") {
		return NgramCount{}, ErrTagged
	}
	term, ok := v.Split(token)
	if !ok {
		return NgramCount{}, fmt.Errorf("%q: %w", token, ErrUnknownTerm)
	}

	var total int64
	for _, field := range parts[1:] {
		if field == "" {
			continue
		}
		cols := strings.Split(field, ",")
		if len(cols) != 3 {
			return NgramCount{}, fmt.Errorf("%q: malformed year field %q", token, field)
		}
		n, err := strconv.ParseInt(cols[1], 10, 64)
		if err != nil {
			return NgramCount{}, fmt.Errorf("%q: count in %q: %w", token, field, err)
		}
		total += n
	}
	return NgramCount{Term: term, Count: total}, nil
}

// ReadNgrams parses every line of r. Tagged and unknown tokens are skipped
// and counted; any other malformed line aborts the import.
func ReadNgrams(r io.Reader, v *Vocabulary, logger *slog.Logger) ([]NgramCount, NgramStats, error) {
	scanner := bufio.NewScanner(stripBOM(r))
	// Some tokens carry a field for every year since 1500
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var out []NgramCount
	var stats NgramStats
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		nc, err := ParseNgramLine(text, v)
		switch {
		case errors.Is(err, ErrTagged):
			stats.Tagged++
			continue
		case errors.Is(err, ErrUnknownTerm):
			stats.Unknown++
			logger.Warn("Skipping unknown n-gram token", "line", line, "err", err)
			continue
		case err != nil:
			return nil, stats, fmt.Errorf("line %d: %w", line, err)
		}
		stats.Parsed++
		out = append(out, nc)
	}
	if err := scanner.Err(); err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}

// LoadNgrams reads an n-gram TSV file from disk
func LoadNgrams(path string, v *Vocabulary, logger *slog.Logger) ([]NgramCount, NgramStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NgramStats{}, err
	}
	defer f.Close()
	return ReadNgrams(f, v, logger)
}

func stripBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	rdr, _, err := br.ReadRune()
	if err != nil {
		return br
	}
	if rdr != '\uFEFF' {
		br.UnreadRune()
	}
	return br
}
