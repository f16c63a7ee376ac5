// Package chunking splits extracted document text into bounded, overlapping
// segments sized for an embedding model.
//
// Text is first broken into lines no longer than MaxLineTokens, splitting long
// lines at sentence, clause, comma and finally word boundaries. Lines are then
// packed into chunks of at most MaxChunkTokens. Each chunk after the first
// starts with up to OverlapTokens words from the end of the previous chunk.
package chunking

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Defaults mirror a small embedding model's comfortable input size.
const (
	DefaultMaxLineTokens  = 40
	DefaultMaxChunkTokens = 500
	DefaultOverlapTokens  = 50
)

// ErrInvalidConfig indicates chunk sizes that cannot produce valid chunks.
var ErrInvalidConfig = errors.New("invalid chunking config")

// TokenCounter estimates how many model tokens a string occupies.
type TokenCounter func(s string) int

// EstimateTokens approximates tokens as one per four characters, rounded up.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// CountWords counts whitespace-separated words.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// Config bounds segment sizes in tokens.
type Config struct {
	MaxLineTokens  int `koanf:"max_line_tokens" yaml:"max_line_tokens"`
	MaxChunkTokens int `koanf:"max_chunk_tokens" yaml:"max_chunk_tokens"`
	OverlapTokens  int `koanf:"overlap_tokens" yaml:"overlap_tokens"`
}

// DefaultConfig returns the default chunk sizes.
func DefaultConfig() Config {
	return Config{
		MaxLineTokens:  DefaultMaxLineTokens,
		MaxChunkTokens: DefaultMaxChunkTokens,
		OverlapTokens:  DefaultOverlapTokens,
	}
}

// Validate checks the sizes are usable.
func (c Config) Validate() error {
	if c.MaxChunkTokens < 1 {
		return fmt.Errorf("%w: max chunk tokens must be positive", ErrInvalidConfig)
	}
	if c.MaxLineTokens < 1 {
		return fmt.Errorf("%w: max line tokens must be positive", ErrInvalidConfig)
	}
	if c.OverlapTokens < 0 || c.OverlapTokens >= c.MaxChunkTokens {
		return fmt.Errorf("%w: overlap must be in [0, %d)", ErrInvalidConfig, c.MaxChunkTokens)
	}
	return nil
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithTokenCounter replaces EstimateTokens.
func WithTokenCounter(count TokenCounter) Option {
	return func(c *Chunker) {
		if count != nil {
			c.count = count
		}
	}
}

// Chunker is safe for concurrent use; it holds no mutable state.
type Chunker struct {
	cfg   Config
	count TokenCounter
}

// New creates a Chunker. MaxLineTokens is clamped to MaxChunkTokens.
func New(cfg Config, opts ...Option) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxLineTokens > cfg.MaxChunkTokens {
		cfg.MaxLineTokens = cfg.MaxChunkTokens
	}
	c := &Chunker{cfg: cfg, count: EstimateTokens}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config {
	return c.cfg
}

// CreateChunks splits text into ordered, non-empty segments.
// Blank or whitespace-only text yields no segments.
func (c *Chunker) CreateChunks(text string) []string {
	return c.SplitParagraphs(c.SplitLines(text))
}

// SplitLines returns trimmed, non-empty lines no longer than MaxLineTokens.
func (c *Chunker) SplitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var lines []string
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		lines = append(lines, c.splitLine(line, 0)...)
	}
	return lines
}

// SplitParagraphs packs lines into chunks no longer than MaxChunkTokens.
func (c *Chunker) SplitParagraphs(lines []string) []string {
	var (
		chunks  []string
		current string
	)
	for _, line := range lines {
		if current == "" {
			current = line
			continue
		}
		if candidate := current + "\n" + line; c.count(candidate) <= c.cfg.MaxChunkTokens {
			current = candidate
			continue
		}

		if strings.TrimSpace(current) != "" {
			chunks = append(chunks, current)
		}
		current = line
		if len(chunks) == 0 {
			continue
		}
		if overlap := c.overlap(current, chunks[len(chunks)-1]); overlap != "" {
			current = overlap
		}
	}
	if strings.TrimSpace(current) != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// overlap prefixes line with the tail of prev when the result still fits.
// Returns "" when no overlap applies.
func (c *Chunker) overlap(line, prev string) string {
	if c.cfg.OverlapTokens == 0 {
		return ""
	}
	words := strings.Fields(prev)
	tail := ""
	for k := 1; k < len(words); k++ {
		candidate := strings.Join(words[len(words)-k:], " ")
		if c.count(candidate) > c.cfg.OverlapTokens {
			break
		}
		tail = candidate
	}
	if tail == "" {
		return ""
	}
	if joined := tail + " " + line; c.count(joined) <= c.cfg.MaxChunkTokens {
		return joined
	}
	return ""
}

// separators are tried in order, coarsest first.
var separators = [][]string{
	{". ", "! ", "? "},
	{"; ", ": "},
	{", "},
	{" "},
}

func (c *Chunker) splitLine(line string, level int) []string {
	if c.count(line) <= c.cfg.MaxLineTokens {
		return []string{line}
	}
	if level == len(separators) {
		return c.hardSplit(line)
	}

	pieces := splitAfterAny(line, separators[level])
	if len(pieces) == 1 {
		return c.splitLine(line, level+1)
	}

	var parts []string
	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		parts = append(parts, c.splitLine(piece, level+1)...)
	}
	return c.merge(parts)
}

// merge greedily rejoins adjacent parts with a space while they fit a line.
func (c *Chunker) merge(parts []string) []string {
	var (
		out     []string
		current string
	)
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		if current == "" {
			current = part
			continue
		}
		if candidate := current + " " + part; c.count(candidate) <= c.cfg.MaxLineTokens {
			current = candidate
			continue
		}
		out = append(out, current)
		current = part
	}
	if current != "" {
		out = append(out, current)
	}
	return out
}

// hardSplit cuts a separator-free string into the longest fitting rune runs.
// Runs that are only whitespace are dropped.
func (c *Chunker) hardSplit(s string) []string {
	var out []string
	runes := []rune(s)
	for len(runes) > 0 {
		lo, hi := 1, len(runes)
		for lo < hi {
			mid := (lo + hi + 1) / 2
			if c.count(string(runes[:mid])) <= c.cfg.MaxLineTokens {
				lo = mid
			} else {
				hi = mid - 1
			}
		}
		if piece := strings.TrimSpace(string(runes[:lo])); piece != "" {
			out = append(out, piece)
		}
		runes = runes[lo:]
	}
	return out
}

func splitAfterAny(s string, seps []string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		for _, sep := range seps {
			if strings.HasPrefix(s[i:], sep) {
				end := i + len(sep)
				parts = append(parts, s[start:end])
				start = end
				i = end - 1
				break
			}
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}
