package fingerprint

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/acarl005/stripansi"
)

// Filter rewrites every match of Pattern with Replacement before hashing.
// An empty Replacement strips the match entirely.
type Filter struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

// FilterConfig is the serialized form of a Filter
type FilterConfig struct {
	Name        string `yaml:"name" toml:"name"`
	Pattern     string `yaml:"pattern" toml:"pattern"`
	Replacement string `yaml:"replacement" toml:"replacement"`
}

// Compile turns a FilterConfig into a Filter
func (c FilterConfig) Compile() (Filter, error) {
	re, err := regexp.Compile(c.Pattern)
	if err != nil {
		return Filter{}, fmt.Errorf("filter %s: %w", c.Name, err)
	}
	return Filter{Name: c.Name, Pattern: re, Replacement: c.Replacement}, nil
}

// DefaultFilters strips timestamps and durations, and replaces absolute
// paths, process ids and memory addresses with stable tokens.
func DefaultFilters() []Filter {
	return []Filter{
		// 2024-12-13T10:30:45Z, 2024-12-13T10:30:45.123+02:00
		{Name: "iso-timestamp", Pattern: regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?`)},
		// 2024-12-13 10:30:45, 2024/12/13 10:30:45,123
		{Name: "log-timestamp", Pattern: regexp.MustCompile(`\d{4}[-/]\d{2}[-/]\d{2}\s+\d{2}:\d{2}:\d{2}([.,]\d+)?`)},
		{Name: "clock", Pattern: regexp.MustCompile(`\b\d{2}:\d{2}:\d{2}(\.\d+)?\b`)},
		{Name: "unix-timestamp", Pattern: regexp.MustCompile(`\b1[0-9]{9,12}\b`)},
		// took 1.234s, 123ms, 1.5 seconds
		{Name: "duration", Pattern: regexp.MustCompile(`\b\d+(\.\d+)?\s*(ms|us|µs|s|sec|secs|seconds?|minutes?|hours?)\b`)},
		{Name: "path", Pattern: regexp.MustCompile(`(^|[\s"'(=:])(/[\w.@+~-]+)+/?`), Replacement: "${1}<PATH>"},
		{Name: "pid", Pattern: regexp.MustCompile(`\b[Pp][Ii][Dd][:=\s]*\d+\b`), Replacement: "pid <PID>"},
		{Name: "address", Pattern: regexp.MustCompile(`0x[0-9a-fA-F]{6,16}`), Replacement: "<ADDR>"},
	}
}

// Normalizer applies a fixed list of filters to log text and splits it into
// whitespace-collapsed, non-empty lines.
type Normalizer struct {
	filters []Filter
}

// NewNormalizer returns a normalizer applying filters in order. With no
// filters only colour codes, line endings and whitespace are normalized.
func NewNormalizer(filters ...Filter) *Normalizer {
	return &Normalizer{filters: filters}
}

// DefaultNormalizer returns a normalizer using DefaultFilters
func DefaultNormalizer() *Normalizer {
	return NewNormalizer(DefaultFilters()...)
}

// Filters returns the filter names in application order
func (n *Normalizer) Filters() []string {
	names := make([]string, len(n.filters))
	for i, f := range n.filters {
		names[i] = f.Name
	}
	return names
}

// Lines returns the normalized lines of text. Lines that are empty after
// filtering are dropped.
func (n *Normalizer) Lines(text string) []string {
	text = stripansi.Strip(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var out []string
	for _, line := range strings.Split(text, "\n") {
		for _, f := range n.filters {
			line = f.Pattern.ReplaceAllString(line, f.Replacement)
		}
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
