package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownSectionKeys lists the valid keys of every config section.
var knownSectionKeys = map[string][]string{
	"local":   {"db_path"},
	"remote":  {"backend", "endpoint", "postgres_dsn", "request_timeout", "token_file"},
	"sync":    {"batch_size", "parallel_tenants", "poll_interval", "tenants", "watch_local_changes"},
	"logging": {"log_file", "log_format", "log_level", "log_retention_days"},
}

// knownSections is the sorted list of section names. Sorted for
// deterministic suggestions when two candidates have the same distance.
var knownSections = func() []string {
	names := make([]string, 0, len(knownSectionKeys))
	for name := range knownSectionKeys {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}()

// sectionOf maps every leaf key to its section, for keys placed at the top
// level by mistake.
var sectionOf = func() map[string]string {
	m := make(map[string]string)

	for section, keys := range knownSectionKeys {
		for _, k := range keys {
			m[k] = section
		}
	}

	return m
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		errs = append(errs, unknownKeyError(key))
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	if len(key) == 1 {
		name := key[0]

		if section, ok := sectionOf[name]; ok {
			return fmt.Errorf("unknown config key %q: it belongs in the [%s] section", name, section)
		}

		if suggestion := closestMatch(name, knownSections); suggestion != "" {
			return fmt.Errorf("unknown config key %q: did you mean [%s]?", name, suggestion)
		}

		return fmt.Errorf("unknown config key %q", name)
	}

	section, leaf := key[0], key[len(key)-1]

	keys, ok := knownSectionKeys[section]
	if !ok {
		if suggestion := closestMatch(section, knownSections); suggestion != "" {
			return fmt.Errorf("unknown config section [%s]: did you mean [%s]?", section, suggestion)
		}

		return fmt.Errorf("unknown config section [%s]", section)
	}

	if suggestion := closestMatch(leaf, keys); suggestion != "" {
		return fmt.Errorf("unknown config key %q in [%s]: did you mean %q?", leaf, section, suggestion)
	}

	return fmt.Errorf("unknown config key %q in [%s]", leaf, section)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization avoids allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
