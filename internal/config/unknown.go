package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// suggestDistance is the largest edit distance still offered as a
// "did you mean" hint.
const suggestDistance = 3

// knownSections and knownKeys are read off Config's toml tags, so adding a
// field is enough to make its key legal.
var knownSections, knownKeys = tomlKeys(reflect.TypeFor[Config]())

func tomlKeys(root reflect.Type) (sections, keys []string) {
	for i := range root.NumField() {
		section := root.Field(i)
		name := section.Tag.Get("toml")
		sections = append(sections, name)

		for j := range section.Type.NumField() {
			keys = append(keys, name+"."+section.Type.Field(j).Tag.Get("toml"))
		}
	}

	slices.Sort(sections)
	slices.Sort(keys)

	return sections, keys
}

// checkUnknownKeys turns every key the decoder left untouched into an error.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		errs = append(errs, unknownKeyError(key.String()))
	}

	return errors.Join(errs...)
}

func unknownKeyError(key string) error {
	kind, candidates := "key", knownKeys
	if !strings.Contains(key, ".") {
		kind, candidates = "section", knownSections
	}

	if hint := nearest(key, candidates); hint != "" {
		return fmt.Errorf("unknown config %s %q, did you mean %q?", kind, key, hint)
	}

	return fmt.Errorf("unknown config %s %q", kind, key)
}

// nearest returns the first candidate with the smallest edit distance to s,
// or "" when none is within suggestDistance.
func nearest(s string, candidates []string) string {
	best, bestDist := "", suggestDistance+1

	for _, c := range candidates {
		if d := editDistance(s, c); d < bestDist {
			best, bestDist = c, d
		}
	}

	return best
}

// editDistance is the Levenshtein distance between a and b, kept to two rows.
func editDistance(a, b string) int {
	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}

	next := make([]int, len(b)+1)

	for i := range len(a) {
		next[0] = i + 1

		for j := range len(b) {
			sub := row[j]
			if a[i] != b[j] {
				sub++
			}

			next[j+1] = min(next[j]+1, row[j+1]+1, sub)
		}

		row, next = next, row
	}

	return row[len(b)]
}
