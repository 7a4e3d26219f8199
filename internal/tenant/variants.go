package tenant

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// PrecomputeVariantMap builds the name → spelling-variant lookup used by the
// booking name sub-flow. The map is computed here, on the admin path, so the
// runtime lookup is a single O(1) map access — the turn pipeline must never
// scan name lists.
//
// With Source "curated_list" the tenant's VariantGroups are expanded
// directly. With "auto_scan" the tenant's common-first-names list is grouped
// by Double Metaphone code: names that sound identical are variant
// candidates, then filtered by Mode ("1_char_only" keeps only pairs within
// Levenshtein distance 1; "any_variant" keeps every homophone).
func PrecomputeVariantMap(v NameVariants, commonFirstNames []string) map[string][]string {
	if !v.Enabled {
		return nil
	}
	switch v.Source {
	case "curated_list":
		return expandGroups(v.VariantGroups)
	case "auto_scan":
		return scanHomophones(commonFirstNames, v.Mode)
	default:
		return expandGroups(v.VariantGroups)
	}
}

// expandGroups turns {mark: [marc]} into a symmetric lookup:
// mark → [marc], marc → [mark].
func expandGroups(groups map[string][]string) map[string][]string {
	out := make(map[string][]string, len(groups)*2)
	for head, tail := range groups {
		members := make([]string, 0, len(tail)+1)
		members = append(members, strings.ToLower(head))
		for _, t := range tail {
			members = append(members, strings.ToLower(t))
		}
		for _, m := range members {
			for _, other := range members {
				if other == m {
					continue
				}
				out[m] = appendUnique(out[m], other)
			}
		}
	}
	sortValues(out)
	return out
}

// scanHomophones groups names by primary Double Metaphone code and emits
// variant lists per group member.
func scanHomophones(names []string, mode string) map[string][]string {
	byCode := make(map[string][]string)
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		code, _ := matchr.DoubleMetaphone(n)
		if code == "" {
			continue
		}
		byCode[code] = appendUnique(byCode[code], n)
	}

	out := make(map[string][]string)
	for _, group := range byCode {
		if len(group) < 2 {
			continue
		}
		for _, name := range group {
			for _, other := range group {
				if other == name {
					continue
				}
				if mode == "1_char_only" && matchr.Levenshtein(name, other) > 1 {
					continue
				}
				out[name] = appendUnique(out[name], other)
			}
		}
	}
	sortValues(out)
	return out
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func sortValues(m map[string][]string) {
	for _, vs := range m {
		sort.Strings(vs)
	}
}
