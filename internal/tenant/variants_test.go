package tenant

import (
	"slices"
	"testing"
)

func TestPrecomputeVariantMap_Disabled(t *testing.T) {
	t.Parallel()
	got := PrecomputeVariantMap(NameVariants{Enabled: false}, []string{"mark", "marc"})
	if got != nil {
		t.Errorf("disabled variants should produce nil, got %v", got)
	}
}

func TestPrecomputeVariantMap_CuratedList(t *testing.T) {
	t.Parallel()
	v := NameVariants{
		Enabled: true,
		Source:  "curated_list",
		VariantGroups: map[string][]string{
			"Mark": {"Marc"},
			"Jon":  {"John", "Jonn"},
		},
	}
	got := PrecomputeVariantMap(v, nil)

	if !slices.Equal(got["mark"], []string{"marc"}) {
		t.Errorf("mark → %v", got["mark"])
	}
	if !slices.Equal(got["marc"], []string{"mark"}) {
		t.Errorf("symmetric lookup missing: marc → %v", got["marc"])
	}
	if !slices.Equal(got["jon"], []string{"john", "jonn"}) {
		t.Errorf("jon → %v", got["jon"])
	}
	if !slices.Equal(got["john"], []string{"jon", "jonn"}) {
		t.Errorf("john → %v", got["john"])
	}
}

func TestPrecomputeVariantMap_AutoScan(t *testing.T) {
	t.Parallel()
	names := []string{"Mark", "Marc", "Sarah", "David"}
	v := NameVariants{Enabled: true, Source: "auto_scan", Mode: "any_variant"}

	got := PrecomputeVariantMap(v, names)

	if !slices.Contains(got["mark"], "marc") {
		t.Errorf("mark should list marc as a variant, got %v", got["mark"])
	}
	if !slices.Contains(got["marc"], "mark") {
		t.Errorf("marc should list mark as a variant, got %v", got["marc"])
	}
	if _, ok := got["david"]; ok {
		t.Errorf("david has no homophones in the list, got %v", got["david"])
	}
}

func TestPrecomputeVariantMap_OneCharMode(t *testing.T) {
	t.Parallel()
	// "catherine"/"katherine" differ by one character; "kathryn" is further
	// away and must be filtered in 1_char_only mode.
	names := []string{"catherine", "katherine", "kathryn"}
	v := NameVariants{Enabled: true, Source: "auto_scan", Mode: "1_char_only"}

	got := PrecomputeVariantMap(v, names)

	if !slices.Contains(got["catherine"], "katherine") {
		t.Errorf("catherine → %v", got["catherine"])
	}
	if slices.Contains(got["catherine"], "kathryn") {
		t.Errorf("1_char_only should drop kathryn, got %v", got["catherine"])
	}
}

func TestPrecomputeVariantMap_UnknownSourceFallsBackToGroups(t *testing.T) {
	t.Parallel()
	v := NameVariants{
		Enabled:       true,
		Source:        "something_else",
		VariantGroups: map[string][]string{"mark": {"marc"}},
	}
	got := PrecomputeVariantMap(v, nil)
	if len(got) == 0 {
		t.Error("unknown source should fall back to curated groups")
	}
}
