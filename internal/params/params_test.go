package params

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMergePrefersUserValues(t *testing.T) {
	got := Merge(Set{"alpha": 5}, Set{"alpha": 1, "beta": 2})
	want := Set{"alpha": 5, "beta": 2}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeWithEmptyOrNilUser(t *testing.T) {
	want := Set{"alpha": 1}
	if diff := cmp.Diff(want, Merge(Set{}, Set{"alpha": 1})); diff != "" {
		t.Fatalf("empty user (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, Merge(nil, Set{"alpha": 1})); diff != "" {
		t.Fatalf("nil user (-want +got):\n%s", diff)
	}
}

func TestMergePassesThroughUserOnlyKeys(t *testing.T) {
	got := Merge(Set{"gamma": "x"}, Set{"alpha": 1})
	want := Set{"alpha": 1, "gamma": "x"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	user := Set{"alpha": 5}
	defaults := Set{"alpha": 1, "beta": 2}
	_ = Merge(user, defaults)
	if defaults["alpha"] != 1 || len(user) != 1 {
		t.Fatalf("inputs mutated: user=%v defaults=%v", user, defaults)
	}
}

func TestIntAcceptsDecoderTypes(t *testing.T) {
	set := Set{"a": 3, "b": float64(4), "c": "5", "d": 1.5}
	for key, want := range map[string]int{"a": 3, "b": 4, "c": 5} {
		got, err := set.Int(key, 0)
		if err != nil || got != want {
			t.Fatalf("Int(%s) = %d, %v; want %d", key, got, err, want)
		}
	}
	if _, err := set.Int("d", 0); err == nil {
		t.Fatalf("expected error for fractional value")
	}
	if got, _ := set.Int("missing", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestStringsAcceptsListsAndCommaStrings(t *testing.T) {
	set := Set{"yaml": []any{"a", 2}, "cli": "x, y,,z", "typed": []string{"q"}}
	cases := map[string][]string{
		"yaml":    {"a", "2"},
		"cli":     {"x", "y", "z"},
		"typed":   {"q"},
		"missing": nil,
	}
	for key, want := range cases {
		if diff := cmp.Diff(want, set.Strings(key)); diff != "" {
			t.Fatalf("Strings(%s) mismatch (-want +got):\n%s", key, diff)
		}
	}
}
