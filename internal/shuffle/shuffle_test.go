package shuffle

import (
	"encoding/json"
	"math/rand"
	"sort"
	"testing"

	"github.com/examdesk/examdesk-backend/internal/model"
	"github.com/google/uuid"
)

func sampleQuestions(n, opts int) []model.QuestionForStudent {
	qs := make([]model.QuestionForStudent, n)
	for i := range qs {
		options := make([]model.Option, opts)
		for j := range options {
			options[j] = model.Option{Key: letterKey(j), Text: "opt"}
		}
		qs[i] = model.QuestionForStudent{ID: uuid.New(), Options: options}
	}
	return qs
}

func TestPermIsPermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, n := range []int{0, 1, 2, 7, 50} {
		p := Perm(rng, n)
		if len(p) != n {
			t.Fatalf("Perm(%d) length = %d", n, len(p))
		}
		seen := make(map[int]bool, n)
		for _, v := range p {
			if v < 0 || v >= n || seen[v] {
				t.Fatalf("Perm(%d) = %v is not a permutation", n, p)
			}
			seen[v] = true
		}
	}
}

func TestPermDeterministicPerSeed(t *testing.T) {
	a := Perm(rand.New(rand.NewSource(7)), 20)
	b := Perm(rand.New(rand.NewSource(7)), 20)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed produced different permutations: %v vs %v", a, b)
		}
	}
}

func TestBuildOrderPreservesSets(t *testing.T) {
	qs := sampleQuestions(10, 4)
	order := BuildOrder(rand.New(rand.NewSource(1)), qs)

	if len(order) != len(qs) {
		t.Fatalf("order has %d questions, want %d", len(order), len(qs))
	}

	// Same question id multiset, no duplicates, no omissions.
	want := make([]string, len(qs))
	for i, q := range qs {
		want[i] = q.ID.String()
	}
	got := order.QuestionIDs()
	sort.Strings(want)
	sortedGot := append([]string(nil), got...)
	sort.Strings(sortedGot)
	for i := range want {
		if want[i] != sortedGot[i] {
			t.Fatalf("question ids differ after shuffle: %v vs %v", want, got)
		}
	}

	// Each question's option keys are a permutation of the originals.
	byID := make(map[string][]model.Option, len(qs))
	for _, q := range qs {
		byID[q.ID.String()] = q.Options
	}
	for _, qo := range order {
		orig := byID[qo.QuestionID]
		if len(qo.OptionKeys) != len(orig) {
			t.Fatalf("question %s has %d option keys, want %d", qo.QuestionID, len(qo.OptionKeys), len(orig))
		}
		seen := make(map[string]bool)
		for _, k := range qo.OptionKeys {
			if seen[k] {
				t.Fatalf("duplicate option key %q for question %s", k, qo.QuestionID)
			}
			seen[k] = true
		}
		for _, o := range orig {
			if !seen[o.Key] {
				t.Fatalf("option key %q missing for question %s", o.Key, qo.QuestionID)
			}
		}
	}
}

func TestNormalizeOptionsShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []model.Option
	}{
		{
			name: "string array",
			raw:  `["red","green","blue"]`,
			want: []model.Option{{Key: "A", Text: "red"}, {Key: "B", Text: "green"}, {Key: "C", Text: "blue"}},
		},
		{
			name: "object array",
			raw:  `[{"key":"x","text":"ex"},{"key":"y","text":"why"}]`,
			want: []model.Option{{Key: "x", Text: "ex"}, {Key: "y", Text: "why"}},
		},
		{
			name: "key map ordered by key",
			raw:  `{"B":"second","A":"first"}`,
			want: []model.Option{{Key: "A", Text: "first"}, {Key: "B", Text: "second"}},
		},
		{
			name: "double encoded",
			raw:  `"[\"yes\",\"no\"]"`,
			want: []model.Option{{Key: "A", Text: "yes"}, {Key: "B", Text: "no"}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeOptions(json.RawMessage(tc.raw))
			if err != nil {
				t.Fatalf("NormalizeOptions: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %d options, want %d", len(got), len(tc.want))
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("option %d = %+v, want %+v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestNormalizeOptionsRejectsBadShapes(t *testing.T) {
	for _, raw := range []string{``, `[]`, `{}`, `42`, `"not json inside"`} {
		if _, err := NormalizeOptions(json.RawMessage(raw)); err == nil {
			t.Fatalf("NormalizeOptions(%q) succeeded, want error", raw)
		}
	}
}
