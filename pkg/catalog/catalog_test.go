package catalog

import (
	"testing"

	"github.com/tacaswell/databroker-pack/pkg/documents"
	"github.com/tacaswell/databroker-pack/pkg/errors"
)

func memRun(uid string, start documents.Document) *MemoryRun {
	run := NewMemoryRun(uid)
	if start == nil {
		start = documents.Document{"uid": uid}
	}
	run.Append(documents.Start, start)
	run.Append(documents.Stop, documents.Document{"uid": uid + "-stop"})
	return run
}

func TestMemoryCatalog_GetExactAndPrefix(t *testing.T) {
	cat := NewMemoryCatalog()
	cat.Add(memRun("3c93c54e-1111", nil))
	cat.Add(memRun("47587fa8-2222", nil))

	tests := []struct {
		uid      string
		want     string
		wantCode errors.Code
	}{
		{"3c93c54e-1111", "3c93c54e-1111", ""},
		{"3c93", "3c93c54e-1111", ""},
		{"47", "47587fa8-2222", ""},
		{"zzzz", "", errors.CodeUIDNotFound},
	}
	for _, tt := range tests {
		run, err := cat.Get(tt.uid)
		if tt.wantCode != "" {
			if !errors.IsCode(err, tt.wantCode) {
				t.Errorf("Get(%q) error = %v, want code %s", tt.uid, err, tt.wantCode)
			}
			continue
		}
		if err != nil {
			t.Errorf("Get(%q) failed: %v", tt.uid, err)
			continue
		}
		if run.UID() != tt.want {
			t.Errorf("Get(%q) = %s, want %s", tt.uid, run.UID(), tt.want)
		}
	}
}

func TestMemoryCatalog_AmbiguousPrefix(t *testing.T) {
	cat := NewMemoryCatalog()
	cat.Add(memRun("abc-1", nil))
	cat.Add(memRun("abc-2", nil))

	_, err := cat.Get("abc")
	if !errors.IsCode(err, errors.CodeAmbiguousUID) {
		t.Errorf("expected CodeAmbiguousUID, got %v", err)
	}
}

func TestMemoryCatalog_EachPreservesOrder(t *testing.T) {
	cat := NewMemoryCatalog()
	for _, uid := range []string{"ccc", "aaa", "bbb"} {
		cat.Add(memRun(uid, nil))
	}

	var seen []string
	err := cat.Each(func(uid string, run Run) error {
		seen = append(seen, uid)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 3 || seen[0] != "ccc" || seen[1] != "aaa" || seen[2] != "bbb" {
		t.Errorf("iteration order = %v, want insertion order", seen)
	}
	if cat.Len() != 3 {
		t.Errorf("Len = %d", cat.Len())
	}
}

func TestMemoryCatalog_Search(t *testing.T) {
	cat := NewMemoryCatalog()
	cat.Add(memRun("run-1", documents.Document{"uid": "run-1", "plan_name": "count", "time": float64(100)}))
	cat.Add(memRun("run-2", documents.Document{"uid": "run-2", "plan_name": "scan", "time": float64(200)}))
	cat.Add(memRun("run-3", documents.Document{"uid": "run-3", "plan_name": "count", "time": float64(300)}))

	tests := []struct {
		name  string
		query Query
		want  int
	}{
		{"empty matches all", Query{}, 3},
		{"field match", Query{Fields: map[string]any{"plan_name": "count"}}, 2},
		{"no match", Query{Fields: map[string]any{"plan_name": "grid"}}, 0},
		{"since", Query{Since: 150}, 2},
		{"until exclusive", Query{Until: 300}, 2},
		{"range and field", Query{Fields: map[string]any{"plan_name": "count"}, Since: 150}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := cat.Search(tt.query)
			if err != nil {
				t.Fatal(err)
			}
			if sub.Len() != tt.want {
				t.Errorf("Search matched %d runs, want %d", sub.Len(), tt.want)
			}
		})
	}
}

func TestQueryMatches_NonComparableFields(t *testing.T) {
	start := documents.Document{"uid": "run-1", "detectors": []any{"det_a", "det_b"}}

	match := Query{Fields: map[string]any{"detectors": []any{"det_a", "det_b"}}}
	if !match.Matches(start) {
		t.Error("equal slice constraint should match")
	}
	miss := Query{Fields: map[string]any{"detectors": []any{"det_a"}}}
	if miss.Matches(start) {
		t.Error("different slice constraint should not match")
	}
}

func TestMemoryRun_CursorRestartable(t *testing.T) {
	run := memRun("abc", nil)

	for pass := 0; pass < 2; pass++ {
		cur := run.Documents()
		count := 0
		for cur.Next() {
			count++
		}
		if cur.Err() != nil {
			t.Fatalf("pass %d: %v", pass, cur.Err())
		}
		if count != 2 {
			t.Errorf("pass %d: counted %d documents, want 2", pass, count)
		}
	}
}

func TestMemoryRun_FileListUnknownResource(t *testing.T) {
	run := memRun("abc", nil)
	_, err := run.FileList(documents.Document{"uid": "nope"})
	if !errors.IsCode(err, errors.CodeFileListFailed) {
		t.Errorf("expected CodeFileListFailed, got %v", err)
	}
}
