package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tacaswell/databroker-pack/internal/simulate"
	"github.com/tacaswell/databroker-pack/pkg/pack"
	"github.com/tacaswell/databroker-pack/pkg/sink"
)

// buildSourcePack writes a reopenable pack of n synthetic runs into dir.
func buildSourcePack(t *testing.T, dir string, n int) {
	t.Helper()

	source, err := simulate.NewCatalog(n, simulate.RunSpec{
		Root:        filepath.Join(t.TempDir(), "detector_data"),
		Materialize: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	mgr, err := sink.NewMultiFileManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()

	files, failures, err := pack.ExportCatalog(source, mgr, pack.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	rootMap := make(map[string]string)
	for _, root := range files.Roots() {
		rootMap[root] = root
		if err := pack.WriteExternalFilesManifest(mgr, root, files.Files(root)); err != nil {
			t.Fatal(err)
		}
	}
	if err := pack.WriteMsgpackCatalogFile(mgr, []string{"./*.msgpack"}, rootMap); err != nil {
		t.Fatal(err)
	}
}

// captureStderr redirects stderr until the returned function is called.
func captureStderr(t *testing.T) func() string {
	t.Helper()
	old := os.Stderr
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stderr = w
	return func() string {
		w.Close()
		os.Stderr = old
		data, _ := io.ReadAll(r)
		return string(data)
	}
}

func TestRunPack_NoDocumentsCountsRuns(t *testing.T) {
	catalogDir := t.TempDir()
	buildSourcePack(t, catalogDir, 2)
	outDir := filepath.Join(t.TempDir(), "out")

	allRuns = true
	noDocuments = true
	t.Cleanup(func() {
		allRuns = false
		noDocuments = false
	})

	stderr := captureStderr(t)
	err := runPack(rootCmd, []string{catalogDir, outDir})
	out := stderr()
	if err != nil {
		t.Fatalf("runPack failed: %v\n%s", err, out)
	}

	// The success line counts runs processed, not document files written.
	if !strings.Contains(out, "packed 2 run(s)") {
		t.Errorf("success line should count 2 runs, got:\n%s", out)
	}
	docs, _ := filepath.Glob(filepath.Join(outDir, "*.msgpack"))
	if len(docs) != 0 {
		t.Errorf("document files written despite --no-documents: %v", docs)
	}
}

func TestReadUIDs(t *testing.T) {
	dir := t.TempDir()
	one := filepath.Join(dir, "one.txt")
	if err := os.WriteFile(one, []byte("abc\n\n# a comment\n  def  \n"), 0644); err != nil {
		t.Fatal(err)
	}
	two := filepath.Join(dir, "two.txt")
	if err := os.WriteFile(two, []byte("ghi\n"), 0644); err != nil {
		t.Fatal(err)
	}

	uids, err := readUIDs([]string{one, two})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"abc", "def", "ghi"}
	if len(uids) != len(want) {
		t.Fatalf("uids = %v, want %v", uids, want)
	}
	for i := range want {
		if uids[i] != want[i] {
			t.Errorf("uids[%d] = %q, want %q", i, uids[i], want[i])
		}
	}
}

func TestReadUIDs_MissingFile(t *testing.T) {
	if _, err := readUIDs([]string{filepath.Join(t.TempDir(), "nope.txt")}); err == nil {
		t.Error("missing uid file must error")
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		input   string
		want    float64
		wantErr bool
	}{
		{"1600000000", 1600000000, false},
		{"1600000000.5", 1600000000.5, false},
		{"2020-01-02T15:04:05Z", float64(time.Date(2020, 1, 2, 15, 4, 5, 0, time.UTC).Unix()), false},
		{"2020-01-01", float64(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).Unix()), false},
		{"not a time", 0, true},
	}
	for _, tt := range tests {
		got, err := parseTime(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseTime(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseTime(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseQueries(t *testing.T) {
	query, err := parseQueries([]string{"plan_name=count", "since=100", "until=200"})
	if err != nil {
		t.Fatal(err)
	}
	if query.Fields["plan_name"] != "count" {
		t.Errorf("Fields = %v", query.Fields)
	}
	if query.Since != 100 || query.Until != 200 {
		t.Errorf("range = [%v, %v)", query.Since, query.Until)
	}

	if _, err := parseQueries([]string{"noequals"}); err == nil {
		t.Error("constraint without = must error")
	}
}
