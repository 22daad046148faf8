package pack

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tacaswell/databroker-pack/pkg/errors"
	"github.com/tacaswell/databroker-pack/pkg/sink"
)

func TestRootHash_Deterministic(t *testing.T) {
	if RootHash("/tmp/weoifjew") != RootHash("/tmp/weoifjew") {
		t.Error("root hash must be a pure function of the root string")
	}
	if RootHash("/tmp/a") == RootHash("/tmp/b") {
		t.Error("different roots should hash differently")
	}
	if len(RootHash("/tmp/a")) != 16 {
		t.Errorf("expected 16 hex digits, got %q", RootHash("/tmp/a"))
	}
}

func TestRootIndex(t *testing.T) {
	tests := []struct {
		root string
		want int
	}{
		{"/tmp/weoifjew", 2},
		{"/tmp", 1},
		{"/a/b/c/", 3},
		{"relative/root", 1},
	}
	for _, tt := range tests {
		if got := rootIndex(tt.root); got != tt.want {
			t.Errorf("rootIndex(%q) = %d, want %d", tt.root, got, tt.want)
		}
	}
}

func TestWriteExternalFilesManifest_SortedWithinCall(t *testing.T) {
	mgr := sink.NewMemoryManager()
	root := "/data/det_a"
	if err := WriteExternalFilesManifest(mgr, root, []string{"/data/det_a/2.raw", "/data/det_a/1.raw"}); err != nil {
		t.Fatalf("WriteExternalFilesManifest failed: %v", err)
	}

	name := fmt.Sprintf("external_files_manifest_%s_2.txt", RootHash(root))
	content, ok := mgr.Buffer(name)
	if !ok {
		t.Fatalf("manifest %s not written; artifacts: %v", name, mgr.Artifacts())
	}
	want := "/data/det_a/1.raw\n/data/det_a/2.raw"
	if string(content) != want {
		t.Errorf("manifest content = %q, want %q", content, want)
	}
}

func TestWriteExternalFilesManifest_AppendAcrossCalls(t *testing.T) {
	mgr := sink.NewMemoryManager()
	root := "/data/det_a"
	first := []string{"/data/det_a/b.raw", "/data/det_a/a.raw"}
	second := []string{"/data/det_a/d.raw", "/data/det_a/c.raw"}

	if err := WriteExternalFilesManifest(mgr, root, first); err != nil {
		t.Fatal(err)
	}
	if err := WriteExternalFilesManifest(mgr, root, second); err != nil {
		t.Fatal(err)
	}

	name := fmt.Sprintf("external_files_manifest_%s_2.txt", RootHash(root))
	content, _ := mgr.Buffer(name)
	want := "/data/det_a/a.raw\n/data/det_a/b.raw\n/data/det_a/c.raw\n/data/det_a/d.raw"
	if string(content) != want {
		t.Errorf("appended manifest = %q, want %q", content, want)
	}
}

func TestWriteDocumentsManifest(t *testing.T) {
	mgr := sink.NewMemoryManager()
	if err := WriteDocumentsManifest(mgr, []string{"def.msgpack", "abc.msgpack"}); err != nil {
		t.Fatal(err)
	}
	content, ok := mgr.Buffer("documents_manifest.txt")
	if !ok {
		t.Fatal("documents manifest not written")
	}
	if string(content) != "abc.msgpack\ndef.msgpack" {
		t.Errorf("documents manifest = %q", content)
	}
}

func TestCopyExternalFiles(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "det")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(sub, "0.raw")
	if err := os.WriteFile(src, []byte("frame zero"), 0640); err != nil {
		t.Fatal(err)
	}

	target := t.TempDir()
	newRoot, newFiles, err := CopyExternalFiles(target, root, []string{src}, nil)
	if err != nil {
		t.Fatalf("CopyExternalFiles failed: %v", err)
	}

	wantRoot := filepath.Join(target, RootHash(root))
	if newRoot != wantRoot {
		t.Errorf("new root = %q, want %q", newRoot, wantRoot)
	}
	if len(newFiles) != 1 {
		t.Fatalf("expected 1 copied file, got %v", newFiles)
	}
	copied, err := os.ReadFile(newFiles[0])
	if err != nil {
		t.Fatalf("copied file unreadable: %v", err)
	}
	if string(copied) != "frame zero" {
		t.Errorf("copied content = %q", copied)
	}
	info, err := os.Stat(newFiles[0])
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0640 {
		t.Errorf("permissions not preserved: %v", info.Mode().Perm())
	}

	// Re-invocation with the same files must not corrupt the copies.
	if _, _, err := CopyExternalFiles(target, root, []string{src}, nil); err != nil {
		t.Fatalf("re-invocation failed: %v", err)
	}
}

func TestCopyExternalFiles_RejectsFileOutsideRoot(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(t.TempDir(), "escape.raw")
	if err := os.WriteFile(outside, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	_, _, err := CopyExternalFiles(t.TempDir(), root, []string{outside}, nil)
	if !errors.IsCode(err, errors.CodeCopyFailed) {
		t.Errorf("expected CodeCopyFailed, got %v", err)
	}
}

func TestWriteMsgpackCatalogFile(t *testing.T) {
	mgr := sink.NewMemoryManager()
	rootMap := map[string]string{"/data/det_a": "external_files/abc123"}
	if err := WriteMsgpackCatalogFile(mgr, []string{"./*.msgpack"}, rootMap); err != nil {
		t.Fatalf("WriteMsgpackCatalogFile failed: %v", err)
	}

	content, ok := mgr.Buffer("catalog.yml")
	if !ok {
		t.Fatal("catalog.yml not written")
	}
	text := string(content)
	for _, want := range []string{"bluesky-msgpack-catalog", "./*.msgpack", "root_map", "external_files/abc123"} {
		if !strings.Contains(text, want) {
			t.Errorf("catalog.yml missing %q:\n%s", want, text)
		}
	}
}

func TestWriteJSONLCatalogFile_NilRootMapOmitsKey(t *testing.T) {
	mgr := sink.NewMemoryManager()
	if err := WriteJSONLCatalogFile(mgr, []string{"./*.jsonl"}, nil); err != nil {
		t.Fatal(err)
	}
	content, _ := mgr.Buffer("catalog.yml")
	if strings.Contains(string(content), "root_map") {
		t.Errorf("root_map key must be absent when no root map is supplied:\n%s", content)
	}
	if !strings.Contains(string(content), "bluesky-jsonl-catalog") {
		t.Errorf("missing jsonl driver:\n%s", content)
	}
}

func TestWriteCatalogFile_ExclusiveCreate(t *testing.T) {
	mgr := sink.NewMemoryManager()
	if err := WriteMsgpackCatalogFile(mgr, []string{"./*.msgpack"}, nil); err != nil {
		t.Fatal(err)
	}
	err := WriteMsgpackCatalogFile(mgr, []string{"./*.msgpack"}, nil)
	if !errors.IsCode(err, errors.CodeArtifactExists) {
		t.Errorf("second descriptor write must fail with CodeArtifactExists, got %v", err)
	}
}
