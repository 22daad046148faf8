package pack

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/tacaswell/databroker-pack/pkg/errors"
	"github.com/tacaswell/databroker-pack/pkg/sink"
)

// ManifestArtifact is the Manager artifact label manifest files are opened
// under.
const ManifestArtifact = "manifest"

// RootHash derives a stable, filesystem-safe identifier for a root path.
// It fingerprints the root string itself, not its contents, and is not a
// security primitive.
func RootHash(root string) string {
	return fmt.Sprintf("%016x", xxh3.HashString(root))
}

// rootIndex counts the path components that make up the root, excluding the
// leading separator. A reader of the manifest can use it to substitute a
// different root under the listed paths. rootIndex("/tmp/weoifjew") == 2.
func rootIndex(root string) int {
	n := 0
	for _, part := range strings.Split(filepath.Clean(root), string(filepath.Separator)) {
		if part != "" {
			n++
		}
	}
	if !filepath.IsAbs(root) {
		n--
	}
	return n
}

// WriteExternalFilesManifest appends the files discovered under one root to
// that root's manifest. Each call's contribution is written sorted; calls
// are separated by a newline so append is lossless across multiple exports
// into the same directory.
func WriteExternalFilesManifest(mgr sink.Manager, root string, files []string) error {
	name := fmt.Sprintf("external_files_manifest_%s_%d.txt", RootHash(root), rootIndex(root))
	stream, err := mgr.Open(ManifestArtifact, name, sink.ModeAppend)
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to open external files manifest").
			WithContext("root", root)
	}
	defer stream.Close()

	// When appending to a nonempty manifest, start on a fresh line so two
	// entries never concatenate.
	pos, err := stream.Tell()
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to position in manifest")
	}
	if pos > 0 {
		if _, err := io.WriteString(stream, "\n"); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "failed to write manifest separator")
		}
	}

	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	if _, err := io.WriteString(stream, strings.Join(sorted, "\n")); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to write manifest").
			WithContext("root", root)
	}
	return stream.Close()
}

// WriteDocumentsManifest appends the relative paths of the serialized
// document files to documents_manifest.txt.
func WriteDocumentsManifest(mgr sink.Manager, artifacts []string) error {
	if len(artifacts) == 0 {
		return nil
	}
	stream, err := mgr.Open(ManifestArtifact, "documents_manifest.txt", sink.ModeAppend)
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to open documents manifest")
	}
	defer stream.Close()

	pos, err := stream.Tell()
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to position in manifest")
	}
	if pos > 0 {
		if _, err := io.WriteString(stream, "\n"); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "failed to write manifest separator")
		}
	}

	sorted := append([]string(nil), artifacts...)
	sort.Strings(sorted)
	if _, err := io.WriteString(stream, strings.Join(sorted, "\n")); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to write documents manifest")
	}
	return stream.Close()
}

// CopyExternalFiles copies every file under root into
// targetDir/RootHash(root)/<path relative to root>, preserving permissions
// and modification times. It returns the new root and the new absolute file
// paths. Re-invocation for the same root overwrites already-copied files.
//
// A filesystem copy is not always applicable; the external-files manifests
// exist to feed other transfer mechanisms such as rsync or globus.
func CopyExternalFiles(targetDir, root string, files []string, progress Progress) (string, []string, error) {
	if progress == nil {
		progress = NopProgress{}
	}
	newRoot := filepath.Join(targetDir, RootHash(root))
	newFiles := make([]string, 0, len(files))

	progress.Start(len(files), "Copying external files")
	defer progress.Finish()

	for _, file := range files {
		rel, err := filepath.Rel(root, file)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", nil, errors.New(errors.CodeCopyFailed, "file is not under its root").
				WithContext("root", root).
				WithContext("file", file)
		}
		dest := filepath.Join(newRoot, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return "", nil, errors.Wrap(err, errors.CodeCopyFailed, "failed to create destination directory").
				WithContext("file", file)
		}
		if err := copyFile(file, dest); err != nil {
			return "", nil, err
		}
		newFiles = append(newFiles, dest)
		progress.Advance()
	}
	return newRoot, newFiles, nil
}

// copyFile copies contents, mode bits, and modification time.
func copyFile(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return errors.Wrap(err, errors.CodeCopyFailed, "failed to stat source file").
			WithContext("file", src)
	}
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, errors.CodeCopyFailed, "failed to open source file").
			WithContext("file", src)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return errors.Wrap(err, errors.CodeCopyFailed, "failed to create destination file").
			WithContext("file", dest)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrap(err, errors.CodeCopyFailed, "failed to copy file contents").
			WithContext("file", src)
	}
	if err := out.Close(); err != nil {
		return errors.Wrap(err, errors.CodeCopyFailed, "failed to flush destination file").
			WithContext("file", dest)
	}
	if err := os.Chtimes(dest, info.ModTime(), info.ModTime()); err != nil {
		return errors.Wrap(err, errors.CodeCopyFailed, "failed to preserve timestamps").
			WithContext("file", dest)
	}
	return nil
}
