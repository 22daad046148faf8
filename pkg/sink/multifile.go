package sink

import (
	"os"
	"path/filepath"

	"github.com/tacaswell/databroker-pack/pkg/errors"
)

// MultiFileManager is a filesystem-backed Manager. Every stream is a file
// under the manager's directory; parent directories are created on demand.
type MultiFileManager struct {
	dir       string
	artifacts map[string][]string
	open      map[string]*fileStream
}

// NewMultiFileManager creates a Manager rooted at dir. The directory is
// created if it does not exist.
func NewMultiFileManager(dir string) (*MultiFileManager, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeWriteFailed, "failed to resolve output directory")
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, errors.Wrap(err, errors.CodeWriteFailed, "failed to create output directory")
	}
	return &MultiFileManager{
		dir:       abs,
		artifacts: make(map[string][]string),
		open:      make(map[string]*fileStream),
	}, nil
}

// Dir returns the absolute output directory.
func (m *MultiFileManager) Dir() string {
	return m.dir
}

// Open implements Manager.
func (m *MultiFileManager) Open(artifact, name string, mode Mode) (Stream, error) {
	if !mode.Valid() {
		return nil, errors.New(errors.CodeWriteFailed, "unsupported open mode").
			WithContext("mode", string(mode))
	}
	path := filepath.Join(m.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, errors.CodeWriteFailed, "failed to create artifact directory").
			WithContext("name", name)
	}

	flags := os.O_WRONLY | os.O_CREATE
	if mode == ModeAppend {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.Wrap(err, errors.CodeArtifactExists, "artifact already exists").
				WithContext("name", name)
		}
		return nil, errors.Wrap(err, errors.CodeWriteFailed, "failed to open artifact").
			WithContext("name", name)
	}

	st := &fileStream{f: f}
	if mode == ModeAppend {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, errors.CodeWriteFailed, "failed to stat artifact").
				WithContext("name", name)
		}
		st.off = info.Size()
	}

	recordArtifact(m.artifacts, artifact, name)
	st.onClose = func() { delete(m.open, path) }
	m.open[path] = st
	return st, nil
}

// Artifacts implements Manager.
func (m *MultiFileManager) Artifacts() map[string][]string {
	out := make(map[string][]string, len(m.artifacts))
	for label, names := range m.artifacts {
		out[label] = append([]string(nil), names...)
	}
	return out
}

// Close closes any streams that were never closed by their owners.
func (m *MultiFileManager) Close() error {
	var merr errors.MultiError
	for _, st := range m.open {
		merr.Add(st.Close())
	}
	m.open = make(map[string]*fileStream)
	return merr.Combined()
}

type fileStream struct {
	f       *os.File
	off     int64
	closed  bool
	onClose func()
}

func (s *fileStream) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	s.off += int64(n)
	return n, err
}

func (s *fileStream) Tell() (int64, error) {
	return s.off, nil
}

func (s *fileStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.onClose != nil {
		s.onClose()
	}
	return s.f.Close()
}
