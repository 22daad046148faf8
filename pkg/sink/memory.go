package sink

import (
	"bytes"

	"github.com/tacaswell/databroker-pack/pkg/errors"
)

// MemoryManager is an in-memory Manager for tests and non-file pipelines.
// Streams accumulate into per-name byte buffers.
type MemoryManager struct {
	buffers   map[string]*bytes.Buffer
	created   map[string]bool
	artifacts map[string][]string
}

// NewMemoryManager creates an empty in-memory Manager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		buffers:   make(map[string]*bytes.Buffer),
		created:   make(map[string]bool),
		artifacts: make(map[string][]string),
	}
}

// Open implements Manager.
func (m *MemoryManager) Open(artifact, name string, mode Mode) (Stream, error) {
	if !mode.Valid() {
		return nil, errors.New(errors.CodeWriteFailed, "unsupported open mode").
			WithContext("mode", string(mode))
	}
	if mode == ModeCreate && m.created[name] {
		return nil, errors.New(errors.CodeArtifactExists, "artifact already exists").
			WithContext("name", name)
	}

	buf, ok := m.buffers[name]
	if !ok {
		buf = &bytes.Buffer{}
		m.buffers[name] = buf
	}
	m.created[name] = true
	recordArtifact(m.artifacts, artifact, name)
	return &memoryStream{buf: buf}, nil
}

// Buffer returns the accumulated contents for name.
func (m *MemoryManager) Buffer(name string) ([]byte, bool) {
	buf, ok := m.buffers[name]
	if !ok {
		return nil, false
	}
	return buf.Bytes(), true
}

// Artifacts implements Manager.
func (m *MemoryManager) Artifacts() map[string][]string {
	out := make(map[string][]string, len(m.artifacts))
	for label, names := range m.artifacts {
		out[label] = append([]string(nil), names...)
	}
	return out
}

// Close implements Manager. Buffers remain readable after Close.
func (m *MemoryManager) Close() error {
	return nil
}

type memoryStream struct {
	buf *bytes.Buffer
}

func (s *memoryStream) Write(p []byte) (int, error) {
	return s.buf.Write(p)
}

func (s *memoryStream) Tell() (int64, error) {
	return int64(s.buf.Len()), nil
}

func (s *memoryStream) Close() error {
	return nil
}
