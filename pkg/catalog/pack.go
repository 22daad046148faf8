package catalog

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	json "github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/tacaswell/databroker-pack/pkg/documents"
	"github.com/tacaswell/databroker-pack/pkg/errors"
)

// Descriptor driver names, as written into catalog.yml by the exporter.
const (
	MsgpackDriver = "bluesky-msgpack-catalog"
	JSONLDriver   = "bluesky-jsonl-catalog"
)

// DescriptorName is the catalog description file inside a pack directory.
const DescriptorName = "catalog.yml"

// Descriptor mirrors the catalog.yml structure.
type Descriptor struct {
	Sources map[string]DescriptorSource `yaml:"sources"`
}

// DescriptorSource is one source entry in the descriptor.
type DescriptorSource struct {
	Driver string         `yaml:"driver"`
	Args   DescriptorArgs `yaml:"args"`
}

// DescriptorArgs are the loader arguments for a source.
type DescriptorArgs struct {
	Paths   []string          `yaml:"paths"`
	RootMap map[string]string `yaml:"root_map"`
}

// OpenPack reopens an exported pack directory as a queryable Catalog. The
// descriptor's glob paths are resolved relative to dir, every matching
// document file is decoded into one run, and resource roots are remapped
// through root_map when resolving external files.
func OpenPack(dir string) (*MemoryCatalog, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeCatalogOpen, "failed to resolve pack directory")
	}
	raw, err := os.ReadFile(filepath.Join(abs, DescriptorName))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeCatalogOpen, "failed to read catalog descriptor").
			WithContext("dir", abs)
	}
	var desc Descriptor
	if err := yaml.Unmarshal(raw, &desc); err != nil {
		return nil, errors.Wrap(err, errors.CodeCatalogOpen, "failed to parse catalog descriptor")
	}
	source, ok := desc.Sources["catalog"]
	if !ok {
		return nil, errors.New(errors.CodeCatalogOpen, "descriptor has no catalog source")
	}

	var decode decodeFunc
	switch source.Driver {
	case MsgpackDriver:
		decode = decodeMsgpackFile
	case JSONLDriver:
		decode = decodeJSONLFile
	default:
		return nil, errors.New(errors.CodeCatalogOpen, "unsupported catalog driver").
			WithContext("driver", source.Driver)
	}

	cat := NewMemoryCatalog()
	for _, pattern := range source.Args.Paths {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(abs, pattern)
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeCatalogOpen, "bad path glob in descriptor").
				WithContext("pattern", pattern)
		}
		sort.Strings(matches)
		for _, path := range matches {
			run, err := loadRun(path, decode, abs, source.Args.RootMap)
			if err != nil {
				return nil, err
			}
			cat.Add(run)
		}
	}
	return cat, nil
}

type decodeFunc func(path string, emit func(documents.Name, documents.Document) error) error

// loadRun decodes one document file into a run. Resource documents get
// their roots remapped through rootMap so FileList resolves inside the pack.
func loadRun(path string, decode decodeFunc, packDir string, rootMap map[string]string) (*MemoryRun, error) {
	run := NewMemoryRun("")
	err := decode(path, func(name documents.Name, doc documents.Document) error {
		if name == documents.Start && run.uid == "" {
			run.uid = doc.UID()
		}
		if name == documents.Resource {
			if mapped, ok := rootMap[doc.Root()]; ok {
				doc = doc.Copy()
				if !filepath.IsAbs(mapped) {
					mapped = filepath.Join(packDir, mapped)
				}
				doc["root"] = mapped
			}
			run.SetFileList(doc.UID(), nil) // replaced below by directory walk
		}
		run.Append(name, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if run.uid == "" {
		return nil, errors.New(errors.CodeCatalogOpen, "document file has no start document").
			WithContext("path", path)
	}

	// Enumerate external files for each resource now that roots are mapped.
	for _, td := range run.docs {
		if td.name != documents.Resource {
			continue
		}
		files, err := listResourceFiles(td.doc)
		if err != nil {
			return nil, err
		}
		run.SetFileList(td.doc.UID(), files)
	}
	return run, nil
}

// listResourceFiles walks root/resource_path collecting regular files.
// A missing directory yields an empty list: a pack written with external
// "omit" still reopens, it just has nothing to enumerate.
func listResourceFiles(resource documents.Document) ([]string, error) {
	base := filepath.Join(resource.Root(), resource.ResourcePath())
	info, err := os.Stat(base)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeFileListFailed, "failed to stat resource path").
			WithContext("path", base)
	}
	if !info.IsDir() {
		return []string{base}, nil
	}
	var files []string
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeFileListFailed, "failed to walk resource path").
			WithContext("path", base)
	}
	sort.Strings(files)
	return files, nil
}

func decodeMsgpackFile(path string, emit func(documents.Name, documents.Document) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeCatalogOpen, "failed to open document file").
			WithContext("path", path)
	}
	defer f.Close()

	dec := msgpack.NewDecoder(f)
	for {
		var pair []any
		if err := dec.Decode(&pair); err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, errors.CodeCatalogOpen, "failed to decode document").
				WithContext("path", path)
		}
		name, doc, err := splitPair(pair, path)
		if err != nil {
			return err
		}
		if err := emit(name, doc); err != nil {
			return err
		}
	}
}

func decodeJSONLFile(path string, emit func(documents.Name, documents.Document) error) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeCatalogOpen, "failed to open document file").
			WithContext("path", path)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	for dec.More() {
		var pair []any
		if err := dec.Decode(&pair); err != nil {
			return errors.Wrap(err, errors.CodeCatalogOpen, "failed to decode document").
				WithContext("path", path)
		}
		name, doc, err := splitPair(pair, path)
		if err != nil {
			return err
		}
		if err := emit(name, doc); err != nil {
			return err
		}
	}
	return nil
}

func splitPair(pair []any, path string) (documents.Name, documents.Document, error) {
	if len(pair) != 2 {
		return "", nil, errors.New(errors.CodeCatalogOpen, "document entry is not a (name, doc) pair").
			WithContext("path", path)
	}
	name, _ := pair[0].(string)
	body, _ := pair[1].(map[string]any)
	if !documents.Name(name).Valid() || body == nil {
		return "", nil, errors.New(errors.CodeCatalogOpen, "malformed document entry").
			WithContext("path", path).
			WithContext("document", name)
	}
	return documents.Name(name), documents.Document(body), nil
}
