// Package simulate generates synthetic runs for tests and the demo command:
// a start document, one descriptor, a detector resource with external files
// on disk, datums and events referencing them, and a stop document.
package simulate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/tacaswell/databroker-pack/pkg/catalog"
	"github.com/tacaswell/databroker-pack/pkg/documents"
)

// RunSpec describes one synthetic run.
type RunSpec struct {
	// Root is the external-file root directory. Files are written under
	// Root/ResourcePath when Materialize is set.
	Root string

	// ResourcePath is the detector's directory under Root. Default "det".
	ResourcePath string

	// Events is the number of event documents. Default 3.
	Events int

	// PlanName lands in the start document, for query tests.
	PlanName string

	// Materialize writes the external files to disk so copy and fill have
	// real bytes to work with.
	Materialize bool
}

// NewRun builds one synthetic run.
func NewRun(spec RunSpec) (*catalog.MemoryRun, error) {
	if spec.ResourcePath == "" {
		spec.ResourcePath = "det"
	}
	if spec.Events == 0 {
		spec.Events = 3
	}
	if spec.PlanName == "" {
		spec.PlanName = "count"
	}

	uid := uuid.NewString()
	run := catalog.NewMemoryRun(uid)

	run.Append(documents.Start, documents.Document{
		"uid":       uid,
		"time":      float64(1_600_000_000),
		"plan_name": spec.PlanName,
	})

	descUID := uuid.NewString()
	run.Append(documents.Descriptor, documents.Document{
		"uid":       descUID,
		"run_start": uid,
		"name":      "primary",
	})

	resourceUID := uuid.NewString()
	run.Append(documents.Resource, documents.Document{
		"uid":           resourceUID,
		"run_start":     uid,
		"spec":          "RAW",
		"root":          spec.Root,
		"resource_path": spec.ResourcePath,
	})

	var files []string
	for i := 0; i < spec.Events; i++ {
		datumID := fmt.Sprintf("%s/%d", resourceUID, i)
		run.Append(documents.Datum, documents.Document{
			"datum_id":     datumID,
			"resource":     resourceUID,
			"datum_kwargs": map[string]any{"index": i},
		})
		run.Append(documents.Event, documents.Document{
			"uid":        uuid.NewString(),
			"descriptor": descUID,
			"seq_num":    i + 1,
			"time":       float64(1_600_000_000 + i),
			"data":       map[string]any{"image": datumID},
			"filled":     map[string]any{"image": false},
		})
		files = append(files, filepath.Join(spec.Root, spec.ResourcePath, fmt.Sprintf("%d.raw", i)))
	}

	run.Append(documents.Stop, documents.Document{
		"uid":         uuid.NewString(),
		"run_start":   uid,
		"exit_status": "success",
		"num_events":  spec.Events,
	})

	run.SetFileList(resourceUID, files)

	if spec.Materialize {
		if err := os.MkdirAll(filepath.Join(spec.Root, spec.ResourcePath), 0755); err != nil {
			return nil, err
		}
		for i, file := range files {
			payload := []byte(fmt.Sprintf("frame %d of run %s\n", i, uid))
			if err := os.WriteFile(file, payload, 0644); err != nil {
				return nil, err
			}
		}
	}
	return run, nil
}

// NewCatalog builds a catalog of n synthetic runs sharing one root.
func NewCatalog(n int, spec RunSpec) (*catalog.MemoryCatalog, error) {
	cat := catalog.NewMemoryCatalog()
	for i := 0; i < n; i++ {
		run, err := NewRun(spec)
		if err != nil {
			return nil, err
		}
		cat.Add(run)
	}
	return cat, nil
}
