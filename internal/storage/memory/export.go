package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/avaviz/flowrender/pkg/core"
)

// exportName is flowrender_<start>_<run prefix>.json, plus .gz when
// compressed.
func exportName(r *core.LoadReport, compress bool) string {
	run := r.RunID
	if len(run) > 8 {
		run = run[:8]
	}
	name := "flowrender_" + r.StartedAt.UTC().Format("20060102_150405") + "_" + run + ".json"
	if compress {
		name += ".gz"
	}
	return name
}

// exportJSON writes r into the output directory and remembers the path.
func (b *Backend) exportJSON(r *core.LoadReport) (err error) {
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}
	path := filepath.Join(b.cfg.OutputDir, exportName(r, b.cfg.CompressOutput))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing export file: %w", cerr)
		}
	}()

	var w io.Writer = f
	var zw *gzip.Writer
	if b.cfg.CompressOutput {
		zw = gzip.NewWriter(f)
		w = zw
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return fmt.Errorf("finishing gzip stream: %w", err)
		}
	}

	b.lastExportPath = path
	return nil
}
