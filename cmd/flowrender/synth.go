package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/avaviz/flowrender/internal/raster"
	"github.com/avaviz/flowrender/pkg/core"
)

// synthOptions describes a synthetic simulation: a Gaussian flow blob
// sliding diagonally across a square extent.
type synthOptions struct {
	dir      string
	id       string
	size     int
	interval float64
	end      float64
	extent   core.Extent
	peak     float64
	deflate  bool
}

func newSynthCmd() *cobra.Command {
	o := synthOptions{
		extent: core.Extent{MinX: 2600000, MinY: 1200000, MaxX: 2601000, MaxY: 1201000, CRS: "EPSG:2056"},
	}
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "write a synthetic simulation as GeoTIFF frames and print its config entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := writeSynthetic(o)
			if err != nil {
				return err
			}
			return printSimulationEntry(cmd.OutOrStdout(), cfg)
		},
	}
	cmd.Flags().StringVar(&o.dir, "dir", "./simulations", "base directory; frames go to <dir>/<id>")
	cmd.Flags().StringVar(&o.id, "id", "synthetic", "simulation id and folder name")
	cmd.Flags().IntVar(&o.size, "size", 64, "raster width and height in pixels")
	cmd.Flags().Float64Var(&o.interval, "interval", 1, "seconds between frames")
	cmd.Flags().Float64Var(&o.end, "end", 20, "last frame time")
	cmd.Flags().Float64Var(&o.peak, "peak", 3, "maximum flow height in meters")
	cmd.Flags().BoolVar(&o.deflate, "deflate", true, "compress strips")
	return cmd
}

func writeSynthetic(o synthOptions) (core.SimulationConfig, error) {
	cfg := core.SimulationConfig{
		ID:           o.id,
		Name:         o.id,
		Folder:       o.id,
		Prefix:       "flow_",
		Suffix:       ".tif",
		TimeInterval: o.interval,
		TimeRange:    [2]float64{0, o.end},
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if o.size < 2 {
		return cfg, fmt.Errorf("size must be at least 2, got %d", o.size)
	}
	if err := os.MkdirAll(filepath.Join(o.dir, o.id), 0755); err != nil {
		return cfg, err
	}

	e := o.extent
	cfg.ReleaseArea = fmt.Sprintf("POLYGON((%g %g, %g %g, %g %g, %g %g, %g %g))",
		e.MinX, e.MaxY-e.Height()/10,
		e.MinX+e.Width()/10, e.MaxY-e.Height()/10,
		e.MinX+e.Width()/10, e.MaxY,
		e.MinX, e.MaxY,
		e.MinX, e.MaxY-e.Height()/10)

	var opts []raster.EncodeOption
	if o.deflate {
		opts = append(opts, raster.WithDeflate(), raster.WithFloatPredictor(), raster.WithRowsPerStrip(16))
	}
	steps := raster.TimeSteps(cfg)
	for i, t := range steps {
		progress := 0.0
		if len(steps) > 1 {
			progress = float64(i) / float64(len(steps)-1)
		}
		f := blobFrame(o.size, e, progress, o.peak)
		path := raster.FrameURL(o.dir, cfg, t)
		if err := writeFrame(path, f, opts); err != nil {
			return cfg, fmt.Errorf("frame %g: %w", t, err)
		}
	}
	return cfg, nil
}

// blobFrame renders the blob at progress p in [0,1] along the diagonal from
// the north-west corner. Its footprint widens as it travels.
func blobFrame(size int, ext core.Extent, p, peak float64) *raster.Frame {
	f := &raster.Frame{
		Width:     size,
		Height:    size,
		Samples:   make([]float64, size*size),
		Extent:    ext,
		HasExtent: true,
		NoData:    -9999,
		HasNoData: true,
	}
	cx := 0.1 + 0.8*p
	cy := 0.1 + 0.8*p
	sigma := 0.05 + 0.1*p
	height := peak * (1 - 0.5*p)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := (float64(x)+0.5)/float64(size) - cx
			dy := (float64(y)+0.5)/float64(size) - cy
			v := height * math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
			if v < 0.01 {
				v = 0
			}
			f.Samples[y*size+x] = v
		}
	}
	return f
}

func writeFrame(path string, f *raster.Frame, opts []raster.EncodeOption) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := raster.Encode(out, f, opts...); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func printSimulationEntry(w io.Writer, cfg core.SimulationConfig) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"simulations": []core.SimulationConfig{cfg}})
}
