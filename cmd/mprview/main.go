// Command mprview drives the MPR engine against a raw int16 volume (or a
// built-in phantom) and writes the resulting axial, coronal and sagittal
// slab images to disk. It doubles as an end-to-end smoke test of the
// request/coalesce/supersede pipeline.
package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	log "github.com/sirupsen/logrus"

	"mprengine/internal/models"
	"mprengine/pkg/config"
	"mprengine/pkg/engine"
	"mprengine/pkg/geometry"
	"mprengine/pkg/projection"
	"mprengine/pkg/visualization"
	"mprengine/pkg/volume"
)

func main() {
	inputFile := flag.String("input", "", "Raw little-endian int16 volume file (empty: built-in phantom)")
	dimsFlag := flag.String("dims", "256,256,128", "Volume dimensions nx,ny,nz")
	spacingFlag := flag.String("spacing", "1.0,1.0,1.5", "Voxel spacing in mm sx,sy,sz")
	configPath := flag.String("config", "mprview.yaml", "Configuration file")
	outDir := flag.String("out", "slices", "Directory to save extracted slices")
	thickness := flag.Float64("thickness", 0, "Slab thickness in mm")
	modeName := flag.String("mode", "single", "Slab mode: single, mip, minip or average")
	scrub := flag.Int("scrub", 0, "Number of scroll steps to scrub each view before saving")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Log.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	nx, ny, nz, err := parseDims(*dimsFlag)
	if err != nil {
		log.Fatalf("Invalid -dims: %v", err)
	}
	spacing, err := parseSpacing(*spacingFlag)
	if err != nil {
		log.Fatalf("Invalid -spacing: %v", err)
	}

	mode, err := projection.ParseMode(*modeName)
	if err != nil {
		log.Fatalf("Invalid -mode: %v", err)
	}
	kernel, err := cfg.Kernel()
	if err != nil {
		log.Fatalf("Invalid config kernel: %v", err)
	}
	defaultMode, err := cfg.DefaultMode()
	if err != nil {
		log.Fatalf("Invalid config mode: %v", err)
	}

	var ds *volume.Dataset
	if *inputFile == "" {
		log.Info("No input file given, using built-in phantom volume")
		ds = volume.Phantom(nx, ny, nz, spacing)
	} else {
		ds, err = volume.LoadRaw(*inputFile, nx, ny, nz, spacing)
		if err != nil {
			log.Fatalf("Failed to load volume: %v", err)
		}
	}

	eng := engine.New(engine.Options{
		Workers:            cfg.Engine.Workers,
		QueueDepth:         cfg.Engine.QueueDepth,
		Kernel:             kernel,
		DefaultThicknessMM: cfg.Projection.DefaultThicknessMM,
		DefaultMode:        defaultMode,
	})
	defer eng.Close()

	views := []struct {
		id          models.ViewID
		orientation geometry.Orientation
	}{
		{"axial", geometry.Axial},
		{"coronal", geometry.Coronal},
		{"sagittal", geometry.Sagittal},
	}

	subs := make(map[models.ViewID]<-chan models.Update)
	for _, v := range views {
		if err := eng.AddView(v.id, v.orientation); err != nil {
			log.Fatalf("Failed to add view %s: %v", v.id, err)
		}
		ch, err := eng.Subscribe(v.id)
		if err != nil {
			log.Fatalf("Failed to subscribe to view %s: %v", v.id, err)
		}
		subs[v.id] = ch
	}

	if err := eng.AttachVolume(ds); err != nil {
		log.Fatalf("Failed to attach volume: %v", err)
	}

	for _, v := range views {
		if err := eng.SetThickness(v.id, *thickness, mode); err != nil {
			log.Fatalf("Failed to set thickness on %s: %v", v.id, err)
		}
	}

	if *scrub != 0 {
		for _, v := range views {
			for i := 0; i < *scrub; i++ {
				if _, err := eng.OnScroll(v.id, 1); err != nil {
					log.Fatalf("Scroll failed on %s: %v", v.id, err)
				}
			}
		}
	}

	viewer := visualization.NewViewer(cfg.Viewer.JPEGQuality, cfg.Viewer.WindowLowPercentile, cfg.Viewer.WindowHighPercentile)

	start := time.Now()
	for _, v := range views {
		res, err := awaitReady(subs[v.id], 30*time.Second)
		if err != nil {
			log.Fatalf("View %s produced no slice: %v", v.id, err)
		}

		info, err := eng.SliceInfo(v.id)
		if err != nil {
			log.Fatalf("Failed to read slice info for %s: %v", v.id, err)
		}
		fmt.Printf("%-9s slice %d/%d  %dx%d px  %.2f mm/px\n",
			v.id, info.Index, info.Count, res.Width, res.Height, res.PixelSpacing)

		if err := viewer.SaveResult(res, *outDir, string(v.id), info.Index); err != nil {
			log.Fatalf("Failed to save %s slice: %v", v.id, err)
		}
	}

	fmt.Printf("Saved %d views to %s in %.2fs\n", len(views), *outDir, time.Since(start).Seconds())
}

// awaitReady drains the update stream until a Ready result arrives. Stale
// intermediates are already coalesced away by the engine; whatever arrives
// last is the freshest.
func awaitReady(ch <-chan models.Update, timeout time.Duration) (*projection.Result, error) {
	deadline := time.After(timeout)
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return nil, fmt.Errorf("update stream closed")
			}
			switch u.Status {
			case models.StatusReady:
				return u.Result, nil
			case models.StatusComputeFailed:
				return nil, u.Err
			}
			// NotReady: keep waiting for the volume to land.
		case <-deadline:
			return nil, fmt.Errorf("timed out after %s", timeout)
		}
	}
}

func parseDims(s string) (int, int, int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("want nx,ny,nz, got %q", s)
	}
	var dims [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			return 0, 0, 0, fmt.Errorf("bad dimension %q", p)
		}
		dims[i] = n
	}
	return dims[0], dims[1], dims[2], nil
}

func parseSpacing(s string) (mgl64.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return mgl64.Vec3{}, fmt.Errorf("want sx,sy,sz, got %q", s)
	}
	var v mgl64.Vec3
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || f <= 0 {
			return mgl64.Vec3{}, fmt.Errorf("bad spacing %q", p)
		}
		v[i] = f
	}
	return v, nil
}
