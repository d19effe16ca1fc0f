package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/clipforge/pipeline/internal/config"
	"github.com/clipforge/pipeline/internal/manifest"
	"github.com/clipforge/pipeline/pkg/artifact"
	"github.com/clipforge/pipeline/pkg/batchexport"
	"github.com/clipforge/pipeline/pkg/resource"
)

// runExport batch-exports one or more completed projects' videos and
// subtitles into outputDir, admitting each through a ResourceGate so
// export concurrency respects the same CPU/memory/parallel-encode
// thresholds the coordinator's own EXPORT stage honors.
func (a *App) runExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	configPath := fs.String("config", "clipforge.yaml", "path to clipforge.yaml")
	outputDir := fs.String("output-dir", "./export", "directory to copy exported files into")
	parallel := fs.Int("parallel", 2, "max concurrent exports")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() == 0 {
		a.errf("Usage: clipforge export <run-id>... [flags]\n")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		a.errf("Error: %v\n", err)
		return 1
	}

	store := manifest.NewStore(cfg.StateRoot)
	bundles := make(map[string]*manifest.Bundle, fs.NArg())
	requests := make([]artifact.ExportRequest, 0, fs.NArg())
	for _, runID := range fs.Args() {
		b, err := store.Load(runID)
		if err != nil {
			a.errf("Error: %v\n", err)
			return 1
		}
		if b == nil {
			a.errf("Error: no manifest found for run %q\n", runID)
			return 1
		}
		bundles[runID] = b
		requests = append(requests, exportRequestFor(b))
	}

	monitor := resource.NewMonitor(cfg.Resource.SampleInterval.Duration)
	gate := resource.NewGate(monitor, resource.Thresholds{
		MaxCPUPercent:      cfg.Resource.MaxCPUPercent,
		MaxMemPercent:      cfg.Resource.MaxMemPercent,
		MaxGPUPercent:      cfg.Resource.MaxGPUPercent,
		MaxParallelExports: cfg.Resource.MaxParallelExports,
		MaxParallelEncodes: cfg.Resource.MaxParallelEncodes,
	})
	ctx := context.Background()
	monitor.Start(ctx)
	defer monitor.Stop()

	exporter := batchexport.New(gate, fileCopyExportFunc(bundles, *outputDir), batchexport.Config{
		ParallelExports: *parallel,
	})

	result, err := exporter.Run(ctx, requests, func(completed, total int) {
		a.outf("exported %d/%d\n", completed, total)
	})
	if err != nil {
		a.errf("Error: %v\n", err)
		return 1
	}

	for _, r := range result.Results {
		if r.Success {
			a.outf("%s: ok (%d file(s))\n", r.RunID, len(r.Files))
		} else {
			a.outf("%s: failed: %s\n", r.RunID, r.Error)
		}
	}
	if len(result.Failed) > 0 {
		a.errf("%d export(s) failed\n", len(result.Failed))
		return 1
	}
	return 0
}

// exportRequestFor builds the ExportPlan a manifest bundle implies: one
// video file per produced EditedVideo, its subtitle file if generated,
// and a copy of the manifest itself.
func exportRequestFor(b *manifest.Bundle) artifact.ExportRequest {
	var files []artifact.ExportFile
	for _, v := range b.Videos {
		files = append(files, artifact.ExportFile{
			Type:          artifact.ExportFileVideo,
			TargetPath:    filepath.Base(v.Path),
			EstimateBytes: v.Bytes,
		})
	}
	if b.SubtitlePath != "" {
		files = append(files, artifact.ExportFile{
			Type:       artifact.ExportFileSubtitle,
			TargetPath: filepath.Base(b.SubtitlePath),
		})
	}
	files = append(files, artifact.ExportFile{
		Type:       artifact.ExportFileManifest,
		TargetPath: b.RunID + ".json",
	})
	return artifact.ExportRequest{RunID: b.RunID, Plan: artifact.ExportPlan{Files: files}, Kind: "batch"}
}

// fileCopyExportFunc returns an ExportFunc that copies each planned file
// from its source artifact path into <outputDir>/<runID>/.
func fileCopyExportFunc(bundles map[string]*manifest.Bundle, outputDir string) batchexport.ExportFunc {
	return func(ctx context.Context, req artifact.ExportRequest) (*artifact.ExportResult, error) {
		b := bundles[req.RunID]
		if b == nil {
			return nil, fmt.Errorf("export: no bundle loaded for run %q", req.RunID)
		}

		dstDir := filepath.Join(outputDir, req.RunID)
		if err := os.MkdirAll(dstDir, 0o755); err != nil {
			return nil, fmt.Errorf("export: create output dir: %w", err)
		}

		var written []string
		for _, f := range req.Plan.Files {
			var src string
			switch f.Type {
			case artifact.ExportFileVideo:
				src = pathForVideo(b, f.TargetPath)
			case artifact.ExportFileSubtitle:
				src = b.SubtitlePath
			case artifact.ExportFileManifest:
				dst := filepath.Join(dstDir, f.TargetPath)
				if err := writeManifestCopy(b, dst); err != nil {
					return nil, err
				}
				written = append(written, dst)
				continue
			}
			if src == "" {
				continue
			}
			dst := filepath.Join(dstDir, f.TargetPath)
			if err := copyFile(src, dst); err != nil {
				return nil, fmt.Errorf("export: copy %s: %w", src, err)
			}
			written = append(written, dst)
		}

		return &artifact.ExportResult{RunID: req.RunID, Files: written, Success: true}, nil
	}
}

func pathForVideo(b *manifest.Bundle, targetName string) string {
	for _, v := range b.Videos {
		if filepath.Base(v.Path) == targetName {
			return v.Path
		}
	}
	return ""
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func writeManifestCopy(b *manifest.Bundle, dst string) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("export: marshal manifest: %w", err)
	}
	return os.WriteFile(dst, data, 0o644)
}
