package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gogpu/wgpu"
	"github.com/natefinch/lumberjack"

	"mrivolume/internal/logging"
	"mrivolume/pkg/config"
	"mrivolume/pkg/geometry"
	"mrivolume/pkg/loader"
	"mrivolume/pkg/reconstruction"
	"mrivolume/pkg/visualization"
	"mrivolume/pkg/volume"
)

func main() {
	// Parse command line arguments
	inputDir := flag.String("input", "", "Directory containing the slice files")
	inputFormat := flag.String("input-format", "dicom", "Input type: dicom or images")
	configPath := flag.String("config", "mrivolume.yaml", "Configuration file (defaults are used if missing)")
	outputDir := flag.String("output", "slices", "Directory to save extracted slices")
	format := flag.String("format", "png", "Output image format: png, jpeg, tiff or bmp")
	orientations := flag.String("orientation", "axial,coronal,sagittal", "Comma-separated planes to extract")
	index := flag.Int("index", -1, "Slice index along each orientation (-1 selects the centre)")
	all := flag.Bool("all", false, "Extract every slice along each orientation")
	interp := flag.String("interp", "bilinear", "Interpolation: none or bilinear")
	useGPU := flag.Bool("gpu", false, "Compute interpolated slices on the GPU")
	compare := flag.Bool("compare", false, "Compare GPU slices against the CPU reference")
	sortBy := flag.String("sort", "imagePositionPatient", "DICOM slice order: imagePositionPatient, tablePosition, instanceNumber or none")
	window := flag.String("window", "voi", "DICOM intensity conversion: voi (rescale and first window) or raw")
	numCores := flag.Int("cores", runtime.NumCPU(), "Number of CPU cores to use (default: all available)")
	timeout := flag.Duration("timeout", 0, "Timeout for each GPU slice (0 waits indefinitely)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn or error")
	logFile := flag.String("log-file", "", "Write logs to a rotating file instead of stderr")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file to -config and exit")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to create config file: %v", err)
		}
		fmt.Printf("Default configuration written to: %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Explicit flags take precedence over the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input-format":
			cfg.Loader.Format = *inputFormat
		case "output":
			cfg.Output.Dir = *outputDir
		case "format":
			cfg.Output.Format = *format
		case "orientation":
			cfg.Output.Orientations = strings.Split(*orientations, ",")
		case "interp":
			cfg.Processing.Interpolation = *interp
		case "gpu":
			cfg.Processing.Processor = "cpu"
			if *useGPU {
				cfg.Processing.Processor = "gpu"
			}
		case "compare":
			cfg.Output.Compare = *compare
		case "sort":
			cfg.Loader.SortBy = *sortBy
		case "window":
			cfg.Loader.WindowScaling = *window
		case "cores":
			cfg.Processing.NumCores = *numCores
		case "timeout":
			cfg.Processing.GPUTimeout = *timeout
		case "log-level":
			cfg.Logging.Level = *logLevel
		case "log-file":
			cfg.Logging.File = *logFile
		}
	})

	if *inputDir == "" {
		flag.Usage()
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	closeLog := setupLogging(cfg)
	defer closeLog()

	params, err := buildParams(cfg, *inputDir, *index, *all)
	if err != nil {
		log.Fatalf("Invalid arguments: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("VOLUME SLICING AND INTERPOLATION")
	fmt.Println("================================")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reconstructor := reconstruction.NewReconstructor(params)
	defer reconstructor.Close()

	startTime := time.Now()
	if err := reconstructor.Process(ctx); err != nil {
		log.Fatalf("Slicing failed: %v", err)
	}
	processingTime := time.Since(startTime)

	summary := reconstructor.Summary()
	fmt.Printf("\nCompleted successfully in %.2f seconds!\n", processingTime.Seconds())
	fmt.Printf("Volume: %s voxels (%s of voxel data)\n", summary.Dims,
		humanize.Bytes(uint64(summary.Dims.Voxels())*2))
	fmt.Printf("Isotropic size: %s\n", summary.IsotropicDims)
	fmt.Printf("Spacing: %g x %g x %g mm\n", summary.Spacing.X, summary.Spacing.Y, summary.Spacing.Z)
	fmt.Printf("Intensity: mean %.1f, std %.1f\n", summary.Mean, summary.StdDev)
	fmt.Printf("Processor: %s\n", summary.Processor)
	fmt.Printf("Slices written: %s to %s\n", humanize.Comma(int64(summary.Written)), params.OutputDir)

	if params.Compare {
		metrics := reconstructor.GetMetrics()
		fmt.Printf("\nCPU/GPU agreement:\n")
		fmt.Printf("==================\n")
		if metrics.Slices == 0 {
			fmt.Println("No slices compared (GPU unavailable or only axial planes requested)")
		} else {
			fmt.Printf("Slices compared: %d (%s pixels)\n", metrics.Slices, humanize.Comma(int64(metrics.Pixels)))
			fmt.Printf("Max absolute difference: %.0f\n", metrics.MaxAbsDiff)
			fmt.Printf("Mean absolute difference: %.4f\n", metrics.MeanAbsDiff)
			fmt.Printf("Root Mean Square Error (RMSE): %.4f\n", metrics.RMSE)
			fmt.Printf("PSNR: %.2f dB\n", metrics.PSNR)
			fmt.Printf("Structural Similarity Index (SSIM): %.4f\n", metrics.SSIM)
		}
	}
}

// setupLogging installs a text logger writing to stderr or to a rotating file.
func setupLogging(cfg *config.Config) func() {
	var w io.Writer = os.Stderr
	closer := func() {}
	if cfg.Logging.File != "" {
		lj := &lumberjack.Logger{
			Filename: cfg.Logging.File,
			MaxSize:  cfg.Logging.MaxSize,
			MaxAge:   cfg.Logging.MaxAge,
		}
		w = lj
		closer = func() { lj.Close() }
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	logging.SetLogger(logger)
	if level <= slog.LevelDebug {
		wgpu.SetLogger(logger)
	}
	return closer
}

// buildParams converts the configuration into pipeline parameters.
func buildParams(cfg *config.Config, inputDir string, index int, all bool) (*reconstruction.Params, error) {
	outFormat, err := visualization.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, err
	}
	interp, err := volume.ParseInterpolation(cfg.Processing.Interpolation)
	if err != nil {
		return nil, err
	}
	sort, err := loader.ParseSortBy(cfg.Loader.SortBy)
	if err != nil {
		return nil, err
	}

	scaling, err := loader.ParseWindowScaling(cfg.Loader.WindowScaling)
	if err != nil {
		return nil, err
	}

	var planes []geometry.Orientation
	for _, name := range cfg.Output.Orientations {
		o, err := geometry.ParseOrientation(name)
		if err != nil {
			return nil, err
		}
		planes = append(planes, o)
	}

	return &reconstruction.Params{
		InputDir:      inputDir,
		InputFormat:   cfg.Loader.Format,
		OutputDir:     cfg.Output.Dir,
		OutputFormat:  outFormat,
		Scale:         cfg.Output.Scale,
		SortBy:        sort,
		Spacing:       cfg.Loader.Spacing,
		WindowScaling: scaling,
		UseGPU:        cfg.Processing.Processor == "gpu",
		Interpolation: interp,
		Orientations:  planes,
		Index:         index,
		All:           all,
		NumCores:      cfg.Processing.NumCores,
		GPUTimeout:    cfg.Processing.GPUTimeout,
		Compare:       cfg.Output.Compare,
	}, nil
}
