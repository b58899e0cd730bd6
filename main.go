// Command md5scan brute-forces a single MD5 digest against a wordlist on
// an OpenCL GPU, falling back to the host CPU when no device is present.
//
// Usage:
//
//	md5scan [flags] <wordlist> <md5hex>
//	md5scan wordlist.txt 5f4dcc3b5aa765d61d8327deb882cf99
//
// Exit codes: 0 match found, 1 no match, 2 error.
package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/clforge/md5scan/internal/config"
	"github.com/clforge/md5scan/internal/cpu"
	"github.com/clforge/md5scan/internal/gpu"
	"github.com/clforge/md5scan/internal/scanner"
	"github.com/clforge/md5scan/internal/version"
	"github.com/clforge/md5scan/internal/wordlist"
)

const (
	exitFound    = 0
	exitNotFound = 1
	exitError    = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "md5scan.yaml", "path to config file")
	deviceIndex := flag.Int("device", 0, "OpenCL device index")
	batchSize := flag.Int("batch-size", 0, "candidates per dispatch (0 = config default)")
	forceCPU := flag.Bool("cpu", false, "scan on the host CPU instead of a GPU")
	logLevel := flag.String("log-level", "", "debug, info, warn or error")
	listDevices := flag.Bool("list-devices", false, "list OpenCL devices and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <wordlist> <md5hex>\n\nFlags:\n%s", os.Args[0], flag.CommandLine.FlagUsages())
	}
	flag.Parse()

	if *showVersion {
		fmt.Println("md5scan", version.Version)
		return exitFound
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return exitError
	}
	if flag.CommandLine.Changed("device") {
		cfg.DeviceIndex = *deviceIndex
	}
	if *batchSize > 0 {
		cfg.BatchSize = *batchSize
	}
	if *forceCPU {
		cfg.ForceCPU = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	setupLogging(cfg.LogLevel)

	if *listDevices {
		devices, err := gpu.ListDevices()
		if err != nil {
			slog.Error("device enumeration failed", "error", err)
			return exitError
		}
		if len(devices) == 0 {
			fmt.Println("no OpenCL GPU devices found")
			return exitFound
		}
		for _, d := range devices {
			fmt.Printf("%d: %s (%s)\n", d.Index, d.Name, d.Vendor)
		}
		return exitFound
	}

	if flag.NArg() != 2 {
		flag.Usage()
		return exitError
	}

	target, err := parseTarget(flag.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid target hash: %v\n", err)
		return exitError
	}

	candidates, err := wordlist.Load(flag.Arg(0))
	if err != nil {
		slog.Error("wordlist load failed", "error", err)
		return exitError
	}
	slog.Info("wordlist loaded", "path", flag.Arg(0), "candidates", len(candidates))

	dev, cleanup, err := selectDevice(cfg)
	if err != nil {
		slog.Error("device initialization failed", "error", err)
		return exitError
	}
	defer cleanup()

	bar := progressbar.NewOptions64(int64(len(candidates)),
		progressbar.OptionSetDescription("scanning"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(50*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	var last scanner.Stats
	s := scanner.New(dev,
		scanner.WithBatchSize(cfg.BatchSize),
		scanner.WithProgress(func(st scanner.Stats) {
			last = st
			_ = bar.Set64(int64(st.Checked))
		}),
	)

	start := time.Now()
	idx, found, err := s.Scan(candidates, target)
	_ = bar.Finish()
	if err != nil {
		slog.Error("scan aborted", "error", err)
		return exitError
	}

	slog.Info("scan finished",
		"checked", last.Checked,
		"elapsed", time.Since(start).Round(time.Millisecond),
		"hashes_per_sec", uint64(last.PerSecond),
	)

	if !found {
		fmt.Println("no match found in wordlist")
		return exitNotFound
	}
	fmt.Printf("match found at index %d\n", idx)
	fmt.Printf("  md5(%q) = %s\n", candidates[idx], flag.Arg(1))
	return exitFound
}

// selectDevice picks the GPU when one is present and not overridden;
// GPU initialization failure is fatal rather than silently degraded.
func selectDevice(cfg *config.Config) (scanner.Device, func(), error) {
	if cfg.ForceCPU {
		slog.Info("using host CPU device")
		return cpu.New(), func() {}, nil
	}
	if !gpu.Available() {
		slog.Warn("no OpenCL GPU detected, falling back to host CPU")
		return cpu.New(), func() {}, nil
	}
	dev, err := gpu.New(gpu.Config{DeviceIndex: cfg.DeviceIndex, Capacity: cfg.BatchSize})
	if err != nil {
		return nil, nil, err
	}
	slog.Info("using OpenCL device", "index", cfg.DeviceIndex)
	return dev, func() { _ = dev.Close() }, nil
}

func parseTarget(s string) ([16]byte, error) {
	var target [16]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return target, err
	}
	if len(raw) != len(target) {
		return target, fmt.Errorf("MD5 hash must be 32 hex characters, got %d", len(s))
	}
	copy(target[:], raw)
	return target, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
