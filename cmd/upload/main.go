package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"edugen/internal/backend"
	"edugen/internal/config"
	"edugen/internal/document"
	"edugen/internal/logger"
	"edugen/internal/upload"

	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type result struct {
	path string
	uri  string
	err  error
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	fs.SetOutput(stderr)
	parallel := fs.Int("parallel", 2, "number of files uploaded concurrently")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: upload [-parallel N] <file-or-dir>...")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	client, err := backend.New(backend.Config{BaseURL: cfg.BackendURL, Timeout: cfg.RequestTimeout}, log)
	if err != nil {
		fmt.Fprintf(stderr, "backend: %v\n", err)
		return 1
	}

	paths, err := collect(fs.Args())
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	if len(paths) == 0 {
		fmt.Fprintln(stderr, "no .pdf or .docx files found")
		return 1
	}

	opts := upload.Options{
		GrantTimeout:    cfg.RequestTimeout,
		TransferTimeout: cfg.UploadTimeout,
		Logger:          log,
	}
	results := uploadAll(ctx, client, opts, paths, *parallel, stdout)
	return report(results, stdout, stderr)
}

// collect expands directories into the PDF and DOCX files directly inside
// them. Explicitly named files are passed through for Inspect to judge.
func collect(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		fi, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			paths = append(paths, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if _, err := document.KindOf(e.Name()); err != nil {
				continue // Skip other files
			}
			paths = append(paths, filepath.Join(arg, e.Name()))
		}
	}
	return paths, nil
}

// uploadAll gives each file its own coordinator so uploads proceed
// independently, at most parallel at a time. A failed file does not stop
// the others.
func uploadAll(ctx context.Context, client *backend.Client, opts upload.Options, paths []string, parallel int, stdout io.Writer) []result {
	if parallel < 1 {
		parallel = 1
	}
	results := make([]result, len(paths))
	var outMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, path := range paths {
		g.Go(func() error {
			res := result{path: path}
			f, err := upload.FileFromPath(path)
			if err != nil {
				res.err = err
				results[i] = res
				return nil
			}

			outMu.Lock()
			fmt.Fprintf(stdout, "Uploading %s (%d pages)...\n", f.Name, f.Pages)
			outMu.Unlock()

			start := time.Now()
			res.uri, res.err = upload.NewCoordinator(client, opts).Upload(gctx, f)
			if res.err == nil {
				outMu.Lock()
				fmt.Fprintf(stdout, "Uploaded %s in %v\n", f.Name, time.Since(start).Round(time.Millisecond))
				outMu.Unlock()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func report(results []result, stdout, stderr io.Writer) int {
	sort.SliceStable(results, func(i, j int) bool { return results[i].path < results[j].path })
	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(stderr, "FAIL %s: %v\n", r.path, r.err)
			continue
		}
		fmt.Fprintf(stdout, "%s -> %s\n", r.path, r.uri)
	}
	fmt.Fprintf(stdout, "%d uploaded, %d failed\n", len(results)-failed, failed)
	if failed > 0 {
		return 1
	}
	return 0
}
