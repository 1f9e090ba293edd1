// Command kestrel-uci runs the Hybrid Driver behind the UCI protocol.
package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"runtime/pprof"

	"github.com/kestrelchess/core/internal/book"
	"github.com/kestrelchess/core/internal/engine"
	"github.com/kestrelchess/core/internal/eval"
	"github.com/kestrelchess/core/internal/storage"
	"github.com/kestrelchess/core/internal/tablebase"
	"github.com/kestrelchess/core/internal/uci"
)

// defaultNet is the Stockfish-compatible big-network file this build
// auto-loads from the platform NNUE directory, if present. The teacher's
// dual big+small network setup doesn't carry over: eval.NewNNUE and
// policyvalue.NewNNUEOracle each take a single network path, so only the
// big net is wired here (DESIGN.md).
const defaultNet = "nn-c288c895ea92.nnue"

var (
	hashMB       = flag.Int("hash", 64, "transposition table size in megabytes")
	bookPath     = flag.String("book", "", "path to a Polyglot opening book")
	syzygyPath   = flag.String("syzygy", "", "path to Syzygy tablebase files")
	tbOnline     = flag.Bool("tablebase-online", false, "fall back to the Lichess tablebase API for endgames missing from -syzygy")
	tbCacheSize  = flag.Int("tablebase-cache", 0, "wrap the tablebase prober in an LRU probe cache of this size (0 disables)")
	downloadTB   = flag.Bool("download-syzygy", false, "download the 5-piece Syzygy set into -syzygy before starting")
	cpuprofile   = flag.String("cpuprofile", "", "write a CPU profile to this file")
)

func main() {
	flag.Parse()

	if path := profilePath(); path != "" {
		f, err := os.Create(path)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
		log.Printf("CPU profiling enabled, writing to %s", path)
	}

	if *downloadTB {
		if err := downloadSyzygy(); err != nil {
			log.Printf("Warning: Syzygy download failed: %v", err)
		}
	}

	classical := eval.NewClassical(16)

	var bk *book.Book
	if *bookPath != "" {
		loaded, err := book.LoadPolyglot(*bookPath)
		if err != nil {
			log.Printf("Warning: failed to load opening book: %v", err)
		} else {
			bk = loaded
		}
	}

	prober := buildProber()

	d := engine.New(*hashMB, classical, nil, bk, prober)

	if netPath, ok := findDefaultNet(); ok {
		if err := d.LoadNNUE(netPath); err != nil {
			log.Printf("Warning: NNUE not loaded: %v (using classical evaluation)", err)
		} else {
			d.SetUseNNUE(true)
			log.Printf("NNUE loaded from %s", netPath)
		}
	}

	protocol := uci.New(d)
	protocol.Run()
}

// buildProber assembles the tablebase prober from flags: local Syzygy
// files, an optional Lichess API fallback for positions the local files
// don't cover, and an optional LRU cache in front of either.
func buildProber() tablebase.Prober {
	var prober tablebase.Prober = tablebase.NoopProber{}

	switch {
	case *syzygyPath != "" && *tbOnline:
		prober = tablebase.NewHybridProber(*syzygyPath)
	case *syzygyPath != "":
		prober = tablebase.NewSyzygyProber(*syzygyPath)
	case *tbOnline:
		prober = tablebase.NewCachedLichessProber()
	}

	if *tbCacheSize > 0 {
		if _, alreadyCached := prober.(*tablebase.CachedProber); !alreadyCached {
			prober = tablebase.NewCachedProber(prober, *tbCacheSize)
		}
	}

	return prober
}

// downloadSyzygy fetches the 5-piece tablebase set into -syzygy (or the
// platform default cache directory if unset), logging progress as it goes.
func downloadSyzygy() error {
	dir := *syzygyPath
	if dir == "" {
		dir = tablebase.DefaultCacheDir()
		syzygyPath = &dir
	}

	d := tablebase.NewSyzygyDownloader(dir)
	if err := d.EnsureCacheDir(); err != nil {
		return err
	}

	log.Printf("Downloading 5-piece Syzygy tablebases (%s) into %s",
		tablebase.FormatBytes(tablebase.TotalDownloadSize5Piece()), dir)

	progress := make(chan tablebase.DownloadProgress, 16)
	done := make(chan error, 1)
	go func() {
		err := d.Download5Piece(progress)
		close(progress)
		done <- err
	}()

	for p := range progress {
		if p.Error != nil {
			log.Printf("Syzygy download: %s failed: %v", p.File, p.Error)
			continue
		}
		if p.Done {
			log.Printf("Syzygy download: %s complete", p.File)
		}
	}

	return <-done
}

func profilePath() string {
	if *cpuprofile != "" {
		return *cpuprofile
	}
	return os.Getenv("CPUPROFILE")
}

// findDefaultNet searches the platform NNUE directory and the working
// directory for the default network file.
func findDefaultNet() (string, bool) {
	var candidates []string
	if dir, err := storage.GetNNUEDir(); err == nil {
		candidates = append(candidates, dir)
	}
	candidates = append(candidates, "./nnue", ".")

	for _, dir := range candidates {
		path := filepath.Join(dir, defaultNet)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}
