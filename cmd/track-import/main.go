// Command track-import loads GPX recordings into the history database so they
// can be replayed like recorded live tracks.
//
// Usage:
//
//	track-import -db fleettrack.db -entity veh-1 morning.gpx evening.gpx
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"

	"github.com/banshee-data/fleettrack/internal/history"
)

var (
	dbPath    = flag.String("db", "fleettrack.db", "History database path")
	entityID  = flag.String("entity", "", "Entity id to file the tracks under (defaults to each file's base name)")
	chunkSize = flag.Int("chunk", 500, "Reports per insert transaction")
	quiet     = flag.Bool("quiet", false, "Hide the progress bar")
)

type importResult struct {
	Parsed   int
	Inserted int
}

// importFile parses one GPX file and inserts it in chunks, advancing bar per
// chunk.
func importFile(ctx context.Context, store *history.Store, path, entity string, chunk int, bar *progressbar.ProgressBar) (importResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return importResult{}, err
	}
	defer f.Close()

	reports, err := history.ImportGPX(f, entity)
	if err != nil {
		return importResult{}, fmt.Errorf("%s: %w", path, err)
	}
	if chunk <= 0 {
		chunk = len(reports)
	}

	res := importResult{Parsed: len(reports)}
	bar.ChangeMax(len(reports))
	for start := 0; start < len(reports); start += chunk {
		end := min(start+chunk, len(reports))
		n, err := store.InsertReports(ctx, reports[start:end])
		if err != nil {
			return res, err
		}
		res.Inserted += n
		_ = bar.Add(end - start)
	}
	_ = bar.Finish()

	if err := store.RecordImport(ctx, entity, filepath.Base(path), res.Inserted); err != nil {
		return res, err
	}
	return res, nil
}

func entityFor(path string) string {
	if *entityID != "" {
		return *entityID
	}
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

func main() {
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: track-import [-db path] [-entity id] file.gpx...")
		os.Exit(2)
	}

	store, err := history.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open history database: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	failed := 0
	for _, path := range flag.Args() {
		entity := entityFor(path)
		var bar *progressbar.ProgressBar
		if *quiet {
			bar = progressbar.DefaultSilent(-1, entity)
		} else {
			bar = progressbar.Default(-1, entity)
		}
		res, err := importFile(ctx, store, path, entity, *chunkSize, bar)
		if err != nil {
			log.Printf("import %s failed: %v", path, err)
			failed++
			continue
		}
		log.Printf("%s: %d points parsed, %d new reports for %s", path, res.Parsed, res.Inserted, entity)
	}
	if failed > 0 {
		store.Close()
		os.Exit(1)
	}
}
