// Command export dumps stored product records to a JSON or CSV file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"catcrawl/internal/config"
	"catcrawl/internal/export"
	"catcrawl/internal/storage"

	_ "catcrawl/internal/storage/all"
)

func main() {
	var (
		cfgPath string
		source  string
		format  string
		outDir  string
		outFile string
	)

	flag.StringVar(&cfgPath, "config", "configs/jobs/sample.json", "crawl job config JSON path (used for the storage settings)")
	flag.StringVar(&source, "source", "", "restrict the export to one source (empty = all)")
	flag.StringVar(&format, "format", "json", "output format (json, csv)")
	flag.StringVar(&outDir, "out-dir", ".", "directory for the timestamped output file")
	flag.StringVar(&outFile, "out", "", "explicit output path (overrides -out-dir)")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.WithField("cmd", "export")

	if format != "json" && format != "csv" {
		fatalf("unsupported format %q (json, csv)", format)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	if cfg.Storage.Kind == "" || cfg.Storage.DSN == "" {
		fatalf("config %s has no storage settings", cfgPath)
	}

	ctx := context.Background()
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		fatalf("connect storage: %v", err)
	}
	defer store.Close()

	dumps, err := store.FetchAll(ctx, source)
	if err != nil {
		fatalf("fetch records: %v", err)
	}

	path := outFile
	if path == "" {
		path = filepath.Join(outDir, export.Filename(source, format, time.Now()))
	}

	switch format {
	case "json":
		err = export.WriteJSONFile(path, dumps)
	case "csv":
		err = export.WriteCSVFile(path, dumps)
	}
	if err != nil {
		fatalf("%v", err)
	}

	log.WithFields(logrus.Fields{
		"records": len(dumps),
		"path":    path,
	}).Info("export written")
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
