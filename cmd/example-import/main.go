// Command example-import loads a directory of text documents into a
// persona's foundation knowledge, importing files concurrently through the
// batch pool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/mindsim/layermem/pkg/batch"
	"github.com/mindsim/layermem/pkg/config"
	"github.com/mindsim/layermem/pkg/layermem"
	"github.com/mindsim/layermem/pkg/log"
	"github.com/mindsim/layermem/pkg/persona"
)

type importResult struct {
	path   string
	docID  string
	chunks int
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults apply when empty)")
	personaID := flag.String("persona", "dr-morgan", "Persona to import documents for")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: example-import [flags] <file-or-directory>...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	_ = godotenv.Load()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.Default()
	}
	log.Setup(log.Config{
		Level:  log.Level(cfg.Logging.Level),
		Format: log.Format(cfg.Logging.Format),
	})

	rt, err := layermem.NewRuntimeFromConfig(cfg)
	if err != nil {
		log.Error("Failed to initialize runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	mgr, err := rt.Manager(persona.ID(*personaID))
	if err != nil {
		log.Error("Failed to create persona manager", "error", err)
		os.Exit(1)
	}

	files, err := collectFiles(flag.Args())
	if err != nil {
		log.Error("Failed to collect input files", "error", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Println("No .txt or .md files found.")
		return
	}

	ctx := context.Background()
	pool := batch.New(cfg.Batch.Workers)
	results := batch.Map(ctx, pool, len(files), func(ctx context.Context, i int) (importResult, error) {
		docID, chunkIDs, err := mgr.Foundation().ImportDocument(ctx, files[i])
		if err != nil {
			return importResult{}, err
		}
		return importResult{path: files[i], docID: docID, chunks: len(chunkIDs)}, nil
	})

	imported, skipped, failed := 0, 0, 0
	for i, res := range results {
		switch {
		case res.Err != nil:
			failed++
			fmt.Printf("FAIL %s: %v\n", files[i], res.Err)
		case res.Value.docID == "":
			skipped++
			fmt.Printf("SKIP %s (unreadable or empty)\n", files[i])
		default:
			imported++
			fmt.Printf("OK   %s -> %s (%d chunks)\n", res.Value.path, res.Value.docID, res.Value.chunks)
		}
	}
	fmt.Printf("\nImported %d, skipped %d, failed %d of %d files for persona %s\n",
		imported, skipped, failed, len(files), *personaID)

	if failed > 0 {
		os.Exit(1)
	}
}

// collectFiles expands the arguments into a flat list of .txt and .md files,
// walking directories recursively.
func collectFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(path)) {
			case ".txt", ".md":
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
