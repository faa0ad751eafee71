package main

import (
	"fmt"

	"github.com/normagent/normagent/internal/index"
)

// Run ingests JSONL chunk files into the corpus index. Each line carries
// one chunk: document code, optional clause locator, and text.
func (c *IndexCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	ix, err := index.Open(cfg.Storage.IndexPath())
	if err != nil {
		return fmt.Errorf("open corpus index: %w", err)
	}
	defer ix.Close()

	total := 0
	for _, path := range c.Files {
		n, err := ix.IngestFile(path)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		fmt.Printf("%s: %d chunks\n", path, n)
		total += n
	}

	count, err := ix.Count()
	if err != nil {
		return err
	}
	fmt.Printf("ingested %d chunks, index now holds %d\n", total, count)
	return nil
}
