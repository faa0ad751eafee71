package index

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
)

// Ingest reads a JSONL corpus (one chunk per line) and indexes it in
// batches. Chunks without an ID get one assigned. Returns the number of
// chunks indexed.
func (ix *Index) Ingest(r io.Reader) (int, error) {
	const batchSize = 256

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)

	var batch []Chunk
	total := 0
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var c Chunk
		if err := json.Unmarshal(raw, &c); err != nil {
			return total, fmt.Errorf("corpus line %d: %w", line, err)
		}
		if c.Text == "" {
			return total, fmt.Errorf("corpus line %d: chunk has no text", line)
		}
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		batch = append(batch, c)
		if len(batch) >= batchSize {
			if err := ix.AddBatch(batch); err != nil {
				return total, err
			}
			total += len(batch)
			batch = batch[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		return total, fmt.Errorf("reading corpus: %w", err)
	}
	if len(batch) > 0 {
		if err := ix.AddBatch(batch); err != nil {
			return total, err
		}
		total += len(batch)
	}
	return total, nil
}

// IngestFile ingests a JSONL corpus from disk.
func (ix *Index) IngestFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening corpus: %w", err)
	}
	defer f.Close()
	return ix.Ingest(f)
}
