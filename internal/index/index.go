// Package index stores the normative document corpus in a Bleve full-text
// index. The search tool queries it with plan keywords; expected document
// codes boost matching sources rather than hard-filtering them.
package index

import (
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Chunk is one indexed fragment of a normative document.
type Chunk struct {
	ID      string `json:"id"`
	DocCode string `json:"doc_code"`
	Title   string `json:"title,omitempty"`
	Section string `json:"section,omitempty"`
	Text    string `json:"text"`
}

// Hit is a scored search result.
type Hit struct {
	Chunk
	Score float64 `json:"score"`
}

// Index wraps the Bleve index for the corpus.
type Index struct {
	idx bleve.Index
}

// Open opens an existing corpus index, or creates it when absent.
func Open(path string) (*Index, error) {
	var idx bleve.Index
	var err error
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		idx, err = bleve.New(path, buildMapping())
		if err != nil {
			return nil, fmt.Errorf("creating corpus index: %w", err)
		}
	} else {
		idx, err = bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening corpus index: %w", err)
		}
	}
	return &Index{idx: idx}, nil
}

// OpenMem creates an in-memory index, used by tests and dry runs.
func OpenMem() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("creating in-memory index: %w", err)
	}
	return &Index{idx: idx}, nil
}

func buildMapping() mapping.IndexMapping {
	chunkMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name

	chunkMapping.AddFieldMappingsAt("text", textField)
	chunkMapping.AddFieldMappingsAt("doc_code", textField)
	chunkMapping.AddFieldMappingsAt("title", textField)
	chunkMapping.AddFieldMappingsAt("section", bleve.NewKeywordFieldMapping())

	m := bleve.NewIndexMapping()
	m.DefaultMapping = chunkMapping
	m.DefaultAnalyzer = standard.Name
	return m
}

// Add indexes a single chunk.
func (ix *Index) Add(c Chunk) error {
	if c.ID == "" {
		return fmt.Errorf("chunk has no id")
	}
	if err := ix.idx.Index(c.ID, c); err != nil {
		return fmt.Errorf("indexing chunk %s: %w", c.ID, err)
	}
	return nil
}

// AddBatch indexes chunks in one Bleve batch.
func (ix *Index) AddBatch(chunks []Chunk) error {
	batch := ix.idx.NewBatch()
	for _, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("chunk has no id")
		}
		if err := batch.Index(c.ID, c); err != nil {
			return fmt.Errorf("batching chunk %s: %w", c.ID, err)
		}
	}
	if err := ix.idx.Batch(batch); err != nil {
		return fmt.Errorf("flushing batch: %w", err)
	}
	return nil
}

// Search runs a keyword query. Expected document codes, when given, boost
// chunks from those documents. Results come back score-ordered, at most
// limit of them.
func (ix *Index) Search(keywords []string, expectedDocs []string, limit int) ([]Hit, error) {
	queryText := strings.TrimSpace(strings.Join(keywords, " "))
	if queryText == "" {
		return nil, fmt.Errorf("empty search keywords")
	}
	if limit <= 0 {
		limit = 3
	}

	textQuery := bleve.NewMatchQuery(queryText)
	textQuery.SetField("text")

	full := bleve.NewBooleanQuery()
	full.AddMust(textQuery)
	for _, doc := range expectedDocs {
		doc = strings.TrimSpace(doc)
		if doc == "" {
			continue
		}
		dq := bleve.NewMatchQuery(doc)
		dq.SetField("doc_code")
		dq.SetBoost(2.0)
		full.AddShould(dq)
	}

	req := bleve.NewSearchRequest(full)
	req.Size = limit
	req.Fields = []string{"*"}

	res, err := ix.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("searching corpus: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{Score: h.Score}
		hit.ID = h.ID
		hit.DocCode, _ = h.Fields["doc_code"].(string)
		hit.Title, _ = h.Fields["title"].(string)
		hit.Section, _ = h.Fields["section"].(string)
		hit.Text, _ = h.Fields["text"].(string)
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count returns the number of indexed chunks.
func (ix *Index) Count() (uint64, error) {
	return ix.idx.DocCount()
}

// Close releases the index.
func (ix *Index) Close() error {
	return ix.idx.Close()
}
