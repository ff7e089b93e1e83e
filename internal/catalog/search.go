package catalog

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Hit is one topic search result.
type Hit struct {
	Topic  Topic   `json:"topic"`
	UnitID string  `json:"unit_id"`
	Score  float64 `json:"score"`
}

// Index is an in-memory full-text index over a book's topic and unit
// titles.
type Index struct {
	idx    bleve.Index
	topics map[string]Hit
}

type topicDoc struct {
	Title string `json:"title"`
	Unit  string `json:"unit"`
}

// NewIndex builds the index. The English analyzer strips possessives and
// stems, so "coulomb" finds "Coulomb's Law".
func NewIndex(b *Book) (*Index, error) {
	m := bleve.NewIndexMapping()
	m.DefaultAnalyzer = en.AnalyzerName

	idx, err := bleve.NewMemOnly(m)
	if err != nil {
		return nil, fmt.Errorf("create topic index: %w", err)
	}

	topics := make(map[string]Hit)
	batch := idx.NewBatch()
	for _, u := range b.Units {
		for _, t := range u.Topics {
			if err := batch.Index(t.ID, topicDoc{Title: t.Title, Unit: u.Title}); err != nil {
				idx.Close()
				return nil, fmt.Errorf("index topic %s: %w", t.ID, err)
			}
			topics[t.ID] = Hit{Topic: t, UnitID: u.ID}
		}
	}
	if err := idx.Batch(batch); err != nil {
		idx.Close()
		return nil, fmt.Errorf("index topics: %w", err)
	}
	return &Index{idx: idx, topics: topics}, nil
}

// Search returns up to limit topics ranked by relevance. The last word of
// the query also matches as a prefix so partially typed titles still hit.
func (x *Index) Search(q string, limit int) ([]Hit, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	title := bleve.NewMatchQuery(q)
	title.SetField("title")
	title.SetBoost(2)
	unit := bleve.NewMatchQuery(q)
	unit.SetField("unit")
	queries := []query.Query{title, unit}

	words := strings.Fields(strings.ToLower(q))
	if last := words[len(words)-1]; len(last) >= 2 {
		prefix := bleve.NewPrefixQuery(last)
		prefix.SetField("title")
		queries = append(queries, prefix)
	}

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(queries...))
	req.Size = limit
	res, err := x.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("topic search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit, ok := x.topics[h.ID]
		if !ok {
			continue
		}
		hit.Score = h.Score
		hits = append(hits, hit)
	}
	return hits, nil
}

func (x *Index) Close() error {
	return x.idx.Close()
}
