package catalog

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"edugen/internal/backend"

	"gopkg.in/yaml.v3"
)

// Topic is a leaf lesson. Cached means a core lesson is already rendered
// and can be served immediately.
type Topic struct {
	ID     string `json:"id" yaml:"id"`
	Title  string `json:"title" yaml:"title"`
	Cached bool   `json:"cached" yaml:"cached"`
}

type Unit struct {
	ID     string  `json:"id" yaml:"id"`
	Title  string  `json:"title" yaml:"title"`
	Topics []Topic `json:"topics" yaml:"topics"`
}

type Book struct {
	ID    string `json:"id,omitempty" yaml:"id"`
	Title string `json:"title" yaml:"title"`
	Units []Unit `json:"units" yaml:"units"`
}

// Default returns the built-in Grade 12 Physics catalog.
func Default() *Book {
	return &Book{
		ID:    "PHY12_V1",
		Title: "Physics - Grade 12 (Volume 1)",
		Units: []Unit{
			{ID: "U1", Title: "Electrostatics", Topics: []Topic{
				{ID: "PHY12_01_01", Title: "Introduction to Electrostatics", Cached: true},
				{ID: "PHY12_01_02", Title: "Coulomb's Law", Cached: true},
				{ID: "PHY12_01_03", Title: "Electric Field Lines", Cached: false},
				{ID: "PHY12_01_04", Title: "Electric Dipole", Cached: false},
			}},
			{ID: "U2", Title: "Current Electricity", Topics: []Topic{
				{ID: "PHY12_02_01", Title: "Electric Current", Cached: true},
				{ID: "PHY12_02_02", Title: "Ohm's Law", Cached: true},
			}},
		},
	}
}

// LoadFile reads a YAML catalog such as:
//
//	title: Physics - Grade 12 (Volume 1)
//	units:
//	  - id: U1
//	    title: Electrostatics
//	    topics:
//	      - {id: PHY12_01_01, title: Introduction to Electrostatics, cached: true}
func LoadFile(path string) (*Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var b Book
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return &b, nil
}

// Validate checks that the book has a title and that every unit and topic
// id is present and unique across the book.
func (b *Book) Validate() error {
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("book title is required")
	}
	seen := make(map[string]bool)
	for _, u := range b.Units {
		if u.ID == "" {
			return fmt.Errorf("unit %q has no id", u.Title)
		}
		if seen[u.ID] {
			return fmt.Errorf("duplicate id %q", u.ID)
		}
		seen[u.ID] = true
		for _, t := range u.Topics {
			if t.ID == "" {
				return fmt.Errorf("topic %q in unit %s has no id", t.Title, u.ID)
			}
			if seen[t.ID] {
				return fmt.Errorf("duplicate id %q", t.ID)
			}
			seen[t.ID] = true
		}
	}
	return nil
}

// Lookup finds a topic and the unit that contains it.
func (b *Book) Lookup(topicID string) (Topic, Unit, bool) {
	for _, u := range b.Units {
		for _, t := range u.Topics {
			if t.ID == topicID {
				return t, u, true
			}
		}
	}
	return Topic{}, Unit{}, false
}

func (b *Book) Unit(id string) (Unit, bool) {
	for _, u := range b.Units {
		if u.ID == id {
			return u, true
		}
	}
	return Unit{}, false
}

// FirstUnit returns the id of the first unit, or "" for an empty book.
func (b *Book) FirstUnit() string {
	if len(b.Units) == 0 {
		return ""
	}
	return b.Units[0].ID
}

// ==================== Remote structure ====================

const StructurePath = "/api/v1/book-structure"

type remoteBook struct {
	BookID   string `json:"book_id"`
	Chapters []struct {
		ChapterID string `json:"chapter_id"`
		Title     string `json:"title"`
		Topics    []struct {
			TopicID string `json:"topic_id"`
			Title   string `json:"title"`
			IsReady bool   `json:"is_ready"`
		} `json:"topics"`
	} `json:"chapters"`
}

// Fetch asks the backend for the topic hierarchy extracted from an
// uploaded textbook.
func Fetch(ctx context.Context, client *backend.Client, resourceURI string) (*Book, error) {
	var rb remoteBook
	q := url.Values{"gcs_uri": {resourceURI}}
	if err := client.GetJSON(ctx, StructurePath, q, &rb); err != nil {
		return nil, fmt.Errorf("fetch book structure: %w", err)
	}

	b := &Book{ID: rb.BookID, Title: rb.BookID}
	for _, ch := range rb.Chapters {
		u := Unit{ID: ch.ChapterID, Title: ch.Title, Topics: make([]Topic, 0, len(ch.Topics))}
		for _, t := range ch.Topics {
			u.Topics = append(u.Topics, Topic{ID: t.TopicID, Title: t.Title, Cached: t.IsReady})
		}
		b.Units = append(b.Units, u)
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("book structure: %w", err)
	}
	return b, nil
}
