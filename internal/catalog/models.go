// Package catalog serves the problem catalog through a two-tier read-through
// cache with write invalidation.
package catalog

import (
	"context"
	"strings"
)

// Problem is the full problem record returned by point reads.
type Problem struct {
	ID                int64    `json:"id"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	InputDescription  string   `json:"inputDescription,omitempty"`
	OutputDescription string   `json:"outputDescription,omitempty"`
	Constraints       string   `json:"constraints,omitempty"`
	Difficulty        string   `json:"difficulty"`
	Tags              []string `json:"tags"`
	TimeLimitMs       int64    `json:"timeLimitMs"`
	MemoryLimitMb     int      `json:"memoryLimitMb"`
}

// Complete reports whether p carries every field a point read must return.
// Records written by older versions of the service may lack some of them.
func (p *Problem) Complete() bool {
	return p != nil &&
		p.ID > 0 &&
		p.Title != "" &&
		p.Description != "" &&
		p.Difficulty != "" &&
		p.Tags != nil &&
		p.TimeLimitMs > 0 &&
		p.MemoryLimitMb > 0
}

// Clone returns a deep copy of p.
func (p *Problem) Clone() *Problem {
	if p == nil {
		return nil
	}
	c := *p
	c.Tags = cloneStrings(p.Tags)
	return &c
}

// Summary is the row shape returned by searches.
type Summary struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	Tags       []string `json:"tags"`
	Difficulty string   `json:"difficulty"`
}

// SearchQuery filters the catalog. Zero values mean "no filter".
type SearchQuery struct {
	Term       string   `json:"term,omitempty"`
	Difficulty string   `json:"difficulty,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Page       int      `json:"page"`
	Size       int      `json:"size"`
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Normalize returns the canonical form of q: trimmed term, lower-cased
// difficulty, sorted de-duplicated tags, and page bounds applied. Queries
// that normalize equally return equal results.
func (q SearchQuery) Normalize() SearchQuery {
	n := SearchQuery{
		Term:       strings.TrimSpace(q.Term),
		Difficulty: strings.ToLower(strings.TrimSpace(q.Difficulty)),
		Tags:       normalizeTags(q.Tags),
		Page:       q.Page,
		Size:       q.Size,
	}
	if n.Page < 0 {
		n.Page = 0
	}
	switch {
	case n.Size <= 0:
		n.Size = DefaultPageSize
	case n.Size > MaxPageSize:
		n.Size = MaxPageSize
	}
	return n
}

// Offset is the number of rows skipped before the page.
func (q SearchQuery) Offset() int {
	return q.Page * q.Size
}

// SearchPage is one page of search results.
type SearchPage struct {
	Content    []Summary `json:"content"`
	TotalCount int64     `json:"totalCount"`
	TotalPages int64     `json:"totalPages"`
}

// Complete reports whether the page has the shape every search returns.
func (p *SearchPage) Complete() bool {
	return p != nil && p.Content != nil && p.TotalCount >= 0 && p.TotalPages >= 0
}

func (p *SearchPage) Clone() *SearchPage {
	if p == nil {
		return nil
	}
	c := *p
	c.Content = make([]Summary, len(p.Content))
	for i, s := range p.Content {
		s.Tags = cloneStrings(s.Tags)
		c.Content[i] = s
	}
	return &c
}

// Metadata is the combined count and tag list shown on the catalog landing page.
type Metadata struct {
	Count int64    `json:"count"`
	Tags  []string `json:"tags"`
}

// Source is the authoritative catalog store. LoadByID returns (nil, nil)
// for an unknown id. Any error is a hard failure and is not retried.
type Source interface {
	LoadByID(ctx context.Context, id int64) (*Problem, error)
	Count(ctx context.Context) (int64, error)
	// ListDistinctTags returns every tag in use, sorted.
	ListDistinctTags(ctx context.Context) ([]string, error)
	// Search and CountSearch receive a normalized query.
	Search(ctx context.Context, q SearchQuery) ([]Summary, error)
	CountSearch(ctx context.Context, q SearchQuery) (int64, error)

	// Create stores p and returns it with its assigned id.
	Create(ctx context.Context, p *Problem) (*Problem, error)
	// Update replaces the record with p.ID; it returns a not_found error if
	// no such record exists.
	Update(ctx context.Context, p *Problem) error
	// Delete reports whether a record was removed.
	Delete(ctx context.Context, id int64) (bool, error)
}

func totalPages(total int64, size int) int64 {
	if total <= 0 {
		return 0
	}
	s := int64(size)
	return (total + s - 1) / s
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
