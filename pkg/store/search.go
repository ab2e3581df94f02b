package store

import (
	"strings"

	"github.com/codeready-toolchain/rle/pkg/rlemodel"
)

// contains is a plain case-insensitive substring test, the search
// semantics used throughout this store: no tokenization, no fuzziness.
func contains(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// EntityFilter narrows SearchEntities/ListEntities by optional equality
// fields layered on top of the free-text query.
type EntityFilter struct {
	DocumentID string
	Type       rlemodel.EntityType
}

// SearchEntities runs a case-insensitive substring search over name and
// description, plus any equality filters. A blank query falls back to an
// ordered list of everything matching the filter.
func (s *Store) SearchEntities(query string, filter EntityFilter) []rlemodel.Entity {
	return s.entities.listWhere(func(e rlemodel.Entity) bool {
		if filter.DocumentID != "" && e.DocumentID != filter.DocumentID {
			return false
		}
		if filter.Type != "" && e.Type != filter.Type {
			return false
		}
		if query == "" {
			return true
		}
		return contains(e.Name, query) || contains(e.Description, query)
	})
}

// ListEntities returns every entity matching filter (no text query).
func (s *Store) ListEntities(filter EntityFilter) []rlemodel.Entity {
	return s.SearchEntities("", filter)
}

// GetEntity looks up a single entity by id.
func (s *Store) GetEntity(id string) (rlemodel.Entity, bool) {
	return s.entities.getByID(id)
}

// ListRelationships returns relationships, optionally filtered to those
// touching a given entity id (either endpoint).
func (s *Store) ListRelationships(entityID string) []rlemodel.Relationship {
	if entityID == "" {
		return s.relationships.list()
	}
	return s.relationships.listWhere(func(r rlemodel.Relationship) bool {
		return r.SourceEntityID == entityID || r.TargetEntityID == entityID
	})
}

// EntityStats summarizes the entity/relationship collections.
type EntityStats struct {
	TotalEntities      int
	ByType             map[rlemodel.EntityType]int
	TotalRelationships int
}

// EntityStats computes EntityStats over the current store contents.
func (s *Store) EntityStats() EntityStats {
	entities := s.entities.list()
	stats := EntityStats{TotalEntities: len(entities), ByType: make(map[rlemodel.EntityType]int)}
	for _, e := range entities {
		stats.ByType[e.Type]++
	}
	stats.TotalRelationships = s.relationships.len()
	return stats
}

// ListDocuments returns the distinct document ids with at least one TOC
// entry or page node, in first-seen order.
func (s *Store) ListDocuments() []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range s.pageNodes.list() {
		if !seen[n.DocumentID] {
			seen[n.DocumentID] = true
			out = append(out, n.DocumentID)
		}
	}
	for _, e := range s.tocEntries.list() {
		if !seen[e.DocumentID] {
			seen[e.DocumentID] = true
			out = append(out, e.DocumentID)
		}
	}
	return out
}

// ListTocEntries returns every TOC entry for documentID (or every entry,
// if documentID is blank).
func (s *Store) ListTocEntries(documentID string) []rlemodel.TocEntry {
	return s.tocEntries.listWhere(func(e rlemodel.TocEntry) bool {
		return documentID == "" || e.DocumentID == documentID
	})
}

// SearchTocEntries runs a case-insensitive substring search over title and
// description, scoped to documentID when set.
func (s *Store) SearchTocEntries(query, documentID string) []rlemodel.TocEntry {
	return s.tocEntries.listWhere(func(e rlemodel.TocEntry) bool {
		if documentID != "" && e.DocumentID != documentID {
			return false
		}
		if query == "" {
			return true
		}
		return contains(e.Title, query) || contains(e.Description, query)
	})
}

// GetTocEntry looks up a single TOC entry by id.
func (s *Store) GetTocEntry(id string) (rlemodel.TocEntry, bool) {
	return s.tocEntries.getByID(id)
}

// PageNodeFilter narrows ListPageNodes/SearchPageNodes.
type PageNodeFilter struct {
	DocumentID string
	PageIndex  *int
	Kind       rlemodel.NodeKind
}

// ListPageNodes returns page nodes matching filter, content/description
// truncated to 200 characters (full text is only returned by GetPageNode).
func (s *Store) ListPageNodes(filter PageNodeFilter) []rlemodel.PageNode {
	nodes := s.pageNodes.listWhere(func(n rlemodel.PageNode) bool {
		if filter.DocumentID != "" && n.DocumentID != filter.DocumentID {
			return false
		}
		if filter.PageIndex != nil && n.PageIndex != *filter.PageIndex {
			return false
		}
		if filter.Kind != "" && n.Kind != filter.Kind {
			return false
		}
		return true
	})
	for i := range nodes {
		nodes[i].Content = truncateListing(nodes[i].Content)
		nodes[i].Description = truncateListing(nodes[i].Description)
	}
	return nodes
}

const listingTruncateChars = 200

func truncateListing(s string) string {
	if len(s) <= listingTruncateChars {
		return s
	}
	return s[:listingTruncateChars]
}

// SearchPageNodes runs a case-insensitive substring search over content
// and description, truncated the same way as ListPageNodes.
func (s *Store) SearchPageNodes(query string, filter PageNodeFilter) []rlemodel.PageNode {
	all := s.ListPageNodes(filter)
	if query == "" {
		return all
	}
	out := make([]rlemodel.PageNode, 0, len(all))
	for _, n := range all {
		if contains(n.Content, query) || contains(n.Description, query) {
			out = append(out, n)
		}
	}
	return out
}

// GetPageNode returns a single page node by id with its full, untruncated
// content.
func (s *Store) GetPageNode(id string) (rlemodel.PageNode, bool) {
	return s.pageNodes.getByID(id)
}

// ListClaims returns every claim attached to queryID (or every claim, if
// queryID is blank).
func (s *Store) ListClaims(queryID string) []rlemodel.Claim {
	return s.claims.listWhere(func(c rlemodel.Claim) bool {
		return queryID == "" || c.QueryID == queryID
	})
}

// SearchExamples runs a case-insensitive substring search over stored
// query/answer pairs.
func (s *Store) SearchExamples(query string) []rlemodel.Example {
	all := s.examples.list()
	if query == "" {
		return all
	}
	out := make([]rlemodel.Example, 0, len(all))
	for _, e := range all {
		if contains(e.Query, query) || contains(e.Answer, query) {
			out = append(out, e)
		}
	}
	return out
}
