// Package rlemodel defines the data model ingested and served by the
// KnowledgeStore: documents, page nodes, TOC entries, entities,
// relationships, claims, messages, learnings and examples.
package rlemodel

import "time"

// Document is an ingested source: a stable id plus an ordered page
// sequence and a flat table of contents.
type Document struct {
	ID    string      `yaml:"id"`
	Pages []Page      `yaml:"pages"`
	TOC   []TocEntry  `yaml:"toc"`
}

// Page holds an ordered sequence of nodes at a given page index.
type Page struct {
	Index int        `yaml:"index"`
	Nodes []PageNode `yaml:"nodes"`
}

// NodeKind tags the variant held by a PageNode.
type NodeKind string

const (
	NodeSection  NodeKind = "section"
	NodeHeading  NodeKind = "heading"
	NodeParagraph NodeKind = "paragraph"
	NodeListItem NodeKind = "list_item"
	NodeImage    NodeKind = "image"
	NodeTable    NodeKind = "table"
	NodeHeader   NodeKind = "header"
	NodeFooter   NodeKind = "footer"
	NodeMetadata NodeKind = "metadata"
)

// HeadingLevel is h1..h6.
type HeadingLevel int

const (
	H1 HeadingLevel = iota + 1
	H2
	H3
	H4
	H5
	H6
)

// ParagraphLevel enumerates paragraph sub-kinds.
type ParagraphLevel string

const (
	ParagraphPlain    ParagraphLevel = "paragraph"
	ParagraphCitation ParagraphLevel = "citation"
	ParagraphCode     ParagraphLevel = "code"
	ParagraphAside    ParagraphLevel = "aside"
	ParagraphAbstract ParagraphLevel = "abstract"
	ParagraphFootnote ParagraphLevel = "footnote"
)

// BBox is a pixel-space bounding box, clamped to the owning image's
// dimensions on ingest.
type BBox struct {
	XMin, YMin, XMax, YMax int
}

// Clamp clips the box to [0,width) x [0,height) and guarantees
// xmin < xmax, ymin < ymax, truncating a degenerate box to a single pixel.
func (b BBox) Clamp(width, height int) BBox {
	clampAxis := func(min, max, limit int) (int, int) {
		if min < 0 {
			min = 0
		}
		if max > limit {
			max = limit
		}
		if max <= min {
			if min < limit {
				max = min + 1
			} else {
				min = limit - 1
				max = limit
			}
		}
		return min, max
	}
	xmin, xmax := clampAxis(b.XMin, b.XMax, width)
	ymin, ymax := clampAxis(b.YMin, b.YMax, height)
	return BBox{XMin: xmin, YMin: ymin, XMax: xmax, YMax: ymax}
}

// PageNode is a tagged union over every page-level node kind. Only the
// fields relevant to Kind are populated; a discriminated-variant struct
// reads more plainly here than an interface hierarchy would.
type PageNode struct {
	ID       string   `yaml:"id"`
	ParentID *string  `yaml:"parent_id,omitempty"`
	Kind     NodeKind `yaml:"kind"`

	// Section
	Description string `yaml:"description,omitempty"`

	// Heading
	HeadingLevel HeadingLevel `yaml:"heading_level,omitempty"`
	Content      string       `yaml:"content,omitempty"`

	// Paragraph / ListItem
	ParagraphLevel ParagraphLevel `yaml:"paragraph_level,omitempty"`
	Continuation   bool           `yaml:"continuation,omitempty"`

	// Image / Table
	ImageKind    string `yaml:"image_kind,omitempty"`
	BBox         *BBox  `yaml:"bbox,omitempty"`
	Caption      string `yaml:"caption,omitempty"`
	ImageBytes   []byte `yaml:"image_bytes,omitempty"`
	ContentASCII string `yaml:"content_ascii,omitempty"`

	DocumentID string `yaml:"document_id"`
	PageIndex  int    `yaml:"page_index"`
}

// TocEntry is created only from explicit TOC pages.
type TocEntry struct {
	ID             string  `yaml:"id"`
	ParentID       *string `yaml:"parent_id,omitempty"`
	Title          string  `yaml:"title"`
	Description    string  `yaml:"description,omitempty"`
	TargetPage     *int    `yaml:"target_page,omitempty"`
	TargetSectionID *string `yaml:"target_section_id,omitempty"`
	Level          TocLevel `yaml:"level"`
	DocumentID     string  `yaml:"document_id"`
}

// TocLevel is l1..l6.
type TocLevel int

const (
	L1 TocLevel = iota + 1
	L2
	L3
	L4
	L5
	L6
)

// EntityType enumerates the entity kinds a document can surface.
type EntityType string

const (
	EntityParty        EntityType = "party"
	EntityOrganization EntityType = "organization"
	EntityPerson       EntityType = "person"
	EntityObligation   EntityType = "obligation"
	EntityClause       EntityType = "clause"
)

// Entity is a named thing extracted from a document, unique by ID.
type Entity struct {
	ID                string            `yaml:"id"`
	Name              string            `yaml:"name"`
	Type              EntityType        `yaml:"type"`
	Description       string            `yaml:"description,omitempty"`
	DocumentID        string            `yaml:"document_id"`
	Page              *int              `yaml:"page,omitempty"`
	Section           *string           `yaml:"section,omitempty"`
	CreatedAt         time.Time         `yaml:"created_at"`
	DomainExtensions  map[string]string `yaml:"domain_extensions,omitempty"`
}

// Relationship links two entities in the same store (enforced by the
// store on insert).
type Relationship struct {
	ID             string    `yaml:"id"`
	Type           string    `yaml:"type"`
	SourceEntityID string    `yaml:"source_entity_id"`
	TargetEntityID string    `yaml:"target_entity_id"`
	Description    string    `yaml:"description,omitempty"`
	DocumentID     string    `yaml:"document_id"`
	CreatedAt      time.Time `yaml:"created_at"`
}

// Claim is a model-asserted fact attached to a citation. A claim with
// Verified == false must have Confidence <= 0.5.
type Claim struct {
	ID                   string    `yaml:"id"`
	Text                 string    `yaml:"text"`
	DocumentID           string    `yaml:"document_id"`
	Page                 int       `yaml:"page"`
	Section              string    `yaml:"section,omitempty"`
	Quote                string    `yaml:"quote"`
	Confidence           float64   `yaml:"confidence"`
	QueryID              string    `yaml:"query_id,omitempty"`
	Verified             bool      `yaml:"verified"`
	VerificationVerdict  string    `yaml:"verification_verdict,omitempty"`
	CreatedAt            time.Time `yaml:"created_at"`
}

// Role enumerates Message roles.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is append-only per Environment.
type Message struct {
	ID        string    `yaml:"id"`
	Role      Role      `yaml:"role"`
	Content   string    `yaml:"content"`
	Tokens    int       `yaml:"tokens"`
	Iteration *int      `yaml:"iteration,omitempty"`
	Timestamp time.Time `yaml:"timestamp"`
}

// Learning is an insight the KnowledgeEngine accumulates across queries.
// Decayed once useful+not-useful >= 5 and not-useful ratio > 0.7.
type Learning struct {
	ID            string    `yaml:"id"`
	Insight       string    `yaml:"insight"`
	Context       string    `yaml:"context,omitempty"`
	UsefulCount   int       `yaml:"useful_count"`
	NotUsefulCount int      `yaml:"not_useful_count"`
	AppliedCount  int       `yaml:"applied_count"`
	Decayed       bool      `yaml:"decayed"`
	CreatedAt     time.Time `yaml:"created_at"`
}

// Recompute re-evaluates the Decayed invariant after a vote.
// Once true, it never flips back — callers never clear Decayed directly.
func (l *Learning) Recompute() {
	if l.Decayed {
		return
	}
	total := l.UsefulCount + l.NotUsefulCount
	if total >= 5 && float64(l.NotUsefulCount)/float64(total) > 0.7 {
		l.Decayed = true
	}
}

// Example is retained by recency, not similarity.
type Example struct {
	Query     string    `yaml:"query"`
	Answer    string    `yaml:"answer"`
	Score     float64   `yaml:"score"`
	Good      bool      `yaml:"good"`
	Timestamp time.Time `yaml:"timestamp"`
}
