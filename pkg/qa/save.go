package qa

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/codeready-toolchain/rle/pkg/rlemodel"
	"github.com/codeready-toolchain/rle/pkg/store"
)

// Format selects one of save-qa's output formats.
type Format string

const (
	FormatEDN      Format = "edn"
	FormatMarkdown Format = "markdown"
)

// SaveOptions controls save-qa's output. Store, when set, lets the
// markdown output reference images extracted from the source document's
// image nodes (the EDN output carries no image references); without it,
// image extraction is skipped.
type SaveOptions struct {
	Formats []Format // defaults to {edn, markdown}
	Store   *store.Store
}

func (o SaveOptions) formats() []Format {
	if len(o.Formats) > 0 {
		return o.Formats
	}
	return []Format{FormatEDN, FormatMarkdown}
}

// savedStructure mirrors Result field-for-field; it exists only to give
// the serialized file stable, lower-case keys independent of Go field
// names.
type savedStructure struct {
	Questions        []Question        `yaml:"questions"`
	DroppedQuestions []DroppedQuestion `yaml:"dropped_questions"`
	Stats            Stats             `yaml:"stats"`
}

// Save writes result to basePath.edn and/or basePath.md (write-temp,
// rename, matching the KnowledgeStore's persistence discipline), and,
// when opts.Store is set, extracts images referenced by accepted
// questions into a sibling images/ directory, linked relatively rather
// than embedded.
func Save(result Result, basePath string, opts SaveOptions) error {
	dir := filepath.Dir(basePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("qa: creating output dir: %w", err)
	}

	var imageNames map[string]string // question id -> relative image path
	if opts.Store != nil {
		var err error
		imageNames, err = extractImages(result, opts.Store, dir)
		if err != nil {
			return fmt.Errorf("qa: extracting images: %w", err)
		}
	}

	for _, f := range opts.formats() {
		switch f {
		case FormatEDN:
			if err := saveEDN(result, basePath+".edn"); err != nil {
				return err
			}
		case FormatMarkdown:
			if err := saveMarkdown(result, basePath+".md", imageNames); err != nil {
				return err
			}
		}
	}
	return nil
}

// saveEDN mirrors the assembled structure into a structured file. This
// repo substitutes YAML for EDN everywhere it persists data (the
// KnowledgeStore uses yaml.v3 throughout); save-qa follows the same
// substitution and keeps the ".edn" filename.
func saveEDN(result Result, path string) error {
	raw, err := yaml.Marshal(savedStructure{
		Questions:        result.Questions,
		DroppedQuestions: result.DroppedQuestions,
		Stats:            result.Stats,
	})
	if err != nil {
		return err
	}
	return writeAtomic(path, raw)
}

// saveMarkdown groups questions by source document then section.
func saveMarkdown(result Result, path string, imageNames map[string]string) error {
	type section struct {
		title     string
		questions []Question
	}
	byDoc := map[string][]*section{}
	docOrder := []string{}
	sectionIndex := map[string]map[string]*section{}

	for _, q := range result.Questions {
		if _, ok := sectionIndex[q.SourceDocument]; !ok {
			sectionIndex[q.SourceDocument] = map[string]*section{}
			docOrder = append(docOrder, q.SourceDocument)
		}
		sec, ok := sectionIndex[q.SourceDocument][q.SourceSection]
		if !ok {
			sec = &section{title: q.SourceSection}
			sectionIndex[q.SourceDocument][q.SourceSection] = sec
			byDoc[q.SourceDocument] = append(byDoc[q.SourceDocument], sec)
		}
		sec.questions = append(sec.questions, q)
	}
	sort.Strings(docOrder)

	var sb strings.Builder
	sb.WriteString("# Generated Questions\n\n")
	for _, doc := range docOrder {
		fmt.Fprintf(&sb, "## %s\n\n", doc)
		for _, sec := range byDoc[doc] {
			title := sec.title
			if title == "" {
				title = "(untitled section)"
			}
			fmt.Fprintf(&sb, "### %s\n\n", title)
			for _, q := range sec.questions {
				fmt.Fprintf(&sb, "- **Q:** %s\n", q.Text)
				fmt.Fprintf(&sb, "  **A:** %s\n", q.Answer)
				fmt.Fprintf(&sb, "  *Difficulty:* %s · *Category:* %s\n", q.Difficulty, q.Category)
				fmt.Fprintf(&sb, "  *Citation:* %s, page %d, %s\n", q.SourceDocument, q.SourcePage, q.SourceSection)
				fmt.Fprintf(&sb, "  *Evidence:* %q\n", q.EvidenceSpan)
				if img, ok := imageNames[q.ID]; ok {
					fmt.Fprintf(&sb, "  ![passage image](%s)\n", img)
				}
				sb.WriteString("\n")
			}
		}
	}
	return writeAtomic(path, []byte(sb.String()))
}

// extractImages writes every image node on an accepted question's
// source page to <dir>/images/<node-id>.png, returning a map from
// question id to that image's path relative to dir.
func extractImages(result Result, st *store.Store, dir string) (map[string]string, error) {
	imagesDir := filepath.Join(dir, "images")
	names := map[string]string{}

	seen := map[string]bool{}
	for _, q := range result.Questions {
		key := q.SourceDocument + "|" + fmt.Sprint(q.SourcePage)
		if seen[key] {
			continue
		}
		seen[key] = true

		page := q.SourcePage
		nodes := st.ListPageNodes(store.PageNodeFilter{DocumentID: q.SourceDocument, PageIndex: &page, Kind: rlemodel.NodeImage})
		for _, n := range nodes {
			full, ok := st.GetPageNode(n.ID)
			if !ok || len(full.ImageBytes) == 0 {
				continue
			}
			if err := os.MkdirAll(imagesDir, 0o755); err != nil {
				return nil, err
			}
			name := full.ID + ".png"
			if err := writeAtomic(filepath.Join(imagesDir, name), full.ImageBytes); err != nil {
				return nil, err
			}
			for _, q2 := range result.Questions {
				if q2.SourceDocument == q.SourceDocument && q2.SourcePage == q.SourcePage {
					names[q2.ID] = filepath.Join("images", name)
				}
			}
		}
	}
	return names, nil
}

// writeAtomic writes data to a temp file in dir(path) then renames it
// over path, mirroring pkg/store's write-temp-rename discipline.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
