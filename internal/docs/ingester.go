// Package docs ingests user-uploaded documents into the per-user docs
// vector namespace so they can be selected as retrieval context.
// Markdown documents are split into heading-scoped sections; CSV
// documents are ingested row by row with their column header attached.
package docs

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"

	"github.com/inkwell-ai/quill/internal/vector"
)

// Embedder generates an embedding for a piece of text.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// Ingester parses documents and upserts their chunks into the owning
// user's docs namespace.
type Ingester struct {
	store    vector.Store
	embedder Embedder
	logger   *slog.Logger
}

// NewIngester creates a document ingester.
func NewIngester(store vector.Store, embedder Embedder, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		store:    store,
		embedder: embedder,
		logger:   logger.With("component", "docs"),
	}
}

// IngestFile dispatches on file extension: .csv is ingested as a
// tabular document, everything else as markdown/plain text. Returns
// the number of chunks stored.
func (ing *Ingester) IngestFile(ctx context.Context, userID, docID, path string) (int, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read document: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return ing.IngestCSV(ctx, userID, docID, source)
	}
	return ing.IngestMarkdown(ctx, userID, docID, source)
}

// IngestMarkdown splits the document into heading-scoped sections and
// stores one chunk per section. Section order becomes the page number.
func (ing *Ingester) IngestMarkdown(ctx context.Context, userID, docID string, source []byte) (int, error) {
	sections := splitSections(source)
	if len(sections) == 0 {
		return 0, nil
	}

	items := make([]vector.Item, 0, len(sections))
	for i, sec := range sections {
		vec, err := ing.embedder.Generate(ctx, sec)
		if err != nil {
			ing.logger.Debug("section embedding failed, skipping",
				"doc", docID, "section", i+1, "error", err)
			continue
		}
		if len(vec) == 0 {
			continue
		}
		items = append(items, vector.Item{
			ID:     docChunkID(userID, docID, sec),
			Vector: vec,
			Metadata: vector.Metadata{
				Text:    sec,
				DocID:   docID,
				DocType: "pages",
				Page:    i + 1,
			},
		})
	}
	return ing.upsert(ctx, userID, docID, items)
}

// IngestCSV stores one chunk per data row, rendered as column/value
// pairs, with the header attached as metadata for retrieval framing.
func (ing *Ingester) IngestCSV(ctx context.Context, userID, docID string, source []byte) (int, error) {
	r := csv.NewReader(strings.NewReader(string(source)))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) < 2 {
		return 0, nil
	}

	header := records[0]
	items := make([]vector.Item, 0, len(records)-1)
	for _, row := range records[1:] {
		text := renderRow(header, row)
		if text == "" {
			continue
		}
		vec, err := ing.embedder.Generate(ctx, text)
		if err != nil {
			ing.logger.Debug("row embedding failed, skipping",
				"doc", docID, "error", err)
			continue
		}
		if len(vec) == 0 {
			continue
		}
		items = append(items, vector.Item{
			ID:     docChunkID(userID, docID, text),
			Vector: vec,
			Metadata: vector.Metadata{
				Text:    text,
				DocID:   docID,
				DocType: "tabular",
				Columns: header,
			},
		})
	}
	return ing.upsert(ctx, userID, docID, items)
}

func (ing *Ingester) upsert(ctx context.Context, userID, docID string, items []vector.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	if err := ing.store.Upsert(ctx, vector.DocsNamespace(userID), items); err != nil {
		return 0, fmt.Errorf("upsert document chunks: %w", err)
	}
	ing.logger.Info("document ingested", "doc", docID, "chunks", len(items))
	return len(items), nil
}

// splitSections walks the markdown AST and groups content under the
// most recent heading. Text before any heading forms its own section.
func splitSections(source []byte) []string {
	root := goldmark.New().Parser().Parse(gmtext.NewReader(source))

	var sections []string
	var current strings.Builder
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sections = append(sections, s)
		}
		current.Reset()
	}

	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		if _, ok := n.(*ast.Heading); ok {
			flush()
		}
		block := strings.TrimSpace(nodeText(n, source))
		if block == "" {
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(block)
	}
	flush()
	return sections
}

// nodeText collects the raw text content of a node and its children.
func nodeText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := c.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}

// renderRow renders a CSV row as "column: value" pairs.
func renderRow(header, row []string) string {
	var parts []string
	for i, v := range row {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if i < len(header) {
			parts = append(parts, fmt.Sprintf("%s: %s", strings.TrimSpace(header[i]), v))
		} else {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "; ")
}

// docChunkID derives a stable id so re-ingesting a document overwrites
// its chunks instead of duplicating them.
func docChunkID(userID, docID, text string) string {
	sum := sha256.Sum256([]byte(userID + "\x00" + docID + "\x00" + text))
	return hex.EncodeToString(sum[:16])
}
