// Package retrieval builds the personalization context injected into a
// turn's system instructions from vector-store lookups. Retrieval is
// strictly best-effort: every failure degrades to an empty context and
// the turn proceeds without personalization.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/inkwell-ai/quill/internal/vector"
)

// Embedder generates an embedding for a piece of text.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// Options tune the assembler.
type Options struct {
	MinScore     float32 // Relevance threshold for general facts (default 0.3)
	GeneralTopK  int     // General query size (default 15)
	ProfileTopK  int     // Profile-filtered query size (default 10)
	FallbackKeep int     // Facts kept when nothing clears the threshold (default 3)
	ProfileKeep  int     // Profile facts force-included (default 3)
	DocTopK      int     // Per-document chunk cap (default 5)
	DocMinScore  float32 // Document chunk threshold (default 0.2)
}

func (o *Options) fill() {
	if o.MinScore <= 0 {
		o.MinScore = 0.3
	}
	if o.GeneralTopK <= 0 {
		o.GeneralTopK = 15
	}
	if o.ProfileTopK <= 0 {
		o.ProfileTopK = 10
	}
	if o.FallbackKeep <= 0 {
		o.FallbackKeep = 3
	}
	if o.ProfileKeep <= 0 {
		o.ProfileKeep = 3
	}
	if o.DocTopK <= 0 {
		o.DocTopK = 5
	}
	if o.DocMinScore <= 0 {
		o.DocMinScore = 0.2
	}
}

// Assembler assembles retrieval context for turns.
type Assembler struct {
	store    vector.Store
	embedder Embedder
	opts     Options
	logger   *slog.Logger
}

// NewAssembler creates an assembler.
func NewAssembler(store vector.Store, embedder Embedder, opts Options, logger *slog.Logger) *Assembler {
	opts.fill()
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		store:    store,
		embedder: embedder,
		opts:     opts,
		logger:   logger.With("component", "retrieval"),
	}
}

// personalQueryPattern matches possessive/identity phrasing that signals
// the user is asking about themselves.
var personalQueryPattern = regexp.MustCompile(`(?i)\b(my|mine|i am|i'm|am i|do i|about me|who am i|my name|remember me)\b`)

// isPersonalQuery reports whether the message should bias retrieval
// toward profile/preference vocabulary.
func isPersonalQuery(message string) bool {
	return personalQueryPattern.MatchString(message)
}

// profileVocabulary is appended to the query text for the expanded
// profile-biased embedding.
const profileVocabulary = "user profile identity name location occupation preferences favorite personal details"

// Build returns the retrieval context block for a turn, or "" when
// nothing relevant exists or any step fails.
func (a *Assembler) Build(ctx context.Context, userID, message string, selectedDocs []string) string {
	if userID == "" || strings.TrimSpace(message) == "" {
		return ""
	}

	queryVec, err := a.embedder.Generate(ctx, message)
	if err != nil || len(queryVec) == 0 {
		a.logger.Debug("query embedding unavailable, skipping retrieval", "error", err)
		return ""
	}

	// A personal query gets a second, semantically expanded embedding
	// biased toward profile vocabulary.
	profileVec := queryVec
	if isPersonalQuery(message) {
		if expanded, err := a.embedder.Generate(ctx, message+" "+profileVocabulary); err == nil && len(expanded) > 0 {
			profileVec = expanded
		}
	}

	ns := vector.UserNamespace(userID)

	general, err := a.store.Query(ctx, ns, queryVec, a.opts.GeneralTopK, nil)
	if err != nil {
		a.logger.Debug("general retrieval failed", "error", err)
		general = nil
	}

	profile := a.queryProfile(ctx, ns, profileVec)

	merged := mergeByID(general, profile)
	kept := a.selectFacts(merged)

	var sections []string
	if len(kept) > 0 {
		sections = append(sections, renderFacts(kept))
	}

	if len(selectedDocs) > 0 {
		if docSection := a.buildDocSection(ctx, userID, queryVec, selectedDocs); docSection != "" {
			sections = append(sections, docSection)
		}
	}

	return strings.Join(sections, "\n\n")
}

// queryProfile runs the profile-filtered nearest-neighbor query. A
// failure of the filtered query is retried once without the filter,
// with in-process filtering substituted.
func (a *Assembler) queryProfile(ctx context.Context, ns string, vec []float32) []vector.Match {
	isProfile := true
	matches, err := a.store.Query(ctx, ns, vec, a.opts.ProfileTopK, &vector.Filter{IsProfile: &isProfile})
	if err == nil {
		return matches
	}

	a.logger.Debug("filtered profile query failed, retrying unfiltered", "error", err)
	unfiltered, err := a.store.Query(ctx, ns, vec, a.opts.GeneralTopK, nil)
	if err != nil {
		a.logger.Debug("unfiltered profile retry failed", "error", err)
		return nil
	}

	kept := unfiltered[:0:0]
	for _, m := range unfiltered {
		if m.Metadata.IsProfile {
			kept = append(kept, m)
		}
		if len(kept) == a.opts.ProfileTopK {
			break
		}
	}
	return kept
}

// mergeByID merges result sets, keeping the higher score on duplicates.
func mergeByID(sets ...[]vector.Match) []vector.Match {
	byID := make(map[string]vector.Match)
	for _, set := range sets {
		for _, m := range set {
			if prev, ok := byID[m.ID]; !ok || m.Score > prev.Score {
				byID[m.ID] = m
			}
		}
	}

	merged := make([]vector.Match, 0, len(byID))
	for _, m := range byID {
		merged = append(merged, m)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	return merged
}

// selectFacts applies the relevance threshold with its two overrides:
// a top-N fallback so any candidate set yields a non-empty result, and
// force-inclusion of top-scoring profile facts so identity facts are
// never silently dropped.
func (a *Assembler) selectFacts(merged []vector.Match) []vector.Match {
	if len(merged) == 0 {
		return nil
	}

	var kept []vector.Match
	for _, m := range merged {
		if m.Score >= a.opts.MinScore {
			kept = append(kept, m)
		}
	}

	// Fallback: below-threshold candidates beat an empty result.
	if len(kept) < a.opts.FallbackKeep {
		n := a.opts.FallbackKeep
		if n > len(merged) {
			n = len(merged)
		}
		kept = merged[:n]
	}

	// Force-include top-scoring profile facts (merged is score-sorted).
	included := make(map[string]bool, len(kept))
	for _, m := range kept {
		included[m.ID] = true
	}
	forced := 0
	for _, m := range merged {
		if forced == a.opts.ProfileKeep {
			break
		}
		if !m.Metadata.IsProfile {
			continue
		}
		forced++
		if !included[m.ID] {
			kept = append(kept, m)
			included[m.ID] = true
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})
	return kept
}

// renderFacts partitions facts into profile/preference vs. general
// conversation and renders them as two labeled sections.
func renderFacts(facts []vector.Match) string {
	var profile, general []vector.Match
	for _, f := range facts {
		if f.Metadata.IsProfile || f.Metadata.IsPreference {
			profile = append(profile, f)
		} else {
			general = append(general, f)
		}
	}

	var sb strings.Builder
	sb.WriteString("Relevant knowledge about this user:")
	if len(profile) > 0 {
		sb.WriteString("\n\nProfile & preferences:\n")
		for _, f := range profile {
			fmt.Fprintf(&sb, "- %s\n", f.Metadata.Text)
		}
	}
	if len(general) > 0 {
		sb.WriteString("\n\nFrom earlier conversations:\n")
		for _, f := range general {
			fmt.Fprintf(&sb, "- %s\n", f.Metadata.Text)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// buildDocSection performs the independent document retrieval for
// explicitly selected documents: scoped to the per-user docs namespace,
// filtered to the selected ids, grouped by document, and capped per
// document.
func (a *Assembler) buildDocSection(ctx context.Context, userID string, queryVec []float32, selectedDocs []string) string {
	ns := vector.DocsNamespace(userID)
	topK := a.opts.DocTopK * len(selectedDocs)

	matches, err := a.store.Query(ctx, ns, queryVec, topK, &vector.Filter{DocIDs: selectedDocs})
	if err != nil {
		a.logger.Debug("filtered document query failed, retrying unfiltered", "error", err)
		unfiltered, uerr := a.store.Query(ctx, ns, queryVec, topK*2, nil)
		if uerr != nil {
			a.logger.Debug("unfiltered document retry failed", "error", uerr)
			return ""
		}
		selected := make(map[string]bool, len(selectedDocs))
		for _, id := range selectedDocs {
			selected[id] = true
		}
		matches = unfiltered[:0:0]
		for _, m := range unfiltered {
			if selected[m.Metadata.DocID] {
				matches = append(matches, m)
			}
		}
	}

	// Group by document, keep per-doc top chunks above the threshold.
	byDoc := make(map[string][]vector.Match)
	for _, m := range matches {
		if m.Score < a.opts.DocMinScore {
			continue
		}
		if len(byDoc[m.Metadata.DocID]) < a.opts.DocTopK {
			byDoc[m.Metadata.DocID] = append(byDoc[m.Metadata.DocID], m)
		}
	}
	if len(byDoc) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Selected documents:")
	for _, docID := range selectedDocs {
		chunks, ok := byDoc[docID]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "\n\nDocument %s:\n", docID)
		for _, c := range chunks {
			sb.WriteString(renderDocChunk(c))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// renderDocChunk applies type-aware framing: tabular documents get
// column/row framing, page-oriented documents get page framing.
func renderDocChunk(m vector.Match) string {
	switch m.Metadata.DocType {
	case "tabular":
		if len(m.Metadata.Columns) > 0 {
			return fmt.Sprintf("- [columns: %s] %s\n", strings.Join(m.Metadata.Columns, ", "), m.Metadata.Text)
		}
		return fmt.Sprintf("- [row] %s\n", m.Metadata.Text)
	default:
		if m.Metadata.Page > 0 {
			return fmt.Sprintf("- [page %d] %s\n", m.Metadata.Page, m.Metadata.Text)
		}
		return fmt.Sprintf("- %s\n", m.Metadata.Text)
	}
}
