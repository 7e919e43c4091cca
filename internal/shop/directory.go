// Package shop holds the in-process tool back-ends: the publisher
// directory, the per-user cart, and the payment stub. Each call is a
// pure request/response operation with a small artificial latency so
// callers exercise their cancellation paths.
package shop

import (
	"context"
	"sort"
	"strings"
	"time"
)

// searchLatency approximates a remote directory round trip.
const searchLatency = 30 * time.Millisecond

// Publisher is one entry in the publisher directory.
type Publisher struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Location    string   `json:"location"`
	Specialties []string `json:"specialties"`
	Rating      float64  `json:"rating"`
}

// Directory is a seeded in-memory publisher catalog.
type Directory struct {
	publishers []Publisher
}

// NewDirectory returns a directory seeded with the built-in catalog.
func NewDirectory() *Directory {
	return &Directory{publishers: seedCatalog()}
}

// Search returns publishers matching the category and optional free-text
// query, best rated first, capped at limit.
func (d *Directory) Search(ctx context.Context, category, query string, limit int) ([]Publisher, error) {
	if err := simulateLatency(ctx, searchLatency); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 20 {
		limit = 10
	}

	category = strings.ToLower(strings.TrimSpace(category))
	query = strings.ToLower(strings.TrimSpace(query))

	var out []Publisher
	for _, p := range d.publishers {
		if category != "" && !strings.Contains(strings.ToLower(p.Category), category) {
			continue
		}
		if query != "" && !matchesQuery(p, query) {
			continue
		}
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Rating > out[j].Rating
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchesQuery(p Publisher, query string) bool {
	if strings.Contains(strings.ToLower(p.Name), query) ||
		strings.Contains(strings.ToLower(p.Location), query) {
		return true
	}
	for _, s := range p.Specialties {
		if strings.Contains(strings.ToLower(s), query) {
			return true
		}
	}
	return false
}

func simulateLatency(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func seedCatalog() []Publisher {
	return []Publisher{
		{ID: "pub-001", Name: "Northlight Press", Category: "technology", Location: "Seattle, WA",
			Specialties: []string{"software engineering", "systems design"}, Rating: 4.8},
		{ID: "pub-002", Name: "Harbor & Quill", Category: "fiction", Location: "Boston, MA",
			Specialties: []string{"literary fiction", "short stories"}, Rating: 4.6},
		{ID: "pub-003", Name: "Meridian Technical Books", Category: "technology", Location: "Austin, TX",
			Specialties: []string{"data engineering", "machine learning"}, Rating: 4.5},
		{ID: "pub-004", Name: "Willow Lane Publishing", Category: "children", Location: "Portland, OR",
			Specialties: []string{"picture books", "middle grade"}, Rating: 4.7},
		{ID: "pub-005", Name: "Cobalt Sky Media", Category: "science", Location: "Denver, CO",
			Specialties: []string{"popular science", "astronomy"}, Rating: 4.4},
		{ID: "pub-006", Name: "Ember & Oak", Category: "cooking", Location: "Nashville, TN",
			Specialties: []string{"regional cuisine", "baking"}, Rating: 4.3},
		{ID: "pub-007", Name: "Lanternworks", Category: "technology", Location: "Brooklyn, NY",
			Specialties: []string{"open source", "developer tooling"}, Rating: 4.2},
		{ID: "pub-008", Name: "Stonebridge Academic", Category: "education", Location: "Chicago, IL",
			Specialties: []string{"textbooks", "research methods"}, Rating: 4.1},
		{ID: "pub-009", Name: "Tidewater Fiction House", Category: "fiction", Location: "Charleston, SC",
			Specialties: []string{"mystery", "historical fiction"}, Rating: 4.5},
		{ID: "pub-010", Name: "Juniper Field Guides", Category: "outdoors", Location: "Boise, ID",
			Specialties: []string{"hiking", "field identification"}, Rating: 4.0},
	}
}
