package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/inkwell-ai/quill/internal/embeddings"
)

// Index is a SQLite-backed vector store. Embeddings are stored as
// little-endian float32 blobs and scored with cosine similarity
// in-process; metadata filters compile to SQL so candidate sets stay
// small before scoring.
type Index struct {
	db *sql.DB
}

// NewIndex opens (or creates) a vector index at the given path.
// The caller must have registered a database/sql driver named "sqlite"
// (modernc.org/sqlite registers itself on import).
func NewIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	idx := &Index{db: db}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return idx, nil
}

// NewIndexWithDB creates an index using an existing database connection.
func NewIndexWithDB(db *sql.DB) (*Index, error) {
	idx := &Index{db: db}
	if err := idx.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return idx, nil
}

func (x *Index) migrate() error {
	_, err := x.db.Exec(`
		CREATE TABLE IF NOT EXISTS vectors (
			namespace  TEXT NOT NULL,
			id         TEXT NOT NULL,
			embedding  BLOB NOT NULL,
			metadata   TEXT NOT NULL,
			is_profile INTEGER NOT NULL DEFAULT 0,
			doc_id     TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			PRIMARY KEY (namespace, id)
		);

		CREATE INDEX IF NOT EXISTS idx_vectors_ns ON vectors(namespace);
		CREATE INDEX IF NOT EXISTS idx_vectors_ns_doc ON vectors(namespace, doc_id);
	`)
	return err
}

// Close closes the database connection.
func (x *Index) Close() error {
	return x.db.Close()
}

// Upsert writes items into the namespace, overwriting existing ids.
func (x *Index) Upsert(ctx context.Context, namespace string, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, item := range items {
		meta, err := json.Marshal(item.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", item.ID, err)
		}

		profile := 0
		if item.Metadata.IsProfile {
			profile = 1
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO vectors (namespace, id, embedding, metadata, is_profile, doc_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(namespace, id) DO UPDATE SET
				embedding  = excluded.embedding,
				metadata   = excluded.metadata,
				is_profile = excluded.is_profile,
				doc_id     = excluded.doc_id
		`, namespace, item.ID, encodeEmbedding(item.Vector), string(meta), profile, item.Metadata.DocID, now)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", item.ID, err)
		}
	}

	return tx.Commit()
}

// Query returns the topK nearest neighbors in the namespace, best first.
func (x *Index) Query(ctx context.Context, namespace string, vec []float32, topK int, filter *Filter) ([]Match, error) {
	if topK <= 0 || len(vec) == 0 {
		return nil, nil
	}

	query := `SELECT id, embedding, metadata FROM vectors WHERE namespace = ?`
	args := []any{namespace}

	if filter != nil {
		if filter.IsProfile != nil {
			query += ` AND is_profile = ?`
			if *filter.IsProfile {
				args = append(args, 1)
			} else {
				args = append(args, 0)
			}
		}
		if len(filter.DocIDs) > 0 {
			query += ` AND doc_id IN (?` + strings.Repeat(",?", len(filter.DocIDs)-1) + `)`
			for _, id := range filter.DocIDs {
				args = append(args, id)
			}
		}
	}

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var id string
		var blob []byte
		var metaJSON string
		if err := rows.Scan(&id, &blob, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		var meta Metadata
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			continue // Malformed metadata rows are skipped, not fatal
		}

		matches = append(matches, Match{
			ID:       id,
			Score:    embeddings.CosineSimilarity(vec, decodeEmbedding(blob)),
			Metadata: meta,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}

	return matches, nil
}

// DeleteByIDs removes items by id from the namespace. Unknown ids are
// silently ignored.
func (x *Index) DeleteByIDs(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query := `DELETE FROM vectors WHERE namespace = ? AND id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
	args := make([]any, 0, len(ids)+1)
	args = append(args, namespace)
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := x.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// encodeEmbedding serializes a float32 vector as a little-endian blob.
func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding deserializes a little-endian blob into a float32 vector.
func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
