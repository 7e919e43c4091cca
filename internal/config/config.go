// Package config handles Quill configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./quill.yaml, ~/.config/quill/quill.yaml, /etc/quill/quill.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"quill.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "quill", "quill.yaml"))
	}

	paths = append(paths, "/etc/quill/quill.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Quill configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Model      ModelConfig      `yaml:"model"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Vector     VectorConfig     `yaml:"vector"`
	History    HistoryConfig    `yaml:"history"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Stream     StreamConfig     `yaml:"stream"`
	LogLevel   string           `yaml:"log_level"`
}

// ListenConfig defines the WebSocket server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelConfig defines the completion provider settings.
type ModelConfig struct {
	BaseURL string `yaml:"base_url"` // Ollama-compatible endpoint
	Name    string `yaml:"name"`    // Chat model (e.g., qwen3:4b)
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	BaseURL string `yaml:"base_url"` // Defaults to model.base_url
	Model   string `yaml:"model"`    // Embedding model name (e.g., nomic-embed-text)
}

// VectorConfig defines the vector index location.
type VectorConfig struct {
	Path string `yaml:"path"` // SQLite database path (default: quill.db)
}

// HistoryConfig defines chat history retention.
type HistoryConfig struct {
	IdleMinutes int `yaml:"idle_minutes"` // Evict room logs idle longer than this (default 60)
}

// IngestConfig defines text chunking for the embedding ingestion queue.
type IngestConfig struct {
	ChunkWords   int `yaml:"chunk_words"`   // Words per chunk (default 120, range 20-400)
	OverlapWords int `yaml:"overlap_words"` // Overlapping words between chunks (default 20)
}

// RetrievalConfig tunes the context assembler.
type RetrievalConfig struct {
	MinScore     float32 `yaml:"min_score"`      // Relevance threshold (default 0.3)
	GeneralTopK  int     `yaml:"general_top_k"`  // General query size (default 15)
	ProfileTopK  int     `yaml:"profile_top_k"`  // Profile-filtered query size (default 10)
	DocTopK      int     `yaml:"doc_top_k"`      // Per-document chunk cap (default 5, range 3-10)
	DocMinScore  float32 `yaml:"doc_min_score"`  // Document chunk threshold (default 0.2, range 0.15-0.3)
}

// StreamConfig shapes outbound narration streaming.
type StreamConfig struct {
	ChunkWords int `yaml:"chunk_words"` // Words per stream chunk (default 8)
	DelayMs    int `yaml:"delay_ms"`    // Inter-chunk delay in milliseconds (default 30)
}

// IdleWindow returns the history eviction window as a duration.
func (h HistoryConfig) IdleWindow() time.Duration {
	return time.Duration(h.IdleMinutes) * time.Minute
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.clamp()

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Model: ModelConfig{
			BaseURL: "http://localhost:11434",
			Name:    "qwen3:4b",
		},
		Embeddings: EmbeddingsConfig{Model: "nomic-embed-text"},
		Vector:     VectorConfig{Path: "quill.db"},
		History:    HistoryConfig{IdleMinutes: 60},
		Ingest:     IngestConfig{ChunkWords: 120, OverlapWords: 20},
		Retrieval: RetrievalConfig{
			MinScore:    0.3,
			GeneralTopK: 15,
			ProfileTopK: 10,
			DocTopK:     5,
			DocMinScore: 0.2,
		},
		Stream: StreamConfig{ChunkWords: 8, DelayMs: 30},
	}
}

// clamp bounds tunables to their sane ranges so a bad config file cannot
// produce degenerate chunking or retrieval behavior.
func (c *Config) clamp() {
	if c.History.IdleMinutes <= 0 {
		c.History.IdleMinutes = 60
	}
	c.Ingest.ChunkWords = clampInt(c.Ingest.ChunkWords, 20, 400, 120)
	c.Ingest.OverlapWords = clampInt(c.Ingest.OverlapWords, 0, c.Ingest.ChunkWords/2, 20)
	c.Retrieval.DocTopK = clampInt(c.Retrieval.DocTopK, 3, 10, 5)
	c.Retrieval.DocMinScore = clampFloat(c.Retrieval.DocMinScore, 0.15, 0.3, 0.2)
	if c.Retrieval.MinScore <= 0 {
		c.Retrieval.MinScore = 0.3
	}
	if c.Retrieval.GeneralTopK <= 0 {
		c.Retrieval.GeneralTopK = 15
	}
	if c.Retrieval.ProfileTopK <= 0 {
		c.Retrieval.ProfileTopK = 10
	}
	if c.Stream.ChunkWords <= 0 {
		c.Stream.ChunkWords = 8
	}
	if c.Stream.DelayMs < 0 {
		c.Stream.DelayMs = 30
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = c.Model.BaseURL
	}
}

func clampInt(v, min, max, def int) int {
	if v == 0 {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampFloat(v, min, max, def float32) float32 {
	if v == 0 {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
