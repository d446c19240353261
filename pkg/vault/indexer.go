package vault

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"quorum/pkg/logx"
	"quorum/pkg/provider"
	"quorum/pkg/proto"
)

// IndexMode selects how the indexer treats files already present in the
// index.
type IndexMode string

const (
	// ModeRebuild deletes the index file and reindexes everything.
	ModeRebuild IndexMode = "rebuild"
	// ModeUpdateAll reindexes files whose content hash changed.
	ModeUpdateAll IndexMode = "update-all"
	// ModeUpdateNew indexes only files never seen before.
	ModeUpdateNew IndexMode = "update-new"
)

// Valid reports whether the mode is one of the known values.
func (m IndexMode) Valid() bool {
	switch m {
	case ModeRebuild, ModeUpdateAll, ModeUpdateNew:
		return true
	}
	return false
}

// IndexOptions tunes one indexing run.
type IndexOptions struct {
	Mode         IndexMode
	MaxWords     int
	OverlapWords int
	BatchSize    int
	// CleanupDeleted removes index entries for files no longer on disk.
	CleanupDeleted bool
}

func (o *IndexOptions) applyDefaults() {
	if o.Mode == "" {
		o.Mode = ModeUpdateAll
	}
	if o.MaxWords <= 0 {
		o.MaxWords = 800
	}
	if o.OverlapWords < 0 {
		o.OverlapWords = 0
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 16
	}
}

// Indexer builds per-partition vector indexes from markdown vaults.
type Indexer struct {
	embedder provider.EmbeddingClient
	logger   *logx.Logger
}

// NewIndexer creates an indexer backed by the given embedding client.
func NewIndexer(embedder provider.EmbeddingClient) *Indexer {
	return &Indexer{
		embedder: embedder,
		logger:   logx.NewLogger("vault-indexer"),
	}
}

// Index walks vaultPath for markdown files and brings the partition index
// at indexPath up to date. Returns the number of chunks embedded.
func (ix *Indexer) Index(ctx context.Context, vaultName, vaultPath, indexPath string, opts IndexOptions) (int, error) {
	if strings.TrimSpace(vaultName) == "" {
		return 0, fmt.Errorf("vault name must be non-empty")
	}
	opts.applyDefaults()
	if !opts.Mode.Valid() {
		return 0, fmt.Errorf("mode must be %s, %s, or %s", ModeRebuild, ModeUpdateAll, ModeUpdateNew)
	}
	if opts.OverlapWords >= opts.MaxWords {
		return 0, fmt.Errorf("overlap_words must be smaller than max_words")
	}
	if _, err := os.Stat(vaultPath); err != nil {
		return 0, &proto.VaultAccessError{Vault: vaultName, Err: err}
	}

	if opts.Mode == ModeRebuild {
		if err := os.Remove(indexPath); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("failed to remove index for rebuild: %w", err)
		}
	}

	db, err := openIndex(indexPath)
	if err != nil {
		return 0, &proto.VaultAccessError{Vault: vaultName, Err: err}
	}
	defer db.Close()

	livePaths, err := markdownFiles(vaultPath)
	if err != nil {
		return 0, &proto.VaultAccessError{Vault: vaultName, Err: err}
	}

	existingHashes := map[string]string{}
	if opts.Mode != ModeRebuild {
		existingHashes, err = loadFileHashes(db)
		if err != nil {
			return 0, err
		}
		if opts.CleanupDeleted {
			if err := ix.removeDeleted(db, existingHashes, livePaths); err != nil {
				return 0, err
			}
		}
	}

	var pending []Chunk
	for _, filePath := range livePaths {
		if opts.Mode == ModeUpdateNew {
			if _, seen := existingHashes[filePath]; seen {
				continue
			}
		}
		contentHash, err := hashFile(filePath)
		if err != nil {
			return 0, fmt.Errorf("failed to hash %s: %w", filePath, err)
		}
		if opts.Mode == ModeUpdateAll {
			if existingHashes[filePath] == contentHash {
				continue
			}
			if _, seen := existingHashes[filePath]; seen {
				if _, err := db.Exec(`DELETE FROM chunks WHERE file_path = ?`, filePath); err != nil {
					return 0, fmt.Errorf("failed to clear stale chunks: %w", err)
				}
			}
		}

		chunks, err := collectFileChunks(filePath, opts.MaxWords, opts.OverlapWords)
		if err != nil {
			return 0, err
		}
		pending = append(pending, chunks...)

		info, err := os.Stat(filePath)
		if err != nil {
			return 0, fmt.Errorf("failed to stat %s: %w", filePath, err)
		}
		_, err = db.Exec(`
			INSERT INTO files (file_path, content_hash, mtime, last_indexed_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(file_path) DO UPDATE SET
				content_hash = excluded.content_hash,
				mtime = excluded.mtime,
				last_indexed_at = CURRENT_TIMESTAMP`,
			filePath, contentHash, float64(info.ModTime().UnixNano())/1e9)
		if err != nil {
			return 0, fmt.Errorf("failed to record file: %w", err)
		}
	}

	if err := ix.embedAndStore(ctx, db, pending, opts.BatchSize); err != nil {
		return 0, err
	}

	ix.logger.Info("indexed vault=%s mode=%s files=%d chunks=%d",
		vaultName, opts.Mode, len(livePaths), len(pending))
	return len(pending), nil
}

func (ix *Indexer) removeDeleted(db *sql.DB, existing map[string]string, livePaths []string) error {
	live := make(map[string]bool, len(livePaths))
	for _, p := range livePaths {
		live[p] = true
	}
	for filePath := range existing {
		if live[filePath] {
			continue
		}
		if _, err := db.Exec(`DELETE FROM chunks WHERE file_path = ?`, filePath); err != nil {
			return fmt.Errorf("failed to remove deleted chunks: %w", err)
		}
		if _, err := db.Exec(`DELETE FROM files WHERE file_path = ?`, filePath); err != nil {
			return fmt.Errorf("failed to remove deleted file record: %w", err)
		}
		delete(existing, filePath)
		ix.logger.Debug("removed deleted file %s from index", filePath)
	}
	return nil
}

func (ix *Indexer) embedAndStore(ctx context.Context, db *sql.DB, chunks []Chunk, batchSize int) error {
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}
		vectors, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding batch failed: %w", err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedding batch returned %d vectors for %d chunks", len(vectors), len(batch))
		}

		for i, chunk := range batch {
			vectorJSON, err := json.Marshal(vectors[i])
			if err != nil {
				return fmt.Errorf("failed to marshal embedding: %w", err)
			}
			_, err = db.Exec(`
				INSERT INTO chunks (file_path, heading_path, text, embedding_json)
				VALUES (?, ?, ?, ?)`,
				chunk.FilePath, chunk.HeadingPath, chunk.Text, string(vectorJSON))
			if err != nil {
				return fmt.Errorf("failed to store chunk: %w", err)
			}
		}
	}
	return nil
}

func loadFileHashes(db *sql.DB) (map[string]string, error) {
	rows, err := db.Query(`SELECT file_path, content_hash FROM files`)
	if err != nil {
		return nil, fmt.Errorf("failed to load file hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var filePath, contentHash string
		if err := rows.Scan(&filePath, &contentHash); err != nil {
			return nil, fmt.Errorf("failed to scan file hash: %w", err)
		}
		hashes[filePath] = contentHash
	}
	return hashes, rows.Err()
}

// markdownFiles returns all .md files under root, sorted for deterministic
// indexing order.
func markdownFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".md") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func collectFileChunks(filePath string, maxWords, overlapWords int) ([]Chunk, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	var chunks []Chunk
	for _, section := range splitSections(string(content)) {
		for _, text := range chunkText(section.text, maxWords, overlapWords) {
			if strings.TrimSpace(text) == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				Text:        text,
				FilePath:    filePath,
				HeadingPath: section.headingPath,
			})
		}
	}
	return chunks, nil
}

type section struct {
	headingPath string
	text        string
}

// splitSections breaks markdown into sections keyed by the heading path in
// effect, e.g. "Projects > Quorum > Roadmap". Content before the first
// heading gets an empty heading path.
func splitSections(text string) []section {
	var (
		sections     []section
		headingStack []string
		buffer       []string
	)
	flush := func() {
		if len(buffer) == 0 {
			return
		}
		sections = append(sections, section{
			headingPath: strings.Join(headingStack, " > "),
			text:        strings.Join(buffer, "\n"),
		})
		buffer = nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, "#") {
			flush()
			level := len(line) - len(strings.TrimLeft(line, "#"))
			title := strings.TrimSpace(strings.TrimLeft(line, "#"))
			if level <= 0 {
				continue
			}
			if level-1 < len(headingStack) {
				headingStack = headingStack[:level-1]
			}
			headingStack = append(headingStack, title)
			buffer = append(buffer, line)
		} else {
			buffer = append(buffer, line)
		}
	}
	flush()
	return sections
}

// chunkText windows a section into word spans of maxWords with
// overlapWords shared between adjacent spans.
func chunkText(text string, maxWords, overlapWords int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	step := maxWords - overlapWords
	if step < 1 {
		step = 1
	}
	var chunks []string
	for i := 0; i < len(words); i += step {
		end := i + maxWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}
	return chunks
}

func hashFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	digest := blake2b.Sum256(content)
	return hex.EncodeToString(digest[:]), nil
}
