package kb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/PhantomAgents/phantom-mvp/engine/domain"
	"github.com/PhantomAgents/phantom-mvp/engine/semantic"
)

const (
	indexSuffix  = ".index"
	chunksSuffix = ".chunks.json"
)

// FileStore keeps one artifact pair per identity under a single directory:
// {identity}.chunks.json and {identity}.index. Writes go through a temp file
// in the same directory followed by a rename, and the index is published
// last, so an existing index file implies a complete pair.
type FileStore struct {
	dir string
	log *slog.Logger
}

// NewFileStore creates the artifact directory if needed.
func NewFileStore(dir string, log *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("kb: create artifact dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir, log: log}, nil
}

// Exists reports whether a complete artifact pair is published for id.
func (s *FileStore) Exists(id domain.Identity) bool {
	_, err := os.Stat(s.indexPath(id))
	return err == nil
}

// List returns every identity with a published artifact pair, in no
// particular order. Files that are not valid artifacts are skipped.
func (s *FileStore) List() ([]domain.Identity, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("kb: list artifacts: %w", err)
	}
	var ids []domain.Identity
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, indexSuffix) {
			continue
		}
		id, err := domain.ParseIdentity(strings.TrimSuffix(name, indexSuffix))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *FileStore) Load(ctx context.Context, id domain.Identity) (*KnowledgeBase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(s.chunksPath(id))
	if err != nil {
		return nil, s.missing(id, err)
	}
	var chunks []domain.Chunk
	if err := json.Unmarshal(raw, &chunks); err != nil {
		return nil, fmt.Errorf("kb: decode chunks for %s: %w", id.Short(), err)
	}

	f, err := os.Open(s.indexPath(id))
	if err != nil {
		return nil, s.missing(id, err)
	}
	defer f.Close()
	idx, err := semantic.ReadIndex(f)
	if err != nil {
		return nil, fmt.Errorf("kb: decode index for %s: %w", id.Short(), err)
	}

	return &KnowledgeBase{Identity: id, Chunks: chunks, Index: idx}, nil
}

func (s *FileStore) Save(ctx context.Context, kb *KnowledgeBase) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(kb.Chunks, "", "  ")
	if err != nil {
		return fmt.Errorf("kb: encode chunks for %s: %w", kb.Identity.Short(), err)
	}
	if err := s.publish(s.chunksPath(kb.Identity), func(f *os.File) error {
		_, werr := f.Write(raw)
		return werr
	}); err != nil {
		return fmt.Errorf("kb: write chunks for %s: %w", kb.Identity.Short(), err)
	}

	if err := s.publish(s.indexPath(kb.Identity), func(f *os.File) error {
		_, werr := kb.Index.WriteTo(f)
		return werr
	}); err != nil {
		return fmt.Errorf("kb: write index for %s: %w", kb.Identity.Short(), err)
	}

	s.log.Debug("knowledge base persisted",
		slog.String("identity", kb.Identity.Short()),
		slog.Int("chunks", len(kb.Chunks)))
	return nil
}

// publish writes to a temp file in the artifact directory and renames it
// over the final path. Rename within one directory is atomic, so readers
// never observe a partial artifact.
func (s *FileStore) publish(path string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *FileStore) missing(id domain.Identity, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("kb: %s: %w", id.Short(), domain.ErrNotFound)
	}
	return fmt.Errorf("kb: read artifacts for %s: %w", id.Short(), err)
}

func (s *FileStore) indexPath(id domain.Identity) string {
	return filepath.Join(s.dir, id.String()+indexSuffix)
}

func (s *FileStore) chunksPath(id domain.Identity) string {
	return filepath.Join(s.dir, id.String()+chunksSuffix)
}
