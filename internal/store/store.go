package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seractech/planwatch/internal/planning"
	"github.com/seractech/planwatch/internal/storage"
)

const (
	// DataPrefix is the root of every object the store writes.
	DataPrefix = "data"
	// MetadataPath holds the per-council watermarks.
	MetadataPath = DataPrefix + "/_metadata.json"
	// SummaryPath holds the last run summary.
	SummaryPath = DataPrefix + "/_summary.json"

	contentTypeJSON = "application/json"
)

// Config tunes window computation.
type Config struct {
	// OverlapDays re-fetches this many days before the watermark to catch
	// late-registered applications.
	OverlapDays int
	// InitialLookbackDays is the window for a council with no watermark.
	InitialLookbackDays int
}

// Store reads and writes shards and metadata.
type Store struct {
	blobs  storage.BlobStore
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	shards map[string]*sync.Mutex
}

// New builds a Store over blobs.
func New(blobs storage.BlobStore, cfg Config, logger *zap.Logger) (*Store, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if cfg.OverlapDays < 0 {
		return nil, fmt.Errorf("overlap days must not be negative")
	}
	if cfg.InitialLookbackDays <= 0 {
		cfg.InitialLookbackDays = 30
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		blobs:  blobs,
		cfg:    cfg,
		logger: logger.Named("store"),
		shards: make(map[string]*sync.Mutex),
	}, nil
}

// LoadMetadata reads the metadata file. A missing file is an empty map; a
// file that cannot be decoded is an error so a run never overwrites
// watermarks it could not read.
func (s *Store) LoadMetadata(ctx context.Context) (planning.Metadata, error) {
	data, err := s.blobs.GetObject(ctx, MetadataPath)
	if errors.Is(err, storage.ErrNotExist) {
		return planning.Metadata{}, nil
	}
	if err != nil {
		return nil, &planning.PersistenceError{Path: MetadataPath, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return planning.Metadata{}, nil
	}

	meta := planning.Metadata{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, &planning.PersistenceError{Path: MetadataPath, Err: fmt.Errorf("decode metadata: %w", err)}
	}
	return meta, nil
}

// SaveMetadata writes meta in one atomic put.
func (s *Store) SaveMetadata(ctx context.Context, meta planning.Metadata) error {
	if meta == nil {
		meta = planning.Metadata{}
	}
	return s.putJSON(ctx, MetadataPath, meta)
}

// SaveSummary writes the run summary in one atomic put.
func (s *Store) SaveSummary(ctx context.Context, summary planning.RunSummary) error {
	return s.putJSON(ctx, SummaryPath, summary)
}

// LoadSummary reads the last run summary. ok is false when no run has
// finished yet.
func (s *Store) LoadSummary(ctx context.Context) (summary planning.RunSummary, ok bool, err error) {
	data, err := s.blobs.GetObject(ctx, SummaryPath)
	if errors.Is(err, storage.ErrNotExist) {
		return planning.RunSummary{}, false, nil
	}
	if err != nil {
		return planning.RunSummary{}, false, &planning.PersistenceError{Path: SummaryPath, Err: err}
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		return planning.RunSummary{}, false, &planning.PersistenceError{
			Path: SummaryPath,
			Err:  fmt.Errorf("decode summary: %w", err),
		}
	}
	return summary, true, nil
}

// UpdateMetadata applies a council outcome to meta. Callers only do this
// once every shard write for the council has succeeded.
func (s *Store) UpdateMetadata(meta planning.Metadata, councilID string, out planning.Outcome) {
	meta.Apply(councilID, out)
}

// Window returns the date range to search for council: from the watermark
// less the overlap, or the initial lookback for a council never scraped,
// up to today.
func (s *Store) Window(meta planning.Metadata, council planning.Council, now time.Time) planning.Window {
	today := planning.DateOf(now)
	if mark, ok := meta.Watermark(council.ID); ok {
		from := mark.AddDays(-s.cfg.OverlapDays)
		if from.After(today) {
			from = today
		}
		return planning.Window{From: from, To: today}
	}
	lookback := s.cfg.InitialLookbackDays
	if council.LookbackDays > 0 {
		lookback = council.LookbackDays
	}
	return planning.Window{From: today.AddDays(-lookback), To: today}
}

func (s *Store) putJSON(ctx context.Context, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &planning.PersistenceError{Path: path, Err: fmt.Errorf("encode: %w", err)}
	}
	data = append(data, '\n')
	if _, err := s.blobs.PutObject(ctx, path, contentTypeJSON, bytes.NewReader(data)); err != nil {
		return &planning.PersistenceError{Path: path, Err: err}
	}
	return nil
}

func (s *Store) shardLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.shards[path]
	if !ok {
		l = &sync.Mutex{}
		s.shards[path] = l
	}
	return l
}
