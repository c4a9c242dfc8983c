package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/seractech/planwatch/internal/metrics"
	"github.com/seractech/planwatch/internal/planning"
	"github.com/seractech/planwatch/internal/storage"
)

// MergeStats counts what MergeAndPersist did.
type MergeStats struct {
	New           int
	Updated       int
	Unchanged     int
	Unplaceable   int
	ShardsWritten int
}

// ShardPath returns the object path of the shard holding sector.
func ShardPath(sector string) string {
	return DataPrefix + "/" + planning.Area(sector) + "/" + sector + ".json"
}

// MergeAndPersist folds records into their sector shards. Within a shard the
// incoming record replaces the stored one with the same (council, id); if
// the incoming record has no coordinates and the postcode did not change, the
// stored coordinates are kept. Records without a usable postcode cannot be
// sharded and are only counted. Shards with no change are not rewritten.
//
// The first shard that fails to read, decode or write stops the merge with a
// *planning.PersistenceError; shards already written stay written.
func (s *Store) MergeAndPersist(ctx context.Context, councilID string, records []planning.Application) (MergeStats, error) {
	var stats MergeStats

	bySector := make(map[string][]planning.Application)
	for _, rec := range records {
		sector := rec.Sector()
		if sector == "" {
			stats.Unplaceable++
			continue
		}
		bySector[sector] = append(bySector[sector], rec)
	}

	sectors := make([]string, 0, len(bySector))
	for sector := range bySector {
		sectors = append(sectors, sector)
	}
	sort.Strings(sectors)

	for _, sector := range sectors {
		if err := ctx.Err(); err != nil {
			return stats, &planning.PersistenceError{Path: ShardPath(sector), Err: err}
		}
		shardStats, err := s.mergeShard(ctx, sector, bySector[sector])
		stats.New += shardStats.New
		stats.Updated += shardStats.Updated
		stats.Unchanged += shardStats.Unchanged
		stats.ShardsWritten += shardStats.ShardsWritten
		if err != nil {
			metrics.ObserveShardWrite("error")
			return stats, err
		}
	}

	s.logger.Debug("merged council records",
		zap.String("council", councilID),
		zap.Int("new", stats.New),
		zap.Int("updated", stats.Updated),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("unplaceable", stats.Unplaceable),
		zap.Int("shards", stats.ShardsWritten),
	)
	return stats, nil
}

func (s *Store) mergeShard(ctx context.Context, sector string, incoming []planning.Application) (MergeStats, error) {
	path := ShardPath(sector)
	lock := s.shardLock(path)
	lock.Lock()
	defer lock.Unlock()

	var stats MergeStats
	existing, err := s.readShard(ctx, path)
	if err != nil {
		return stats, err
	}

	merged := make(map[planning.Key]planning.Application, len(existing)+len(incoming))
	for _, app := range existing {
		merged[app.Key()] = app
	}

	// Later duplicates within one batch replace earlier ones.
	latest := make(map[planning.Key]planning.Application, len(incoming))
	order := make([]planning.Key, 0, len(incoming))
	for _, app := range incoming {
		if _, seen := latest[app.Key()]; !seen {
			order = append(order, app.Key())
		}
		latest[app.Key()] = app
	}

	for _, key := range order {
		app := latest[key]
		old, ok := merged[key]
		if !ok {
			merged[key] = app
			stats.New++
			continue
		}
		if !app.HasCoords() && old.HasCoords() &&
			planning.CompactPostcode(old.Postcode) == planning.CompactPostcode(app.Postcode) {
			app.SetCoords(*old.Lat, *old.Lng)
		}
		if sameApplication(old, app) {
			stats.Unchanged++
			continue
		}
		merged[key] = app
		stats.Updated++
	}

	if stats.New == 0 && stats.Updated == 0 {
		metrics.ObserveShardWrite("unchanged")
		return stats, nil
	}

	out := make([]planning.Application, 0, len(merged))
	for _, app := range merged {
		out = append(out, app)
	}
	SortApplications(out)

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return stats, &planning.PersistenceError{Path: path, Err: fmt.Errorf("encode shard: %w", err)}
	}
	data = append(data, '\n')
	if _, err := s.blobs.PutObject(ctx, path, contentTypeJSON, bytes.NewReader(data)); err != nil {
		return stats, &planning.PersistenceError{Path: path, Err: err}
	}
	stats.ShardsWritten = 1
	metrics.ObserveShardWrite("written")
	return stats, nil
}

// ReadShard returns the applications in the shard for a postcode or sector.
// A missing shard is empty, not an error.
func (s *Store) ReadShard(ctx context.Context, postcodeOrSector string) ([]planning.Application, error) {
	sector, ok := planning.LookupSector(postcodeOrSector)
	if !ok {
		return nil, fmt.Errorf("%q is not a postcode or sector: %w", postcodeOrSector, planning.ErrUnresolvable)
	}
	return s.readShard(ctx, ShardPath(sector))
}

func (s *Store) readShard(ctx context.Context, path string) ([]planning.Application, error) {
	data, err := s.blobs.GetObject(ctx, path)
	if errors.Is(err, storage.ErrNotExist) {
		return []planning.Application{}, nil
	}
	if err != nil {
		return nil, &planning.PersistenceError{Path: path, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []planning.Application{}, nil
	}
	var apps []planning.Application
	if err := json.Unmarshal(data, &apps); err != nil {
		return nil, &planning.PersistenceError{Path: path, Err: fmt.Errorf("decode shard: %w", err)}
	}
	return apps, nil
}

// SortApplications orders apps newest first, then by council and id.
func SortApplications(apps []planning.Application) {
	sort.SliceStable(apps, func(i, j int) bool {
		a, b := apps[i], apps[j]
		if !a.DateReceived.Equal(b.DateReceived.Time) {
			return a.DateReceived.After(b.DateReceived)
		}
		if a.Council != b.Council {
			return a.Council < b.Council
		}
		return a.ID < b.ID
	})
}

func sameApplication(a, b planning.Application) bool {
	return a.ID == b.ID &&
		a.Council == b.Council &&
		a.Desc == b.Desc &&
		a.Addr == b.Addr &&
		a.Postcode == b.Postcode &&
		sameCoord(a.Lat, b.Lat) &&
		sameCoord(a.Lng, b.Lng) &&
		a.DateReceived.Equal(b.DateReceived.Time) &&
		a.Status == b.Status &&
		a.Link == b.Link
}

func sameCoord(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
