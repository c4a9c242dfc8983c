// Package store keeps the sharded application dataset and the per-council
// scrape metadata on top of a storage.BlobStore. Shard files live at
// data/{AREA}/{SECTOR}.json and are rewritten whole; every write goes through
// the backend's atomic put.
package store
