// Package ingest runs one ingestion pass: it loads the scrape metadata,
// fans councils out over a bounded worker pool, pages through each council's
// portal, geocodes what it found, merges it into the shards and finally
// writes the metadata and run summary.
//
// A council moves through fetching, parsing, geocoding, merging and
// metadata_update, ending as success, partial, failed or skipped. Failures
// never cross council boundaries.
package ingest
