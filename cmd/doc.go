// Package cmd defines the planwatch command line.
//
// Architecture overview:
//   - run: one ingestion pass. Every enabled council is searched from its
//     watermark (less the overlap) to today through its portal scraper, the
//     results are geocoded in postcode batches, merged into per-sector shard
//     files and the council's watermark is advanced on full success. The run
//     summary is written next to the shards, optionally published to Pub/Sub
//     and recorded in Postgres, and metrics are pushed to a Pushgateway.
//   - councils: prints the last run summary, then lists the configured
//     councils with the window the next run would search.
//   - lookup: prints the stored applications for a postcode or sector.
//   - serve: keeps the probe and metrics listener running until
//     SIGINT/SIGTERM.
//
// Operational notes:
//   - Configuration comes from a YAML file (--config) overlaid with
//     PLANWATCH_* environment variables, e.g. PLANWATCH_RUN_CONCURRENCY.
//   - All outbound requests share per-host token buckets; a 429 halves the
//     host's rate for the rest of the run.
//   - SIGINT/SIGTERM stops a run between pages. Work already fetched is still
//     persisted and the summary reports the interrupted councils.
package cmd
