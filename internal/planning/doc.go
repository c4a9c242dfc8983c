// Package planning defines the shared domain model for planning-application
// ingestion: the normalized application record, postcode and date handling,
// per-council scrape metadata, and the error taxonomy every stage uses to
// decide whether a failure is retried, isolated, or fatal.
package planning
