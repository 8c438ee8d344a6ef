// Package syncbase implements the transactional core of a serverless
// application backend: a multi-version, snapshot-isolation document
// database with secondary, text, and vector indexes, and a sync worker
// that streams committed changes to subscribers for live query
// invalidation.
//
// Architecture:
//  1. Database: the coordinator that wires persistence, the committer,
//     the snapshot manager, and search/vector bootstrap together.
//  2. mvcc: the timestamp-ordered snapshot sequence (table registry,
//     index registry, in-memory indexes, table summaries).
//  3. committer: the single-writer commit pipeline (OCC validation,
//     timestamp assignment, durable write, snapshot publication).
//  4. transaction: the read/write buffer a UDF executes against.
//  5. search: text/vector index bootstrap and incremental maintenance.
//  6. subscription: read-token invalidation driven by the write log.
//  7. sync: per-client live-query session driver.
//  8. persistence / searcher / auth / retention: pluggable external
//     contracts the core depends on but does not implement internals of.
package syncbase
