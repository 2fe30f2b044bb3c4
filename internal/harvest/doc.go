// Package harvest implements the range-harvesting pipeline: it walks an
// identifier range in ascending order, fetches, extracts and summarizes each
// article, appends the result to a streaming sink, and keeps per-run progress
// statistics. Transports, parsers, summarizers and sinks are plugged in
// through the interfaces declared here.
package harvest
