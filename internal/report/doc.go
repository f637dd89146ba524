// Package report renders what skrob knows about scripts and runs.
//
// This package contains writers for different output formats:
//   - MarkdownWriter: Markdown documents for terminals and sharing
//   - JSONWriter: Structured JSON output for tool integration
//
// Both writers render the same two things: an Explanation of a parsed
// script (used by "skrob explain") and the run history kept in the
// archive database (used by "skrob history").
//
// Design decision: Writers take records from the script and database
// packages as they are and own every formatting choice, so the archive
// schema and the parser never need to know how they are displayed.
package report
