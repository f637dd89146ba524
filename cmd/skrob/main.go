// Package main provides the entry point for the skrob CLI.
//
// skrob runs scripts written in a small language of four primitives
// (block, collect, follow and select) to crawl sites and extract text
// from them concurrently, fetching every locator at most once per run.
//
// Usage:
//
//	skrob run '<script>' <url>...
//	curl -s <url> | skrob run '<script>'
//	skrob explain '<script>'
//
// See --help for all available options.
package main

// main is the entry point for skrob.
func main() {
	Execute()
}
