// Package script parses skrob scripts into an immutable command tree.
//
// A script is built from four primitives:
//
//	{ ... }   Block: run the enclosed commands to a fixed point
//	;         Collect: emit the text of the current contexts
//	->        Follow: fetch the current texts as locators
//	query     Select: a CSS query, or an XPath query between delimiters
//
// The tree is built once and shared read-only by every branch of a run.
package script
