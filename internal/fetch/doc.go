// Package fetch dereferences locators for the interpreter.
//
// A Client turns a locator into text: it resolves the locator against the
// context it was found in, performs an HTTP GET through resty, decodes the
// body to UTF-8, and rewrites JSON bodies into XML so that CSS and XPath
// queries can address their fields.
//
// Concurrency is bounded twice. A semaphore caps the number of fetches in
// flight for the whole run, and the transport caps connections per host.
// Per-host headers, cookies and ignore patterns come from the site
// configuration; cookies set by servers are kept in a Jar that can be loaded
// from and saved to a Netscape cookie file.
//
// VisitedSet is the run-scoped set of locators already claimed for fetching.
package fetch
