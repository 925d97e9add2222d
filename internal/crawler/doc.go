// Package crawler implements the scoped deep-crawl engine: the URL filter
// chain, the keyword relevance scorer, the traversal frontiers (breadth-first
// and best-first), and the orchestrating engine that streams crawl results
// while rotating across outbound proxies.
package crawler
