package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// pagesFetchedTotal counts pages fetched, admitted, and emitted.
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deepcrawl_pages_fetched_total",
		Help: "The total number of pages fetched and emitted as results.",
	})
	// fetchRetriesTotal counts retried fetch attempts.
	fetchRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deepcrawl_fetch_retries_total",
		Help: "The total number of fetch attempts retried on the next proxy.",
	})
	// fetchDropsTotal counts URLs dropped after exhausting retries.
	fetchDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deepcrawl_fetch_drops_total",
		Help: "The total number of URLs dropped after failed fetches.",
	})
	// pagesFilteredTotal counts pages rejected by the post-fetch filter.
	pagesFilteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deepcrawl_pages_filtered_total",
		Help: "The total number of fetched pages rejected by the content-type filter.",
	})
	// linksAdmittedTotal counts discovered links admitted to the frontier.
	linksAdmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deepcrawl_links_admitted_total",
		Help: "The total number of discovered links admitted to the frontier.",
	})
)
