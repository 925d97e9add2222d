// Package progress defines the crawl session event stream: the Event
// payloads emitted by the engine, the Hub that batches them, and the Sink
// contract implemented by the log and Prometheus consumers.
package progress
