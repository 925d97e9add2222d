package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageSessionStart Stage = "SESSION_START"
	StageSessionDone  Stage = "SESSION_DONE"
	StageFetchStart   Stage = "FETCH_START"
	StageFetchDone    Stage = "FETCH_DONE"
	StageFetchRetry   Stage = "FETCH_RETRY"
	StageFetchDrop    Stage = "FETCH_DROP"
	StagePageFiltered Stage = "PAGE_FILTERED"
)

// Event captures one crawl session milestone.
type Event struct {
	// SessionID identifies the crawl session in 16-byte UUID form.
	SessionID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// URL is the page being fetched, where applicable.
	URL string
	// Depth is the traversal depth of the page.
	Depth int
	// Score is the discovery-time relevance score (best-first sessions).
	Score float64
	// Proxy is the egress identity used, as host:port without credentials.
	Proxy string
	// Dur captures fetch latency for FETCH_DONE events.
	Dur time.Duration
	// Note carries low-volume context such as error text or final state.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SessionID == [16]byte{} {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSessionStart, StageSessionDone:
	case StageFetchStart, StageFetchDone, StageFetchRetry, StageFetchDrop, StagePageFiltered:
		if e.URL == "" {
			return fmt.Errorf("%s requires a url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// SessionUUID converts the binary session ID to uuid.UUID.
func (e Event) SessionUUID() uuid.UUID {
	return uuid.UUID(e.SessionID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
