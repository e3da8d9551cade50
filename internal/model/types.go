package model

import "time"

// MemoryItem is a single stored memory fragment.
//
// Content is held encrypted at rest when an encryptor is configured; the
// engine only sees plaintext through the crypto collaborator. Owner is an
// optional user scope; the empty string means the memory is global.
type MemoryItem struct {
	ID                string                 `json:"id"`
	Owner             string                 `json:"owner,omitempty"`
	Content           string                 `json:"content"`
	PrimarySector     string                 `json:"primarySector"`
	AdditionalSectors []string               `json:"additionalSectors,omitempty"`
	Tags              []string               `json:"tags,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	Salience          float64                `json:"salience"`
	DecayRate         float64                `json:"decayRate"`
	Summary           *string                `json:"summary,omitempty"`
	KeyVersion        *int                   `json:"keyVersion,omitempty"`
	Version           int64                  `json:"version"`
	CreatedAt         time.Time              `json:"createdAt"`
	UpdatedAt         time.Time              `json:"updatedAt"`
	LastSeenAt        time.Time              `json:"lastSeenAt"`
}

// VectorRecord is one dense vector for a (memory, sector) pair.
// A memory keeps one record per sector it was classified into, plus a
// "<sector>_cold" variant once consolidation has compressed it.
type VectorRecord struct {
	MemoryID  string                 `json:"memoryId"`
	Sector    string                 `json:"sector"`
	Owner     string                 `json:"owner,omitempty"`
	Dim       int                    `json:"dim"`
	Embedding []float32              `json:"embedding"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// VectorMatch is a search hit with its cosine similarity score.
type VectorMatch struct {
	MemoryID string  `json:"memoryId"`
	Sector   string  `json:"sector"`
	Score    float64 `json:"score"`
}

// Waypoint is a directed weighted association between two memories.
// At most one edge exists per (src, dst, owner) triple.
type Waypoint struct {
	SourceID  string    `json:"sourceId"`
	TargetID  string    `json:"targetId"`
	Owner     string    `json:"owner,omitempty"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TemporalFact is a bitemporal subject-predicate-object row.
// ValidTo == nil marks the currently active version; for a given
// (owner, subject, predicate) at most one row is active at any instant.
type TemporalFact struct {
	ID          string                 `json:"id"`
	Owner       string                 `json:"owner,omitempty"`
	Subject     string                 `json:"subject"`
	Predicate   string                 `json:"predicate"`
	Object      string                 `json:"object"`
	ValidFrom   time.Time              `json:"validFrom"`
	ValidTo     *time.Time             `json:"validTo,omitempty"`
	Confidence  float64                `json:"confidence"`
	LastUpdated time.Time              `json:"lastUpdated"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// TemporalEdge is a bitemporal relationship between two graph nodes,
// keyed by (source, target, relationType, owner) for the active-row rule.
type TemporalEdge struct {
	ID           string                 `json:"id"`
	Owner        string                 `json:"owner,omitempty"`
	SourceID     string                 `json:"sourceId"`
	TargetID     string                 `json:"targetId"`
	RelationType string                 `json:"relationType"`
	ValidFrom    time.Time              `json:"validFrom"`
	ValidTo      *time.Time             `json:"validTo,omitempty"`
	Weight       float64                `json:"weight"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// FactVolatility summarises how often a (subject, predicate) pair has
// changed and how trusted its versions are.
type FactVolatility struct {
	Subject       string    `json:"subject"`
	Predicate     string    `json:"predicate"`
	ChangeCount   int       `json:"changeCount"`
	AvgConfidence float64   `json:"avgConfidence"`
	LastChanged   time.Time `json:"lastChanged"`
}

// SalienceUpdate carries one batched salience write from a decay pass.
type SalienceUpdate struct {
	MemoryID string
	Salience float64
}

// SearchResult is a ranked retrieval hit with its score breakdown.
type SearchResult struct {
	Memory        *MemoryItem `json:"memory"`
	Score         float64     `json:"score"`
	Similarity    float64     `json:"similarity"`
	TokenOverlap  float64     `json:"tokenOverlap"`
	WaypointBoost float64     `json:"waypointBoost"`
	Recency       float64     `json:"recency"`
	TagMatch      float64     `json:"tagMatch"`
}

// TaskStats is a snapshot of one maintenance task's counters.
type TaskStats struct {
	Name                string        `json:"name"`
	Interval            time.Duration `json:"interval"`
	Running             bool          `json:"running"`
	Runs                int64         `json:"runs"`
	Failures            int64         `json:"failures"`
	ConsecutiveFailures int64         `json:"consecutiveFailures"`
	LastError           string        `json:"lastError,omitempty"`
	LastDuration        time.Duration `json:"lastDuration"`
	LastRun             time.Time     `json:"lastRun"`
}
