package models

import "time"

// Pictogram is a cached origin pictogram as returned to clients
type Pictogram struct {
	ArasaacID     int      `json:"arasaac_id"`
	Keywords      []string `json:"keywords"`
	Category      *string  `json:"category"`
	Categories    []string `json:"categories"`
	Tags          []string `json:"tags"`
	Language      string   `json:"language"`
	ImageURL      *string  `json:"image_url"`
	LocalFilePath *string  `json:"local_file_path"` // nil until the asset is materialized
	Width         *int     `json:"width"`
	Height        *int     `json:"height"`
	License       string   `json:"license"`
	Description   *string  `json:"description"`
}

// SearchText is the text fuzzy ranking scores against: keywords, categories,
// tags and description joined by single spaces.
func (p *Pictogram) SearchText() string {
	parts := make([]string, 0, len(p.Keywords)+len(p.Categories)+len(p.Tags)+1)
	parts = append(parts, p.Keywords...)
	parts = append(parts, p.Categories...)
	parts = append(parts, p.Tags...)
	if p.Description != nil {
		parts = append(parts, *p.Description)
	}
	return joinNonEmpty(parts)
}

// SavedPictogram is a user's bookmark enriched with cached pictogram data.
// Metadata fields are empty when the pictogram was never cached.
type SavedPictogram struct {
	ArasaacID     int      `json:"arasaac_id"`
	Label         *string  `json:"label"`
	UsedCount     int      `json:"used_count"`
	Keywords      []string `json:"keywords"`
	Categories    []string `json:"categories"`
	Tags          []string `json:"tags"`
	Language      string   `json:"language"`
	ImageURL      *string  `json:"image_url"`
	LocalFilePath *string  `json:"local_file_path"`
	License       string   `json:"license"`
	Description   *string  `json:"description"`
}

// SavePictogramRequest is the body of POST /api/pictograms/saved
type SavePictogramRequest struct {
	ArasaacID int     `json:"arasaac_id"`
	Label     *string `json:"label"`
}

// OriginKeyword is one keyword entry of an origin pictogram
type OriginKeyword struct {
	Keyword *string `json:"keyword,omitempty"`
	Plural  *string `json:"plural,omitempty"`
	Meaning *string `json:"meaning,omitempty"`
}

// OriginPictogram is the origin service's pictogram document. It is stored
// verbatim as metadata_json.
type OriginPictogram struct {
	ID         int             `json:"_id"`
	Keywords   []OriginKeyword `json:"keywords"`
	Categories []string        `json:"categories"`
	Tags       []string        `json:"tags"`
	Desc       *string         `json:"desc,omitempty"`
}

// OriginKeywordList is the origin's keyword listing for a language
type OriginKeywordList struct {
	Locale string   `json:"locale"`
	Words  []string `json:"words"`
}

// Prefetch scheduler states
const (
	PrefetchStateIdle       = "idle"
	PrefetchStateEvaluating = "evaluating"
	PrefetchStateRunning    = "running"
)

// PrefetchSettings is the singleton prefetch configuration row plus live status
type PrefetchSettings struct {
	Enabled     bool               `json:"enabled"`
	IdleMinutes int                `json:"idle_minutes"`
	BatchSize   int                `json:"batch_size"`
	LastRunAt   *time.Time         `json:"last_run_at"`
	LastResult  *PrefetchRunResult `json:"last_result"`
	IdleSeconds int64              `json:"idle_seconds"`
	State       string             `json:"state"`
}

// PrefetchSettingsUpdate carries optional changes; nil fields are left untouched
type PrefetchSettingsUpdate struct {
	Enabled     *bool `json:"enabled"`
	IdleMinutes *int  `json:"idle_minutes"`
	BatchSize   *int  `json:"batch_size"`
}

// PrefetchRunResult is the snapshot recorded after each prefetch batch
type PrefetchRunResult struct {
	ProcessedIDs   int       `json:"processed_ids"`
	Downloaded     int       `json:"downloaded"`
	AlreadyCached  int       `json:"already_cached"`
	Failed         int       `json:"failed"`
	HydratedSeeded int       `json:"hydrated_seeded"`
	IdleSeconds    int64     `json:"idle_seconds"`
	StartedAt      time.Time `json:"started_at"`
	DurationMs     int64     `json:"duration_ms"`
	// Locked is set when another instance held the batch lock and nothing ran
	Locked bool `json:"locked,omitempty"`
}

func joinNonEmpty(parts []string) string {
	out := make([]byte, 0, 64)
	for _, p := range parts {
		if p == "" {
			continue
		}
		if len(out) > 0 {
			out = append(out, ' ')
		}
		out = append(out, p...)
	}
	return string(out)
}
