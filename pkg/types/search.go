package types

import "time"

// SearchResult is one page of search hits together with facets over every match
type SearchResult struct {
	Results []EmailSummary `json:"results"`
	Total   int            `json:"total"`
	Facets  Facets         `json:"facets"`
}

// Facets are count breakdowns of the full matching population
type Facets struct {
	Folders  []FacetCount `json:"folders"`
	Accounts []FacetCount `json:"accounts"`
	Dates    []FacetCount `json:"dates"`
}

// FacetCount is one bucket of a facet
type FacetCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Suggestion is a typeahead candidate
type Suggestion struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// PopularSearch is a logged query and how often it was issued
type PopularSearch struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// SyncRun is one row of the sync audit log
type SyncRun struct {
	RunID         string    `json:"run_id"`
	AccountID     int64     `json:"account_id"`
	Cycle         string    `json:"cycle"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Synced        int       `json:"synced"`
	Total         int       `json:"total"`
	FoldersOK     int       `json:"folders_ok"`
	FoldersFailed int       `json:"folders_failed"`
	Error         string    `json:"error,omitempty"`
}
