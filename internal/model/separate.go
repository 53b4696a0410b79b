package model

import (
	"encoding/json"
	"time"
)

// SeparateRequest represents a submission of an audio file for separation
type SeparateRequest struct {
	MP3 string `json:"mp3" validate:"required,base64"`
	// Callback is accepted for compatibility and currently ignored.
	Callback json.RawMessage `json:"callback,omitempty"`
}

// SeparateResponse carries the job ID computed for a submission
type SeparateResponse struct {
	Songhash string `json:"songhash"`
}

// TrackParams identifies one artifact in the query routes
type TrackParams struct {
	Songhash string `params:"songhash" validate:"required,len=64,hexadecimal"`
	Track    string `params:"track" validate:"required,oneof=original bass drums vocals other"`
}

// RemoveResponse is returned after an artifact has been deleted
type RemoveResponse struct {
	Status string `json:"status"`
}

// JobStatusResponse reports which artifacts of a job are present in the store.
// A separation may legitimately produce fewer than four stems, so AllStems
// being false does not mean the job is unfinished.
type JobStatusResponse struct {
	Songhash  string          `json:"songhash"`
	Pending   bool            `json:"pending"`
	Artifacts map[string]bool `json:"artifacts"`
	AllStems  bool            `json:"allStems"`
}

// DeadLetter describes a job the worker gave up on
type DeadLetter struct {
	ID       string    `json:"id"`
	JobID    string    `json:"jobId"`
	Stage    JobStage  `json:"stage"`
	Error    string    `json:"error"`
	Worker   string    `json:"worker"`
	FailedAt time.Time `json:"failedAt"`
}
