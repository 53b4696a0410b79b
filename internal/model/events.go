package model

import "time"

// JobStage names a coordinator state
type JobStage string

const (
	StageFetching   JobStage = "fetching"
	StageSeparating JobStage = "separating"
	StagePublishing JobStage = "publishing"
	StagePublished  JobStage = "published"
	StageCompleted  JobStage = "completed"
	StageFailed     JobStage = "failed"
)

// JobEvent is published by coordinators as a job moves through its stages
type JobEvent struct {
	JobID     string    `json:"jobId"`
	Stage     JobStage  `json:"stage"`
	Stem      string    `json:"stem,omitempty"`
	Error     string    `json:"error,omitempty"`
	Worker    string    `json:"worker,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WSMessageType tags websocket frames
type WSMessageType string

const (
	WSMessageTypeEvent WSMessageType = "event"
	WSMessageTypePing  WSMessageType = "ping"
	WSMessageTypePong  WSMessageType = "pong"
)

// WSMessage is a websocket frame exchanged with job subscribers
type WSMessage struct {
	Type  WSMessageType `json:"type"`
	Event *JobEvent     `json:"event,omitempty"`
}
