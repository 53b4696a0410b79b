package model

import (
	"encoding/json"
	"fmt"
)

// Artifact names
const (
	ArtifactOriginal = "original"
	ArtifactBass     = "bass"
	ArtifactDrums    = "drums"
	ArtifactVocals   = "vocals"
	ArtifactOther    = "other"
)

// Stems lists the outputs a separation run may produce, in publish order.
var Stems = []string{ArtifactBass, ArtifactDrums, ArtifactVocals, ArtifactOther}

// ArtifactNames lists every artifact a job namespace can hold.
var ArtifactNames = []string{ArtifactOriginal, ArtifactBass, ArtifactDrums, ArtifactVocals, ArtifactOther}

// ContentTypeMP3 is the content type of every stored artifact
const ContentTypeMP3 = "audio/mpeg"

// JobDescriptor is the payload carried through the job queue
type JobDescriptor struct {
	JobID string `json:"jobId"`
}

// Encode serializes the descriptor for the queue
func (d JobDescriptor) Encode() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal descriptor: %w", err)
	}
	return string(data), nil
}

// DecodeDescriptor parses a queue payload. A payload without a job ID is rejected.
func DecodeDescriptor(raw string) (JobDescriptor, error) {
	var d JobDescriptor
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return d, fmt.Errorf("%w: malformed descriptor: %w", ErrValidation, err)
	}
	if d.JobID == "" {
		return d, fmt.Errorf("%w: descriptor has no jobId", ErrValidation)
	}
	return d, nil
}

// Artifact is a named binary blob under a job's namespace
type Artifact struct {
	JobID       string
	Name        string
	ContentType string
	Data        []byte
}

// IsArtifactName reports whether name is one of the known artifact names
func IsArtifactName(name string) bool {
	for _, n := range ArtifactNames {
		if n == name {
			return true
		}
	}
	return false
}
