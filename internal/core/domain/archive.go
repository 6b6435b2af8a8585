package domain

import (
	"encoding/json"
	"time"
)

// MetadataEnvelope is stored alongside every archived file.
type MetadataEnvelope struct {
	OriginalName                string   `json:"originalName"`
	Category                    string   `json:"category"`
	Source                      string   `json:"source"`
	UploadTimestamp             string   `json:"uploadTimestamp"`
	ClassificationConfidence    *float64 `json:"classificationConfidence,omitempty"`
	ClassificationJustification string   `json:"classificationJustification,omitempty"`
	UserTags                    []string `json:"userTags"`
	UserComments                string   `json:"userComments,omitempty"`
	OriginalFileURL             string   `json:"originalFileUrl,omitempty"`
}

func NewMetadataEnvelope(entry QueueEntry, scratch Scratch, source string, now time.Time) MetadataEnvelope {
	env := MetadataEnvelope{
		OriginalName:    entry.OriginalName,
		Category:        scratch.ConfirmedCategory,
		Source:          source,
		UploadTimestamp: now.UTC().Format(time.RFC3339),
		UserTags:        append([]string{}, scratch.Tags...),
		UserComments:    scratch.Comments,
		OriginalFileURL: entry.SourceReference,
	}
	if scratch.Classification != nil {
		confidence := scratch.Classification.Confidence
		env.ClassificationConfidence = &confidence
		env.ClassificationJustification = scratch.Classification.Justification
	}
	return env
}

func (e MetadataEnvelope) JSON() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ArchiveFile describes a file handed to the archive storage.
type ArchiveFile struct {
	Name     string
	MimeType string
	Metadata MetadataEnvelope
}
