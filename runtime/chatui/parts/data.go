package parts

import (
	"encoding/json"
	"fmt"
	"time"
)

type (
	// Status is the lifecycle state of a tool call shown in the chat UI.
	Status string

	// ArtifactType discriminates artifact payloads.
	ArtifactType string

	// ChatEvent is the payload of a data-event part.
	ChatEvent struct {
		Title  string `json:"title"`
		Status Status `json:"status"`
	}

	// FileData describes a file attached to a message.
	FileData struct {
		Name string `json:"name"`
		URL  string `json:"url"`
		Type string `json:"type"`
		Size int64  `json:"size"`
	}

	// CodeArtifactData is the payload of a code artifact.
	CodeArtifactData struct {
		FileName string `json:"file_name"`
		Code     string `json:"code"`
		Language string `json:"language"`
	}

	// DocumentArtifactData is the payload of a document artifact.
	DocumentArtifactData struct {
		Title   string              `json:"title"`
		Content string              `json:"content"`
		Type    string              `json:"type"`
		Sources []map[string]string `json:"sources,omitempty"`
	}

	// Artifact wraps a code or document payload. Data holds a
	// CodeArtifactData when Type is ArtifactCode and a DocumentArtifactData
	// when Type is ArtifactDocument. CreatedAt is in Unix milliseconds.
	Artifact struct {
		Type      ArtifactType `json:"type"`
		Data      any          `json:"data"`
		CreatedAt int64        `json:"created_at"`
	}

	// SourceData lists the sources backing an answer. Records are opaque.
	SourceData struct {
		Sources []map[string]any `json:"sources"`
	}

	// SuggestedQuestionsData lists follow-up questions.
	SuggestedQuestionsData struct {
		Questions []string `json:"questions"`
	}
)

// Tool call statuses.
const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Artifact types.
const (
	ArtifactCode     ArtifactType = "code"
	ArtifactDocument ArtifactType = "document"
)

// Valid reports whether s is one of the three tool call statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusError:
		return true
	}
	return false
}

// NewCodeArtifact returns a code artifact created at t.
func NewCodeArtifact(data CodeArtifactData, t time.Time) Artifact {
	return Artifact{Type: ArtifactCode, Data: data, CreatedAt: t.UnixMilli()}
}

// NewDocumentArtifact returns a document artifact created at t.
func NewDocumentArtifact(data DocumentArtifactData, t time.Time) Artifact {
	return Artifact{Type: ArtifactDocument, Data: data, CreatedAt: t.UnixMilli()}
}

// UnmarshalJSON decodes the artifact payload into the concrete type selected
// by the "type" discriminator.
func (a *Artifact) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type      ArtifactType    `json:"type"`
		Data      json.RawMessage `json:"data"`
		CreatedAt int64           `json:"created_at"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	a.Type = raw.Type
	a.CreatedAt = raw.CreatedAt
	switch raw.Type {
	case ArtifactCode:
		var d CodeArtifactData
		if err := json.Unmarshal(raw.Data, &d); err != nil {
			return fmt.Errorf("decode code artifact: %w", err)
		}
		a.Data = d
	case ArtifactDocument:
		var d DocumentArtifactData
		if err := json.Unmarshal(raw.Data, &d); err != nil {
			return fmt.Errorf("decode document artifact: %w", err)
		}
		a.Data = d
	default:
		return fmt.Errorf("unknown artifact type %q", raw.Type)
	}
	return nil
}
