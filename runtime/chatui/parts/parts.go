// Package parts defines the wire parts exchanged with the chat UI and their
// server-sent-event framing.
//
// Streamed parts (TextStart, TextDelta, TextEnd and Error) only appear in a
// response stream. Text only appears in full messages. Data parts appear in
// both.
package parts

import "encoding/json"

type (
	// Type is the wire discriminator of a part.
	Type string

	// Part is a wire part. The part type uniquely determines the payload
	// shape and MarshalJSON always emits the "type" field.
	Part interface {
		json.Marshaler
		// PartType returns the wire discriminator.
		PartType() Type
	}

	// TextStart opens the text span of an assistant message.
	TextStart struct {
		ID string `json:"id"`
	}

	// TextDelta appends text to the open span of message ID.
	TextDelta struct {
		ID    string `json:"id"`
		Delta string `json:"delta"`
	}

	// TextEnd closes the text span of message ID.
	TextEnd struct {
		ID string `json:"id"`
	}

	// Text is a complete text part of a full message.
	Text struct {
		ID   string `json:"id,omitempty"`
		Text string `json:"text"`
	}

	// DataFile carries an attached file.
	DataFile struct {
		ID   string   `json:"id"`
		Data FileData `json:"data"`
	}

	// DataArtifact carries a code or document artifact. ID is the tool call
	// that produced it.
	DataArtifact struct {
		ID   string   `json:"id"`
		Data Artifact `json:"data"`
	}

	// DataEvent reports the status of a tool call. ID is the tool call
	// identifier.
	DataEvent struct {
		ID   string    `json:"id"`
		Data ChatEvent `json:"data"`
	}

	// DataSources lists the sources of an answer.
	DataSources struct {
		ID   string     `json:"id"`
		Data SourceData `json:"data"`
	}

	// DataSuggestions lists suggested follow-up questions.
	DataSuggestions struct {
		ID   string                 `json:"id"`
		Data SuggestedQuestionsData `json:"data"`
	}

	// Error terminates a response stream.
	Error struct {
		ErrorText string `json:"errorText"` //nolint:tagliatelle
	}

	// Any is a part of a type this package does not model. Raw holds the
	// original JSON object, which is emitted unchanged.
	Any struct {
		Type Type
		ID   string
		Raw  json.RawMessage
	}
)

// Part types.
const (
	TypeTextStart   Type = "text-start"
	TypeTextDelta   Type = "text-delta"
	TypeTextEnd     Type = "text-end"
	TypeText        Type = "text"
	TypeFile        Type = "data-file"
	TypeArtifact    Type = "data-artifact"
	TypeEvent       Type = "data-event"
	TypeSources     Type = "data-sources"
	TypeSuggestions Type = "data-suggested_questions"
	TypeError       Type = "error"
)

func (TextStart) PartType() Type       { return TypeTextStart }
func (TextDelta) PartType() Type       { return TypeTextDelta }
func (TextEnd) PartType() Type         { return TypeTextEnd }
func (Text) PartType() Type            { return TypeText }
func (DataFile) PartType() Type        { return TypeFile }
func (DataArtifact) PartType() Type    { return TypeArtifact }
func (DataEvent) PartType() Type       { return TypeEvent }
func (DataSources) PartType() Type     { return TypeSources }
func (DataSuggestions) PartType() Type { return TypeSuggestions }
func (Error) PartType() Type           { return TypeError }
func (p Any) PartType() Type           { return p.Type }

// MarshalJSON emits {"type":"text-start","id":...}.
func (p TextStart) MarshalJSON() ([]byte, error) {
	type alias TextStart
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{p.PartType(), alias(p)})
}

// MarshalJSON emits {"type":"text-delta","id":...,"delta":...}.
func (p TextDelta) MarshalJSON() ([]byte, error) {
	type alias TextDelta
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{p.PartType(), alias(p)})
}

// MarshalJSON emits {"type":"text-end","id":...}.
func (p TextEnd) MarshalJSON() ([]byte, error) {
	type alias TextEnd
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{p.PartType(), alias(p)})
}

// MarshalJSON emits {"type":"text","id":...,"text":...}.
func (p Text) MarshalJSON() ([]byte, error) {
	type alias Text
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{p.PartType(), alias(p)})
}

// MarshalJSON emits {"type":"data-file","id":...,"data":...}.
func (p DataFile) MarshalJSON() ([]byte, error) {
	type alias DataFile
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{p.PartType(), alias(p)})
}

// MarshalJSON emits {"type":"data-artifact","id":...,"data":...}.
func (p DataArtifact) MarshalJSON() ([]byte, error) {
	type alias DataArtifact
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{p.PartType(), alias(p)})
}

// MarshalJSON emits {"type":"data-event","id":...,"data":...}.
func (p DataEvent) MarshalJSON() ([]byte, error) {
	type alias DataEvent
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{p.PartType(), alias(p)})
}

// MarshalJSON emits {"type":"data-sources","id":...,"data":...}.
func (p DataSources) MarshalJSON() ([]byte, error) {
	type alias DataSources
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{p.PartType(), alias(p)})
}

// MarshalJSON emits {"type":"data-suggested_questions","id":...,"data":...}.
func (p DataSuggestions) MarshalJSON() ([]byte, error) {
	type alias DataSuggestions
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{p.PartType(), alias(p)})
}

// MarshalJSON emits {"type":"error","errorText":...}.
func (p Error) MarshalJSON() ([]byte, error) {
	type alias Error
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{p.PartType(), alias(p)})
}

// MarshalJSON emits Raw, or a minimal {"type","id"} object when Raw is empty.
func (p Any) MarshalJSON() ([]byte, error) {
	if len(p.Raw) > 0 {
		return p.Raw, nil
	}
	return json.Marshal(struct {
		Type Type   `json:"type"`
		ID   string `json:"id,omitempty"`
	}{p.Type, p.ID})
}
