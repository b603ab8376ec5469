package parts

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Decode decodes a JSON part. Parts with an unknown type decode to Any,
// keeping the raw JSON, and so do data parts whose payload does not match the
// known shape. Only invalid JSON, a missing type or a malformed text or error
// part fail.
func Decode(raw []byte) (Part, error) {
	var head struct {
		Type Type   `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode part: %w", err)
	}
	if head.Type == "" {
		return nil, errors.New("decode part: missing type")
	}
	switch head.Type {
	case TypeTextStart:
		return decodeAs[TextStart](raw)
	case TypeTextDelta:
		return decodeAs[TextDelta](raw)
	case TypeTextEnd:
		return decodeAs[TextEnd](raw)
	case TypeText:
		return decodeAs[Text](raw)
	case TypeFile:
		return decodeData[DataFile](raw, head.ID)
	case TypeArtifact:
		return decodeData[DataArtifact](raw, head.ID)
	case TypeEvent:
		return decodeData[DataEvent](raw, head.ID)
	case TypeSources:
		return decodeData[DataSources](raw, head.ID)
	case TypeSuggestions:
		return decodeData[DataSuggestions](raw, head.ID)
	case TypeError:
		return decodeAs[Error](raw)
	default:
		return opaque(head.Type, head.ID, raw), nil
	}
}

// decodeData decodes a data part, falling back to Any when the payload does
// not fit T.
func decodeData[T Part](raw []byte, id string) (Part, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return opaque(p.PartType(), id, raw), nil
	}
	return p, nil
}

func opaque(t Type, id string, raw []byte) Any {
	return Any{Type: t, ID: id, Raw: append(json.RawMessage(nil), raw...)}
}

func decodeAs[T Part](raw []byte) (Part, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode %s part: %w", p.PartType(), err)
	}
	return p, nil
}
