// Package toolmsg resolves the human-readable titles shown in the chat UI for
// tool call lifecycle events.
//
// Titles default to "Calling `name`", "Called `name` successfully" and
// "Error while calling `name`". Messages overrides them per tool with either a
// single string used for every status or a per-status map:
//
//	msgs := toolmsg.Messages{
//		"search": "Searching the knowledge base",
//		"deploy": map[parts.Status]string{parts.StatusPending: "Deploying"},
//	}
package toolmsg

import (
	"errors"
	"fmt"

	"goa.design/chatui/runtime/chatui/parts"
)

// Messages maps tool names to title overrides. Supported values are string,
// map[parts.Status]string and map[string]string (as decoded from YAML or
// JSON).
type Messages map[string]any

var (
	// ErrUnsupportedOverride indicates an override value of an unsupported
	// type.
	ErrUnsupportedOverride = errors.New("toolmsg: unsupported override")
	// ErrMissingStatus indicates a per-status override without an entry for
	// the requested status.
	ErrMissingStatus = errors.New("toolmsg: override has no title for status")
	// ErrUnknownStatus indicates a status other than pending, success or
	// error.
	ErrUnknownStatus = errors.New("toolmsg: unknown status")
)

// Default returns the default title of tool for status.
func Default(tool string, status parts.Status) (string, error) {
	switch status {
	case parts.StatusPending:
		return "Calling `" + tool + "`", nil
	case parts.StatusSuccess:
		return "Called `" + tool + "` successfully", nil
	case parts.StatusError:
		return "Error while calling `" + tool + "`", nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownStatus, status)
	}
}

// Resolve returns the title of tool for status. msgs may be nil.
func Resolve(tool string, status parts.Status, msgs Messages) (string, error) {
	override, ok := msgs[tool]
	if !ok {
		return Default(tool, status)
	}
	if !status.Valid() {
		return "", fmt.Errorf("%w %q", ErrUnknownStatus, status)
	}
	switch v := override.(type) {
	case string:
		return v, nil
	case map[parts.Status]string:
		if title, ok := v[status]; ok {
			return title, nil
		}
	case map[string]string:
		if title, ok := v[string(status)]; ok {
			return title, nil
		}
	default:
		return "", fmt.Errorf("%w for tool %q: %T", ErrUnsupportedOverride, tool, override)
	}
	return "", fmt.Errorf("%w %q (tool %q)", ErrMissingStatus, status, tool)
}

// Validate checks that every override has a supported shape and that
// per-status maps only use known statuses.
func (m Messages) Validate() error {
	for tool, override := range m {
		switch v := override.(type) {
		case string:
		case map[parts.Status]string:
			for s := range v {
				if !s.Valid() {
					return fmt.Errorf("%w %q (tool %q)", ErrUnknownStatus, s, tool)
				}
			}
		case map[string]string:
			for s := range v {
				if !parts.Status(s).Valid() {
					return fmt.Errorf("%w %q (tool %q)", ErrUnknownStatus, s, tool)
				}
			}
		default:
			return fmt.Errorf("%w for tool %q: %T", ErrUnsupportedOverride, tool, override)
		}
	}
	return nil
}

// Resolver returns a function resolving titles against m.
func (m Messages) Resolver() func(tool string, status parts.Status) (string, error) {
	return func(tool string, status parts.Status) (string, error) {
		return Resolve(tool, status, m)
	}
}
