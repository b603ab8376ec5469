package parts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

var (
	framePrefix = []byte("data: ")
	frameSuffix = []byte("\n\n")
)

// Frame returns the server-sent-event frame of p: "data: <json>\n\n".
func Frame(p Part) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s part: %w", p.PartType(), err)
	}
	buf := bytes.NewBuffer(make([]byte, 0, len(body)+len(framePrefix)+len(frameSuffix)))
	buf.Write(framePrefix)
	buf.Write(body)
	buf.Write(frameSuffix)
	return buf.Bytes(), nil
}

// WriteFrame writes the frame of p to w.
func WriteFrame(w io.Writer, p Part) error {
	frame, err := Frame(p)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ParseFrame decodes a single frame produced by Frame.
func ParseFrame(frame []byte) (Part, error) {
	body, ok := bytes.CutPrefix(frame, framePrefix)
	if !ok {
		return nil, fmt.Errorf("frame does not start with %q", framePrefix)
	}
	body, ok = bytes.CutSuffix(body, frameSuffix)
	if !ok {
		return nil, fmt.Errorf("frame does not end with a blank line")
	}
	return Decode(body)
}
