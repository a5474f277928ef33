package transfer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iamgatling/mxxc/internal/channel"
)

// ControlMarker identifies the control message that starts a transfer.
const ControlMarker = "FILE_START"

// FileMetadata describes the file being transferred.
type FileMetadata struct {
	Name string `json:"name"`
	Size int64  `json:"size"`

	// Type is the MIME type. Advisory only.
	Type string `json:"type"`
}

type controlMessage struct {
	Type     string       `json:"type"`
	Metadata FileMetadata `json:"metadata"`
}

func (m FileMetadata) validate() error {
	if m.Name == "" {
		return errors.New("empty file name")
	}
	if m.Size < 0 {
		return fmt.Errorf("negative size %d", m.Size)
	}
	return nil
}

// EncodeControl builds the text control message announcing meta.
func EncodeControl(meta FileMetadata) (string, error) {
	if err := meta.validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(controlMessage{Type: ControlMarker, Metadata: meta})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// IsControl reports whether msg is a control message rather than file data.
func IsControl(msg channel.Message) bool {
	return msg.IsString && bytes.Contains(msg.Data, []byte(ControlMarker))
}

// DecodeControl parses a control message.
func DecodeControl(data []byte) (FileMetadata, error) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return FileMetadata{}, err
	}
	if msg.Type != ControlMarker {
		return FileMetadata{}, fmt.Errorf("unexpected control type %q", msg.Type)
	}
	if err := msg.Metadata.validate(); err != nil {
		return FileMetadata{}, err
	}
	return msg.Metadata, nil
}
