package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Role identifies the author of a turn.
type Role string

const (
	// RoleUser is a question asked by the user.
	RoleUser Role = "user"
	// RoleAssistant is a generated answer.
	RoleAssistant Role = "assistant"
)

// Turn is one message of a conversation.
type Turn struct {
	// Role is user or assistant.
	Role Role `json:"role" yaml:"role"`

	// Content is the message text.
	Content string `json:"content" yaml:"content"`

	// Timestamp is when the turn was recorded.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Transcript is the exported form of a conversation.
type Transcript struct {
	// Model is the chat model that produced the assistant turns.
	Model string `json:"model" yaml:"model"`

	// ExportedAt is when the transcript was written.
	ExportedAt time.Time `json:"exported_at" yaml:"exported_at"`

	// Turns are the conversation turns, oldest first.
	Turns []Turn `json:"turns" yaml:"turns"`
}

// Format is a transcript encoding.
type Format string

const (
	// FormatJSON is indented JSON.
	FormatJSON Format = "json"
	// FormatYAML is YAML.
	FormatYAML Format = "yaml"
)

// FormatForPath picks the transcript format from a file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("conversation: unsupported transcript extension %q (want .json, .yaml or .yml)", filepath.Ext(path))
	}
}

// encodeTranscript writes t to w in format.
func encodeTranscript(w io.Writer, t Transcript, format Format) error {
	if t.Turns == nil {
		t.Turns = []Turn{}
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(t); err != nil {
			return fmt.Errorf("conversation: encode json transcript: %w", err)
		}
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(t); err != nil {
			return fmt.Errorf("conversation: encode yaml transcript: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("conversation: encode yaml transcript: %w", err)
		}
	default:
		return fmt.Errorf("conversation: unknown transcript format %q", format)
	}
	return nil
}

// LoadTranscript reads a transcript written by Export.
func LoadTranscript(r io.Reader, format Format) (Transcript, error) {
	var t Transcript
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&t); err != nil {
			return Transcript{}, fmt.Errorf("conversation: decode json transcript: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&t); err != nil && !errors.Is(err, io.EOF) {
			return Transcript{}, fmt.Errorf("conversation: decode yaml transcript: %w", err)
		}
	default:
		return Transcript{}, fmt.Errorf("conversation: unknown transcript format %q", format)
	}
	for i, turn := range t.Turns {
		if turn.Role != RoleUser && turn.Role != RoleAssistant {
			return Transcript{}, fmt.Errorf("conversation: transcript turn %d: unknown role %q", i, turn.Role)
		}
	}
	return t, nil
}

// LoadTranscriptFile reads a transcript file, choosing the format by extension.
func LoadTranscriptFile(path string) (Transcript, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return Transcript{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Transcript{}, fmt.Errorf("conversation: open transcript: %w", err)
	}
	defer f.Close()
	return LoadTranscript(f, format)
}
