package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ExportFormat selects a serialization for conversation export.
type ExportFormat string

const (
	// FormatJSON is full fidelity: every field of the conversation and
	// its messages.
	FormatJSON ExportFormat = "json"

	// FormatMarkdown renders role-prefixed paragraphs, no metadata.
	FormatMarkdown ExportFormat = "markdown"

	// FormatText renders message content only, no role labels.
	FormatText ExportFormat = "text"
)

// Export serializes a conversation in the requested format.
func (s *Store) Export(conversationID string, format ExportFormat) ([]byte, error) {
	conv, ok := s.Conversation(conversationID)
	if !ok {
		return nil, fmt.Errorf("conversation %s not found", conversationID)
	}
	messages := s.Messages(conversationID)

	switch format {
	case FormatJSON:
		snapshot := ConversationSnapshot{Conversation: conv, Messages: messages}
		data, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal conversation: %w", err)
		}
		return data, nil

	case FormatMarkdown:
		var b strings.Builder
		fmt.Fprintf(&b, "# %s\n", conv.Title)
		for _, msg := range messages {
			fmt.Fprintf(&b, "\n**%s:** %s\n", capitalize(string(msg.Role)), msg.Content)
		}
		return []byte(b.String()), nil

	case FormatText:
		var b strings.Builder
		for i, msg := range messages {
			if i > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(msg.Content)
		}
		return []byte(b.String()), nil

	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// ExportToFile writes an export to path, creating parent directories.
// Exports contain conversation history, so files are user-only.
func (s *Store) ExportToFile(conversationID string, format ExportFormat, path string) error {
	data, err := s.Export(conversationID, format)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// SanitizeFilename removes or replaces characters that are invalid in filenames.
func SanitizeFilename(name string) string {
	for _, ch := range []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", " ", "\n", "\r"} {
		name = strings.ReplaceAll(name, ch, "-")
	}
	name = strings.Trim(name, "-.")
	if len(name) > 50 {
		name = name[:50]
	}
	if name == "" {
		name = "conversation"
	}
	return name
}

// DefaultExportPath generates an export path under the user's Downloads
// directory from the conversation title and current time.
func DefaultExportPath(title string, format ExportFormat) string {
	homeDir := os.Getenv("HOME")
	if homeDir == "" {
		homeDir = os.Getenv("USERPROFILE") // Windows fallback
	}

	ext := "txt"
	switch format {
	case FormatJSON:
		ext = "json"
	case FormatMarkdown:
		ext = "md"
	}

	filename := fmt.Sprintf("chatcore-%s-%s.%s",
		SanitizeFilename(title), time.Now().Format("20060102-150405"), ext)
	return filepath.Join(homeDir, "Downloads", filename)
}

// TitleFromFirstMessage derives a conversation title from the first user
// message, falling back to a timestamp.
func TitleFromFirstMessage(firstMessage string) string {
	name := firstMessage
	if len(name) > 30 {
		name = name[:30] + "..."
	}
	name = strings.ReplaceAll(name, "\n", " ")
	name = strings.ReplaceAll(name, "\r", " ")
	name = strings.TrimSpace(name)

	if name == "" {
		return fmt.Sprintf("Conversation %s", time.Now().Format("Jan 2, 3:04 PM"))
	}
	return name
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
