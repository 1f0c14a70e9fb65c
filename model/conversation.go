package model

import "time"

// Conversation groups an ordered sequence of messages under one model
// configuration. Message order is insertion order; uniqueness is by ID.
type Conversation struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Model     ModelDescriptor `json:"model"`
	Tags      []string        `json:"tags,omitempty"`
	Pinned    bool            `json:"pinned"`
	Archived  bool            `json:"archived"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// HasTag reports whether the conversation carries the given tag.
func (c *Conversation) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
