// Package models defines the persisted documents of the support portal and
// their validated decoding from loosely typed store payloads.
package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Collection names in the document store.
const (
	CollectionChats   = "chat_saves"
	CollectionTickets = "tickets"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single chat turn.
type Message struct {
	Text string `json:"text" yaml:"text" mapstructure:"text"`
	Role Role   `json:"role" yaml:"role" mapstructure:"role"`
}

// ChatSession is one conversation thread owned by a user.
type ChatSession struct {
	ID       string    `json:"id" yaml:"id" mapstructure:"id"`
	Title    string    `json:"title" yaml:"title" mapstructure:"title"`
	Messages []Message `json:"messages" yaml:"messages" mapstructure:"messages"`
}

// ChatSessionSet is the ordered list of sessions persisted under a user's document.
type ChatSessionSet []ChatSession

// DefaultSessionTitle is given to sessions created explicitly by the user.
const DefaultSessionTitle = "New Chat"

// UntitledSessionTitle is used when a synthesized title would be empty.
const UntitledSessionTitle = "Untitled Chat"

// maxTitleRunes bounds titles synthesized from the first user message.
const maxTitleRunes = 20

// TitleFromMessage derives a session title from the first user message.
func TitleFromMessage(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return UntitledSessionTitle
	}
	if utf8.RuneCountInString(text) <= maxTitleRunes {
		return text
	}
	return strings.TrimSpace(string([]rune(text)[:maxTitleRunes]))
}

// Find returns the index of the session with the given id, or -1.
func (s ChatSessionSet) Find(id string) int {
	for i := range s {
		if s[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can mutate without aliasing the original.
func (s ChatSessionSet) Clone() ChatSessionSet {
	out := make(ChatSessionSet, len(s))
	for i, sess := range s {
		msgs := make([]Message, len(sess.Messages))
		copy(msgs, sess.Messages)
		out[i] = ChatSession{ID: sess.ID, Title: sess.Title, Messages: msgs}
	}
	return out
}

// Validate checks the set-level invariants: unique ids, non-nil messages and known roles.
func (s ChatSessionSet) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for i, sess := range s {
		if sess.ID == "" {
			return fmt.Errorf("chats[%d]: empty id", i)
		}
		if _, dup := seen[sess.ID]; dup {
			return fmt.Errorf("chats[%d]: duplicate id %q", i, sess.ID)
		}
		seen[sess.ID] = struct{}{}
		if sess.Messages == nil {
			return fmt.Errorf("chats[%d]: messages is null", i)
		}
		for j, m := range sess.Messages {
			if !m.Role.Valid() {
				return fmt.Errorf("chats[%d].messages[%d]: unknown role %q", i, j, m.Role)
			}
		}
	}
	return nil
}

// Encode converts the set into the persisted `chats` array layout.
func (s ChatSessionSet) Encode() []any {
	out := make([]any, 0, len(s))
	for _, sess := range s {
		msgs := make([]any, 0, len(sess.Messages))
		for _, m := range sess.Messages {
			msgs = append(msgs, map[string]any{"text": m.Text, "role": string(m.Role)})
		}
		out = append(out, map[string]any{
			"id":       sess.ID,
			"title":    sess.Title,
			"messages": msgs,
		})
	}
	return out
}
