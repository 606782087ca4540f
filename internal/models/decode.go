package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// ErrSchemaViolation indicates a stored document does not match its expected shape.
// Use errors.Is() to check; the concrete error is *SchemaError.
var ErrSchemaViolation = errors.New("schema violation")

// SchemaError describes which document failed validation and why.
type SchemaError struct {
	Collection string
	ID         string
	Reason     string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema violation in %s/%s: %s", e.Collection, e.ID, e.Reason)
}

func (e *SchemaError) Unwrap() error { return ErrSchemaViolation }

func schemaErr(collection, id, format string, args ...any) *SchemaError {
	return &SchemaError{Collection: collection, ID: id, Reason: fmt.Sprintf(format, args...)}
}

func decodeInto(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// DecodeChatSessionSet extracts the `chats` field of a user document.
// A nil document or a missing field yields an empty set. Sessions without a
// messages field get an empty list.
func DecodeChatSessionSet(userID string, data map[string]any) (ChatSessionSet, error) {
	raw, ok := data["chats"]
	if !ok || raw == nil {
		return ChatSessionSet{}, nil
	}
	if _, isList := raw.([]any); !isList {
		if _, isMaps := raw.([]map[string]any); !isMaps {
			return nil, schemaErr(CollectionChats, userID, "chats is %T, expected list", raw)
		}
	}

	var set ChatSessionSet
	if err := decodeInto(raw, &set); err != nil {
		return nil, schemaErr(CollectionChats, userID, "decode chats: %v", err)
	}
	if set == nil {
		set = ChatSessionSet{}
	}
	for i := range set {
		if set[i].Messages == nil {
			set[i].Messages = []Message{}
		}
	}
	if err := set.Validate(); err != nil {
		return nil, schemaErr(CollectionChats, userID, "%v", err)
	}
	return set, nil
}

// UserProfile is the non-chat part of a user document, written at sign-up.
type UserProfile struct {
	Email     string `json:"email" mapstructure:"email"`
	FirstName string `json:"firstName" mapstructure:"firstName"`
	LastName  string `json:"lastName" mapstructure:"lastName"`
	Address   string `json:"address" mapstructure:"address"`
	ContactNo string `json:"contactNo" mapstructure:"contactNo"`
	Role      string `json:"role" mapstructure:"role"`
}

// DisplayName joins first and last name.
func (p UserProfile) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// DecodeUserProfile reads the profile fields of a user document, ignoring chats.
func DecodeUserProfile(userID string, data map[string]any) (UserProfile, error) {
	fields := make(map[string]any, len(data))
	for k, v := range data {
		if k == "chats" {
			continue
		}
		fields[k] = v
	}
	var p UserProfile
	if err := decodeInto(fields, &p); err != nil {
		return UserProfile{}, schemaErr(CollectionChats, userID, "decode profile: %v", err)
	}
	p.Email = strings.TrimSpace(p.Email)
	return p, nil
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether s looks like a deliverable address.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// Accepted timestamp layouts. Layouts without a zone are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses an ISO-8601 timestamp as written by the portal.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// FormatTimestamp renders t in the layout written back to the store.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
