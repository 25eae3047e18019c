package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type EventType string

const (
	PageView        EventType = "page_view"
	Click           EventType = "click"
	FormAbandonment EventType = "form_abandonment"
	PageExit        EventType = "page_exit"
	ScrollDepth     EventType = "scroll_depth"
	TimeOnPage      EventType = "time_on_page"
	SiteExit        EventType = "site_exit"
)

// EventTypes lists every type the collector accepts.
var EventTypes = []EventType{PageView, Click, FormAbandonment, PageExit, ScrollDepth, TimeOnPage, SiteExit}

func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsExit reports whether events of this type go through the durable exit path.
func (t EventType) IsExit() bool {
	return t == PageExit || t == SiteExit
}

type Event struct {
	Type        EventType      `json:"event_type"`
	PageURL     string         `json:"page_url"`
	ElementID   string         `json:"element_id,omitempty"`
	ElementText string         `json:"element_text,omitempty"`
	UserAgent   string         `json:"user_agent,omitempty"`
	Referrer    string         `json:"referrer,omitempty"`
	SessionID   string         `json:"session_id"`
	UserID      UserID         `json:"user_id,omitzero"` // absent | null | string
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type Batch struct {
	Events []Event `json:"events"`
}

// UserID keeps "absent" and "null" apart: anonymous visitors send an explicit
// null, callers that know nothing about identity send no field at all.
type UserID struct {
	set   bool
	value *string
}

func AnonymousUser() UserID {
	return UserID{set: true}
}

func KnownUser(id string) UserID {
	return UserID{set: true, value: &id}
}

func (u UserID) IsZero() bool { return !u.set }

// IsNull reports an explicit null.
func (u UserID) IsNull() bool { return u.set && u.value == nil }

// Value returns the id and whether one is present.
func (u UserID) Value() (string, bool) {
	if u.value == nil {
		return "", false
	}
	return *u.value, true
}

func (u UserID) String() string {
	switch {
	case !u.set:
		return "<absent>"
	case u.value == nil:
		return "null"
	default:
		return *u.value
	}
}

func (u UserID) MarshalJSON() ([]byte, error) {
	if u.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*u.value)
}

// UnmarshalJSON is only invoked when the field is present, so any call marks
// the id as set.
func (u *UserID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*u = AnonymousUser()
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("user_id must be a string or null: %w", err)
	}
	*u = KnownUser(id)
	return nil
}
