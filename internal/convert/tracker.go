// Package convert tracks per-message link conversions and runs them.
//
// A message (one outgoing email, one CLI invocation) owns an ordered list of
// ConversionState entries, one per local file. Entries move
// Pending -> InProgress -> Success|Failed; only a caller-driven retry moves a
// Failed entry back to InProgress.
package convert

import (
	"fmt"
	"slices"
	"sync"
)

// Status is the lifecycle state of one conversion.
type Status int

const (
	Pending Status = iota
	InProgress
	Success
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case InProgress:
		return "in_progress"
	case Success:
		return "success"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name written by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	for _, st := range []Status{Pending, InProgress, Success, Failed} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}

	return fmt.Errorf("convert: unknown status %q", b)
}

// Terminal reports whether s is Success or Failed.
func (s Status) Terminal() bool {
	return s == Success || s == Failed
}

// ConversionState is one file's conversion within a message. LocalPath is
// the key within the message.
type ConversionState struct {
	LocalPath  string `json:"local_path"`
	SourceFile string `json:"source_file"` // Dropbox path
	FileName   string `json:"file_name"`
	Size       int64  `json:"size"`
	Status     Status `json:"status"`
	URL        string `json:"url,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Tracker is a registry of conversions keyed by message ID. One mutex guards
// the whole registry. Missing keys are never an error.
type Tracker struct {
	mu       sync.Mutex
	messages map[string][]ConversionState
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{messages: make(map[string][]ConversionState)}
}

// Add appends state to the message's list.
func (t *Tracker) Add(msg string, state ConversionState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages[msg] = append(t.messages[msg], state)
}

// Get returns a copy of the message's entries in insertion order. The
// boolean is false when the message has none.
func (t *Tracker) Get(msg string) ([]ConversionState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	list, ok := t.messages[msg]
	if !ok {
		return nil, false
	}

	return slices.Clone(list), true
}

// Failed returns the message's Failed entries.
func (t *Tracker) Failed(msg string) []ConversionState {
	t.mu.Lock()
	defer t.mu.Unlock()

	var failed []ConversionState

	for _, s := range t.messages[msg] {
		if s.Status == Failed {
			failed = append(failed, s)
		}
	}

	return failed
}

// Update sets status, URL, and error on the first entry for localPath.
// Returns false if there is no such entry.
func (t *Tracker) Update(msg, localPath string, status Status, url, errMsg string) bool {
	return t.modify(msg, localPath, func(s *ConversionState) {
		s.Status = status
		s.URL = url
		s.Error = errMsg
	})
}

// Remove deletes the first entry for localPath, and the message itself once
// its list is empty. Returns false if there is no such entry.
func (t *Tracker) Remove(msg, localPath string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.messages[msg]

	i := slices.IndexFunc(list, func(s ConversionState) bool { return s.LocalPath == localPath })
	if i < 0 {
		return false
	}

	list = slices.Delete(list, i, i+1)
	if len(list) == 0 {
		delete(t.messages, msg)
		return true
	}

	t.messages[msg] = list

	return true
}

// Clear drops every entry for msg. Clearing an unknown message is a no-op.
func (t *Tracker) Clear(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.messages, msg)
}

// HasFailed reports whether any entry for msg is Failed.
func (t *Tracker) HasFailed(msg string) bool {
	return t.any(msg, func(s Status) bool { return s == Failed })
}

// HasPending reports whether any entry for msg is Pending or InProgress.
func (t *Tracker) HasPending(msg string) bool {
	return t.any(msg, func(s Status) bool { return s == Pending || s == InProgress })
}

// Messages returns the tracked message IDs, sorted.
func (t *Tracker) Messages() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.messages))
	for id := range t.messages {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

func (t *Tracker) any(msg string, match func(Status) bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.messages[msg] {
		if match(s.Status) {
			return true
		}
	}

	return false
}

// modify applies fn to the first entry for localPath under the lock.
func (t *Tracker) modify(msg, localPath string, fn func(*ConversionState)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.messages[msg]
	for i := range list {
		if list[i].LocalPath == localPath {
			fn(&list[i])
			return true
		}
	}

	return false
}
