package domain

import "time"

type State string

const (
	StateIdle                               State = "IDLE"
	StateAwaitingFileUpload                 State = "AWAITING_FILE_UPLOAD"
	StateMediaReceived                      State = "MEDIA_RECEIVED"
	StateAwaitingClassificationConfirmation State = "AWAITING_CLASSIFICATION_CONFIRMATION"
	StateAwaitingCategoryChoice             State = "AWAITING_CATEGORY_CHOICE"
	StateAwaitingRenameConfirmation         State = "AWAITING_RENAME_CONFIRMATION"
	StateAwaitingCustomFileName             State = "AWAITING_CUSTOM_FILE_NAME"
	StateAwaitingTags                       State = "AWAITING_TAGS"
	StateAwaitingComments                   State = "AWAITING_COMMENTS"
	StateUploadingFile                      State = "UPLOADING_FILE"
)

// NoActiveEntry is the ActiveIndex of a session without an active queue entry.
const NoActiveEntry = -1

// HasActiveEntry reports whether a session in this state must have exactly one active entry.
func (s State) HasActiveEntry() bool {
	switch s {
	case StateIdle, StateAwaitingFileUpload, "":
		return false
	default:
		return true
	}
}

// Automatic states advance without waiting for user input.
func (s State) Automatic() bool {
	return s == StateMediaReceived || s == StateUploadingFile
}

type ClassificationResult struct {
	Category      string  `json:"category"`
	Confidence    float64 `json:"confidence"`
	Justification string  `json:"justification"`
}

type QueueEntry struct {
	ID              string    `json:"id"`
	OriginalName    string    `json:"original_name"`
	MimeType        string    `json:"mime_type"`
	ContentKey      string    `json:"content_key"`
	Size            int64     `json:"size"`
	SourceReference string    `json:"source_reference,omitempty"`
	ReceivedAt      time.Time `json:"received_at"`
}

// Scratch holds the transient fields of the active entry only.
type Scratch struct {
	Classification    *ClassificationResult `json:"classification,omitempty"`
	ConfirmedCategory string                `json:"confirmed_category,omitempty"`
	CustomFileName    string                `json:"custom_file_name,omitempty"`
	Tags              []string              `json:"tags,omitempty"`
	Comments          string                `json:"comments,omitempty"`
	CommentRequested  bool                  `json:"comment_requested,omitempty"`
}

func (s Scratch) IsZero() bool {
	return s.Classification == nil &&
		s.ConfirmedCategory == "" &&
		s.CustomFileName == "" &&
		s.Tags == nil &&
		s.Comments == "" &&
		!s.CommentRequested
}

func (s Scratch) Clone() Scratch {
	out := s
	if s.Classification != nil {
		cls := *s.Classification
		out.Classification = &cls
	}
	if s.Tags != nil {
		out.Tags = append([]string{}, s.Tags...)
	}
	return out
}

type Session struct {
	UserID      string       `json:"user_id"`
	State       State        `json:"state"`
	Queue       []QueueEntry `json:"queue"`
	ActiveIndex int          `json:"active_index"`
	Scratch     Scratch      `json:"scratch"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func NewSession(userID string, now time.Time) Session {
	return Session{
		UserID:      userID,
		State:       StateIdle,
		Queue:       []QueueEntry{},
		ActiveIndex: NoActiveEntry,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ActiveEntry returns the entry currently being processed.
func (s Session) ActiveEntry() (QueueEntry, bool) {
	if s.ActiveIndex < 0 || s.ActiveIndex >= len(s.Queue) {
		return QueueEntry{}, false
	}
	return s.Queue[s.ActiveIndex], true
}

// Pending counts entries queued behind the active one.
func (s Session) Pending() int {
	if s.ActiveIndex < 0 {
		return len(s.Queue)
	}
	n := len(s.Queue) - s.ActiveIndex - 1
	if n < 0 {
		return 0
	}
	return n
}

func (s Session) Clone() Session {
	out := s
	out.Queue = append([]QueueEntry{}, s.Queue...)
	out.Scratch = s.Scratch.Clone()
	return out
}

// SessionPatch is a shallow partial update; nil fields are left untouched.
type SessionPatch struct {
	State       *State
	Queue       *[]QueueEntry
	ActiveIndex *int
	Scratch     *Scratch
}

func (p SessionPatch) Empty() bool {
	return p.State == nil && p.Queue == nil && p.ActiveIndex == nil && p.Scratch == nil
}

// Apply merges the patch into the session. Slices are copied so the caller keeps ownership.
func (s *Session) Apply(p SessionPatch) {
	if p.State != nil {
		s.State = *p.State
	}
	if p.Queue != nil {
		s.Queue = append([]QueueEntry{}, (*p.Queue)...)
	}
	if p.ActiveIndex != nil {
		s.ActiveIndex = *p.ActiveIndex
	}
	if p.Scratch != nil {
		s.Scratch = p.Scratch.Clone()
	}
}
