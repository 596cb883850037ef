package domain

import "time"

// PayloadKind is the kind of content carried by an inbound gateway event.
type PayloadKind string

const (
	PayloadText   PayloadKind = "text"
	PayloadAudio  PayloadKind = "audio"
	PayloadButton PayloadKind = "button"
	PayloadList   PayloadKind = "list"
)

// InboundEvent is one message delivered by a messaging gateway.
type InboundEvent struct {
	EventID        string
	Gateway        string // evolution | telegram
	SenderAddress  string
	ConversationID string // gateway-side chat identifier (remote JID, chat id)
	Timestamp      time.Time
	Kind           PayloadKind
	Content        string
	Media          *MediaRef
	FromSelf       bool // echo of a message the bot itself sent
}

// MediaRef points at an audio payload that still has to be fetched.
type MediaRef struct {
	URL            string
	MessageID      string
	ConversationID string
	MimeType       string
	Encrypted      bool
	Seconds        int
}

// ProcessedMarker records that an event reached a terminal state.
// It is created exactly once per EventID and never mutated.
type ProcessedMarker struct {
	EventID     string
	ProcessedAt time.Time
	UserID      string
	TaskID      string
	Intent      string
	Reason      string
}

// Marker reasons.
const (
	ReasonOldMessage          = "old_message"
	ReasonProcessed           = "processed"
	ReasonNotRegistered       = "not_registered"
	ReasonNotLinked           = "not_linked"
	ReasonNotEntitled         = "not_entitled"
	ReasonLinked              = "linked"
	ReasonLinkFailed          = "link_failed"
	ReasonTranscriptionFailed = "transcription_failed"
	ReasonExecutionError      = "execution_error"
	ReasonEmptyMessage        = "empty_message"
	ReasonInternalError       = "internal_error"
)
