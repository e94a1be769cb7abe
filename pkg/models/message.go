package models

// Attachment holds the metadata of a message part; the payload itself stays
// on the server.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int
}

// Message is the parsed form of one fetched mail. UID is the IMAP uid or the
// POP3 sequence number depending on which handler produced it. A Message is
// immutable once returned; callers persist and mutate their own copies.
type Message struct {
	UID         uint32
	Folder      string
	MessageID   string
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	TextBody    string
	HTMLBody    string
	ReceivedAt  int64 // milliseconds since epoch
	Size        int
	IsRead      bool
	IsStarred   bool
	IsDeleted   bool
	IsSpam      bool
	IsDraft     bool
	IsSent      bool
	Attachments []Attachment
}

// AttachmentCount returns the number of attachment parts.
func (m *Message) AttachmentCount() int {
	return len(m.Attachments)
}

// SkippedMessage records one id that could not be fetched or parsed during a
// bulk operation. Skips are surfaced instead of silently logged so callers
// and tests can observe partial failure.
type SkippedMessage struct {
	UID uint32
	Err error
}

// SyncResult is the outcome of one IMAP folder sync. HighestUID covers only
// messages that were fetched successfully, so a failed uid is re-attempted
// by the next incremental sync rather than silently lost.
type SyncResult struct {
	Messages    []*Message
	Skipped     []SkippedMessage
	HighestUID  uint32
	UIDValidity uint32
}

// FetchResult is the best-effort outcome of a bulk POP3 retrieval.
type FetchResult struct {
	Messages []*Message
	Skipped  []SkippedMessage
}
