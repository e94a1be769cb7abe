package models

// FolderType classifies a mailbox folder by its role.
type FolderType string

const (
	FolderInbox   FolderType = "inbox"
	FolderSent    FolderType = "sent"
	FolderDrafts  FolderType = "drafts"
	FolderTrash   FolderType = "trash"
	FolderSpam    FolderType = "spam"
	FolderArchive FolderType = "archive"
	FolderCustom  FolderType = "custom"
)

// Folder is a read-only view of a server-side mailbox, rebuilt on every
// listing. Nothing in this layer persists it.
type Folder struct {
	Name        string
	DisplayName string
	Type        FolderType
	Flags       []string
	Delimiter   string
	Selectable  bool
}
