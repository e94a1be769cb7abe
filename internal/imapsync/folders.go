package imapsync

import (
	"strings"

	"github.com/emersion/go-imap"

	"github.com/atolye/mailwire/pkg/models"
)

func folderFromInfo(info *imap.MailboxInfo) models.Folder {
	return models.Folder{
		Name:        info.Name,
		DisplayName: displayName(info.Name, info.Delimiter),
		Type:        inferFolderType(info.Name, info.Attributes),
		Flags:       info.Attributes,
		Delimiter:   info.Delimiter,
		Selectable:  isSelectable(info.Name, info.Attributes),
	}
}

// inferFolderType prefers RFC 6154 special-use attributes and falls back
// to case-insensitive name matching for servers that do not advertise
// them.
func inferFolderType(name string, attrs []string) models.FolderType {
	for _, attr := range attrs {
		switch attr {
		case imap.SentAttr:
			return models.FolderSent
		case imap.DraftsAttr:
			return models.FolderDrafts
		case imap.TrashAttr:
			return models.FolderTrash
		case imap.JunkAttr:
			return models.FolderSpam
		case imap.AllAttr, imap.ArchiveAttr:
			return models.FolderArchive
		}
	}

	lower := strings.ToLower(name)
	switch {
	case lower == "inbox" || strings.Contains(lower, "inbox"):
		return models.FolderInbox
	case strings.Contains(lower, "sent"):
		return models.FolderSent
	case strings.Contains(lower, "draft"):
		return models.FolderDrafts
	case strings.Contains(lower, "trash") || strings.Contains(lower, "deleted"):
		return models.FolderTrash
	case strings.Contains(lower, "spam") || strings.Contains(lower, "junk"):
		return models.FolderSpam
	case strings.Contains(lower, "archive") || strings.Contains(lower, "all"):
		return models.FolderArchive
	}
	return models.FolderCustom
}

func isSelectable(name string, attrs []string) bool {
	for _, attr := range attrs {
		if attr == imap.NoSelectAttr {
			return false
		}
	}
	// The bare [Gmail] namespace is a container, not a mailbox.
	return name != "[Gmail]"
}

func displayName(name, delimiter string) string {
	if rest, ok := strings.CutPrefix(name, "[Gmail]/"); ok {
		return rest
	}
	if delimiter != "" {
		parts := strings.Split(name, delimiter)
		return parts[len(parts)-1]
	}
	return name
}
