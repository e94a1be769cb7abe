package imapsync

import (
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"

	"github.com/atolye/mailwire/pkg/models"
)

func TestInferFolderType(t *testing.T) {
	tests := []struct {
		name  string
		attrs []string
		want  models.FolderType
	}{
		{"INBOX", nil, models.FolderInbox},
		{"Sent", nil, models.FolderSent},
		{"[Gmail]/Sent Mail", nil, models.FolderSent},
		{"Drafts", nil, models.FolderDrafts},
		{"Trash", nil, models.FolderTrash},
		{"Deleted Items", nil, models.FolderTrash},
		{"Spam", nil, models.FolderSpam},
		{"Junk", nil, models.FolderSpam},
		{"Archive", nil, models.FolderArchive},
		{"Receipts", nil, models.FolderCustom},

		// Special-use attributes beat name matching.
		{"Wysłane", []string{imap.SentAttr}, models.FolderSent},
		{"Szkice", []string{imap.DraftsAttr}, models.FolderDrafts},
		{"Kosz", []string{imap.TrashAttr}, models.FolderTrash},
		{"Niechciane", []string{imap.JunkAttr}, models.FolderSpam},
		{"Wszystko", []string{imap.AllAttr}, models.FolderArchive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, inferFolderType(tt.name, tt.attrs))
		})
	}
}

func TestIsSelectable(t *testing.T) {
	assert.True(t, isSelectable("INBOX", nil))
	assert.False(t, isSelectable("Parent", []string{imap.NoSelectAttr}))
	assert.False(t, isSelectable("[Gmail]", nil))
	assert.True(t, isSelectable("[Gmail]/All Mail", nil))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Sent Mail", displayName("[Gmail]/Sent Mail", "/"))
	assert.Equal(t, "2024", displayName("Archive/2024", "/"))
	assert.Equal(t, "INBOX", displayName("INBOX", "/"))
	assert.Equal(t, "Projects.Go", displayName("Projects.Go", ""))
}

func TestFolderFromInfo(t *testing.T) {
	f := folderFromInfo(&imap.MailboxInfo{
		Attributes: []string{imap.SentAttr},
		Delimiter:  "/",
		Name:       "[Gmail]/Sent Mail",
	})
	assert.Equal(t, "[Gmail]/Sent Mail", f.Name)
	assert.Equal(t, "Sent Mail", f.DisplayName)
	assert.Equal(t, models.FolderSent, f.Type)
	assert.True(t, f.Selectable)
}
