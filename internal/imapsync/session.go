// Package imapsync implements incremental, folder-aware IMAP
// synchronization. A Session owns exactly one connection and one selected
// folder at a time; commands on it are strictly sequential. Incremental
// sync is keyed by the folder's monotonically increasing UIDs, valid for
// the lifetime of its UIDVALIDITY value.
package imapsync

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/atolye/mailwire/internal/mailparse"
	"github.com/atolye/mailwire/internal/metrics"
	"github.com/atolye/mailwire/pkg/mailerr"
	"github.com/atolye/mailwire/pkg/models"
)

type state int

const (
	stateDisconnected state = iota
	stateAuthenticated
	stateSelected
)

// conn is the slice of *client.Client the session uses. Tests substitute a
// scripted implementation.
type conn interface {
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	List(ref, name string, ch chan *imap.MailboxInfo) error
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Expunge(ch chan uint32) error
	Status(name string, items []imap.StatusItem) (*imap.MailboxStatus, error)
	Logout() error
}

// Session is a single-connection IMAP sync client for one account.
type Session struct {
	endpoint models.Endpoint
	logger   *slog.Logger

	dial func(ep models.Endpoint) (conn, error)

	conn          conn
	state         state
	currentFolder string
	folderType    models.FolderType
	uidValidity   uint32
}

// NewSession creates a session for the endpoint. Nothing is dialed until
// Connect.
func NewSession(ep models.Endpoint, logger *slog.Logger) *Session {
	return &Session{
		endpoint: ep,
		logger:   logger.With("component", "imapsync", "server", ep.Addr()),
		dial:     dialIMAP,
	}
}

func dialIMAP(ep models.Endpoint) (conn, error) {
	dialer := &net.Dialer{Timeout: ep.Timeout()}

	var (
		c   *client.Client
		err error
	)
	switch ep.Encryption {
	case models.EncryptionTLS:
		c, err = client.DialWithDialerTLS(dialer, ep.Addr(), nil)
	default:
		c, err = client.DialWithDialer(dialer, ep.Addr())
		if err == nil && ep.Encryption == models.EncryptionSTARTTLS {
			if err = c.StartTLS(&tls.Config{ServerName: ep.Host}); err != nil {
				c.Logout()
				return nil, fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if err != nil {
		return nil, err
	}
	c.Timeout = ep.Timeout()

	if err := c.Login(ep.Username, ep.Password); err != nil {
		c.Logout()
		return nil, mailerr.Authentication("login %s: %v", ep.Username, err)
	}
	return c, nil
}

// Connect opens the transport with the configured encryption mode and
// authenticates. It does not retry; the caller decides whether a fresh
// connect is worth attempting.
func (s *Session) Connect() error {
	if s.state != stateDisconnected {
		return nil
	}

	c, err := s.dial(s.endpoint)
	if err != nil {
		if mailerr.IsAuthentication(err) {
			return err
		}
		return mailerr.Connection("connect %s: %v", s.endpoint.Addr(), err)
	}

	s.conn = c
	s.state = stateAuthenticated
	s.logger.Info("connected")
	return nil
}

// Close logs out and drops the connection.
func (s *Session) Close() {
	if s.conn != nil {
		if err := s.conn.Logout(); err != nil {
			s.logger.Debug("logout failed", "error", err)
		}
	}
	s.conn = nil
	s.state = stateDisconnected
	s.currentFolder = ""
}

// ListFolders enumerates the server's mailboxes with inferred types.
func (s *Session) ListFolders() ([]models.Folder, error) {
	if s.state == stateDisconnected {
		return nil, mailerr.ErrNotConnected
	}

	ch := make(chan *imap.MailboxInfo, 16)
	done := make(chan error, 1)
	go func() {
		done <- s.conn.List("", "*", ch)
	}()

	var folders []models.Folder
	for info := range ch {
		folders = append(folders, folderFromInfo(info))
	}
	if err := <-done; err != nil {
		return nil, mailerr.Protocol("list folders: %v", err)
	}

	s.logger.Debug("listed folders", "count", len(folders))
	return folders, nil
}

// SelectFolder makes the folder current for subsequent fetch and flag
// commands. The server's UIDVALIDITY for it is recorded on the session.
func (s *Session) SelectFolder(name string) error {
	if s.state == stateDisconnected {
		return mailerr.ErrNotConnected
	}

	status, err := s.conn.Select(name, false)
	if err != nil {
		return mailerr.Protocol("select %q: %v", name, err)
	}

	s.currentFolder = name
	s.folderType = inferFolderType(name, nil)
	s.uidValidity = status.UidValidity
	s.state = stateSelected
	s.logger.Debug("selected folder", "folder", name, "messages", status.Messages, "uidvalidity", status.UidValidity)
	return nil
}

// UIDValidity fetches the folder's current UIDVALIDITY without selecting it.
func (s *Session) UIDValidity(folder string) (uint32, error) {
	if s.state == stateDisconnected {
		return 0, mailerr.ErrNotConnected
	}
	status, err := s.conn.Status(folder, []imap.StatusItem{imap.StatusUidValidity})
	if err != nil {
		return 0, mailerr.Protocol("status %q: %v", folder, err)
	}
	return status.UidValidity, nil
}

// VerifyUIDValidity compares the folder's UIDVALIDITY with the caller's
// recorded value and returns mailerr.ErrUIDValidityChanged on mismatch, at
// which point every stored uid for the folder is void and a full resync
// (forceFull) is required. A recorded value of zero always passes.
func (s *Session) VerifyUIDValidity(folder string, recorded uint32) error {
	if recorded == 0 {
		return nil
	}
	current, err := s.UIDValidity(folder)
	if err != nil {
		return err
	}
	if current != recorded {
		return fmt.Errorf("%w: folder %q had %d, server reports %d",
			mailerr.ErrUIDValidityChanged, folder, recorded, current)
	}
	return nil
}

// SyncFolder selects the folder and fetches every message with uid greater
// than lastUID (all messages when forceFull is set or lastUID is zero).
// Individual fetch failures are recorded in the result's Skipped list and
// never abort the sync; HighestUID only advances across successful fetches
// so a skipped message is retried by the next incremental sync.
func (s *Session) SyncFolder(name string, lastUID uint32, forceFull bool) (models.SyncResult, error) {
	var res models.SyncResult

	if err := s.SelectFolder(name); err != nil {
		return res, err
	}
	res.UIDValidity = s.uidValidity

	criteria := imap.NewSearchCriteria()
	if !forceFull && lastUID > 0 {
		seq := new(imap.SeqSet)
		seq.AddRange(lastUID+1, 0)
		criteria.Uid = seq
	}

	uids, err := s.conn.UidSearch(criteria)
	if err != nil {
		return res, mailerr.Protocol("search %q: %v", name, err)
	}

	for _, uid := range uids {
		// Servers answer a range past the last message with the last
		// message itself; never hand back anything at or below the
		// caller's cursor.
		if !forceFull && uid <= lastUID {
			continue
		}

		msg, err := s.fetchOne(uid)
		if err != nil {
			s.logger.Warn("skipping message", "folder", name, "uid", uid, "error", err)
			res.Skipped = append(res.Skipped, models.SkippedMessage{UID: uid, Err: err})
			metrics.SyncMessagesSkipped.WithLabelValues(name).Inc()
			continue
		}

		res.Messages = append(res.Messages, msg)
		if uid > res.HighestUID {
			res.HighestUID = uid
		}
		metrics.SyncMessagesFetched.WithLabelValues(name).Inc()
	}

	s.logger.Info("folder synced",
		"folder", name, "fetched", len(res.Messages), "skipped", len(res.Skipped), "highest_uid", res.HighestUID)
	return res, nil
}

// SearchUnseen returns the uids of unread messages in the folder.
func (s *Session) SearchUnseen(folder string) ([]uint32, error) {
	if err := s.SelectFolder(folder); err != nil {
		return nil, err
	}
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := s.conn.UidSearch(criteria)
	if err != nil {
		return nil, mailerr.Protocol("search unseen %q: %v", folder, err)
	}
	return uids, nil
}

func (s *Session) fetchOne(uid uint32) (*models.Message, error) {
	seq := new(imap.SeqSet)
	seq.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchRFC822Size, section.FetchItem()}

	ch := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.conn.UidFetch(seq, items, ch)
	}()

	var raw *imap.Message
	for m := range ch {
		raw = m
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch uid %d: %w", uid, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("fetch uid %d: no data", uid)
	}

	body := raw.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("fetch uid %d: missing body section", uid)
	}

	msg, err := mailparse.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse uid %d: %w", uid, err)
	}

	msg.UID = uid
	msg.Folder = s.currentFolder
	if raw.Size > 0 {
		msg.Size = int(raw.Size)
	}
	s.applyFlags(msg, raw.Flags)
	return msg, nil
}

// applyFlags maps wire flags onto the message model, backed by folder-name
// heuristics for the pseudo-flags POP3-era providers never set.
func (s *Session) applyFlags(msg *models.Message, flags []string) {
	has := func(want string) bool {
		for _, f := range flags {
			if strings.EqualFold(f, want) {
				return true
			}
		}
		return false
	}

	lower := strings.ToLower(s.currentFolder)
	msg.IsRead = has(imap.SeenFlag)
	msg.IsStarred = has(imap.FlaggedFlag)
	msg.IsDeleted = has(imap.DeletedFlag)
	msg.IsSpam = has("\\Junk") || strings.Contains(lower, "spam") || strings.Contains(lower, "junk")
	msg.IsDraft = has(imap.DraftFlag) || s.folderType == models.FolderDrafts
	msg.IsSent = s.folderType == models.FolderSent
}

// MarkAsRead sets \Seen on the message.
func (s *Session) MarkAsRead(uid uint32) error {
	return s.storeFlags(uid, imap.AddFlags, imap.SeenFlag)
}

// MarkAsUnread removes \Seen from the message.
func (s *Session) MarkAsUnread(uid uint32) error {
	return s.storeFlags(uid, imap.RemoveFlags, imap.SeenFlag)
}

// AddStar sets \Flagged on the message.
func (s *Session) AddStar(uid uint32) error {
	return s.storeFlags(uid, imap.AddFlags, imap.FlaggedFlag)
}

// RemoveStar removes \Flagged from the message.
func (s *Session) RemoveStar(uid uint32) error {
	return s.storeFlags(uid, imap.RemoveFlags, imap.FlaggedFlag)
}

// DeleteMessage sets \Deleted and expunges immediately. The removal is
// permanent; there is no undo within the session.
func (s *Session) DeleteMessage(uid uint32) error {
	if err := s.storeFlags(uid, imap.AddFlags, imap.DeletedFlag); err != nil {
		return err
	}
	if err := s.conn.Expunge(nil); err != nil {
		return mailerr.Protocol("expunge: %v", err)
	}
	return nil
}

func (s *Session) storeFlags(uid uint32, op imap.FlagsOp, flag string) error {
	if s.state != stateSelected {
		return mailerr.Protocol("no folder selected")
	}

	seq := new(imap.SeqSet)
	seq.AddNum(uid)
	item := imap.FormatFlagsOp(op, true)

	if err := s.conn.UidStore(seq, item, []interface{}{flag}, nil); err != nil {
		return mailerr.Protocol("store flags on uid %d: %v", uid, err)
	}
	return nil
}
