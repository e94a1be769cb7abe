package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/atolye/mailwire/internal/config"
	"github.com/atolye/mailwire/internal/cursor"
	"github.com/atolye/mailwire/internal/imapsync"
	"github.com/atolye/mailwire/internal/pool"
	"github.com/atolye/mailwire/internal/pop3"
	"github.com/atolye/mailwire/internal/smtpout"
	"github.com/atolye/mailwire/pkg/mailerr"
	"github.com/atolye/mailwire/pkg/models"
)

const usage = `usage: mailwire <command> [flags]

commands:
  folders              list IMAP folders
  sync    -folder F    sync one IMAP folder incrementally
  unseen  -folder F    list unseen UIDs in one IMAP folder
  pop3               list and fetch messages over POP3
  send    -to A -subject S -text T   deliver a message over SMTP
  stat                 POP3 maildrop statistics
`

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx := context.Background()
	switch os.Args[1] {
	case "folders":
		err = runFolders(cfg, logger)
	case "sync":
		err = runSync(ctx, cfg, logger, os.Args[2:])
	case "unseen":
		err = runUnseen(cfg, logger, os.Args[2:])
	case "pop3":
		err = runPOP3(cfg, logger, os.Args[2:])
	case "send":
		err = runSend(ctx, cfg, logger, os.Args[2:])
	case "stat":
		err = runStat(cfg, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func runFolders(cfg *config.Config, logger *slog.Logger) error {
	ep, err := cfg.IMAPEndpoint()
	if err != nil {
		return err
	}
	session := imapsync.NewSession(ep, logger)
	if err := session.Connect(); err != nil {
		return err
	}
	defer session.Close()

	folders, err := session.ListFolders()
	if err != nil {
		return err
	}
	for _, f := range folders {
		fmt.Printf("%-30s %-8s selectable=%v\n", f.Name, f.Type, f.Selectable)
	}
	return nil
}

func runSync(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	folder := fs.String("folder", "INBOX", "folder to sync")
	full := fs.Bool("full", false, "ignore the stored cursor and fetch everything")
	fs.Parse(args)

	ep, err := cfg.IMAPEndpoint()
	if err != nil {
		return err
	}

	store, err := cursor.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	account := ep.Username
	var lastUID, recordedValidity uint32
	if !*full {
		cur, err := store.Get(ctx, account, *folder)
		switch {
		case err == nil:
			lastUID, recordedValidity = cur.LastUID, cur.UIDValidity
		case err != cursor.ErrNotFound:
			return err
		}
	}

	session := imapsync.NewSession(ep, logger)
	if err := session.Connect(); err != nil {
		return err
	}
	defer session.Close()

	// A changed UIDVALIDITY invalidates every stored UID for the folder;
	// drop the cursor and resync from zero.
	if recordedValidity != 0 {
		if err := session.VerifyUIDValidity(*folder, recordedValidity); err != nil {
			if !mailerr.IsUIDValidityChanged(err) {
				return err
			}
			logger.Warn("uidvalidity changed, forcing full resync", "folder", *folder)
			if err := store.Reset(ctx, account, *folder); err != nil {
				return err
			}
			lastUID = 0
		}
	}

	result, err := session.SyncFolder(*folder, lastUID, *full)
	if err != nil {
		return err
	}

	for _, msg := range result.Messages {
		fmt.Printf("uid=%d from=%s subject=%q attachments=%d\n",
			msg.UID, msg.From, msg.Subject, msg.AttachmentCount())
	}
	for _, sk := range result.Skipped {
		logger.Warn("message skipped", "uid", sk.UID, "error", sk.Err)
	}
	logger.Info("sync finished",
		"folder", *folder, "fetched", len(result.Messages),
		"skipped", len(result.Skipped), "highest_uid", result.HighestUID)

	if result.HighestUID > lastUID {
		return store.Save(ctx, account, *folder, result.HighestUID, result.UIDValidity)
	}
	return nil
}

func runUnseen(cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("unseen", flag.ExitOnError)
	folder := fs.String("folder", "INBOX", "folder to search")
	fs.Parse(args)

	ep, err := cfg.IMAPEndpoint()
	if err != nil {
		return err
	}
	session := imapsync.NewSession(ep, logger)
	if err := session.Connect(); err != nil {
		return err
	}
	defer session.Close()

	uids, err := session.SearchUnseen(*folder)
	if err != nil {
		return err
	}
	for _, uid := range uids {
		fmt.Println(uid)
	}
	return nil
}

func runPOP3(cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("pop3", flag.ExitOnError)
	ids := fs.String("ids", "", "comma-separated message numbers, empty for all")
	fs.Parse(args)

	ep, err := cfg.POP3Endpoint()
	if err != nil {
		return err
	}

	p := pop3.NewHandlerPool(ep, cfg.POP3PoolSize, logger)
	defer p.CloseAll()

	h, err := p.Acquire()
	if err != nil {
		return err
	}
	defer p.Release(h)

	var want []int
	if *ids != "" {
		for _, s := range strings.Split(*ids, ",") {
			id, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return fmt.Errorf("bad message number %q: %w", s, err)
			}
			want = append(want, id)
		}
	}

	result, err := h.FetchMessages(want)
	if err != nil {
		return err
	}
	for _, msg := range result.Messages {
		fmt.Printf("id=%d from=%s subject=%q size=%d\n", msg.UID, msg.From, msg.Subject, msg.Size)
	}
	for _, sk := range result.Skipped {
		logger.Warn("message skipped", "id", sk.UID, "error", sk.Err)
	}
	return nil
}

func runSend(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	from := fs.String("from", "", "sender address (defaults to the SMTP username)")
	to := fs.String("to", "", "comma-separated recipients")
	cc := fs.String("cc", "", "comma-separated cc recipients")
	subject := fs.String("subject", "", "message subject")
	text := fs.String("text", "", "plain-text body")
	html := fs.String("html", "", "html body")
	retry := fs.Bool("retry", true, "retry transient failures")
	fs.Parse(args)

	ep, err := cfg.SMTPEndpoint()
	if err != nil {
		return err
	}
	if *from == "" {
		*from = ep.Username
	}

	p := pool.New(smtpout.DialFunc(), pool.Options{
		MaxPerEndpoint: cfg.PoolMaxPerEndpoint,
		MaxIdle:        cfg.PoolMaxIdle,
		MaxAge:         cfg.PoolMaxAge,
	}, logger)
	defer p.CloseAll()

	sender := smtpout.NewSender(p, ep, smtpout.SenderOptions{MaxAttempts: ep.Retries()}, logger)
	msg := &models.OutboundMessage{
		From:     *from,
		To:       splitAddrs(*to),
		Cc:       splitAddrs(*cc),
		Subject:  *subject,
		TextBody: *text,
		HTMLBody: *html,
	}

	result := sender.Send(ctx, msg, *retry)
	fmt.Printf("status=%s message_id=%s retries=%d\n", result.Status, result.MessageID, result.RetryCount)
	for rcpt, reason := range result.RecipientFailures {
		fmt.Printf("rejected %s: %s\n", rcpt, reason)
	}
	if result.Status != models.DeliverySuccess {
		return fmt.Errorf("delivery %s: %s", result.Status, result.ErrorMessage)
	}
	return nil
}

func runStat(cfg *config.Config, logger *slog.Logger) error {
	ep, err := cfg.POP3Endpoint()
	if err != nil {
		return err
	}

	h := pop3.NewHandler(ep, logger)
	if err := h.Connect(); err != nil {
		return err
	}
	defer h.Quit()
	if err := h.Authenticate("", ""); err != nil {
		return err
	}

	count, size, err := h.Stat()
	if err != nil {
		return err
	}
	fmt.Printf("messages=%d size=%d\n", count, size)

	if caps, err := h.Capabilities(); err == nil && caps != nil {
		fmt.Printf("capabilities: %s\n", strings.Join(caps, ", "))
	}
	return nil
}

func splitAddrs(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
