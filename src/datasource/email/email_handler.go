package email

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"SpeedRecords/src/storage"
)

// DropExtensions are the attachment types accepted as measurement files.
var DropExtensions = []string{".csv", ".xlsx"}

// CheckFunc vets an attachment before it is saved. A non-nil error rejects it.
type CheckFunc func(att *Attachment) error

// AttachmentHandler saves measurement files mailed under a subject keyword.
type AttachmentHandler struct {
	TargetSubject string
	DataDir       string
	Check         CheckFunc // optional
	processedUIDs map[uint32]bool
	mu            sync.RWMutex
}

func NewAttachmentHandler(subject, dataDir string, check CheckFunc) *AttachmentHandler {
	return &AttachmentHandler{
		TargetSubject: subject,
		DataDir:       dataDir,
		Check:         check,
		processedUIDs: make(map[uint32]bool),
	}
}

func (h *AttachmentHandler) IsProcessed(uid uint32) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.processedUIDs[uid]
}

func (h *AttachmentHandler) markAsProcessed(uid uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processedUIDs[uid] = true
}

// Handle saves the measurement attachments of email into DataDir and
// returns their paths in attachment order. A message is handled once; a
// message without any usable attachment is not marked and stays unread in
// the mailbox, so it is retried on the next check. Callers mark saved
// messages with MarkHandled.
func (h *AttachmentHandler) Handle(email *Email, logger *storage.Logger) ([]string, error) {
	if email == nil || h.IsProcessed(email.UID) {
		return nil, nil
	}
	if !strings.Contains(email.Subject, h.TargetSubject) {
		logger.Debugw("subject does not match", "uid", email.UID, "subject", email.Subject)
		return nil, nil
	}

	logger.Infow("handling mail",
		"uid", email.UID,
		"from", email.From,
		"date", email.Date.Format("2006-01-02 15:04:05"))

	if err := os.MkdirAll(h.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", h.DataDir, err)
	}

	var saved []string
	for _, att := range email.Attachments {
		if !isDrop(att.Filename) {
			continue
		}
		if h.Check != nil {
			if err := h.Check(att); err != nil {
				logger.Warningw("attachment rejected", "uid", email.UID, "file", att.Filename, "error", err)
				continue
			}
		}

		path := filepath.Join(h.DataDir, filepath.Base(att.Filename))
		if err := writeFileAtomic(path, att.Content); err != nil {
			return saved, fmt.Errorf("save %s: %w", att.Filename, err)
		}
		logger.Infow("attachment saved", "uid", email.UID, "path", path, "bytes", len(att.Content))
		saved = append(saved, path)
	}

	if len(saved) > 0 {
		h.markAsProcessed(email.UID)
	}
	return saved, nil
}

func isDrop(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range DropExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// writeFileAtomic replaces path in one rename so a watcher never sees a
// half-written file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".drop-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
