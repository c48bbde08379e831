package email

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"SpeedRecords/src/storage"
)

const (
	MaxFetchMessages   = 100            // upper bound per fetch
	FetchBufferSize    = 10             // fetch channel buffer
	RecentMailDuration = 24 * time.Hour // how far back unread mail is searched
)

// MailService is the inbox side of the mail integration.
type MailService interface {
	Connect() error
	Disconnect()
	FetchUnreadEmails() ([]*Email, error)
	MarkSeen(uid uint32) error
}

// Email is a fetched message with its attachments loaded.
type Email struct {
	UID         uint32
	Date        time.Time
	From        string
	Subject     string
	Attachments []*Attachment
}

type Attachment struct {
	Filename string
	Content  []byte
}

// EmailClient is an IMAP client over TLS. All methods are safe for
// concurrent use.
type EmailClient struct {
	server    string // host:port
	username  string
	password  string
	client    *client.Client
	mu        sync.Mutex
	connected bool
	logger    *storage.Logger
}

// NewEmailClient creates a client for server ("imap.example.com:993").
// logger may be nil.
func NewEmailClient(server, username, password string, logger *storage.Logger) *EmailClient {
	return &EmailClient{
		server:   server,
		username: username,
		password: password,
		logger:   logger,
	}
}

// Connect dials and logs in, reusing a live connection.
func (s *EmailClient) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		if _, err := s.client.Capability(); err == nil {
			return nil
		}
		s.client.Logout()
		s.client = nil
		s.connected = false
	}

	c, err := client.DialTLS(s.server, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.server, err)
	}
	if err := c.Login(s.username, s.password); err != nil {
		c.Logout()
		return fmt.Errorf("login: %w", err)
	}

	s.client = c
	s.connected = true
	return nil
}

func (s *EmailClient) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		s.client.Logout()
		s.client = nil
	}
	s.connected = false
}

// FetchUnreadEmails returns the unread INBOX messages of the last
// RecentMailDuration, at most MaxFetchMessages of them. Fetching leaves
// them unread; see MarkSeen.
func (s *EmailClient) FetchUnreadEmails() ([]*Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, fmt.Errorf("not connected to %s", s.server)
	}
	if _, err := s.client.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Since = time.Now().Add(-RecentMailDuration)

	ids, err := s.client.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxFetchMessages {
		ids = ids[:MaxFetchMessages]
	}
	return s.fetchMessages(ids)
}

func (s *EmailClient) fetchMessages(ids []uint32) ([]*Email, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchInternalDate,
		imap.FetchUid,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, FetchBufferSize)
	done := make(chan error, 1)
	go func() {
		done <- s.client.Fetch(seqset, items, messages)
	}()

	var emails []*Email
	for msg := range messages {
		email, err := parseEmail(msg, section)
		if err != nil {
			s.logWarning("skip unreadable message", "uid", msg.Uid, "error", err)
			continue
		}
		emails = append(emails, email)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return emails, nil
}

// MarkSeen flags the INBOX message uid as \Seen.
func (s *EmailClient) MarkSeen(uid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return fmt.Errorf("not connected to %s", s.server)
	}
	if _, err := s.client.Select("INBOX", false); err != nil {
		return fmt.Errorf("select INBOX: %w", err)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.client.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("store \\Seen on %d: %w", uid, err)
	}
	return nil
}

func (s *EmailClient) logWarning(msg string, kv ...interface{}) {
	if s.logger != nil {
		s.logger.Warningw(msg, kv...)
	}
}

func parseEmail(msg *imap.Message, section *imap.BodySectionName) (*Email, error) {
	r := msg.GetBody(section)
	if r == nil {
		return nil, fmt.Errorf("message %d has no body", msg.Uid)
	}
	return readEmail(msg.Uid, r)
}

// readEmail parses a raw RFC 5322 message.
func readEmail(uid uint32, r io.Reader) (*Email, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("create reader: %w", err)
	}

	header := mr.Header
	date, _ := header.Date()
	email := &Email{
		UID:     uid,
		Date:    date,
		From:    decodeHeader(header.Get("From")),
		Subject: decodeHeader(header.Get("Subject")),
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// skip the broken part
			continue
		}
		if h, ok := p.Header.(*mail.AttachmentHeader); ok {
			att, err := readAttachment(h, p.Body)
			if err != nil {
				continue
			}
			email.Attachments = append(email.Attachments, att)
		}
	}
	return email, nil
}

func readAttachment(h *mail.AttachmentHeader, body io.Reader) (*Attachment, error) {
	filename, err := h.Filename()
	if err != nil || filename == "" {
		return nil, fmt.Errorf("attachment without file name")
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return nil, fmt.Errorf("read attachment %s: %w", filename, err)
	}
	return &Attachment{Filename: decodeHeader(filename), Content: buf.Bytes()}, nil
}

// decodeHeader decodes RFC 2047 encoded words, returning the input on error.
func decodeHeader(header string) string {
	decoder := mime.WordDecoder{CharsetReader: charsetReader}
	decoded, err := decoder.DecodeHeader(header)
	if err != nil {
		return header
	}
	return decoded
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "iso-8859-1", "latin1":
		return transform.NewReader(input, charmap.ISO8859_1.NewDecoder()), nil
	case "windows-1252", "cp1252":
		return transform.NewReader(input, charmap.Windows1252.NewDecoder()), nil
	case "gbk", "gb2312":
		return transform.NewReader(input, simplifiedchinese.GBK.NewDecoder()), nil
	default:
		return input, nil
	}
}

// CheckAndProcessEmails returns the newest unread message whose subject
// contains keyword, or nil when there is none.
func CheckAndProcessEmails(mailService MailService, keyword string, logger *storage.Logger) (*Email, error) {
	start := time.Now()
	logger.Debug("checking mailbox")

	if err := mailService.Connect(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer mailService.Disconnect()

	emails, err := mailService.FetchUnreadEmails()
	if err != nil {
		return nil, fmt.Errorf("fetch unread: %w", err)
	}
	if len(emails) == 0 {
		logger.Debug("no new mail")
		return nil, nil
	}

	target := filterLatestTargetEmail(emails, keyword)
	if target == nil {
		logger.Infow("no matching mail", "unread", len(emails), "keyword", keyword)
		return nil, nil
	}

	logger.Infow("mailbox checked", "uid", target.UID, "subject", target.Subject, "elapsed", time.Since(start))
	return target, nil
}

// MarkHandled marks uid as seen on a fresh connection so the next check
// skips it.
func MarkHandled(mailService MailService, uid uint32) error {
	if err := mailService.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer mailService.Disconnect()

	return mailService.MarkSeen(uid)
}

// filterLatestTargetEmail returns the newest email whose subject contains
// keyword. An empty keyword matches every subject.
func filterLatestTargetEmail(emails []*Email, keyword string) *Email {
	var targets []*Email
	for _, email := range emails {
		if strings.Contains(email.Subject, keyword) {
			targets = append(targets, email)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	sort.Slice(targets, func(i, j int) bool {
		return targets[i].Date.After(targets[j].Date)
	})
	return targets[0]
}
