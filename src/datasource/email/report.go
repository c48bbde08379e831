package email

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"path/filepath"
	"strings"

	"github.com/jordan-wright/email"

	"SpeedRecords/src/analysis"
	"SpeedRecords/src/config"
	"SpeedRecords/src/processor"
)

const defaultSMTPPort = "465"

// NewReport builds the report mail for res. The workbook at attachment is
// attached when attachment is not empty.
func NewReport(cfg *config.Config, res *processor.Result, attachment string) (*email.Email, error) {
	sum, err := analysis.Summarize(res.Filtered)
	if err != nil {
		return nil, err
	}

	e := email.NewEmail()
	e.From = fmt.Sprintf("Speed records <%s>", cfg.SendEmail.Username)
	e.To = cfg.SendEmail.To
	e.Subject = cfg.SendEmail.Subject
	e.Text = []byte(reportText(res, sum))

	if attachment != "" {
		if _, err := e.AttachFile(attachment); err != nil {
			return nil, fmt.Errorf("attach %s: %w", filepath.Base(attachment), err)
		}
	}
	return e, nil
}

func reportText(res *processor.Result, sum analysis.Summary) string {
	d := res.Diagnostics
	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s\n", res.Source)
	fmt.Fprintf(&b, "Loaded: %s\n", res.LoadedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Total entries: %d\n", sum.TotalEntries)
	if sum.AverageDifference != nil {
		fmt.Fprintf(&b, "Average difference: %.2f\n", *sum.AverageDifference)
		fmt.Fprintf(&b, "Max difference: %.2f\n", *sum.MaxDifference)
	}
	fmt.Fprintf(&b, "Rows read %d, cleaned %d, filtered %d, valid %d\n",
		d.RowsRead, d.RowsCleaned, d.RowsFiltered, d.RowsValid)
	if d.TotalDropped() > 0 {
		fmt.Fprintf(&b, "Dropped: %s\n", d.String())
	}
	return b.String()
}

// SendReport delivers e over implicit TLS. A server without a port uses 465.
func SendReport(cfg *config.Config, e *email.Email) error {
	addr := cfg.SendEmail.Server
	if !strings.Contains(addr, ":") {
		addr += ":" + defaultSMTPPort
	}
	host := strings.Split(addr, ":")[0]

	err := e.SendWithTLS(
		addr,
		smtp.PlainAuth("", cfg.SendEmail.Username, cfg.SendEmail.Password, host),
		&tls.Config{ServerName: host},
	)
	if err != nil {
		return fmt.Errorf("send report via %s: %w", addr, err)
	}
	return nil
}
