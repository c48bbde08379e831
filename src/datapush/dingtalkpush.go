// Package datapush posts refresh reports to a DingTalk group robot.
package datapush

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"SpeedRecords/src/analysis"
	"SpeedRecords/src/processor"
)

const (
	RetryTimes    = 3
	RetryInterval = 2 * time.Second
)

// DingTalkResponse is the robot API reply.
type DingTalkResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// errRejected marks a reply the robot refused; it is not retried.
var errRejected = errors.New("dingtalk rejected message")

// Pusher sends markdown messages to one robot webhook.
type Pusher struct {
	Webhook  string
	Client   *http.Client
	Retries  int
	Interval time.Duration
}

func NewPusher(webhook string) *Pusher {
	return &Pusher{
		Webhook:  webhook,
		Client:   &http.Client{Timeout: 10 * time.Second},
		Retries:  RetryTimes,
		Interval: RetryInterval,
	}
}

// PushMarkdown posts a markdown message, retrying transport failures and
// non-2xx replies.
func (p *Pusher) PushMarkdown(ctx context.Context, title, text string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": title,
			"text":  text,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return retry(ctx, p.Retries, p.Interval, func() error {
		return p.send(ctx, payload)
	})
}

func (p *Pusher) send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Webhook, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", errRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result DingTalkResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("%w: %d %s", errRejected, result.ErrCode, result.ErrMsg)
	}
	return nil
}

func retry(ctx context.Context, times int, interval time.Duration, fn func() error) error {
	if times < 1 {
		times = 1
	}
	var err error
	for i := 0; i < times; i++ {
		if err = fn(); err == nil || errors.Is(err, errRejected) {
			return err
		}
		if i < times-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", times, err)
}

// PushSummary reports the outcome of one refresh.
func (p *Pusher) PushSummary(ctx context.Context, res *processor.Result) error {
	title, text, err := SummaryMarkdown(res)
	if err != nil {
		return err
	}
	return p.PushMarkdown(ctx, title, text)
}

// SummaryMarkdown renders the headline figures and drop counts of res.
func SummaryMarkdown(res *processor.Result) (title, text string, err error) {
	sum, err := analysis.Summarize(res.Filtered)
	if err != nil {
		return "", "", err
	}

	d := res.Diagnostics
	title = "Speed records refreshed"
	var b strings.Builder
	fmt.Fprintf(&b, "### %s\n\n", title)
	fmt.Fprintf(&b, "- source: %s\n", res.Source)
	fmt.Fprintf(&b, "- loaded: %s\n", res.LoadedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "- entries: %d\n", sum.TotalEntries)
	fmt.Fprintf(&b, "- average difference: %s\n", formatOptional(sum.AverageDifference))
	fmt.Fprintf(&b, "- max difference: %s\n", formatOptional(sum.MaxDifference))
	fmt.Fprintf(&b, "- rows read %d, cleaned %d, valid %d\n", d.RowsRead, d.RowsCleaned, d.RowsValid)

	if d.TotalDropped() > 0 {
		b.WriteString("\n**Dropped rows**\n\n")
		reasons := make([]string, 0, len(d.Dropped))
		for r := range d.Dropped {
			reasons = append(reasons, string(r))
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(&b, "- %s: %d\n", r, d.Dropped[processor.Reason(r)])
		}
	}
	return title, b.String(), nil
}

func formatOptional(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}
