package datapush

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"SpeedRecords/src/processor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "position;date;mesure;limite\n" +
	"2.5 48.8;2024-01-15T08:30:00;95;90\n" +
	"0 7;2024-03-10T14:20;110;90\n" +
	"1 2;2024-01-15;95;90\n"

func testResult(t *testing.T) *processor.Result {
	t.Helper()
	res, err := processor.LoadBytes(context.Background(), "vitesse.csv", []byte(sample), processor.DefaultOptions())
	require.NoError(t, err)
	return res
}

func fastPusher(url string) *Pusher {
	p := NewPusher(url)
	p.Interval = time.Millisecond
	return p
}

func TestSummaryMarkdown(t *testing.T) {
	title, text, err := SummaryMarkdown(testResult(t))
	require.NoError(t, err)

	assert.Equal(t, "Speed records refreshed", title)
	assert.Contains(t, text, "- entries: 2\n")
	assert.Contains(t, text, "- average difference: 12.50\n")
	assert.Contains(t, text, "- max difference: 20.00\n")
	assert.Contains(t, text, "- bad_date: 1\n")
}

func TestPushSummary(t *testing.T) {
	var got struct {
		MsgType  string            `json:"msgtype"`
		Markdown map[string]string `json:"markdown"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer srv.Close()

	require.NoError(t, fastPusher(srv.URL).PushSummary(context.Background(), testResult(t)))
	assert.Equal(t, "markdown", got.MsgType)
	assert.Equal(t, "Speed records refreshed", got.Markdown["title"])
	assert.Contains(t, got.Markdown["text"], "entries: 2")
}

func TestPushRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer srv.Close()

	require.NoError(t, fastPusher(srv.URL).PushMarkdown(context.Background(), "t", "x"))
	assert.EqualValues(t, 3, calls)
}

func TestPushRejected(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"errcode":310000,"errmsg":"keywords not in content"}`))
	}))
	defer srv.Close()

	err := fastPusher(srv.URL).PushMarkdown(context.Background(), "t", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keywords not in content")
	assert.EqualValues(t, 1, calls)
}

func TestPushGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := fastPusher(srv.URL).PushMarkdown(context.Background(), "t", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}
