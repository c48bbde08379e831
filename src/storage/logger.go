package storage

import (
	"SpeedRecords/src/config"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LogLevel is the severity of an entry.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
	FATAL
)

// Logger writes leveled lines to an append-only file and fans them out to
// subscribers (the /logs stream).
type Logger struct {
	filename    string
	file        *os.File
	level       LogLevel
	mu          sync.Mutex
	subscribers []chan string
}

// NewLogger opens (or creates) filename for appending.
func NewLogger(filename string) (*Logger, error) {
	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	return &Logger{
		filename: filename,
		file:     file,
		level:    DEBUG,
	}, nil
}

// SetLevel drops entries below level.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, ch := range l.subscribers {
		close(ch)
	}
	l.subscribers = nil

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Reopen closes the current file and opens filename in its place. An empty
// filename reopens the current one, which is what logrotate-style tools
// expect after SIGHUP.
func (l *Logger) Reopen(filename string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if filename == "" {
		filename = l.filename
	}
	if l.file != nil {
		_ = l.file.Close()
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil {
		l.file = nil
		return err
	}
	l.file = file
	l.filename = filename
	return nil
}

// Log writes "[time] LEVEL: message".
func (l *Logger) Log(level LogLevel, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	entry := fmt.Sprintf("[%s] %s: %s\n",
		time.Now().Format("2006-01-02 15:04:05"),
		level.String(),
		message)

	if l.file != nil {
		_, _ = l.file.WriteString(entry)
	}

	for _, ch := range l.subscribers {
		select {
		case ch <- entry:
		default: // slow subscriber, skip
		}
	}
}

// Logw appends key=value pairs to message. A trailing key without a value
// is written as key=MISSING.
func (l *Logger) Logw(level LogLevel, message string, kv ...interface{}) {
	if len(kv) == 0 {
		l.Log(level, message)
		return
	}

	var b strings.Builder
	b.WriteString(message)
	for i := 0; i < len(kv); i += 2 {
		b.WriteByte(' ')
		b.WriteString(fmt.Sprint(kv[i]))
		b.WriteByte('=')
		if i+1 < len(kv) {
			b.WriteString(formatValue(kv[i+1]))
		} else {
			b.WriteString("MISSING")
		}
	}
	l.Log(level, b.String())
}

func formatValue(v interface{}) string {
	s := fmt.Sprint(v)
	if strings.ContainsAny(s, " \t\"") {
		return strconv.Quote(s)
	}
	return s
}

// CheckRotate rotates the file once it grows past cfg.LogMaxSize.
func (l *Logger) CheckRotate(cfg *config.Config) error {
	limit := eval(cfg.LogMaxSize)
	if limit <= 0 {
		return nil
	}

	l.mu.Lock()
	file := l.file
	l.mu.Unlock()
	if file == nil {
		return nil
	}

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat log file: %w", err)
	}

	if info.Size() > limit {
		return l.rotateLog()
	}
	return nil
}

// rotateLog moves the current file to name.<timestamp>.ext and starts a new one.
func (l *Logger) rotateLog() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}

	if err := os.Rename(l.filename, rotatedName(l.filename, time.Now())); err != nil {
		return fmt.Errorf("rotate log: %w", err)
	}

	file, err := os.OpenFile(l.filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("reopen log: %w", err)
	}
	l.file = file
	return nil
}

func rotatedName(filename string, now time.Time) string {
	stamp := now.Format("20060102150405")
	if i := strings.LastIndex(filename, "."); i > strings.LastIndex(filename, string(os.PathSeparator)) {
		return fmt.Sprintf("%s.%s%s", filename[:i], stamp, filename[i:])
	}
	return filename + "." + stamp
}

// Subscribe returns a buffered channel (capacity 100) receiving every entry.
func (l *Logger) Subscribe() <-chan string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan string, 100)
	l.subscribers = append(l.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (l *Logger) Unsubscribe(sub <-chan string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, ch := range l.subscribers {
		if ch == sub {
			close(ch)
			l.subscribers = append(l.subscribers[:i], l.subscribers[i+1:]...)
			return
		}
	}
}

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARNING:
		return "WARNING"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel is the inverse of LogLevel.String. Unknown names map to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARNING", "WARN":
		return WARNING
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// eval multiplies the factors of a "10 * 1024 * 1024" style size.
func eval(expr string) int64 {
	if strings.TrimSpace(expr) == "" {
		return 0
	}
	parts := strings.Split(expr, "*")
	var result int64 = 1
	for _, part := range parts {
		num, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return 0
		}
		result *= num
	}
	return result
}

func (l *Logger) Debug(msg string)   { l.Log(DEBUG, msg) }
func (l *Logger) Info(msg string)    { l.Log(INFO, msg) }
func (l *Logger) Warning(msg string) { l.Log(WARNING, msg) }
func (l *Logger) Error(msg string)   { l.Log(ERROR, msg) }
func (l *Logger) Fatal(msg string)   { l.Log(FATAL, msg) }

func (l *Logger) Debugw(msg string, kv ...interface{})   { l.Logw(DEBUG, msg, kv...) }
func (l *Logger) Infow(msg string, kv ...interface{})    { l.Logw(INFO, msg, kv...) }
func (l *Logger) Warningw(msg string, kv ...interface{}) { l.Logw(WARNING, msg, kv...) }
func (l *Logger) Errorw(msg string, kv ...interface{})   { l.Logw(ERROR, msg, kv...) }
