package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level: DEBUG, INFO, WARN, ERROR
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ErrObj is attached to error entries.
type ErrObj struct {
	Msg   string `json:"msg"`
	Stack string `json:"stack,omitempty"`
}

// Entry is one log line. Action is the machine-readable event name
// (e.g. location_tracked), Message is for humans.
type Entry struct {
	Action     string
	Message    string
	RequestID  string
	SessionID  string
	Error      *ErrObj
	Additional map[string]any
}

// reserved keys are never copied from context fields into Additional
var reserved = map[string]struct{}{
	"timestamp": {}, "level": {}, "service": {}, "action": {}, "message": {},
	"hostname": {}, "request_id": {}, "session_id": {},
}

type Logger struct {
	service string
	zl      zerolog.Logger

	mu      sync.Mutex
	closers []io.Closer
}

// NewLogger writes to stdout. Minimum level comes from LOG_LEVEL.
func NewLogger(service string) *Logger {
	return newLogger(service, ParseLevel(os.Getenv("LOG_LEVEL")), os.Stdout)
}

// NewLoggerWithOptions supports minLevel and an optional fileDir (dev).
// If fileDir != "", every line is also appended to fileDir/service.log.
func NewLoggerWithOptions(service, minLevelStr, fileDir string) (*Logger, error) {
	if fileDir == "" {
		return newLogger(service, ParseLevel(minLevelStr), os.Stdout), nil
	}

	if err := os.MkdirAll(fileDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(fileDir, service+".log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := newLogger(service, ParseLevel(minLevelStr), io.MultiWriter(os.Stdout, f))
	l.closers = append(l.closers, f)
	return l, nil
}

// NewWithWriter is used by tests that assert on log output.
func NewWithWriter(service string, w io.Writer, minLevel Level) *Logger {
	return newLogger(service, minLevel, w)
}

// NewNop discards everything.
func NewNop() *Logger {
	return &Logger{service: "nop", zl: zerolog.Nop()}
}

func newLogger(service string, min Level, w io.Writer) *Logger {
	if strings.EqualFold(os.Getenv("LOG_PRETTY"), "true") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	h, _ := os.Hostname()

	zl := zerolog.New(w).
		Level(min.zerolog()).
		With().
		Str("service", service).
		Str("hostname", h).
		Logger()

	return &Logger{service: service, zl: zl}
}

func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.closers {
		_ = c.Close()
	}
	l.closers = nil
}

func (l *Logger) Debug(e Entry) { l.log(LevelDebug, e, nil) }
func (l *Logger) Info(e Entry)  { l.log(LevelInfo, e, nil) }
func (l *Logger) Warn(e Entry)  { l.log(LevelWarn, e, nil) }
func (l *Logger) Error(e Entry) { l.log(LevelError, e, nil) }
func (l *Logger) Fatal(e Entry) {
	if e.Error == nil {
		e.Error = &ErrObj{Msg: e.Message, Stack: string(debug.Stack())}
	} else if e.Error.Stack == "" {
		e.Error.Stack = string(debug.Stack())
	}
	l.log(LevelError, e, nil)
	os.Exit(1)
}

// WithFields returns a "context" logger that merges base into every entry.
func (l *Logger) WithFields(base map[string]any) *ContextLogger {
	return &ContextLogger{parent: l, base: base}
}

// WithContext attaches request_id and session_id.
func (l *Logger) WithContext(requestID, sessionID string) *ContextLogger {
	base := map[string]any{}
	if requestID != "" {
		base["request_id"] = requestID
	}
	if sessionID != "" {
		base["session_id"] = sessionID
	}
	return &ContextLogger{parent: l, base: base}
}

type ContextLogger struct {
	parent *Logger
	base   map[string]any
}

func (c *ContextLogger) Debug(e Entry) { c.parent.log(LevelDebug, e, c.base) }
func (c *ContextLogger) Info(e Entry)  { c.parent.log(LevelInfo, e, c.base) }
func (c *ContextLogger) Warn(e Entry)  { c.parent.log(LevelWarn, e, c.base) }
func (c *ContextLogger) Error(e Entry) { c.parent.log(LevelError, e, c.base) }
func (c *ContextLogger) Fatal(e Entry) { c.parent.Fatal(mergeEntry(e, c.base)) }

func (l *Logger) log(level Level, e Entry, base map[string]any) {
	e = mergeEntry(e, base)

	ev := l.zl.WithLevel(level.zerolog())
	if ev == nil {
		// filtered out by level
		return
	}

	ev = ev.Str("timestamp", time.Now().UTC().Format(time.RFC3339Nano)).
		Str("action", e.Action)
	if e.RequestID != "" {
		ev = ev.Str("request_id", e.RequestID)
	}
	if e.SessionID != "" {
		ev = ev.Str("session_id", e.SessionID)
	}
	if e.Error != nil {
		d := zerolog.Dict().Str("msg", e.Error.Msg)
		if e.Error.Stack != "" {
			d = d.Str("stack", e.Error.Stack)
		}
		ev = ev.Dict("error", d)
	}

	if _, ok := e.Additional["caller"]; !ok {
		if pc, file, line, ok := runtime.Caller(2); ok {
			ev = ev.Str("caller", fmt.Sprintf("%s:%d (%s)", file, line, funcName(runtime.FuncForPC(pc))))
		}
	}
	if len(e.Additional) > 0 {
		ev = ev.Interface("additional", e.Additional)
	}

	ev.Msg(e.Message)
}

func funcName(fn *runtime.Func) string {
	if fn == nil {
		return "unknown"
	}
	return fn.Name()
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func mergeEntry(e Entry, base map[string]any) Entry {
	if len(base) == 0 {
		return e
	}
	add := make(map[string]any, len(e.Additional)+len(base))
	for k, v := range base {
		if _, skip := reserved[k]; skip {
			continue
		}
		add[k] = v
	}
	for k, v := range e.Additional {
		add[k] = v
	}
	e.Additional = add

	if e.RequestID == "" {
		e.RequestID = toString(base["request_id"])
	}
	if e.SessionID == "" {
		e.SessionID = toString(base["session_id"])
	}
	return e
}
