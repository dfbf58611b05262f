package logger

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// leadKeys are printed right after the message, in this order, wherever
// they were attached. A line then always starts with which call on which
// link it is about.
var leadKeys = []string{KeyProcedure, KeyLink, KeyXID}

// maxDataPreview caps how much of a []byte attribute is printed.
const maxDataPreview = 64

// ColorTextHandler implements slog.Handler with a compact line format for
// instrument traffic:
//
//	2025-01-02 15:04:05.000 DEBUG vxi11 call procedure=device_read link=3 error_code=io_timeout duration_ms=1000.412
//
// With color enabled, keys are cyan and error_code/status values are green
// or red depending on the outcome.
type ColorTextHandler struct {
	opts     *slog.HandlerOptions
	w        io.Writer
	mu       *sync.Mutex
	attrs    []slog.Attr
	groups   []string
	useColor bool
}

// NewColorTextHandler creates a new ColorTextHandler
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, useColor bool) *ColorTextHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}

	return &ColorTextHandler{
		opts:     opts,
		w:        w,
		mu:       &sync.Mutex{},
		useColor: useColor,
	}
}

// Enabled reports whether the handler handles records at the given level
func (h *ColorTextHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

// Handle formats and writes a log record
func (h *ColorTextHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	prefix := h.groupPrefix()
	r.Attrs(func(a slog.Attr) bool {
		if prefix != "" {
			a.Key = prefix + a.Key
		}
		attrs = append(attrs, a)
		return true
	})

	// Build outside the lock; only the write is serialized.
	var buf []byte
	buf = fmt.Appendf(buf, "%s %s %s", r.Time.Format("2006-01-02 15:04:05.000"), h.formatLevel(r.Level), r.Message)

	lead := make([]bool, len(attrs))
	for _, key := range leadKeys {
		// The last value wins when a key was attached twice.
		for i := len(attrs) - 1; i >= 0; i-- {
			if attrs[i].Key == key {
				buf = h.appendAttr(buf, "", attrs[i])
				lead[i] = true
				break
			}
		}
	}
	for i, a := range attrs {
		if !lead[i] && !isShadowedLead(attrs, i) {
			buf = h.appendAttr(buf, "", a)
		}
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	_, err := h.w.Write(buf)
	h.mu.Unlock()
	return err
}

// isShadowedLead reports whether attrs[i] is a lead key overridden by a
// later attribute with the same key.
func isShadowedLead(attrs []slog.Attr, i int) bool {
	key := attrs[i].Key
	isLead := false
	for _, k := range leadKeys {
		if k == key {
			isLead = true
			break
		}
	}
	if !isLead {
		return false
	}
	for _, a := range attrs[i+1:] {
		if a.Key == key {
			return true
		}
	}
	return false
}

// formatLevel returns the level string with optional color
func (h *ColorTextHandler) formatLevel(level slog.Level) string {
	var levelStr, color string

	switch {
	case level < slog.LevelInfo:
		levelStr, color = "DEBUG", colorGray
	case level < slog.LevelWarn:
		levelStr, color = "INFO ", colorGreen
	case level < slog.LevelError:
		levelStr, color = "WARN ", colorYellow
	default:
		levelStr, color = "ERROR", colorRed
	}

	if h.useColor {
		return color + levelStr + colorReset
	}
	return levelStr
}

func (h *ColorTextHandler) groupPrefix() string {
	if len(h.groups) == 0 {
		return ""
	}
	return strings.Join(h.groups, ".") + "."
}

// appendAttr formats and appends an attribute. Group attributes are
// flattened into dotted keys.
func (h *ColorTextHandler) appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	if a.Equal(slog.Attr{}) {
		return buf
	}
	a.Value = a.Value.Resolve()

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, prefix+a.Key+".", ga)
		}
		return buf
	}

	key := prefix + a.Key
	val := formatValue(a.Value)

	if !h.useColor {
		return fmt.Appendf(buf, " %s=%s", key, val)
	}
	if color := outcomeColor(a.Key, val); color != "" {
		return fmt.Appendf(buf, " %s%s%s=%s%s%s", colorCyan, key, colorReset, color, val, colorReset)
	}
	return fmt.Appendf(buf, " %s%s%s=%s", colorCyan, key, colorReset, val)
}

// outcomeColor colors VXI-11 error codes and session statuses by whether
// they report success.
func outcomeColor(key, val string) string {
	switch key {
	case KeyErrorCode:
		if val == "no_error" {
			return colorGreen
		}
		return colorRed
	case KeyStatus:
		if strings.HasPrefix(val, "success") {
			return colorGreen
		}
		return colorRed
	}
	return ""
}

// formatValue formats a slog.Value for text output
func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return quoteIfNeeded(v.String())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', 3, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		if b, ok := v.Any().([]byte); ok {
			return formatData(b)
		}
		return quoteIfNeeded(fmt.Sprintf("%v", v.Any()))
	default:
		return v.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// formatData prints instrument data: quoted when it is text such as a SCPI
// response, hex otherwise, cut at maxDataPreview bytes.
func formatData(b []byte) string {
	shown, more := b, ""
	if len(b) > maxDataPreview {
		shown = b[:maxDataPreview]
		more = fmt.Sprintf("...(%d bytes)", len(b))
	}
	if utf8.Valid(shown) && isText(shown) {
		return strconv.Quote(string(shown)) + more
	}
	return "0x" + hex.EncodeToString(shown) + more
}

func isText(b []byte) bool {
	for _, c := range b {
		if c < 0x20 && c != '\n' && c != '\r' && c != '\t' {
			return false
		}
		if c == 0x7f {
			return false
		}
	}
	return true
}

// WithAttrs returns a new handler with additional attrs. Attrs are bound to
// the groups open at this point.
func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := h.clone()
	prefix := h.groupPrefix()
	for _, a := range attrs {
		a.Key = prefix + a.Key
		h2.attrs = append(h2.attrs, a)
	}
	return h2
}

// WithGroup returns a new handler with a group name
func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.groups = append(h2.groups, name)
	return h2
}

func (h *ColorTextHandler) clone() *ColorTextHandler {
	return &ColorTextHandler{
		opts:     h.opts,
		w:        h.w,
		mu:       h.mu,
		attrs:    append([]slog.Attr{}, h.attrs...),
		groups:   append([]string{}, h.groups...),
		useColor: h.useColor,
	}
}
