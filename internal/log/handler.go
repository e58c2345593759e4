package log

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"strings"
)

// MaskValue replaces sensitive attribute values in log output.
const MaskValue = "***REDACTED***"

// sensitiveKeys lists attribute keys whose values are always masked.
// Control-port credentials and session material must never reach logs:
// an attacker reading logs could rotate or hijack circuits at will.
var sensitiveKeys = map[string]bool{
	// Tor control port
	"control_password": true,
	"controlpassword":  true,
	"auth_cookie":      true,
	"authcookie":       true,
	"cookie_path":      true,

	// HTTP
	"authorization":       true,
	"cookie":              true,
	"set-cookie":          true,
	"proxy-authorization": true,

	// Generic credentials
	"password": true,
	"passwd":   true,
	"secret":   true,
	"token":    true,
	"session":  true,
}

// sensitivePatterns matches values that look like credentials regardless
// of the attribute key they travel under.
var sensitivePatterns = []*regexp.Regexp{
	// Tor control auth cookie contents (32 bytes, hex encoded)
	regexp.MustCompile(`^[0-9a-fA-F]{64}$`),

	// AUTHENTICATE lines echoed from control-port traffic
	regexp.MustCompile(`(?i)^authenticate\s+\S+`),

	// Basic auth headers
	regexp.MustCompile(`(?i)^basic\s+[A-Za-z0-9+/=]+$`),
}

// RedactingHandler wraps an slog.Handler and masks sensitive attribute
// values before they reach the underlying handler. It works with any
// backend handler (text, JSON) and with libraries that accept a
// *slog.Logger, including tornago.
type RedactingHandler struct {
	handler slog.Handler
}

// NewRedactingHandler wraps the given handler. A nil handler falls back
// to slog.Default().Handler().
func NewRedactingHandler(handler slog.Handler) *RedactingHandler {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &RedactingHandler{handler: handler}
}

// Enabled delegates to the underlying handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle masks the record's attributes and forwards it.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	masked := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		masked.AddAttrs(h.maskAttr(a))
		return true
	})
	return h.handler.Handle(ctx, masked)
}

// WithAttrs returns a new handler with the given attributes added,
// masked first.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	maskedAttrs := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		maskedAttrs[i] = h.maskAttr(a)
	}
	return &RedactingHandler{handler: h.handler.WithAttrs(maskedAttrs)}
}

// WithGroup returns a new handler with the given group name.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{handler: h.handler.WithGroup(name)}
}

// maskAttr masks a single attribute, recursing into groups.
func (h *RedactingHandler) maskAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		maskedAttrs := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			maskedAttrs[i] = h.maskAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(maskedAttrs...)}
	}

	key := strings.ToLower(a.Key)
	if sensitiveKeys[key] || containsSensitiveKeyword(key) {
		return slog.String(a.Key, MaskValue)
	}

	if a.Value.Kind() == slog.KindString && isSensitiveValue(a.Value.String()) {
		return slog.String(a.Key, MaskValue)
	}

	return a
}

// containsSensitiveKeyword reports whether the key embeds a credential
// keyword. The bare word "key" is excluded on purpose; it appears in
// harmless keys like "node_key" and "primary_key".
func containsSensitiveKeyword(key string) bool {
	for _, keyword := range []string{"password", "passwd", "secret", "token", "credential", "auth"} {
		if strings.Contains(key, keyword) {
			return true
		}
	}
	return false
}

// isSensitiveValue reports whether the value matches a credential pattern.
func isSensitiveValue(value string) bool {
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}

// New creates a *slog.Logger writing text records to w with credential
// masking. When verbose is true the level is Debug, otherwise Info.
func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(NewRedactingHandler(handler))
}

// NewJSON creates a *slog.Logger writing JSON records to w with
// credential masking, for structured log aggregation.
func NewJSON(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(NewRedactingHandler(handler))
}
