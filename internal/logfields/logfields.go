package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeySession    = "session_id"
	KeyUnit       = "unit"
	KeyGroup      = "group"
	KeyVariant    = "variant"
	KeyOutcome    = "outcome"
	KeyPending    = "pending"
	KeyDurationMS = "duration_ms"
	KeySchedule   = "schedule"
	KeyPath       = "path"
	KeyReason     = "reason"
	KeyError      = "error"

	// HTTP request fields
	KeyMethod     = "method"
	KeyStatus     = "status"
	KeyUserAgent  = "user_agent"
	KeyRemoteAddr = "remote_addr"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Session(id string) slog.Attr      { return slog.String(KeySession, id) }
func Unit(id string) slog.Attr         { return slog.String(KeyUnit, id) }
func Group(g string) slog.Attr         { return slog.String(KeyGroup, g) }
func Variant(v string) slog.Attr       { return slog.String(KeyVariant, v) }
func Outcome(o string) slog.Attr       { return slog.String(KeyOutcome, o) }
func Pending(n int) slog.Attr          { return slog.Int(KeyPending, n) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func Schedule(s string) slog.Attr      { return slog.String(KeySchedule, s) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func Reason(r string) slog.Attr        { return slog.String(KeyReason, r) }
func Method(m string) slog.Attr        { return slog.String(KeyMethod, m) }
func Status(code int) slog.Attr        { return slog.Int(KeyStatus, code) }
func UserAgent(ua string) slog.Attr    { return slog.String(KeyUserAgent, ua) }
func RemoteAddr(addr string) slog.Attr { return slog.String(KeyRemoteAddr, addr) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
