package flow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/sifxtreme/jarvis-sub000/internal/models"
)

// DefaultIdempotencyWindow is how long a repeated identical action is
// treated as a duplicate rather than re-executed.
const DefaultIdempotencyWindow = 120 * time.Second

// Signature computes the deterministic fingerprint of a side-effecting
// action: sha256 over action type, user id, and the canonicalized payload.
func Signature(actionType, userID string, payload any) string {
	h := sha256.New()
	h.Write([]byte(actionType))
	h.Write([]byte{'|'})
	h.Write([]byte(userID))
	h.Write([]byte{'|'})
	h.Write([]byte(canonicalJSON(payload)))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON renders a payload as JSON with keys in sorted order and
// empty values dropped, so logically identical payloads always produce the
// same bytes.
func canonicalJSON(payload any) string {
	b, err := json.Marshal(payload)
	if err != nil {
		slog.Error("flow.canonicalJSON marshal failed", "error", err)
		return ""
	}
	parsed := gjson.ParseBytes(b)
	if !parsed.IsObject() {
		return string(b)
	}

	keys := make([]string, 0)
	values := make(map[string]gjson.Result)
	parsed.ForEach(func(key, value gjson.Result) bool {
		if value.String() == "" && value.Type == gjson.String {
			return true
		}
		keys = append(keys, key.String())
		values[key.String()] = value
		return true
	})
	sort.Strings(keys)

	out := "{}"
	for _, k := range keys {
		out, err = sjson.SetRaw(out, k, values[k].Raw)
		if err != nil {
			slog.Error("flow.canonicalJSON set failed", "error", err, "key", k)
			return string(b)
		}
	}
	return out
}

// IdempotencyGuard short-circuits repeated execution of the same logical
// action within a time window.
type IdempotencyGuard struct {
	window time.Duration
}

// NewIdempotencyGuard creates a guard with the given window; zero or negative
// uses the default.
func NewIdempotencyGuard(window time.Duration) *IdempotencyGuard {
	if window <= 0 {
		window = DefaultIdempotencyWindow
	}
	return &IdempotencyGuard{window: window}
}

// IsDuplicate reports whether the thread's last recorded action matches the
// given signature inside the window. A hit is logged with a distinct
// duplicate status for observability.
func (g *IdempotencyGuard) IsDuplicate(last *models.LastAction, actionType, signature string, now time.Time) bool {
	if last == nil {
		return false
	}
	if last.ActionType != actionType || last.Signature != signature {
		return false
	}
	if now.Sub(last.CreatedAt) >= g.window {
		return false
	}
	slog.Info("IdempotencyGuard: duplicate action suppressed",
		"status", "duplicate", "actionType", actionType, "age", now.Sub(last.CreatedAt))
	return true
}
