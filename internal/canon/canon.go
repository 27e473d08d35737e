// Package canon provides the canonical JSON encoding used for every
// checksum in the engine. All hashing routes through Encode so that two
// semantically equal payloads always produce the same bytes: keys sorted
// lexicographically, compact separators, timestamps in ISO-8601 UTC with
// a +00:00 offset, numbers emitted exactly as encoding/json renders them.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the canonical wire form for UTC timestamps.
const TimestampLayout = "2006-01-02T15:04:05+00:00"

// Timestamp renders t in the canonical UTC form.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

/// ParseTimestamp accepts the canonical +00:00 form as well as RFC3339
// variants ("Z" suffix, fractional seconds) seen in legacy records.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{TimestampLayout, time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("canon: unparseable timestamp %q", s)
}

// Encode returns the canonical JSON encoding of v. Struct values are
// flattened through their json tags first, so any value that
// encoding/json accepts can be canonicalized.
func Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("canon: decode: %w", err)
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Checksum returns hex(sha256(Encode(v))).
func Checksum(v any) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// ChecksumShort truncates Checksum to n hex characters. Used for the
// 32-char input/output stability hashes.
func ChecksumShort(v any, n int) (string, error) {
	full, err := Checksum(v)
	if err != nil {
		return "", err
	}
	if n > len(full) {
		n = len(full)
	}
	return full[:n], nil
}

// HashString returns hex(sha256(s)). Callers compose pre-canonicalized
// strings (e.g. "match_id:evidence_hash") and hash them directly.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(t.String())
	case string:
		return writeString(buf, normalizeTimestampString(t))
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		// default → str rule for non-JSON scalars
		return writeString(buf, fmt.Sprintf("%v", t))
	}
	return nil
}

// normalizeTimestampString rewrites RFC3339 "Z"-suffixed instants to the
// canonical +00:00 offset so that time.Time fields marshalled by
// encoding/json hash identically to pre-formatted canonical strings.
func normalizeTimestampString(s string) string {
	if !strings.HasSuffix(s, "Z") || len(s) < len("2006-01-02T15:04:05Z") {
		return s
	}
	if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
		return s
	}
	return strings.TrimSuffix(s, "Z") + "+00:00"
}

func writeString(buf *bytes.Buffer, s string) error {
	// encoding/json escaping without HTML mangling of <, >, &.
	quoted := strconv.Quote(s)
	buf.WriteString(quoted)
	return nil
}
