package stats

import (
	"strconv"
	"strings"
)

// NF is written for a column that has no recorded value for an article.
const NF = "NF"

// Value is a single column value of a statistics row. It is either an
// integer or a literal token (usually NF). The text a value was parsed from
// is kept so that rows nobody touched are written back byte for byte.
type Value struct {
	n   int64
	ok  bool
	raw string
}

var NotFound = Value{raw: NF}

func Int(n int64) Value {
	return Value{n: n, ok: true}
}

// ParseValue parses one field of a statistics row. The field text is kept
// as is, surrounding whitespace included.
func ParseValue(token string) Value {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return NotFound
	}
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return Value{raw: token}
	}
	return Value{n: n, ok: true, raw: token}
}

// Int64 returns the integer held by v and whether v is an integer at all.
func (v Value) Int64() (int64, bool) {
	return v.n, v.ok
}

func (v Value) IsNotFound() bool {
	return !v.ok && (v.raw == "" || v.raw == NF)
}

func (v Value) String() string {
	if v.raw != "" {
		return v.raw
	}
	if v.ok {
		return strconv.FormatInt(v.n, 10)
	}
	return NF
}

// NormalizeKey turns an article title into the key used by every table of a
// project: surrounding whitespace is stripped and spaces become underscores.
func NormalizeKey(title string) string {
	return strings.ReplaceAll(strings.TrimSpace(title), " ", "_")
}
