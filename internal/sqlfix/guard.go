package sqlfix

import (
	"regexp"
	"strings"

	"cohortpulse/internal/errors"
)

var (
	leadingKeyword   = regexp.MustCompile(`(?i)^\s*(?:SELECT|WITH)\b`)
	forbiddenKeyword = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|MERGE|DROP|ALTER|TRUNCATE|CREATE|GRANT|REVOKE|COPY|VACUUM|CALL|DO)\b`)
)

// EnsureReadOnly rejects anything but a single SELECT/WITH statement and
// returns the statement with surrounding whitespace and a trailing
// semicolon removed. Keywords inside quoted strings are ignored.
func EnsureReadOnly(sql string) (string, error) {
	stmt := strings.TrimSpace(sql)
	stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))
	if stmt == "" {
		return "", errors.UnsafeQuery("empty statement")
	}

	code := maskQuoted(stmt)
	if strings.Contains(code, ";") {
		return "", errors.UnsafeQuery("multiple statements")
	}
	if !leadingKeyword.MatchString(code) {
		return "", errors.UnsafeQuery("only SELECT queries are allowed")
	}
	if kw := forbiddenKeyword.FindString(code); kw != "" {
		return "", errors.UnsafeQuery(strings.ToUpper(kw) + " is not allowed")
	}
	return stmt, nil
}

// maskQuoted blanks the contents of single-quoted strings and
// double-quoted identifiers so keyword scans only see SQL text.
func maskQuoted(s string) string {
	out := []byte(s)
	var quote byte
	for i := 0; i < len(out); i++ {
		ch := out[i]
		switch {
		case quote == 0 && (ch == '\'' || ch == '"'):
			quote = ch
		case quote != 0 && ch == quote:
			// '' inside a string is an escaped quote
			if i+1 < len(out) && out[i+1] == quote {
				out[i], out[i+1] = ' ', ' '
				i++
				continue
			}
			quote = 0
		case quote != 0:
			out[i] = ' '
		}
	}
	return string(out)
}
