/*-------------------------------------------------------------------------
 *
 * QPG - Secret Redaction
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package redact

import (
	"net/url"
	"strings"
)

// sensitiveKeys are query-parameter names whose values are never displayed.
var sensitiveKeys = map[string]bool{
	"password": true,
	"passwd":   true,
	"pwd":      true,
	"token":    true,
	"secret":   true,
	"apikey":   true,
	"api_key":  true,
}

// DSN returns a connection string safe for display: the userinfo password
// and any sensitive query values are replaced with "***".
func DSN(dsn string) string {
	parsed, err := url.Parse(dsn)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return dsn
	}

	if parsed.User != nil {
		if _, hasPassword := parsed.User.Password(); hasPassword {
			parsed.User = url.UserPassword(parsed.User.Username(), "***")
		}
	}

	if parsed.RawQuery != "" {
		values, err := url.ParseQuery(parsed.RawQuery)
		if err == nil {
			for key := range values {
				if sensitiveKeys[strings.ToLower(key)] {
					values.Set(key, "***")
				}
			}
			parsed.RawQuery = values.Encode()
		}
	}

	out := parsed.String()
	// url.UserPassword escapes the placeholder; keep it literal.
	return strings.Replace(out, ":%2A%2A%2A@", ":***@", 1)
}

// Secret shortens a secret to a prefix/suffix preview. Secrets shorter than
// the visible window are fully masked.
func Secret(secret string) string {
	return SecretN(secret, 3, 2)
}

// SecretN is Secret with explicit prefix and suffix lengths.
func SecretN(secret string, keepPrefix, keepSuffix int) string {
	if secret == "" {
		return ""
	}
	if keepPrefix < 0 {
		keepPrefix = 0
	}
	if keepSuffix < 0 {
		keepSuffix = 0
	}

	visible := keepPrefix + keepSuffix
	if len(secret) <= visible {
		return strings.Repeat("*", len(secret))
	}
	return secret[:keepPrefix] + "..." + secret[len(secret)-keepSuffix:]
}
