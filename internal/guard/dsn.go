/*-------------------------------------------------------------------------
 *
 * QPG - Connection Guard DSN Normalization
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package guard

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	// Session settings enforced on every source-database connection.
	ReadOnlySetting       = "default_transaction_read_only=on"
	StatementTimeout      = "5s"
	IdleInTransactionIdle = "10s"
)

var guardOptions = []string{
	"-c " + ReadOnlySetting,
	"-c statement_timeout=" + StatementTimeout,
	"-c idle_in_transaction_session_timeout=" + IdleInTransactionIdle,
}

var optionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:^|\s)-c\s*default_transaction_read_only\s*=`),
	regexp.MustCompile(`(?i)(?:^|\s)-c\s*statement_timeout\s*=`),
	regexp.MustCompile(`(?i)(?:^|\s)-c\s*idle_in_transaction_session_timeout\s*=`),
}

func mergeOptions(existing []string) string {
	parts := make([]string, 0, len(existing))
	for _, value := range existing {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	merged := strings.Join(parts, " ")
	for i, pattern := range optionPatterns {
		if pattern.MatchString(merged) {
			continue
		}
		if merged != "" {
			merged += " "
		}
		merged += guardOptions[i]
	}
	return merged
}

// EnforceReadOnlyDSN merges the read-only session options into the DSN's
// options query parameter. Non-URL DSNs are returned unchanged. The result
// is what gets stored in the catalog; passwords are never added here.
func EnforceReadOnlyDSN(dsn string) string {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	if (parsed.Scheme != "postgres" && parsed.Scheme != "postgresql") || parsed.Host == "" {
		return dsn
	}

	query, err := url.ParseQuery(parsed.RawQuery)
	if err != nil {
		return dsn
	}

	var optionValues []string
	passthrough := url.Values{}
	for key, values := range query {
		if strings.EqualFold(key, "options") {
			optionValues = append(optionValues, values...)
		} else {
			passthrough[key] = values
		}
	}

	passthrough.Set("options", mergeOptions(optionValues))
	parsed.RawQuery = passthrough.Encode()
	return parsed.String()
}

// DSNHasPassword reports whether the DSN embeds a non-empty password.
func DSNHasPassword(dsn string) bool {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return false
	}
	if (parsed.Scheme != "postgres" && parsed.Scheme != "postgresql") || parsed.User == nil {
		return false
	}
	password, set := parsed.User.Password()
	return set && password != ""
}

// DSNWithPassword returns the DSN with the given password injected into the
// userinfo section. Used for passwords supplied out-of-band on stdin.
func DSNWithPassword(dsn, password string) string {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	if (parsed.Scheme != "postgres" && parsed.Scheme != "postgresql") || parsed.User == nil {
		return dsn
	}
	parsed.User = url.UserPassword(parsed.User.Username(), password)
	return parsed.String()
}
