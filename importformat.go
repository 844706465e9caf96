package gateway

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// formatTokenRe matches one field-name token in an account-import format
// string (e.g. "username", "emailPassword", "ANY").
var formatTokenRe = regexp.MustCompile(`[A-Za-z][A-Za-z0-9]*`)

// compileAccountFormat turns a format string like
// "username:password:email:emailPassword:authToken:twoFactorSecret" (with
// ANY as a wildcard field to ignore) into a regexp with one named capture
// group per recognized field; format separators are escaped and matched
// literally, per spec.md §6's bulk-import contract. Grounded on the
// teacher's fixed 5-field ParseAccounts in account.go, generalized from a
// hardcoded split to an arbitrary field layout.
func compileAccountFormat(format string) (*regexp.Regexp, error) {
	var pattern strings.Builder
	pattern.WriteString("^")

	last := 0
	for _, loc := range formatTokenRe.FindAllStringIndex(format, -1) {
		start, end := loc[0], loc[1]
		if start > last {
			pattern.WriteString(regexp.QuoteMeta(format[last:start]))
		}
		name := format[start:end]
		if name == "ANY" {
			pattern.WriteString(`.*?`)
		} else {
			pattern.WriteString(fmt.Sprintf(`(?P<%s>.*?)`, name))
		}
		last = end
	}
	if last < len(format) {
		pattern.WriteString(regexp.QuoteMeta(format[last:]))
	}
	pattern.WriteString("$")

	re, err := regexp.Compile(pattern.String())
	if err != nil {
		return nil, fmt.Errorf("compile account format %q: %w", format, err)
	}
	return re, nil
}

// ParseAccountRecords parses newline-separated account records using
// format into Credentials, per spec.md §6. Lines that fail to match the
// format are skipped with a warning rather than aborting the whole import,
// matching the teacher's per-entry tolerance in ParseAccounts.
func ParseAccountRecords(format, raw string) ([]Credential, error) {
	re, err := compileAccountFormat(format)
	if err != nil {
		return nil, err
	}

	var out []Credential
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := re.FindStringSubmatch(line)
		if m == nil {
			slog.Warn("import: line does not match account format, skipping")
			continue
		}
		fields := make(map[string]string, len(m))
		for i, name := range re.SubexpNames() {
			if i == 0 || name == "" {
				continue
			}
			fields[name] = m[i]
		}
		out = append(out, Credential{
			Username:        fields["username"],
			Password:        fields["password"],
			Email:           fields["email"],
			EmailPassword:   fields["emailPassword"],
			AuthToken:       fields["authToken"],
			TwoFactorSecret: fields["twoFactorSecret"],
		})
	}
	return out, nil
}
