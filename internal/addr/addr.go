package addr

import "strings"

// Normalize canonicalizes an email address for comparison and storage:
// lowercase, trimmed, "mailto:" prefix removed, and the inner portion
// extracted from a display form like `Jane Doe <jane@example.com>`.
// Bracket-malformed input normalizes to the empty string.
func Normalize(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return ""
	}

	normalized = strings.TrimPrefix(normalized, "mailto:")

	if strings.ContainsAny(normalized, "<>") {
		lt := strings.LastIndex(normalized, "<")
		if lt == -1 {
			return ""
		}
		gt := strings.Index(normalized[lt+1:], ">")
		if gt == -1 {
			return ""
		}
		normalized = strings.TrimSpace(normalized[lt+1 : lt+1+gt])
	}

	return normalized
}

// SplitList splits raw address values on commas, semicolons and newlines,
// normalizes each piece, and deduplicates preserving first-seen order.
func SplitList(values ...string) []string {
	var out []string
	seen := make(map[string]struct{})

	for _, raw := range values {
		if raw == "" {
			continue
		}
		replaced := strings.NewReplacer(";", ",", "\n", ",").Replace(raw)
		for _, part := range strings.Split(replaced, ",") {
			normalized := Normalize(part)
			if normalized == "" {
				continue
			}
			if _, ok := seen[normalized]; ok {
				continue
			}
			seen[normalized] = struct{}{}
			out = append(out, normalized)
		}
	}

	return out
}

// IdentitySet builds a membership set from raw sender identity values.
func IdentitySet(values ...string) map[string]struct{} {
	identities := make(map[string]struct{})
	for _, v := range SplitList(values...) {
		identities[v] = struct{}{}
	}
	return identities
}

// TargetsIdentity reports whether any recipient address matches one of the
// given identity addresses. CC recipients are considered only when includeCC
// is set.
func TargetsIdentity(to, cc []string, identities map[string]struct{}, includeCC bool) bool {
	if len(identities) == 0 {
		return false
	}

	recipients := to
	if includeCC {
		recipients = append(append([]string{}, to...), cc...)
	}

	for _, recipient := range recipients {
		normalized := Normalize(recipient)
		if normalized == "" {
			continue
		}
		if _, ok := identities[normalized]; ok {
			return true
		}
	}
	return false
}
