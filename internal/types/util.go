package types

import "strings"

// ExtractExtension returns the lower-cased suffix after the final '.' in
// name, or "" if there is no '.', the '.' is the first character, or nothing
// follows it. See testable property #9.
func ExtractExtension(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 || idx == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[idx+1:])
}

// EscapeSingleQuotes doubles every single quote in s, matching SQL string
// literal escaping. Idempotent under repeated application in the sense that
// escaping an already-escaped string doubles each existing "''" pair again
// (testable property #10): escaping twice equals escaping once then
// replacing "''" with "''''".
func EscapeSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// ParentPath builds the parent_path value for a child of dirPath: dirPath
// with a trailing '/', or "/" for the root.
func ParentPath(dirPath string) string {
	if dirPath == "" || dirPath == "/" {
		return "/"
	}
	if strings.HasSuffix(dirPath, "/") {
		return dirPath
	}
	return dirPath + "/"
}

// NormalizeOwnerUID returns the sentinel "-" for an unset owner UID.
func NormalizeOwnerUID(uid string) string {
	if uid == "" {
		return "-"
	}
	return uid
}

// MergeSource implements §4.7's attribute source merge: adds s to the
// comma-separated csv iff not already present, preserving order.
func MergeSource(csv, s string) string {
	if s == "" {
		return csv
	}
	if csv == "" {
		return s
	}
	for _, existing := range strings.Split(csv, ",") {
		if existing == s {
			return csv
		}
	}
	return csv + "," + s
}

// MaxSignificance returns the higher-severity of a and b (§4.6).
func MaxSignificance(a, b Significance) Significance {
	if a.Rank() >= b.Rank() {
		return a
	}
	return b
}
