package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// unsafeChars are characters that are invalid or risky on common
// filesystems. They are replaced with underscores.
var unsafeChars = []string{
	"/", "\\", ":", "*", "?", "\"", "<", ">", "|", "\x00",
	"$", "#", "@", "&", "%", "!", "`", "^",
	"(", ")", "{", "}", "[", "]", "=", "+", "~", ",", ";",
}

// SanitizeFilename turns an arbitrary remote filename into a name that is
// safe to create on disk. Path separators and traversal sequences are
// stripped, unsafe characters and spaces become underscores, and an empty
// result falls back to "unnamed".
func SanitizeFilename(name string) string {
	// Drop any directory components the remote side smuggled in.
	name = strings.ReplaceAll(name, "\\", "/")
	if idx := strings.LastIndex(name, "/"); idx != -1 {
		name = name[idx+1:]
	}
	name = strings.ReplaceAll(name, "..", "")

	for _, ch := range unsafeChars {
		name = strings.ReplaceAll(name, ch, "_")
	}
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.Trim(name, ". ")

	if name == "" {
		return "unnamed"
	}
	return name
}

// EnsureAbsPath converts a path to absolute, falling back to the input if
// resolution fails.
func EnsureAbsPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// FileExistsWithSize reports whether a regular file exists at path with
// exactly the given size. A want of 0 matches any non-empty file, since
// many sources do not report sizes up front.
func FileExistsWithSize(path string, want int64) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if want <= 0 {
		return info.Size() > 0
	}
	return info.Size() == want
}

// ConvertBytesToHumanReadable formats a byte count as B/KB/MB/GB.
func ConvertBytesToHumanReadable(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
