package storage

import (
	"errors"
	"path"
	"strings"
)

// RawTextName is the object name for inline submissions and extraction output.
const RawTextName = "raw_text.txt"

var ErrInvalidFileName = errors.New("invalid file name")

// JobObjectPath returns the object path of name inside the job's prefix.
func JobObjectPath(jobID, name string) string {
	return jobID + "/" + name
}

// TextPath returns the sibling raw_text.txt path for an object path.
// Objects at the container root produce a root-level raw_text.txt.
func TextPath(blobPath string) string {
	dir := path.Dir(blobPath)
	if dir == "." || dir == "/" {
		return RawTextName
	}
	return dir + "/" + RawTextName
}

// JobIDFromPath returns the first path segment, which is the job prefix.
func JobIDFromPath(blobPath string) string {
	blobPath = strings.TrimPrefix(blobPath, "/")
	if i := strings.IndexByte(blobPath, '/'); i >= 0 {
		return blobPath[:i]
	}
	return ""
}

// CleanFileName keeps the last element of a submitted filename so an upload can
// never escape its job prefix. Both slash styles count as separators.
func CleanFileName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(name)
	switch base {
	case "", ".", "..", "/":
		return "", ErrInvalidFileName
	}
	return base, nil
}
