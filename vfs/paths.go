package vfs

import (
	"fmt"
	"path"
	"strings"
)

// NormalizeTarget canonicalizes a VFS destination directory path.
// The empty string means the source root: NormalizeTarget("") == "/".
func NormalizeTarget(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = path.Clean(p)
	return p
}

// DestPath joins a destination directory and an entry name.
// DestPath("/", "a") == "/a"; DestPath("/a/b", "c") == "/a/b/c".
func DestPath(dir, name string) string {
	dir = NormalizeTarget(dir)
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// IsSelfOrDescendant reports whether dest is the source path itself or a
// descendant of it. Pasting a folder into itself would recurse forever, so
// such targets are always rejected; siblings and ancestors are allowed.
func IsSelfOrDescendant(dest, src string) bool {
	return dest == src || strings.HasPrefix(dest, src+"/")
}

// maxCopySuffix bounds the disambiguation loop. Hitting it means the
// destination holds hundreds of prior copies; surface ErrNameConflict.
const maxCopySuffix = 1000

// Disambiguate returns a destination path that does not collide with an
// existing entry, appending " copy", then " copy 2", and so on before the
// extension. Directories get the suffix appended to the full name.
// exists reports whether a candidate path is already taken.
func Disambiguate(target string, isDir bool, exists func(string) bool) (string, error) {
	if !exists(target) {
		return target, nil
	}

	dir := path.Dir(target)
	base := path.Base(target)
	ext := ""
	stem := base
	if !isDir {
		ext = path.Ext(base)
		stem = base[:len(base)-len(ext)]
	}

	for n := 1; n <= maxCopySuffix; n++ {
		suffix := " copy"
		if n > 1 {
			suffix = fmt.Sprintf(" copy %d", n)
		}
		candidate := DestPath(dir, stem+suffix+ext)
		if !exists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no free name for %s", ErrNameConflict, target)
}

// ProgressPercentage converts a byte count into a 0–100 progress value.
// A zero total reports 0, never a division error.
func ProgressPercentage(bytes, total int64) int {
	if total <= 0 {
		return 0
	}
	pct := int(bytes * 100 / total)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
