package cloudfiles

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"path/filepath"
	"strings"
)

// IdentityLength is the byte length of a placeholder identity token.
const IdentityLength = 16

// NormalizePath canonicalizes a sync-root-relative path: forward slashes,
// no leading or trailing slash, no dot segments. The empty string denotes
// the sync root itself.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return ""
	}
	return p
}

// FullPath maps a normalized relative path to its absolute on-disk location
// under the sync root.
func FullPath(root, relativePath string) string {
	rel := NormalizePath(relativePath)
	if rel == "" {
		return filepath.Clean(root)
	}
	return filepath.Join(root, filepath.FromSlash(rel))
}

// Identity derives the stable opaque identity token the host uses to
// correlate a placeholder with this provider's bookkeeping. The same
// relative path always yields the same token.
func Identity(relativePath string) []byte {
	sum := sha256.Sum256([]byte(NormalizePath(relativePath)))
	identity := make([]byte, IdentityLength)
	copy(identity, sum[:IdentityLength])
	return identity
}

// IdentityString is the hex form of Identity, used for logs and bookkeeping.
func IdentityString(relativePath string) string {
	return hex.EncodeToString(Identity(relativePath))
}
