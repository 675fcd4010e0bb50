// Package ids derives the stable identifiers and KV key strings used
// throughout the module: AlbumId/TrackId (C2), the fast filesystem
// identity key the scanner uses to detect unchanged files, and the
// two content-hash flavors the module needs (BLAKE3 for whole-file
// hashing, SHA-1 for the spec-mandated artwork key).
//
// grounded on: internal/util/filekey.go (fast stat key shape),
// original_source/metadata.rs (AlbumId/TrackId field tuples).
package ids

import (
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/musfuse/musfuse/internal/util"
)

// musfuseNamespace anchors the deterministic UUIDv5 derivation so the
// same attribute tuple always yields the same id across runs and
// platforms, per spec.md §4.2.
var musfuseNamespace = uuid.MustParse("6f2a9e3c-2f3a-4f4e-9a9a-6c9e6a9f9c3a")

// AlbumId is the stable identifier for a directory-level album group.
type AlbumId string

// TrackId is the stable identifier for one virtual track file.
type TrackId string

// DeriveAlbumId derives an AlbumId from the attributes spec.md §3
// names as inputs to album identity: the normalized source directory
// path and, when present, the CUE's album title/performer.
func DeriveAlbumId(dirPath, albumTitle, albumPerformer string) AlbumId {
	key := strings.Join([]string{dirPath, albumTitle, albumPerformer}, "\x1f")
	return AlbumId(uuid.NewSHA1(musfuseNamespace, []byte(key)).String())
}

// DisambiguateAlbumId appends the spec.md §4.5 collision suffix
// ("#2", "#3", ...) when two distinct directories derive the same
// AlbumId (e.g. identical album metadata in two locations).
func DisambiguateAlbumId(id AlbumId, ordinal int) AlbumId {
	if ordinal <= 1 {
		return id
	}
	return AlbumId(fmt.Sprintf("%s#%d", id, ordinal))
}

// DeriveTrackId derives a TrackId from (AlbumId, disc, index, source
// file basename), per spec.md §4.2/§3.
func DeriveTrackId(album AlbumId, disc, index int, sourceBasename string) TrackId {
	key := fmt.Sprintf("%s\x1f%02d\x1f%03d\x1f%s", album, disc, index, sourceBasename)
	return TrackId(uuid.NewSHA1(musfuseNamespace, []byte(key)).String())
}

// keySegment matches a single ASCII, colon-free KV key segment.
var keySegment = regexp.MustCompile(`^[A-Za-z0-9_.#-]+$`)

// ValidateKey enforces spec.md §3's KV key constraints: ASCII only,
// at most 256 bytes total, and no bare ':' inside a segment (':' is
// reserved as the namespace separator).
func ValidateKey(segments ...string) error {
	total := 0
	for _, seg := range segments {
		if seg == "" {
			return fmt.Errorf("empty key segment")
		}
		if !keySegment.MatchString(seg) {
			return fmt.Errorf("invalid key segment %q", seg)
		}
		total += len(seg) + 1
	}
	if total > 256 {
		return fmt.Errorf("key exceeds 256 bytes")
	}
	return nil
}

// FileStatKey is the scanner's fast, content-free identity key: SHA-1
// of the cleaned file path. A file keeps the same key across scans, so
// the mtime/size stored under it can be compared with the file's
// current ones to skip re-reading files that haven't changed.
func FileStatKey(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	sum := sha1.Sum([]byte(filepath.Clean(path)))
	return fmt.Sprintf("%x", sum), nil
}

// ContentHash computes the whole-file hash used for
// SourceFile.ContentHash, BLAKE3 rather than SHA-1 since no algorithm
// is mandated here and BLAKE3 is materially faster on the large
// lossless files this module hashes.
func ContentHash(path string) (string, error) {
	// network shares occasionally return a transient EAGAIN/EIO on
	// open; retry with the teacher's exponential backoff rather than
	// failing the whole scan over one flaky read.
	f, err := util.RetryableOpen(path, util.DefaultRetryConfig())
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// ArtworkKey computes the content-addressed artwork cache key:
// SHA-1 over the raw image bytes, per spec.md §4.7's explicit
// "SHA-1 (or equivalent 160-bit)" requirement.
func ArtworkKey(data []byte) string {
	sum := sha1.Sum(data)
	return fmt.Sprintf("%x", sum)
}
