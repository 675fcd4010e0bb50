package kvstore

import "fmt"

// Namespace enumerates the KV key prefixes spec.md §3's "KV namespace
// layout" table defines. Mirrors original_source/kv.rs's KvNamespace
// enum, renamed to the Go-idiomatic constant set.
type Namespace string

const (
	NamespaceTrack    Namespace = "track"
	NamespaceAlbum    Namespace = "album"
	NamespaceArtwork  Namespace = "artwork"
	NamespaceCue      Namespace = "cue"
	NamespaceFileStat Namespace = "file"
	NamespaceCache    Namespace = "cache"
	NamespacePolicy   Namespace = "policy"
)

// TrackOverlayKey is the track:{AlbumId}:{disc}:{index}:overlay entry
// holding the TagMap delta C6 reads and writes, exactly per spec.md
// §3's KV namespace table.
func TrackOverlayKey(albumID string, disc, index int) string {
	return fmt.Sprintf("%s:%s:%d:%d:overlay", NamespaceTrack, albumID, disc, index)
}

// TrackCoverKey is the track:{AlbumId}:{disc}:{index}:cover entry
// holding a per-track artwork override, when a track's cover differs
// from its album's.
func TrackCoverKey(albumID string, disc, index int) string {
	return fmt.Sprintf("%s:%s:%d:%d:cover", NamespaceTrack, albumID, disc, index)
}

// AlbumCoverKey is the album:{AlbumId}:cover entry.
func AlbumCoverKey(albumID string) string {
	return fmt.Sprintf("%s:%s:cover", NamespaceAlbum, albumID)
}

// AlbumCueKey is the album:{AlbumId}:cue entry, binary (CBOR) encoded
// per spec.md §3.
func AlbumCueKey(albumID string) string {
	return fmt.Sprintf("%s:%s:cue", NamespaceAlbum, albumID)
}

// ArtworkKey is the artwork:{hash} entry holding the raw image bytes
// and MIME for a content-addressed cover.
func ArtworkKey(hash string) string {
	return fmt.Sprintf("%s:%s", NamespaceArtwork, hash)
}

// FileStatKey is the file:{path-hash}:stat entry the scanner uses to
// detect unchanged files between scans.
func FileStatKey(pathHash string) string {
	return fmt.Sprintf("%s:%s:stat", NamespaceFileStat, pathHash)
}

// ScanLastRunKey is the scan:last_run entry.
const ScanLastRunKey = "scan:last_run"

// PolicyKey is the policy:{profile} entry holding a named policy
// profile's configuration.
func PolicyKey(profile string) string {
	return fmt.Sprintf("%s:%s", NamespacePolicy, profile)
}
