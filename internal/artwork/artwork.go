// Package artwork implements C7: locating embedded or sidecar cover
// art, content-addressing it, and caching both the resolved lookup
// and the blob itself.
//
// grounded on: internal/meta/extractor.go (dhowden/tag embedded
// -picture extraction; the teacher has no sidecar-file logic, so that
// half is new), original_source/filesystem.rs (cover_image resolution
// concept). Sidecar decode sanity-check uses golang.org/x/image
// (grounded on handiism-BandcampDownloader); resolution caching uses
// karlseguin/ccache/v3 (grounded on xeptore-tgtd).
package artwork

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/karlseguin/ccache/v3"
	_ "golang.org/x/image/webp"

	"github.com/musfuse/musfuse/internal/ids"
	"github.com/musfuse/musfuse/internal/kvstore"
	"github.com/musfuse/musfuse/internal/musfuseerr"
)

// Blob is a resolved piece of artwork: raw bytes, MIME, and its
// content-addressed hash, per spec.md §3's ArtworkBlob.
type Blob struct {
	Data []byte
	MIME string
	Hash string
}

var sidecarNames = []string{"cover", "folder"}
var sidecarExts = []string{".jpg", ".jpeg", ".png", ".webp"}

// Extractor resolves and caches artwork.
type Extractor struct {
	store *kvstore.Store
	cache *ccache.Cache[*Blob]
}

// New constructs an Extractor. The in-process cache fronts repeated
// lookups within a process lifetime so re-opening the same track
// doesn't re-hash or re-read the source file each time.
func New(store *kvstore.Store) *Extractor {
	return &Extractor{
		store: store,
		cache: ccache.New(ccache.Configure[*Blob]().MaxSize(1000)),
	}
}

// Resolve implements C7's resolution order for a track whose source
// audio file lives at sourcePath: (1) embedded picture, (2) sidecar
// cover.*/folder.* in the source directory, (3) none (nil, nil).
func (e *Extractor) Resolve(ctx context.Context, trackID string, sourcePath string) (*Blob, error) {
	if item := e.cache.Get(trackID); item != nil {
		return item.Value(), nil
	}

	blob, err := e.resolveUncached(ctx, sourcePath)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, nil
	}

	if err := e.persist(ctx, blob); err != nil {
		return nil, err
	}

	e.cache.Set(trackID, blob, 10*time.Minute)
	return blob, nil
}

func (e *Extractor) resolveUncached(ctx context.Context, sourcePath string) (*Blob, error) {
	if blob, err := embeddedPicture(sourcePath); err != nil {
		return nil, err
	} else if blob != nil {
		return blob, nil
	}
	return sidecarPicture(filepath.Dir(sourcePath))
}

func embeddedPicture(sourcePath string) (*Blob, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return nil, musfuseerr.Wrapf(musfuseerr.Io, err, "open %s", sourcePath)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, nil
	}
	pic := m.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return nil, nil
	}

	mime := detectMIME(pic.Data)
	return &Blob{Data: pic.Data, MIME: mime, Hash: ids.ArtworkKey(pic.Data)}, nil
}

func sidecarPicture(dir string) (*Blob, error) {
	for _, name := range sidecarNames {
		for _, ext := range sidecarExts {
			candidate := filepath.Join(dir, name+ext)
			data, err := os.ReadFile(candidate)
			if err != nil {
				// case-insensitive retry, since spec.md requires
				// case-insensitive sidecar matching.
				data, err = readCaseInsensitive(dir, name+ext)
				if err != nil {
					continue
				}
			}
			if !decodesAsImage(data) {
				continue
			}
			mime := detectMIME(data)
			return &Blob{Data: data, MIME: mime, Hash: ids.ArtworkKey(data)}, nil
		}
	}
	return nil, nil
}

func readCaseInsensitive(dir, target string) ([]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if strings.EqualFold(e.Name(), target) {
			return os.ReadFile(filepath.Join(dir, e.Name()))
		}
	}
	return nil, fmt.Errorf("not found: %s", target)
}

// decodesAsImage is the sanity check spec.md implicitly expects of a
// resolved sidecar: a file merely named cover.jpg but not actually a
// decodable image must not be cached as artwork.
func decodesAsImage(data []byte) bool {
	_, _, err := image.Decode(bytes.NewReader(data))
	return err == nil
}

func detectMIME(data []byte) string {
	return http.DetectContentType(data)
}

// persist writes the artwork blob to the artwork:{hash} namespace if
// not already present — content-addressed writes are idempotent by
// construction, per spec.md §4.7's "repeated extraction... must be a
// no-op write."
func (e *Extractor) persist(ctx context.Context, blob *Blob) error {
	key := kvstore.ArtworkKey(blob.Hash)
	existing, err := e.store.Backend().Get(ctx, key)
	if err != nil {
		return musfuseerr.Wrapf(musfuseerr.Io, err, "check artwork %s", blob.Hash)
	}
	if existing != nil {
		return nil
	}
	payload := artworkPayload{MIME: blob.MIME, Data: blob.Data}
	return kvstore.StoreJSON(ctx, e.store, key, payload)
}

type artworkPayload struct {
	MIME string `json:"mime"`
	Data []byte `json:"data"`
}
