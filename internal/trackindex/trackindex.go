// Package trackindex implements C5: joining audio files and CUE
// sheets discovered by C3 into a TrackIndex of AlbumEntry/TrackEntry
// records, persisting parsed CUE sheets to album:*:cue.
//
// grounded on: original_source/track.rs (TrackMapper::from_cue shape,
// extended here to compute real sample rates and EOF-derived last
// -track length rather than hardcoding them), internal/meta/ffprobe.go
// (probe.Run reuse for sample rate detection).
package trackindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/musfuse/musfuse/internal/artwork"
	"github.com/musfuse/musfuse/internal/cuesheet"
	"github.com/musfuse/musfuse/internal/ids"
	"github.com/musfuse/musfuse/internal/kvstore"
	"github.com/musfuse/musfuse/internal/probe"
	"github.com/musfuse/musfuse/internal/scan"
)

// albumAssignment tracks, for one Map call, which directory first
// claimed each base AlbumId — the state the `#2`/`#3` collision
// tie-break in resolveAlbumID needs.
type albumAssignment struct {
	dirOf   map[ids.AlbumId]string
	ordinal map[ids.AlbumId]int
}

func newAlbumAssignment() *albumAssignment {
	return &albumAssignment{
		dirOf:   make(map[ids.AlbumId]string),
		ordinal: make(map[ids.AlbumId]int),
	}
}

// Policy is the format-handling decision a TrackEntry carries,
// assigned here and consumed by C8. Defined in this package (not
// transcode) because the mapper is where the CUE-subdivided-always
// -converts rule from spec.md §4.8 is known.
type Policy string

const (
	PolicyPassthroughLossy Policy = "PassthroughLossy"
	PolicyConvertLossless  Policy = "ConvertLossless"
)

// TrackEntry is a virtual track, per spec.md §3.
type TrackEntry struct {
	TrackId       ids.TrackId
	AlbumId       ids.AlbumId
	Disc          int
	Index         int
	Title         string
	Performer     string
	SourcePath    string
	StartFrames   int64
	LengthFrames  int64
	SampleRate    int
	Channels      int
	BitDepth      int
	Policy        Policy
	CueSubdivided bool
}

// AlbumEntry groups an album's ordered tracks and cover reference.
type AlbumEntry struct {
	AlbumId     ids.AlbumId
	DisplayName string
	TrackIds    []ids.TrackId
	CoverHash   string // empty if none resolved yet
}

// Index is the full mapped result: every album and every track,
// keyed for O(1) lookup by C10.
type Index struct {
	Albums map[ids.AlbumId]*AlbumEntry
	Tracks map[ids.TrackId]*TrackEntry
}

func newIndex() *Index {
	return &Index{
		Albums: make(map[ids.AlbumId]*AlbumEntry),
		Tracks: make(map[ids.TrackId]*TrackEntry),
	}
}

// directoryGroup is one candidate album: all SourceFiles sharing a
// parent directory.
type directoryGroup struct {
	dir   string
	audio []scan.SourceFile
	cues  []scan.SourceFile
}

// Mapper builds a TrackIndex from scan results.
type Mapper struct {
	store   *kvstore.Store
	artwork *artwork.Extractor
	logger  zerolog.Logger
}

// New constructs a Mapper. artworkExtractor may be nil, in which case
// AlbumEntry.CoverHash is left empty for every album (spec.md §4.7's
// cover resolution only runs when artwork caching is configured).
func New(store *kvstore.Store, artworkExtractor *artwork.Extractor, logger zerolog.Logger) *Mapper {
	return &Mapper{store: store, artwork: artworkExtractor, logger: logger}
}

// Map implements the five-step algorithm from spec.md §4.5.
func (m *Mapper) Map(ctx context.Context, files []scan.SourceFile) (*Index, error) {
	groups := groupByDirectory(files)
	idx := newIndex()

	assignment := newAlbumAssignment()

	// sort directories for deterministic discovery order, so the
	// "later-discovered" collision tie-break is reproducible.
	dirs := make([]string, 0, len(groups))
	for dir := range groups {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		g := groups[dir]
		if len(g.audio) == 0 {
			continue
		}

		if err := m.mapGroup(ctx, g, idx, assignment); err != nil {
			return nil, fmt.Errorf("map group %s: %w", dir, err)
		}
	}

	for _, album := range idx.Albums {
		sort.Slice(album.TrackIds, func(i, j int) bool {
			a, b := idx.Tracks[album.TrackIds[i]], idx.Tracks[album.TrackIds[j]]
			if a.Disc != b.Disc {
				return a.Disc < b.Disc
			}
			return a.Index < b.Index
		})
	}

	return idx, nil
}

// groupByDirectory buckets scanner output into candidate albums
// (step 1 of spec.md §4.5), using lo.GroupBy for the parent-directory
// bucketing the teacher's own scanner does by hand.
func groupByDirectory(files []scan.SourceFile) map[string]*directoryGroup {
	byDir := lo.GroupBy(files, func(f scan.SourceFile) string {
		return filepath.Dir(f.Path)
	})

	groups := make(map[string]*directoryGroup, len(byDir))
	for dir, fs := range byDir {
		groups[dir] = &directoryGroup{
			dir: dir,
			cues: lo.Filter(fs, func(f scan.SourceFile, _ int) bool {
				return f.Format == scan.FormatCue
			}),
			audio: lo.Filter(fs, func(f scan.SourceFile, _ int) bool {
				return f.Format != scan.FormatCue
			}),
		}
	}
	return groups
}

func (m *Mapper) mapGroup(ctx context.Context, g *directoryGroup, idx *Index, assignment *albumAssignment) error {
	matchedAudio := make(map[string]bool)

	for _, cueFile := range g.cues {
		audioPath, err := matchCueToAudio(cueFile, g.audio, matchedAudio)
		if err != nil {
			// match failure: fall back to 1:1 mapping, handled below
			// once we know which audio files remain unmatched.
			m.logger.Warn().Err(err).Str("cue", cueFile.Path).Msg("cue-to-audio match failed, treating audio as standalone")
			continue
		}

		sheet, err := parseCueFile(cueFile.Path)
		if err != nil {
			m.logger.Warn().Err(err).Str("cue", cueFile.Path).Msg("cue parse failed, treating audio as standalone")
			continue
		}

		if err := m.emitCueBackedTracks(ctx, g.dir, audioPath, sheet, idx, assignment); err != nil {
			return err
		}
		matchedAudio[audioPath] = true
	}

	for _, a := range g.audio {
		if matchedAudio[a.Path] {
			continue
		}
		if err := m.emitStandaloneTrack(ctx, g.dir, a, idx, assignment); err != nil {
			return err
		}
	}

	return nil
}

// matchCueToAudio pairs a CUE file with an unmatched audio file in its
// directory: first one whose basename (extension stripped) equals the
// CUE file's own, otherwise the directory's only unmatched audio file.
// The FILE entries inside the sheet are not consulted.
func matchCueToAudio(cueFile scan.SourceFile, audio []scan.SourceFile, matched map[string]bool) (string, error) {
	cueBase := strings.TrimSuffix(filepath.Base(cueFile.Path), filepath.Ext(cueFile.Path))

	for _, a := range audio {
		if matched[a.Path] {
			continue
		}
		if strings.TrimSuffix(filepath.Base(a.Path), filepath.Ext(a.Path)) == cueBase {
			return a.Path, nil
		}
	}

	var unmatched []scan.SourceFile
	for _, a := range audio {
		if !matched[a.Path] {
			unmatched = append(unmatched, a)
		}
	}
	if len(unmatched) == 1 {
		return unmatched[0].Path, nil
	}

	return "", fmt.Errorf("no unique audio match for cue %s", cueFile.Path)
}

func parseCueFile(path string) (*cuesheet.Sheet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cue %s: %w", path, err)
	}
	return cuesheet.Parse(string(data), filepath.Dir(path))
}

func (m *Mapper) emitCueBackedTracks(ctx context.Context, dir, audioPath string, sheet *cuesheet.Sheet, idx *Index, assignment *albumAssignment) error {
	displayTitle := sheet.AlbumTitle
	if displayTitle == "" {
		displayTitle = filepath.Base(dir)
	}
	albumID := resolveAlbumID(dir, displayTitle, sheet.AlbumPerformer, assignment)

	info, err := probe.Run(audioPath)
	if err != nil {
		// proceed with default CD-quality assumptions; the stream
		// open path will surface a harder error if decode fails.
		info = &probe.Info{}
	}
	sampleRate, channels, bitDepth := info.AudioProperties()

	var totalFrames int64
	if df, err := info.DurationFrames(); err == nil {
		totalFrames = df
	}

	album := idx.Albums[albumID]
	if album == nil {
		album = &AlbumEntry{AlbumId: albumID, DisplayName: displayTitle}
		idx.Albums[albumID] = album
	}

	for _, file := range sheet.Files {
		for i, track := range file.Tracks {
			start := track.Index01
			var length int64
			if i+1 < len(file.Tracks) {
				length = file.Tracks[i+1].Index01 - start
			} else if totalFrames > start {
				length = totalFrames - start
			} else if est, err := estimateRemainingFrames(audioPath, start, sampleRate, channels, bitDepth); err == nil {
				length = est
				m.logger.Warn().Str("audio", audioPath).Int("track", track.Number).Msg("cue last track duration unavailable from probe, estimated from file size")
			} else {
				m.logger.Warn().Err(err).Str("audio", audioPath).Int("track", track.Number).Msg("cue last track duration unavailable and file-size estimate failed, length_frames is 0")
			}

			trackID := ids.DeriveTrackId(albumID, 1, track.Number, filepath.Base(audioPath))
			entry := &TrackEntry{
				TrackId:       trackID,
				AlbumId:       albumID,
				Disc:          1,
				Index:         track.Number,
				Title:         track.Title,
				Performer:     track.Performer,
				SourcePath:    audioPath,
				StartFrames:   start,
				LengthFrames:  length,
				SampleRate:    sampleRate,
				Channels:      channels,
				BitDepth:      bitDepth,
				Policy:        PolicyConvertLossless,
				CueSubdivided: true,
			}
			idx.Tracks[trackID] = entry
			album.TrackIds = append(album.TrackIds, trackID)
		}
	}

	if m.store != nil {
		_ = kvstore.StoreCBOR(ctx, m.store, kvstore.AlbumCueKey(string(albumID)), sheet)
	}

	m.resolveAlbumCover(ctx, album, audioPath)

	return nil
}

// estimateRemainingFrames falls back to a file-size-derived estimate
// for a CUE-subdivided album's last track when ffprobe reports no
// usable duration: the remaining bytes after start, divided by the
// PCM frame size AudioProperties reported. Rough for compressed
// sources, but still closer to reality than length_frames == 0.
func estimateRemainingFrames(path string, start int64, sampleRate, channels, bitDepth int) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	bytesPerSample := bitDepth / 8
	if bytesPerSample == 0 {
		bytesPerSample = 2
	}
	if channels == 0 {
		channels = 2
	}
	if sampleRate == 0 {
		sampleRate = 44100
	}
	bytesPerFrame := int64(channels) * int64(bytesPerSample) * int64(sampleRate) / 75
	if bytesPerFrame <= 0 {
		return 0, fmt.Errorf("invalid frame size for %s", path)
	}
	fileFrames := info.Size() / bytesPerFrame
	if fileFrames <= start {
		return 0, fmt.Errorf("file size implies fewer frames than the track's start offset")
	}
	return fileFrames - start, nil
}

// resolveAlbumCover implements spec.md §4.7's cover resolution for an
// album's representative track, persisting the resulting hash to
// album:{AlbumId}:cover. Map does not read that key back, so every
// Map resolves the cover again (the artwork extractor's own cache
// serves repeats within a process).
func (m *Mapper) resolveAlbumCover(ctx context.Context, album *AlbumEntry, sourcePath string) {
	if m.artwork == nil || album.CoverHash != "" {
		return
	}
	blob, err := m.artwork.Resolve(ctx, string(album.AlbumId), sourcePath)
	if err != nil {
		m.logger.Warn().Err(err).Str("album", string(album.AlbumId)).Msg("album cover resolution failed")
		return
	}
	if blob == nil {
		return
	}
	album.CoverHash = blob.Hash
	if err := kvstore.StoreJSON(ctx, m.store, kvstore.AlbumCoverKey(string(album.AlbumId)), blob.Hash); err != nil {
		m.logger.Warn().Err(err).Str("album", string(album.AlbumId)).Msg("failed to persist album cover hash")
	}
}

func (m *Mapper) emitStandaloneTrack(ctx context.Context, dir string, sf scan.SourceFile, idx *Index, assignment *albumAssignment) error {
	displayTitle := filepath.Base(dir)
	albumID := resolveAlbumID(dir, displayTitle, "", assignment)

	sampleRate, channels, bitDepth := 44100, 2, 0
	var lengthFrames int64
	if info, err := probe.Run(sf.Path); err == nil {
		sampleRate, channels, bitDepth = info.AudioProperties()
		if df, err := info.DurationFrames(); err == nil {
			lengthFrames = df
		}
	}

	policy := PolicyPassthroughLossy
	if sf.Format.IsLossless() {
		policy = PolicyConvertLossless
	}

	trackID := ids.DeriveTrackId(albumID, 1, 1, filepath.Base(sf.Path))
	entry := &TrackEntry{
		TrackId:      trackID,
		AlbumId:      albumID,
		Disc:         1,
		Index:        1,
		Title:        strings.TrimSuffix(filepath.Base(sf.Path), filepath.Ext(sf.Path)),
		SourcePath:   sf.Path,
		LengthFrames: lengthFrames,
		SampleRate:   sampleRate,
		Channels:     channels,
		BitDepth:     bitDepth,
		Policy:       policy,
	}
	idx.Tracks[trackID] = entry

	album := idx.Albums[albumID]
	if album == nil {
		album = &AlbumEntry{AlbumId: albumID, DisplayName: displayTitle}
		idx.Albums[albumID] = album
	}
	album.TrackIds = append(album.TrackIds, trackID)

	m.resolveAlbumCover(ctx, album, sf.Path)

	return nil
}

// resolveAlbumID derives the AlbumId for (dir, title, performer).
// Each directory is mapped at most once per Map call, so this id is
// reused across all tracks discovered in that directory; a collision
// with an AlbumId already claimed by a *different* directory gets the
// `#2`/`#3` suffix tie-break from spec.md §4.5.
func resolveAlbumID(dir, title, performer string, assignment *albumAssignment) ids.AlbumId {
	base := ids.DeriveAlbumId(dir, title, performer)
	if dirOfAlbum, ok := assignment.dirOf[base]; !ok {
		assignment.dirOf[base] = dir
		assignment.ordinal[base] = 1
		return base
	} else if dirOfAlbum == dir {
		return base
	}
	assignment.ordinal[base]++
	suffixed := ids.DisambiguateAlbumId(base, assignment.ordinal[base])
	assignment.dirOf[suffixed] = dir
	return suffixed
}
