// Package transcode implements C8: deciding per-track format policy
// and running the decode/encode worker that turns a TrackEntry into a
// sequence of bounded AudioChunks.
//
// grounded on: internal/meta/ffprobe.go and internal/meta/tagwriter.go
// (shelling out to ffmpeg/ffprobe rather than a from-scratch decoder),
// internal/execute/executor.go's copyWithContext (the context
// -cancellable, bounded-buffer read loop this package's chunk reader
// reuses the shape of), sudo-bngz-momo-radio/internal/audio/ffmpeg.go
// (piping audio through a subprocess with an io.Reader stdin/stdout).
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/bogem/id3v2"

	"github.com/musfuse/musfuse/internal/artwork"
	"github.com/musfuse/musfuse/internal/musfuseerr"
	"github.com/musfuse/musfuse/internal/tags"
	"github.com/musfuse/musfuse/internal/trackindex"
)

// MaxChunkBytes is spec.md §4.8's ≤256KiB ceiling on AudioChunk.Bytes.
const MaxChunkBytes = 256 * 1024

// AudioChunk is one unit of the streaming contract.
type AudioChunk struct {
	Seq             int64
	Bytes           []byte
	TimestampFrames int64
	IsFinal         bool
}

// Profile extends spec.md's two-way policy split with the
// PassthroughLossless variant original_source/policy.rs names but
// spec.md's distillation dropped — additive, doesn't change either
// named behavior.
type Profile string

const (
	ProfilePassthroughLossy   Profile = "PassthroughLossy"
	ProfileConvertLossless    Profile = "ConvertLossless"
	ProfilePassthroughLossless Profile = "PassthroughLossless"
)

// ResolveProfile maps a trackindex.Policy plus an opt-in deployment
// preference to the concrete Profile C8 runs. bitPerfectPassthrough,
// when true, requests PassthroughLossless for WAV/APE/WV sources
// instead of re-encoding them to FLAC.
func ResolveProfile(policy trackindex.Policy, lossless bool, bitPerfectPassthrough bool) Profile {
	if policy == trackindex.PolicyPassthroughLossy {
		return ProfilePassthroughLossy
	}
	if bitPerfectPassthrough && lossless {
		return ProfilePassthroughLossless
	}
	return ProfileConvertLossless
}

// Worker runs one open stream's decode/encode pipeline.
type Worker struct {
	track   *trackindex.TrackEntry
	profile Profile
	tagMap  tags.TagMap
	cover   *artwork.Blob
}

// New constructs a Worker for one OpenStream call. tagMap is the
// effective tags snapshotted at open time; cover may be nil.
func New(track *trackindex.TrackEntry, profile Profile, tagMap tags.TagMap, cover *artwork.Blob) *Worker {
	return &Worker{track: track, profile: profile, tagMap: tagMap, cover: cover}
}

// Run starts the worker and streams AudioChunks to out until EOF, an
// error, or ctx cancellation. Cancellation is observed at the next
// chunk boundary, per spec.md §4.8. A mid-stream decode failure
// delivers a short read: the last successfully read chunk is marked
// is_final and Run returns the error so the caller can log a
// diagnostic without retrying.
func (w *Worker) Run(ctx context.Context, out chan<- AudioChunk) error {
	defer close(out)

	switch w.profile {
	case ProfilePassthroughLossy:
		return w.runPassthrough(ctx, out)
	case ProfilePassthroughLossless:
		return w.runPassthrough(ctx, out)
	case ProfileConvertLossless:
		return w.runConvert(ctx, out)
	default:
		return musfuseerr.Wrapf(musfuseerr.Unsupported, musfuseerr.ErrUnsupported, "profile %s", w.profile)
	}
}

// runPassthrough streams source bytes unchanged, except for MP3 where
// an in-band ID3v2 rewrite is applied first so the effective TagMap
// is reflected without a full re-encode.
func (w *Worker) runPassthrough(ctx context.Context, out chan<- AudioChunk) error {
	reader, cleanup, err := w.passthroughReader()
	if err != nil {
		return err
	}
	defer cleanup()

	return chunkReader(ctx, reader, w.track.SampleRate, out)
}

func (w *Worker) passthroughReader() (io.Reader, func(), error) {
	if isMP3(w.track.SourcePath) {
		data, err := rewriteID3(w.track.SourcePath, w.tagMap, w.cover)
		if err == nil {
			return bytes.NewReader(data), func() {}, nil
		}
		// in-band rewrite failed (e.g. unparseable header): fall
		// through to unmodified source bytes rather than failing the
		// whole stream.
	}

	f, err := os.Open(w.track.SourcePath)
	if err != nil {
		return nil, nil, musfuseerr.Wrapf(musfuseerr.Io, err, "open %s", w.track.SourcePath)
	}
	return f, func() { f.Close() }, nil
}

func isMP3(path string) bool {
	n := len(path)
	return n >= 4 && (path[n-4:] == ".mp3" || path[n-4:] == ".MP3")
}

// rewriteID3 loads the MP3's existing tag (or an empty one), applies
// the effective TagMap and cover, and returns the rewritten file as
// bytes without touching the source file on disk.
func rewriteID3(path string, tagMap tags.TagMap, cover *artwork.Blob) ([]byte, error) {
	tmp, err := os.CreateTemp("", "musfuse-id3-*.mp3")
	if err != nil {
		return nil, musfuseerr.Wrap(musfuseerr.Io, err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	src, err := os.Open(path)
	if err != nil {
		return nil, musfuseerr.Wrapf(musfuseerr.Io, err, "open %s", path)
	}
	dst, err := os.Create(tmpPath)
	if err != nil {
		src.Close()
		return nil, musfuseerr.Wrap(musfuseerr.Io, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		src.Close()
		dst.Close()
		return nil, musfuseerr.Wrap(musfuseerr.Io, err)
	}
	src.Close()
	dst.Close()

	tag, err := id3v2.Open(tmpPath, id3v2.Options{Parse: true})
	if err != nil {
		tag = id3v2.NewEmptyTag()
	}
	defer tag.Close()

	applyTagMap(tag, tagMap)
	if cover != nil {
		tag.DeleteFrames(tag.CommonID("Attached picture"))
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    cover.MIME,
			PictureType: id3v2.PTFrontCover,
			Description: "Cover",
			Picture:     cover.Data,
		})
	}

	if err := tag.Save(); err != nil {
		return nil, musfuseerr.Wrap(musfuseerr.Io, err)
	}

	return os.ReadFile(tmpPath)
}

func applyTagMap(tag *id3v2.Tag, tagMap tags.TagMap) {
	if v, ok := first(tagMap, "TITLE"); ok {
		tag.SetTitle(v)
	}
	if v, ok := first(tagMap, "ARTIST"); ok {
		tag.SetArtist(v)
	}
	if v, ok := first(tagMap, "ALBUM"); ok {
		tag.SetAlbum(v)
	}
	if v, ok := first(tagMap, "ALBUMARTIST"); ok {
		tag.AddTextFrame("TPE2", id3v2.EncodingUTF8, v)
	}
	if v, ok := first(tagMap, "GENRE"); ok {
		tag.SetGenre(v)
	}
	if v, ok := first(tagMap, "DATE"); ok {
		tag.AddTextFrame("TDRC", id3v2.EncodingUTF8, v)
	}
	if v, ok := first(tagMap, "TRACKNUMBER"); ok {
		tag.AddTextFrame("TRCK", id3v2.EncodingUTF8, v)
	}
	if v, ok := first(tagMap, "DISCNUMBER"); ok {
		tag.AddTextFrame("TPOS", id3v2.EncodingUTF8, v)
	}
}

func first(m tags.TagMap, key string) (string, bool) {
	v, ok := m[key]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// runConvert decodes the source (clipped to the CUE frame window when
// applicable) and re-encodes to FLAC with the merged tags written as
// Vorbis comments. No PICTURE block is embedded; the cover is returned
// separately as media.Result.Artwork.
func (w *Worker) runConvert(ctx context.Context, out chan<- AudioChunk) error {
	args := ffmpegConvertArgs(w.track, w.tagMap, w.cover)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return musfuseerr.Wrap(musfuseerr.Io, err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return musfuseerr.Wrapf(musfuseerr.Io, err, "start ffmpeg")
	}

	readErr := chunkReader(ctx, stdout, w.track.SampleRate, out)
	waitErr := cmd.Wait()

	if readErr != nil {
		return readErr
	}
	if waitErr != nil && ctx.Err() == nil {
		return musfuseerr.Wrapf(musfuseerr.Malformed, waitErr, "ffmpeg decode")
	}
	return nil
}

// ffmpegConvertArgs builds the ffmpeg invocation that clips to the
// CUE frame window (when the track is CUE-subdivided) and emits a
// tagged FLAC stream on stdout.
func ffmpegConvertArgs(track *trackindex.TrackEntry, tagMap tags.TagMap, cover *artwork.Blob) []string {
	args := []string{"-v", "quiet", "-y"}

	if track.CueSubdivided && track.SampleRate > 0 {
		startSeconds := float64(track.StartFrames) / 75.0
		args = append(args, "-ss", strconv.FormatFloat(startSeconds, 'f', 6, 64))
	}

	args = append(args, "-i", track.SourcePath)

	if track.CueSubdivided && track.SampleRate > 0 && track.LengthFrames > 0 {
		durationSeconds := float64(track.LengthFrames) / 75.0
		args = append(args, "-t", strconv.FormatFloat(durationSeconds, 'f', 6, 64))
	}

	args = append(args, "-map_metadata", "-1")
	for k, v := range tagMap {
		if len(v) == 0 {
			continue
		}
		args = append(args, "-metadata", fmt.Sprintf("%s=%s", ffmpegMetaKey(k), v[0]))
	}

	args = append(args, "-c:a", "flac", "-f", "flac", "pipe:1")
	_ = cover // not embedded: media.OpenStream returns the cover separately as Result.Artwork.
	return args
}

func ffmpegMetaKey(canonical string) string {
	switch canonical {
	case "ALBUMARTIST":
		return "album_artist"
	case "TRACKNUMBER":
		return "track"
	case "DISCNUMBER":
		return "disc"
	default:
		return canonical
	}
}

// chunkReader implements the bounded, ordered, cancellable read loop
// shared by both profiles: read up to MaxChunkBytes at a time, wrap
// each read into an AudioChunk with a monotonically increasing seq
// and a timestamp derived from bytes consumed so far, and mark the
// last chunk read as final on EOF or on a read error.
func chunkReader(ctx context.Context, r io.Reader, sampleRate int, out chan<- AudioChunk) error {
	buf := make([]byte, MaxChunkBytes)
	var seq int64
	var framesConsumed int64
	bytesPerFrame := bytesPerFrameEstimate(sampleRate)

	emit := func(c AudioChunk) error {
		select {
		case out <- c:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// io.Reader's contract lets a data-bearing read and the EOF that
	// follows arrive on separate calls, so the chunk actually emitted
	// is always one read behind: only once the NEXT read tells us
	// whether more data is coming can a chunk be safely marked final.
	var pending *AudioChunk

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			chunkBytes := make([]byte, n)
			copy(chunkBytes, buf[:n])

			if pending != nil {
				if err := emit(*pending); err != nil {
					return err
				}
			}

			frames := framesConsumed
			if bytesPerFrame > 0 {
				framesConsumed += int64(n) / bytesPerFrame
			}
			pending = &AudioChunk{Seq: seq, Bytes: chunkBytes, TimestampFrames: frames}
			seq++
		}

		if err != nil {
			if err == io.EOF {
				if pending == nil {
					pending = &AudioChunk{Seq: seq, Bytes: nil, TimestampFrames: framesConsumed}
				}
				pending.IsFinal = true
				return emit(*pending)
			}
			if pending != nil {
				pending.IsFinal = true
				if emitErr := emit(*pending); emitErr != nil {
					return emitErr
				}
			}
			return musfuseerr.Wrap(musfuseerr.Io, err)
		}
	}
}

// bytesPerFrameEstimate approximates PCM bytes per CD frame (1/75 s,
// assuming 16-bit stereo) for timestamp bookkeeping on compressed
// streams; it's advisory only —
// exactness isn't required by spec.md's ordering guarantee, only
// monotonic non-decrease.
func bytesPerFrameEstimate(sampleRate int) int64 {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	return int64(sampleRate) / 75 * 4
}
