// Package cuesheet implements C4: a hand-rolled line-oriented CUE
// sheet parser. Grounded on original_source/cue.rs for the overall
// shape (FILE/TRACK/TITLE/PERFORMER/INDEX state machine, 75
// frames/sec arithmetic) but extended beyond it per spec.md §4.4:
// INDEX 00 pregap handling, REM GENRE/DATE/DISCID, FILE type token
// validation, and line-numbered diagnostics instead of a single
// opaque error.
//
// No example repo or other_examples/ file parses CUE sheets, so this
// package is intentionally stdlib-only (see DESIGN.md).
package cuesheet

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// FramesPerSecond is the CD-frame clock rate CUE INDEX timestamps are
// expressed in.
const FramesPerSecond = 75

// FileType is the declared audio encoding of a FILE entry.
type FileType string

const (
	FileWAVE   FileType = "WAVE"
	FileAIFF   FileType = "AIFF"
	FileMP3    FileType = "MP3"
	FileFLAC   FileType = "FLAC"
	FileBinary FileType = "BINARY"
)

var validFileTypes = map[string]FileType{
	"WAVE":   FileWAVE,
	"AIFF":   FileAIFF,
	"MP3":    FileMP3,
	"FLAC":   FileFLAC,
	"BINARY": FileBinary,
}

// Track is one TRACK block: its CUE-declared number, titles, and its
// INDEX 00 (pregap) / INDEX 01 (audio start) frame offsets. Index00 is
// -1 when the track has no pregap.
type Track struct {
	Number    int
	Title     string
	Performer string
	Index00   int64 // frames, -1 if absent
	Index01   int64 // frames

	sawIndex01 bool // distinguishes "INDEX 01 00:00:00" from "no INDEX 01 seen"
}

// File is one FILE block: the referenced audio path (joined against
// the CUE's own directory) and its declared type and tracks.
type File struct {
	Path  string
	Type  FileType
	Tracks []Track
}

// Sheet is the parsed CUE document.
type Sheet struct {
	AlbumTitle     string
	AlbumPerformer string
	Genre          string
	Date           string
	DiscID         string
	Files          []File
}

// ParseError is one line-numbered diagnostic. spec.md §4.4 requires
// enumerating "line number + reason (unexpected token, missing FILE,
// malformed INDEX)".
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cue: line %d: %s", e.Line, e.Reason)
}

// Parse parses CUE text. baseDir is joined with FILE entries' bare
// filenames to produce absolute-ish paths, matching the CUE's own
// directory (CUE FILE references are always relative to the sheet).
func Parse(content, baseDir string) (*Sheet, error) {
	sheet := &Sheet{}

	var curFile *File
	var curTrack *Track
	lineNo := 0

	// validateTrack enforces spec.md's CueSheet invariants: every track
	// has a start (INDEX 01 actually seen, not just zero-valued), and
	// each track's start strictly increases past the previous track's
	// in the same FILE block.
	validateTrack := func(t *Track) error {
		if !t.sawIndex01 {
			return &ParseError{Line: lineNo, Reason: fmt.Sprintf("track %d has no INDEX 01", t.Number)}
		}
		if len(curFile.Tracks) > 0 {
			prev := curFile.Tracks[len(curFile.Tracks)-1]
			if t.Index01 <= prev.Index01 {
				return &ParseError{Line: lineNo, Reason: fmt.Sprintf("track %d INDEX 01 (%d) does not strictly increase past track %d's (%d)", t.Number, t.Index01, prev.Number, prev.Index01)}
			}
		}
		return nil
	}

	flushTrack := func() error {
		if curTrack != nil && curFile != nil {
			if err := validateTrack(curTrack); err != nil {
				return err
			}
			curFile.Tracks = append(curFile.Tracks, *curTrack)
		}
		curTrack = nil
		return nil
	}
	flushFile := func() error {
		if err := flushTrack(); err != nil {
			return err
		}
		if curFile != nil {
			sheet.Files = append(sheet.Files, *curFile)
		}
		curFile = nil
		return nil
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		lineNo++
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" {
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "REM"):
			handleRem(sheet, trimmed)

		case strings.HasPrefix(trimmed, "FILE"):
			if err := flushFile(); err != nil {
				return nil, err
			}
			rest := strings.TrimSpace(trimmed[len("FILE"):])
			name, typeTok, err := splitFileEntry(rest)
			if err != nil {
				return nil, &ParseError{Line: lineNo, Reason: err.Error()}
			}
			ftype, ok := validFileTypes[strings.ToUpper(typeTok)]
			if !ok {
				return nil, &ParseError{Line: lineNo, Reason: fmt.Sprintf("unrecognized FILE type %q", typeTok)}
			}
			curFile = &File{Path: filepath.Join(baseDir, name), Type: ftype}

		case strings.HasPrefix(trimmed, "TRACK"):
			if curFile == nil {
				return nil, &ParseError{Line: lineNo, Reason: "TRACK without preceding FILE"}
			}
			if err := flushTrack(); err != nil {
				return nil, err
			}
			rest := strings.Fields(strings.TrimSpace(trimmed[len("TRACK"):]))
			if len(rest) == 0 {
				return nil, &ParseError{Line: lineNo, Reason: "missing track number"}
			}
			num, err := strconv.Atoi(rest[0])
			if err != nil {
				return nil, &ParseError{Line: lineNo, Reason: "invalid track number"}
			}
			curTrack = &Track{Number: num, Index00: -1}

		case strings.HasPrefix(trimmed, "TITLE"):
			value := extractQuoted(trimmed)
			if curTrack != nil {
				curTrack.Title = value
			} else {
				sheet.AlbumTitle = value
			}

		case strings.HasPrefix(trimmed, "PERFORMER"):
			value := extractQuoted(trimmed)
			if curTrack != nil {
				curTrack.Performer = value
			} else {
				sheet.AlbumPerformer = value
			}

		case strings.HasPrefix(trimmed, "INDEX"):
			if curTrack == nil {
				return nil, &ParseError{Line: lineNo, Reason: "INDEX without preceding TRACK"}
			}
			fields := strings.Fields(trimmed)
			if len(fields) != 3 {
				return nil, &ParseError{Line: lineNo, Reason: "malformed INDEX line"}
			}
			indexNum, err := strconv.Atoi(fields[1])
			if err != nil || (indexNum != 0 && indexNum != 1) {
				return nil, &ParseError{Line: lineNo, Reason: "INDEX number must be 00 or 01"}
			}
			frames, err := timestampToFrames(fields[2])
			if err != nil {
				return nil, &ParseError{Line: lineNo, Reason: err.Error()}
			}
			if indexNum == 0 {
				curTrack.Index00 = frames
			} else {
				curTrack.Index01 = frames
				curTrack.sawIndex01 = true
			}

		default:
			return nil, &ParseError{Line: lineNo, Reason: fmt.Sprintf("unexpected token %q", firstWord(trimmed))}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cue: read error: %w", err)
	}

	if err := flushFile(); err != nil {
		return nil, err
	}

	if len(sheet.Files) == 0 {
		return nil, &ParseError{Line: lineNo, Reason: "missing FILE entry"}
	}

	return sheet, nil
}

func handleRem(sheet *Sheet, line string) {
	rest := strings.TrimSpace(line[len("REM"):])
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return
	}
	switch strings.ToUpper(fields[0]) {
	case "GENRE":
		sheet.Genre = extractQuoted(rest)
		if sheet.Genre == "" && len(fields) > 1 {
			sheet.Genre = strings.Join(fields[1:], " ")
		}
	case "DATE":
		if len(fields) > 1 {
			sheet.Date = fields[1]
		}
	case "DISCID":
		if len(fields) > 1 {
			sheet.DiscID = fields[1]
		}
	}
}

func splitFileEntry(rest string) (name, fileType string, err error) {
	if strings.HasPrefix(rest, `"`) {
		end := strings.Index(rest[1:], `"`)
		if end < 0 {
			return "", "", fmt.Errorf("unterminated quoted FILE name")
		}
		name = rest[1 : end+1]
		typeTok := strings.TrimSpace(rest[end+2:])
		if typeTok == "" {
			return "", "", fmt.Errorf("missing FILE type")
		}
		return name, typeTok, nil
	}
	parts := strings.Fields(rest)
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid FILE entry")
	}
	return parts[0], parts[len(parts)-1], nil
}

func extractQuoted(line string) string {
	start := strings.Index(line, `"`)
	if start < 0 {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return ""
		}
		return strings.Join(fields[1:], " ")
	}
	end := strings.Index(line[start+1:], `"`)
	if end < 0 {
		return ""
	}
	return line[start+1 : start+1+end]
}

func timestampToFrames(value string) (int64, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed INDEX timestamp %q", value)
	}
	minutes, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid minutes in %q", value)
	}
	seconds, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid seconds in %q", value)
	}
	frames, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frames in %q", value)
	}
	return minutes*60*FramesPerSecond + seconds*FramesPerSecond + frames, nil
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	return fields[0]
}

// FramesToSamples converts a CD-frame offset to a sample offset at
// the given sample rate, per spec.md §4.4's "conversion to sample
// offsets uses the audio file's sample rate."
func FramesToSamples(frames int64, sampleRate int) int64 {
	return frames * int64(sampleRate) / FramesPerSecond
}
