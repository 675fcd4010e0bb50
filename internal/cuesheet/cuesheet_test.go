package cuesheet

import "testing"

const sampleCue = `
REM GENRE "Progressive Rock"
REM DATE 1977
REM DISCID 1A2B3C04
TITLE "Album"
PERFORMER "Artist"
FILE "disc.flac" WAVE
  TRACK 01 AUDIO
    TITLE "Intro"
    PERFORMER "Artist"
    INDEX 00 00:00:00
    INDEX 01 00:02:00
  TRACK 02 AUDIO
    TITLE "Song"
    INDEX 01 03:15:00
`

func TestParseSimpleCue(t *testing.T) {
	sheet, err := Parse(sampleCue, "/music")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sheet.AlbumTitle != "Album" || sheet.AlbumPerformer != "Artist" {
		t.Fatalf("unexpected album fields: %+v", sheet)
	}
	if sheet.Date != "1977" || sheet.DiscID != "1A2B3C04" {
		t.Fatalf("unexpected REM fields: %+v", sheet)
	}
	if len(sheet.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(sheet.Files))
	}
	f := sheet.Files[0]
	if f.Type != FileWAVE {
		t.Errorf("expected WAVE, got %s", f.Type)
	}
	if len(f.Tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(f.Tracks))
	}
	if f.Tracks[0].Index00 != 0 {
		t.Errorf("expected pregap 0, got %d", f.Tracks[0].Index00)
	}
	if f.Tracks[0].Index01 != 2*75 {
		t.Errorf("expected index01 %d, got %d", 2*75, f.Tracks[0].Index01)
	}
	if f.Tracks[1].Index01 != 3*60*75+15*75 {
		t.Errorf("expected index01 %d, got %d", 3*60*75+15*75, f.Tracks[1].Index01)
	}
	if f.Tracks[1].Index00 != -1 {
		t.Errorf("expected no pregap for track 2, got %d", f.Tracks[1].Index00)
	}
}

func TestParseMissingFile(t *testing.T) {
	_, err := Parse(`TITLE "No File"`, "/music")
	if err == nil {
		t.Fatal("expected error for missing FILE entry")
	}
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Reason == "" {
		t.Error("expected non-empty reason")
	}
}

func TestParseMalformedIndex(t *testing.T) {
	cue := `
FILE "disc.flac" WAVE
  TRACK 01 AUDIO
    INDEX 01 not-a-timestamp
`
	_, err := Parse(cue, "/music")
	if err == nil {
		t.Fatal("expected error for malformed INDEX")
	}
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Line != 4 {
		t.Errorf("expected error at line 4, got %d", pe.Line)
	}
}

func TestParseTrackWithoutIndex01(t *testing.T) {
	cue := `
FILE "disc.flac" WAVE
  TRACK 01 AUDIO
    TITLE "Intro"
    INDEX 00 00:00:00
  TRACK 02 AUDIO
    TITLE "Song"
    INDEX 01 00:05:00
`
	_, err := Parse(cue, "/music")
	if err == nil {
		t.Fatal("expected error for a track with no INDEX 01")
	}
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Reason == "" {
		t.Error("expected non-empty reason")
	}
}

func TestParseNonIncreasingIndex01(t *testing.T) {
	cue := `
FILE "disc.flac" WAVE
  TRACK 01 AUDIO
    TITLE "Intro"
    INDEX 01 00:05:00
  TRACK 02 AUDIO
    TITLE "Song"
    INDEX 01 00:03:00
`
	_, err := Parse(cue, "/music")
	if err == nil {
		t.Fatal("expected error for a non-increasing INDEX 01")
	}
	if _, ok := err.(*ParseError); !ok {
		t.Fatalf("expected *ParseError, got %T", err)
	}
}

func TestFramesToSamples(t *testing.T) {
	if got := FramesToSamples(75, 44100); got != 44100 {
		t.Errorf("expected 44100 samples for 1 second at 44.1kHz, got %d", got)
	}
}
