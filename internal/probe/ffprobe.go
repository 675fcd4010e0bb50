// Package probe shells out to ffprobe for the audio properties the
// tag library doesn't reliably expose (sample rate, channels, bit
// depth, duration), and to ffmpeg for decode/encode in internal/transcode.
//
// grounded on: internal/meta/ffprobe.go (JSON shape, IntOrString
// workaround for fields ffprobe sometimes emits as strings).
package probe

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/musfuse/musfuse/internal/musfuseerr"
)

// IntOrString unmarshals ffprobe fields that are sometimes integers
// and sometimes quoted strings, depending on codec and ffmpeg build.
type IntOrString struct {
	Value int
}

func (i *IntOrString) UnmarshalJSON(data []byte) error {
	var intVal int
	if err := json.Unmarshal(data, &intVal); err == nil {
		i.Value = intVal
		return nil
	}
	var strVal string
	if err := json.Unmarshal(data, &strVal); err != nil {
		return err
	}
	if strVal == "" || strVal == "N/A" {
		i.Value = 0
		return nil
	}
	parsed, err := strconv.Atoi(strVal)
	if err != nil {
		i.Value = 0
		return nil
	}
	i.Value = parsed
	return nil
}

// Info is the subset of ffprobe's JSON output this module needs.
type Info struct {
	Streams []Stream `json:"streams"`
	Format  *Format  `json:"format"`
}

type Stream struct {
	CodecName        string      `json:"codec_name"`
	CodecType        string      `json:"codec_type"`
	SampleRate       string      `json:"sample_rate"`
	Channels         int         `json:"channels"`
	BitsPerSample    IntOrString `json:"bits_per_sample"`
	BitsPerRawSample IntOrString `json:"bits_per_raw_sample"`
	Duration         string      `json:"duration"`
}

type Format struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
}

// Run executes ffprobe against path and parses its JSON output.
func Run(path string) (*Info, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return nil, musfuseerr.Wrap(musfuseerr.Unsupported, fmt.Errorf("ffprobe not found in PATH"))
	}

	cmd := exec.Command("ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, musfuseerr.Wrapf(musfuseerr.Io, fmt.Errorf("%s", exitErr.Stderr), "ffprobe failed")
		}
		return nil, musfuseerr.Wrapf(musfuseerr.Io, err, "ffprobe execution failed")
	}

	var info Info
	if err := json.Unmarshal(output, &info); err != nil {
		return nil, musfuseerr.Wrapf(musfuseerr.Malformed, err, "parse ffprobe output")
	}
	return &info, nil
}

// AudioProperties extracts the first audio stream's sample rate,
// channel count, and bit depth from an Info, defaulting to CD quality
// when ffprobe reports nothing usable (e.g. a corrupt or tiny file),
// so callers always get a workable triple rather than zeros.
func (i *Info) AudioProperties() (sampleRate, channels, bitDepth int) {
	for _, st := range i.Streams {
		if st.CodecType != "audio" {
			continue
		}
		sr, _ := strconv.Atoi(st.SampleRate)
		if sr > 0 {
			sampleRate = sr
		}
		if st.Channels > 0 {
			channels = st.Channels
		}
		if st.BitsPerSample.Value > 0 {
			bitDepth = st.BitsPerSample.Value
		} else if st.BitsPerRawSample.Value > 0 {
			bitDepth = st.BitsPerRawSample.Value
		}
		break
	}
	if sampleRate == 0 {
		sampleRate = 44100
	}
	if channels == 0 {
		channels = 2
	}
	return sampleRate, channels, bitDepth
}

// DurationFrames returns the container's duration expressed in CD
// frames (75/sec), used to compute the last CUE track's length when
// no following track bounds it.
func (i *Info) DurationFrames() (int64, error) {
	if i.Format == nil || i.Format.Duration == "" {
		return 0, musfuseerr.Wrap(musfuseerr.Malformed, fmt.Errorf("ffprobe: no duration reported"))
	}
	seconds, err := strconv.ParseFloat(i.Format.Duration, 64)
	if err != nil {
		return 0, musfuseerr.Wrapf(musfuseerr.Malformed, err, "parse duration")
	}
	return int64(seconds * 75), nil
}

// Available reports whether ffprobe is reachable on PATH.
func Available() bool {
	_, err := exec.LookPath("ffprobe")
	return err == nil
}
