// Package audio describes the raw PCM returned by the speech API and wraps
// it in a WAV container for players that cannot take headerless audio.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Defaults matching the API's "audio/L16;rate=16000" output.
const (
	DefaultSampleRate = 16000
	DefaultBitDepth   = 16
	DefaultChannels   = 1
)

const (
	maxSampleRate = 192000
	maxChannels   = 8
	wavFormatPCM  = 1
)

const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz"
	errFmtBitDepthValue   = "%w: only 16-bit PCM is supported, got %d"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d"
)

var (
	// ErrInvalidFormat is returned for PCM parameters that cannot be encoded.
	ErrInvalidFormat = errors.New("invalid audio format")
	// ErrUnalignedPCM is returned when the byte count is not a whole number of frames.
	ErrUnalignedPCM = errors.New("pcm payload not aligned to frame size")
)

// Format describes little-endian signed PCM.
type Format struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

// DefaultFormat returns 16 kHz, 16-bit mono.
func DefaultFormat() Format {
	return Format{SampleRate: DefaultSampleRate, BitDepth: DefaultBitDepth, Channels: DefaultChannels}
}

// FormatFromMIME reads the sample rate from an "audio/L16;rate=N" string.
// Anything it cannot parse falls back to DefaultFormat.
func FormatFromMIME(mime string) Format {
	format := DefaultFormat()

	for _, part := range strings.Split(mime, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || !strings.EqualFold(key, "rate") {
			continue
		}

		rate, err := strconv.Atoi(value)
		if err == nil && rate > 0 {
			format.SampleRate = rate
		}
	}

	return format
}

// Validate checks the format can be written by WriteWAV.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.SampleRate > maxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidFormat, maxSampleRate)
	}

	if f.BitDepth != DefaultBitDepth {
		return fmt.Errorf(errFmtBitDepthValue, ErrInvalidFormat, f.BitDepth)
	}

	if f.Channels <= 0 || f.Channels > maxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidFormat, maxChannels)
	}

	return nil
}

func (f Format) frameSize() int {
	return f.Channels * f.BitDepth / 8
}

// Duration reports how long pcmBytes of this format play for.
func (f Format) Duration(pcmBytes int) time.Duration {
	frameSize := f.frameSize()
	if frameSize == 0 || f.SampleRate == 0 {
		return 0
	}

	frames := pcmBytes / frameSize

	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// WriteWAV encodes pcm into a WAV stream on w.
func WriteWAV(w io.WriteSeeker, pcm []byte, format Format) error {
	err := format.Validate()
	if err != nil {
		return err
	}

	if len(pcm)%format.frameSize() != 0 {
		return fmt.Errorf("%w: %d bytes", ErrUnalignedPCM, len(pcm))
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           samples,
		SourceBitDepth: format.BitDepth,
	}

	encoder := wav.NewEncoder(w, format.SampleRate, format.BitDepth, format.Channels, wavFormatPCM)

	err = encoder.Write(buffer)
	if err != nil {
		return fmt.Errorf("write wav: %w", err)
	}

	err = encoder.Close()
	if err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}

	return nil
}
