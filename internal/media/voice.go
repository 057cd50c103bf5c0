package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/abema/go-mp4"
	"github.com/at-wat/ebml-go"
	"github.com/at-wat/ebml-go/webm"
	"github.com/go-audio/wav"
	"github.com/jfreymuth/oggvorbis"
	"github.com/mewkiz/flac"
	"github.com/shinyyama/rental-backend/internal/model"
	"github.com/tcolgate/mp3"
)

const (
	// Rough bytes-per-second of browser-recorded webm/opus. Not measured per file.
	webmBytesPerSecond = 8192
	// Used when nothing can be read from the stream.
	DefaultVoiceSeconds = 10
)

// Containers a voice note can be stored in. The set is closed so it can be
// used as a metric label.
const (
	ContainerMP3   = "mp3"
	ContainerWAV   = "wav"
	ContainerOgg   = "ogg"
	ContainerWebM  = "webm"
	ContainerMP4   = "mp4"
	ContainerAAC   = "aac"
	ContainerFLAC  = "flac"
	ContainerOther = "other"
)

var (
	ErrUnsupportedAudio = errors.New("unsupported audio container")
	ErrNoDuration       = errors.New("no duration in audio stream")
)

var containerByMIME = map[string]string{
	"audio/mpeg": ContainerMP3, "audio/mp3": ContainerMP3,
	"audio/wav": ContainerWAV, "audio/x-wav": ContainerWAV, "audio/wave": ContainerWAV,
	"audio/ogg": ContainerOgg, "application/ogg": ContainerOgg, "audio/opus": ContainerOgg,
	"video/webm": ContainerWebM, "audio/webm": ContainerWebM,
	"audio/mp4": ContainerMP4, "video/mp4": ContainerMP4, "audio/x-m4a": ContainerMP4, "audio/m4a": ContainerMP4,
	"audio/aac": ContainerAAC, "audio/x-aac": ContainerAAC,
	"audio/flac": ContainerFLAC, "audio/x-flac": ContainerFLAC,
}

var containerByExt = map[string]string{
	"mp3": ContainerMP3, "wav": ContainerWAV, "ogg": ContainerOgg, "opus": ContainerOgg,
	"webm": ContainerWebM, "m4a": ContainerMP4, "mp4": ContainerMP4, "aac": ContainerAAC, "flac": ContainerFLAC,
}

// Container names the audio container for a MIME type, falling back to the
// file extension. Unknown inputs map to ContainerOther.
func Container(mime, filename string) string {
	if c, ok := containerByMIME[normalizeMIME(mime)]; ok {
		return c
	}
	if c, ok := containerByExt[Extension(filename)]; ok {
		return c
	}
	return ContainerOther
}

// AnalyzeVoice returns playback details for a voice attachment. It always
// yields a usable duration: when the stream cannot be read the result is
// marked Estimated and the returned error says why probing failed.
func AnalyzeVoice(data []byte, mime, filename string) (model.VoiceInfo, error) {
	info, err := probe(data, Container(mime, filename))
	if err == nil && info.DurationSeconds > 0 {
		return info, nil
	}
	if err == nil {
		err = ErrNoDuration
	}
	return fallbackVoiceInfo(len(data), mime), err
}

func fallbackVoiceInfo(size int, mime string) model.VoiceInfo {
	if normalizeMIME(mime) == "video/webm" {
		secs := int(math.Round(float64(size) / webmBytesPerSecond))
		return model.VoiceInfo{DurationSeconds: max(1, secs), Estimated: true}
	}
	return model.VoiceInfo{DurationSeconds: DefaultVoiceSeconds, Estimated: true}
}

func probe(data []byte, container string) (model.VoiceInfo, error) {
	switch container {
	case ContainerMP3:
		return probeMP3(data)
	case ContainerWAV:
		return probeWAV(data)
	case ContainerFLAC:
		return probeFLAC(data)
	case ContainerMP4:
		return probeMP4(data)
	case ContainerWebM:
		return probeWebM(data)
	case ContainerOgg:
		return probeOgg(data)
	case ContainerAAC:
		return probeADTS(data)
	}
	return model.VoiceInfo{}, fmt.Errorf("%w: %s", ErrUnsupportedAudio, container)
}

func probeMP3(data []byte) (model.VoiceInfo, error) {
	dec := mp3.NewDecoder(bytes.NewReader(data))
	var (
		frame   mp3.Frame
		skipped int
		total   time.Duration
		frames  int
		first   mp3.FrameHeader
	)
	for {
		if err := dec.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || frames > 0 {
				break
			}
			return model.VoiceInfo{}, fmt.Errorf("mp3 decode: %w", err)
		}
		if frames == 0 {
			first = frame.Header()
		}
		frames++
		total += frame.Duration()
	}
	if frames == 0 {
		return model.VoiceInfo{}, ErrNoDuration
	}
	channels := 2
	if first.ChannelMode() == mp3.SingleChannel {
		channels = 1
	}
	return streamInfo(total, int(first.BitRate()), int(first.SampleRate()), channels), nil
}

func probeWAV(data []byte) (model.VoiceInfo, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return model.VoiceInfo{}, fmt.Errorf("wav: invalid file")
	}
	dur, err := dec.Duration()
	if err != nil {
		return model.VoiceInfo{}, fmt.Errorf("wav duration: %w", err)
	}
	return streamInfo(dur, int(dec.AvgBytesPerSec)*8, int(dec.SampleRate), int(dec.NumChans)), nil
}

func probeFLAC(data []byte) (model.VoiceInfo, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return model.VoiceInfo{}, fmt.Errorf("flac: %w", err)
	}
	defer stream.Close()
	si := stream.Info
	if si.NSamples == 0 {
		return model.VoiceInfo{}, ErrNoDuration
	}
	dur := samplesDuration(si.NSamples, uint64(si.SampleRate))
	return streamInfo(dur, averageBitrate(len(data), dur), int(si.SampleRate), int(si.NChannels)), nil
}

func probeMP4(data []byte) (model.VoiceInfo, error) {
	if len(data) < 8 || string(data[4:8]) != "ftyp" {
		return model.VoiceInfo{}, errors.New("mp4: missing ftyp box")
	}
	pi, err := mp4.Probe(bytes.NewReader(data))
	if err != nil {
		return model.VoiceInfo{}, fmt.Errorf("mp4: %w", err)
	}

	var (
		sampleRate, channels int
		dur                  time.Duration
	)
	if pi.Timescale > 0 {
		dur = samplesDuration(pi.Duration, uint64(pi.Timescale))
	}
	for _, tr := range pi.Tracks {
		if tr.MP4A == nil {
			continue
		}
		// Audio tracks use the sample rate as their timescale.
		sampleRate = int(tr.Timescale)
		channels = int(tr.MP4A.ChannelCount)
		if dur == 0 && tr.Timescale > 0 {
			dur = samplesDuration(tr.Duration, uint64(tr.Timescale))
		}
		break
	}
	if dur == 0 {
		return model.VoiceInfo{}, ErrNoDuration
	}
	return streamInfo(dur, averageBitrate(len(data), dur), sampleRate, channels), nil
}

var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

// probeWebM reads the segment Duration. Live recorders such as MediaRecorder
// leave it out, in which case the last block timestamp is used.
func probeWebM(data []byte) (model.VoiceInfo, error) {
	if !bytes.HasPrefix(data, ebmlMagic) {
		return model.VoiceInfo{}, errors.New("webm: missing EBML header")
	}
	var doc struct {
		Header  webm.EBMLHeader `ebml:"EBML"`
		Segment webm.Segment    `ebml:"Segment"`
	}
	err := ebml.Unmarshal(bytes.NewReader(data), &doc, ebml.WithIgnoreUnknown(true))
	seg := doc.Segment
	if err != nil && len(seg.Cluster) == 0 && seg.Info.Duration == 0 {
		return model.VoiceInfo{}, fmt.Errorf("webm: %w", err)
	}

	scale := seg.Info.TimecodeScale
	if scale == 0 {
		scale = uint64(time.Millisecond)
	}
	var dur time.Duration
	if seg.Info.Duration > 0 {
		dur = time.Duration(seg.Info.Duration * float64(scale))
	} else {
		var last int64
		for _, c := range seg.Cluster {
			for _, b := range c.SimpleBlock {
				last = max(last, int64(c.Timecode)+int64(b.Timecode))
			}
			for _, g := range c.BlockGroup {
				last = max(last, int64(c.Timecode)+int64(g.Block.Timecode)+int64(g.BlockDuration))
			}
		}
		dur = time.Duration(last) * time.Duration(scale)
	}
	if dur <= 0 {
		return model.VoiceInfo{}, ErrNoDuration
	}

	var sampleRate, channels int
	for _, te := range seg.Tracks.TrackEntry {
		if te.Audio != nil {
			sampleRate = int(te.Audio.SamplingFrequency)
			channels = int(te.Audio.Channels)
			break
		}
	}
	return streamInfo(dur, averageBitrate(len(data), dur), sampleRate, channels), nil
}

var (
	oggCapture = []byte("OggS")
	opusHead   = []byte("OpusHead")
)

// Opus granule positions always count 48 kHz samples.
const opusGranuleRate = 48000

func probeOgg(data []byte) (model.VoiceInfo, error) {
	if !bytes.HasPrefix(data, oggCapture) {
		return model.VoiceInfo{}, errors.New("ogg: missing capture pattern")
	}
	if len(data) > 27 {
		body := 27 + int(data[26])
		if body+len(opusHead) <= len(data) && bytes.Equal(data[body:body+len(opusHead)], opusHead) {
			return probeOpus(data, body)
		}
	}

	length, format, err := oggvorbis.GetLength(bytes.NewReader(data))
	if err != nil {
		return model.VoiceInfo{}, fmt.Errorf("ogg vorbis: %w", err)
	}
	if length <= 0 || format.SampleRate <= 0 {
		return model.VoiceInfo{}, ErrNoDuration
	}
	dur := samplesDuration(uint64(length), uint64(format.SampleRate))
	bitrate := format.Bitrate.Nominal
	if bitrate <= 0 {
		bitrate = averageBitrate(len(data), dur)
	}
	return streamInfo(dur, bitrate, format.SampleRate, format.Channels), nil
}

// probeOpus reads the identification header at head and the granule
// position of the last complete page.
func probeOpus(data []byte, head int) (model.VoiceInfo, error) {
	if head+19 > len(data) {
		return model.VoiceInfo{}, errors.New("ogg opus: short header")
	}
	channels := int(data[head+9])
	preSkip := uint64(binary.LittleEndian.Uint16(data[head+10:]))
	inputRate := int(binary.LittleEndian.Uint32(data[head+12:]))

	var granule uint64
	for end := len(data); end > 0; {
		i := bytes.LastIndex(data[:end], oggCapture)
		if i < 0 {
			break
		}
		end = i
		if i+14 > len(data) || data[i+4] != 0 {
			continue
		}
		g := binary.LittleEndian.Uint64(data[i+6:])
		if g != math.MaxUint64 {
			granule = g
			break
		}
	}
	if granule <= preSkip {
		return model.VoiceInfo{}, ErrNoDuration
	}
	dur := samplesDuration(granule-preSkip, opusGranuleRate)
	if inputRate == 0 {
		inputRate = opusGranuleRate
	}
	return streamInfo(dur, averageBitrate(len(data), dur), inputRate, channels), nil
}

var adtsSampleRates = [...]int{96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050, 16000, 12000, 11025, 8000, 7350}

// probeADTS walks raw AAC frames. Each raw data block holds 1024 samples.
func probeADTS(data []byte) (model.VoiceInfo, error) {
	var (
		samples              uint64
		sampleRate, channels int
	)
	for i := 0; i+7 <= len(data); {
		if data[i] != 0xFF || data[i+1]&0xF6 != 0xF0 {
			break
		}
		idx := int(data[i+2]>>2) & 0x0F
		if idx >= len(adtsSampleRates) {
			break
		}
		frameLen := int(data[i+3]&0x03)<<11 | int(data[i+4])<<3 | int(data[i+5])>>5
		if frameLen < 7 {
			break
		}
		if samples == 0 {
			sampleRate = adtsSampleRates[idx]
			channels = int(data[i+2]&0x01)<<2 | int(data[i+3]>>6)
		}
		samples += 1024 * uint64(data[i+6]&0x03+1)
		i += frameLen
	}
	if samples == 0 || sampleRate == 0 {
		return model.VoiceInfo{}, fmt.Errorf("aac: no ADTS frames")
	}
	dur := samplesDuration(samples, uint64(sampleRate))
	return streamInfo(dur, averageBitrate(len(data), dur), sampleRate, channels), nil
}

func samplesDuration(samples, rate uint64) time.Duration {
	if rate == 0 {
		return 0
	}
	return time.Duration(float64(samples) / float64(rate) * float64(time.Second))
}

func averageBitrate(size int, d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(float64(size) * 8 / d.Seconds()))
}

// streamInfo builds a VoiceInfo, leaving out codec fields that were not read.
func streamInfo(d time.Duration, bitrate, sampleRate, channels int) model.VoiceInfo {
	info := model.VoiceInfo{DurationSeconds: wholeSeconds(d)}
	if bitrate > 0 {
		info.Bitrate = &bitrate
	}
	if sampleRate > 0 {
		info.SampleRate = &sampleRate
	}
	if channels > 0 {
		info.Channels = &channels
	}
	return info
}

func wholeSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return max(1, int(math.Round(d.Seconds())))
}
