package media

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"

	"go.uber.org/zap"
)

const (
	minVoiceSeconds = 1
	maxVoiceSeconds = 300
	waveformLength  = 64
)

// AnalyzeVoiceNote extracts the playback duration from an Ogg Opus
// voice note and synthesizes a waveform for it. Analysis never fails:
// when the container cannot be parsed the duration falls back to a
// size-based estimate with a logged warning.
func AnalyzeVoiceNote(data []byte, logger *zap.Logger) (seconds uint32, waveform []byte) {
	seconds, ok := oggOpusDuration(data)
	if !ok {
		logger.Warn("voice note analysis failed, estimating duration from size",
			zap.Int("bytes", len(data)))
		seconds = clampSeconds(uint32(float64(len(data)) / 2000.0))
	}
	return seconds, Waveform(seconds)
}

// oggOpusDuration walks the Ogg pages to find the final granule
// position and the OpusHead parameters, then derives the duration.
func oggOpusDuration(data []byte) (uint32, bool) {
	if len(data) < 4 || !bytes.HasPrefix(data, []byte("OggS")) {
		return 0, false
	}

	var lastGranule uint64
	var sampleRate uint32 = 48000
	var preSkip uint16
	foundHead := false

	for i := 0; i+27 < len(data); {
		if string(data[i:i+4]) != "OggS" {
			i++
			continue
		}

		granule := binary.LittleEndian.Uint64(data[i+6 : i+14])
		pageSeq := binary.LittleEndian.Uint32(data[i+18 : i+22])
		numSegments := int(data[i+26])
		if i+27+numSegments >= len(data) {
			break
		}

		pageSize := 27 + numSegments
		for _, segLen := range data[i+27 : i+27+numSegments] {
			pageSize += int(segLen)
		}
		if i+pageSize > len(data) {
			pageSize = len(data) - i
		}

		// OpusHead lives in the first pages. Packet layout: magic(8)
		// version(1) channels(1) preSkip(2) sampleRate(4).
		if !foundHead && pageSeq <= 1 {
			page := data[i : i+pageSize]
			if pos := bytes.Index(page, []byte("OpusHead")); pos >= 0 && pos+16 <= len(page) {
				head := page[pos:]
				preSkip = binary.LittleEndian.Uint16(head[10:12])
				sampleRate = binary.LittleEndian.Uint32(head[12:16])
				foundHead = true
			}
		}

		if granule != 0 {
			lastGranule = granule
		}
		i += pageSize
	}

	if lastGranule == 0 || sampleRate == 0 {
		return 0, false
	}
	duration := float64(lastGranule-uint64(preSkip)) / float64(sampleRate)
	return clampSeconds(uint32(math.Ceil(duration))), true
}

func clampSeconds(s uint32) uint32 {
	if s < minVoiceSeconds {
		return minVoiceSeconds
	}
	if s > maxVoiceSeconds {
		return maxVoiceSeconds
	}
	return s
}

// Waveform synthesizes the 64-byte amplitude preview shown next to a
// voice note. Deterministic for a given duration.
func Waveform(seconds uint32) []byte {
	rng := rand.New(rand.NewSource(int64(seconds)))
	waveform := make([]byte, waveformLength)

	baseAmplitude := 35.0
	frequency := math.Min(float64(seconds), 120) / 30.0

	for i := range waveform {
		pos := float64(i) / float64(waveformLength)

		val := baseAmplitude * math.Sin(pos*math.Pi*frequency*8)
		val += (baseAmplitude / 2) * math.Sin(pos*math.Pi*frequency*16)
		val += (rng.Float64() - 0.5) * 15

		// Fade in and out toward the edges.
		val *= 0.7 + 0.3*math.Sin(pos*math.Pi)
		val += 50

		waveform[i] = byte(math.Max(0, math.Min(100, val)))
	}
	return waveform
}
