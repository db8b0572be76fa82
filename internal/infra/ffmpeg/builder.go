// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import "strconv"

// PCM layout exchanged with ffmpeg over pipes: interleaved signed 16-bit little endian.
const (
	PCMFormat         = "s16le"
	PCMCodec          = "pcm_s16le"
	PCMBytesPerSample = 2
)

// DecodeArgs decodes one stream of input to raw PCM on stdout at the given
// rate and channel layout.
func DecodeArgs(input string, streamIndex int, sampleRate uint32, channels uint8) []string {
	return []string{
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-i", input,
		"-map", "0:" + strconv.Itoa(streamIndex),
		"-vn", "-sn", "-dn",
		"-f", PCMFormat,
		"-acodec", PCMCodec,
		"-ar", strconv.FormatUint(uint64(sampleRate), 10),
		"-ac", strconv.Itoa(int(channels)),
		"pipe:1",
	}
}

// EncodeArgs reads raw PCM on stdin and writes AAC-LC ADTS frames on stdout.
func EncodeArgs(sampleRate uint32, channels uint8, bitrate uint32) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", PCMFormat,
		"-ar", strconv.FormatUint(uint64(sampleRate), 10),
		"-ac", strconv.Itoa(int(channels)),
		"-i", "pipe:0",
		"-c:a", "aac",
		"-profile:a", "aac_low",
		"-b:a", strconv.FormatUint(uint64(bitrate), 10),
		"-f", "adts",
		"pipe:1",
	}
}

// ExtractArgs copies the first audio stream of input into a Matroska audio
// file, dropping video, subtitles and data.
func ExtractArgs(input, output string) []string {
	return []string{
		"-y", "-nostdin", "-hide_banner", "-loglevel", "error",
		"-i", input,
		"-map", "0:a:0",
		"-vn", "-sn", "-dn",
		"-c:a", "copy",
		"-f", "matroska",
		output,
	}
}
