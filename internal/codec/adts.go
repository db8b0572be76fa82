// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package codec

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// ErrBadFrame is returned for ADTS data that cannot be framed.
var ErrBadFrame = errors.New("malformed ADTS frame")

const (
	adtsHeaderLen    = 7
	adtsHeaderLenCRC = 9
	adtsMaxFrameLen  = 1<<13 - 1
)

var adtsSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050, 16000, 12000, 11025, 8000, 7350,
}

// adtsFrame is one access unit taken from an ADTS stream.
type adtsFrame struct {
	objectType   mpeg4audio.ObjectType
	sampleRate   int
	channelCount int
	au           []byte
}

// adtsReader splits a byte stream into ADTS frames.
type adtsReader struct {
	br  *bufio.Reader
	buf []byte
}

func newADTSReader(r io.Reader) *adtsReader {
	return &adtsReader{br: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next frame, io.EOF at a clean frame boundary and
// io.ErrUnexpectedEOF when the stream stops mid-frame.
func (a *adtsReader) Next() (adtsFrame, error) {
	hdr, err := a.br.Peek(adtsHeaderLen)
	if err != nil {
		if errors.Is(err, io.EOF) && len(hdr) == 0 {
			return adtsFrame{}, io.EOF
		}
		return adtsFrame{}, io.ErrUnexpectedEOF
	}

	frameLen, channels, err := parseADTSHeader(hdr)
	if err != nil {
		return adtsFrame{}, err
	}

	if cap(a.buf) < frameLen {
		a.buf = make([]byte, frameLen)
	}
	frame := a.buf[:frameLen]
	if _, err := io.ReadFull(a.br, frame); err != nil {
		return adtsFrame{}, io.ErrUnexpectedEOF
	}

	var pkts mpeg4audio.ADTSPackets
	if err := pkts.Unmarshal(frame); err != nil {
		return adtsFrame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if len(pkts) != 1 {
		return adtsFrame{}, fmt.Errorf("%w: %d access units in one frame", ErrBadFrame, len(pkts))
	}

	return adtsFrame{
		objectType:   pkts[0].Type,
		sampleRate:   pkts[0].SampleRate,
		channelCount: channels,
		au:           pkts[0].AU,
	}, nil
}

// parseADTSHeader validates the fixed header and returns the full frame length
// and channel count.
func parseADTSHeader(h []byte) (frameLen, channels int, err error) {
	if len(h) < adtsHeaderLen {
		return 0, 0, fmt.Errorf("%w: short header", ErrBadFrame)
	}
	// 12-bit syncword, layer 00.
	if h[0] != 0xFF || h[1]&0xF6 != 0xF0 {
		return 0, 0, fmt.Errorf("%w: no syncword", ErrBadFrame)
	}
	headerLen := adtsHeaderLen
	if h[1]&0x01 == 0 {
		headerLen = adtsHeaderLenCRC
	}

	sfi := int(h[2]>>2) & 0x0F
	if sfi >= len(adtsSampleRates) {
		return 0, 0, fmt.Errorf("%w: sampling index %d", ErrBadFrame, sfi)
	}

	cfg := int(h[2]&0x01)<<2 | int(h[3]>>6)
	switch {
	case cfg >= 1 && cfg <= 6:
		channels = cfg
	case cfg == 7:
		channels = 8
	default:
		return 0, 0, fmt.Errorf("%w: channel configuration %d", ErrBadFrame, cfg)
	}

	frameLen = int(h[3]&0x03)<<11 | int(h[4])<<3 | int(h[5]>>5)
	if frameLen <= headerLen || frameLen > adtsMaxFrameLen {
		return 0, 0, fmt.Errorf("%w: frame length %d", ErrBadFrame, frameLen)
	}
	return frameLen, channels, nil
}
