package domain

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

var ErrUnknownCodec = errors.New("unknown video codec")

// Codec is the video codec negotiated by the publisher.
type Codec string

const (
	CodecVP8  Codec = "vp8"
	CodecVP9  Codec = "vp9"
	CodecH264 Codec = "h264"
)

func (c Codec) MimeType() string {
	switch c {
	case CodecVP8:
		return webrtc.MimeTypeVP8
	case CodecVP9:
		return webrtc.MimeTypeVP9
	case CodecH264:
		return webrtc.MimeTypeH264
	}
	return ""
}

func (c Codec) Validate() error {
	if c.MimeType() == "" {
		return ErrUnknownCodec
	}
	return nil
}
