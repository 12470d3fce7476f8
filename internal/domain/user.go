// Package domain contains entities without protocol behaviour, just meta-data
package domain

import "fmt"

// MediaKind names a media flag carried by produce events.
type MediaKind string

const (
	MediaAudio      MediaKind = "audio"
	MediaVideo      MediaKind = "video"
	MediaScreencast MediaKind = "screencast"
)

// Participant is the producing state of a room member as last reported by the server.
type Participant struct {
	ID         UserID `json:"id,omitempty"`
	Audio      bool   `json:"audio,omitempty"`
	Video      bool   `json:"video,omitempty"`
	Screencast bool   `json:"screencast,omitempty"`
}

// SetProducing toggles the flag named by kind.
func (p *Participant) SetProducing(kind MediaKind, on bool) error {
	switch kind {
	case MediaAudio:
		p.Audio = on
	case MediaVideo:
		p.Video = on
	case MediaScreencast:
		p.Screencast = on
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMediaKind, kind)
	}
	return nil
}

func (p *Participant) Producing(kind MediaKind) bool {
	switch kind {
	case MediaAudio:
		return p.Audio
	case MediaVideo:
		return p.Video
	case MediaScreencast:
		return p.Screencast
	}
	return false
}

// Constraints describe what a capture should produce.
type Constraints struct {
	Audio      bool   `json:"audio"`
	Video      bool   `json:"video"`
	Codec      Codec  `json:"codec"`
	Resolution string `json:"resolution"`
}
