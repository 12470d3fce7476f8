package lifecycle

import (
	"github.com/dkeye/voice-client/internal/adapters/media"
	"github.com/dkeye/voice-client/internal/domain"
)

// Settings are the capture preferences applied on the next join or display.
type Settings struct {
	Audio      bool         `json:"audio"`
	Video      bool         `json:"video"`
	Screencast bool         `json:"screencast"`
	Resolution string       `json:"resolution"`
	Codec      domain.Codec `json:"codec"`
}

func DefaultSettings() Settings {
	return Settings{Audio: true, Resolution: media.DefaultProfile, Codec: domain.CodecVP8}
}

// SettingsPatch changes only the fields that are set.
type SettingsPatch struct {
	Audio      *bool         `json:"audio,omitempty"`
	Video      *bool         `json:"video,omitempty"`
	Resolution *string       `json:"resolution,omitempty"`
	Codec      *domain.Codec `json:"codec,omitempty"`
}

func (s Settings) Validate() error {
	if _, err := media.LookupProfile(s.Resolution); err != nil {
		return err
	}
	return s.Codec.Validate()
}

func (s Settings) apply(p SettingsPatch) Settings {
	if p.Audio != nil {
		s.Audio = *p.Audio
	}
	if p.Video != nil {
		s.Video = *p.Video
	}
	if p.Resolution != nil {
		s.Resolution = *p.Resolution
	}
	if p.Codec != nil {
		s.Codec = *p.Codec
	}
	return s
}

func (s Settings) constraints() domain.Constraints {
	return domain.Constraints{Audio: s.Audio, Video: s.Video, Codec: s.Codec, Resolution: s.Resolution}
}
