package media

import (
	"fmt"

	"github.com/dkeye/voice-client/internal/domain"
)

// Profile is a target resolution with the encoding limits applied to outgoing video.
// FrameRate and FrameRateMax bound the capture; Encoding caps the sender.
type Profile struct {
	Name         string   `json:"name"`
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	FrameRate    int      `json:"frame_rate"`
	FrameRateMax int      `json:"frame_rate_max"`
	Encoding     Encoding `json:"encoding"`
}

// Encoding is the per-sender cap of a profile.
type Encoding struct {
	MaxBitrate   uint64  `json:"max_bitrate"`
	MaxFramerate float64 `json:"max_framerate"`
}

const DefaultProfile = "hd"

var profiles = []Profile{
	{Name: "qvga", Width: 320, Height: 180, FrameRate: 15, FrameRateMax: 30, Encoding: Encoding{MaxBitrate: 150_000, MaxFramerate: 15}},
	{Name: "vga", Width: 640, Height: 360, FrameRate: 30, FrameRateMax: 60, Encoding: Encoding{MaxBitrate: 500_000, MaxFramerate: 30}},
	{Name: "shd", Width: 960, Height: 540, FrameRate: 30, FrameRateMax: 60, Encoding: Encoding{MaxBitrate: 1_200_000, MaxFramerate: 30}},
	{Name: "hd", Width: 1280, Height: 720, FrameRate: 30, FrameRateMax: 60, Encoding: Encoding{MaxBitrate: 2_500_000, MaxFramerate: 30}},
	{Name: "fhd", Width: 1920, Height: 1080, FrameRate: 30, FrameRateMax: 60, Encoding: Encoding{MaxBitrate: 4_000_000, MaxFramerate: 30}},
	{Name: "qhd", Width: 2560, Height: 1440, FrameRate: 30, FrameRateMax: 60, Encoding: Encoding{MaxBitrate: 8_000_000, MaxFramerate: 30}},
}

func LookupProfile(name string) (Profile, error) {
	for _, p := range profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: %q", domain.ErrUnknownProfile, name)
}

// Profiles lists the known profiles from the smallest to the largest.
func Profiles() []Profile {
	return append([]Profile(nil), profiles...)
}
