package media

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/danmuck/castctl/internal/protocol"
	"github.com/danmuck/castctl/internal/protocol/jsonmsg"
)

type StreamType string

const (
	StreamBuffered StreamType = "BUFFERED"
	StreamLive     StreamType = "LIVE"
)

type MetadataType int

const (
	MetadataGeneric    MetadataType = 0
	MetadataTVShow     MetadataType = 1
	MetadataMovie      MetadataType = 2
	MetadataMusicTrack MetadataType = 3
	MetadataPhoto      MetadataType = 4
)

type PlayerState string

const (
	PlayerIdle      PlayerState = "IDLE"
	PlayerBuffering PlayerState = "BUFFERING"
	PlayerPlaying   PlayerState = "PLAYING"
	PlayerPaused    PlayerState = "PAUSED"
)

// SupportedCommands is the supportedMediaCommands bitmask.
type SupportedCommands uint32

const (
	CommandPause SupportedCommands = 1 << iota
	CommandSeek
	CommandVolume
	CommandMute
	CommandSkipForward
	CommandSkipBackward
)

func (c SupportedCommands) Has(cmd SupportedCommands) bool { return c&cmd == cmd }

type Image struct {
	URL string `json:"url"`
}

type Metadata struct {
	MetadataType MetadataType `json:"metadataType"`
	Title        string       `json:"title,omitempty"`
	Subtitle     string       `json:"subtitle,omitempty"`
	Images       []Image      `json:"images,omitempty"`
}

type Track struct {
	TrackID          int    `json:"trackId"`
	Type             string `json:"type"`
	TrackContentID   string `json:"trackContentId,omitempty"`
	TrackContentType string `json:"trackContentType,omitempty"`
	Name             string `json:"name,omitempty"`
	Language         string `json:"language,omitempty"`
	Subtype          string `json:"subtype,omitempty"`
}

// Color is an #RRGGBBAA text track color.
type Color [4]byte

func ParseColor(s string) (Color, error) {
	var c Color
	if len(s) != 9 || s[0] != '#' {
		return c, fmt.Errorf("media: invalid color %q", s)
	}
	if _, err := hex.Decode(c[:], []byte(s[1:])); err != nil {
		return c, fmt.Errorf("media: invalid color %q: %w", s, err)
	}
	return c, nil
}

func (c Color) String() string {
	return "#" + strings.ToUpper(hex.EncodeToString(c[:]))
}

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Color) UnmarshalText(b []byte) error {
	parsed, err := ParseColor(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

type TextTrackStyle struct {
	BackgroundColor           *Color  `json:"backgroundColor,omitempty"`
	ForegroundColor           *Color  `json:"foregroundColor,omitempty"`
	EdgeType                  string  `json:"edgeType,omitempty"`
	EdgeColor                 *Color  `json:"edgeColor,omitempty"`
	FontScale                 float64 `json:"fontScale,omitempty"`
	FontStyle                 string  `json:"fontStyle,omitempty"`
	FontFamily                string  `json:"fontFamily,omitempty"`
	FontGenericFamily         string  `json:"fontGenericFamily,omitempty"`
	WindowType                string  `json:"windowType,omitempty"`
	WindowColor               *Color  `json:"windowColor,omitempty"`
	WindowRoundedCornerRadius float64 `json:"windowRoundedCornerRadius,omitempty"`
}

type Media struct {
	ContentID      string          `json:"contentId"`
	ContentType    string          `json:"contentType"`
	StreamType     StreamType      `json:"streamType"`
	Duration       float64         `json:"duration,omitempty"`
	Metadata       *Metadata       `json:"metadata,omitempty"`
	Tracks         []Track         `json:"tracks,omitempty"`
	TextTrackStyle *TextTrackStyle `json:"textTrackStyle,omitempty"`
}

type MediaItem struct {
	ItemID         int     `json:"itemId"`
	Autoplay       bool    `json:"autoplay"`
	StartTime      float64 `json:"startTime"`
	ActiveTrackIDs []int   `json:"activeTrackIds,omitempty"`
	Media          Media   `json:"media"`
}

type Volume struct {
	Level float64 `json:"level"`
	Muted bool    `json:"muted"`
}

// MediaStatus is the first entry of a MEDIA_STATUS status array. Valid is
// false when the array was empty.
type MediaStatus struct {
	Valid                  bool              `json:"-"`
	MediaSessionID         int64             `json:"mediaSessionId"`
	PlaybackRate           float64           `json:"playbackRate"`
	PlayerState            PlayerState       `json:"playerState"`
	IdleReason             string            `json:"idleReason,omitempty"`
	CurrentTime            float64           `json:"currentTime"`
	SupportedMediaCommands SupportedCommands `json:"supportedMediaCommands"`
	Volume                 Volume            `json:"volume"`
	CurrentItemID          int               `json:"currentItemId,omitempty"`
	RepeatMode             string            `json:"repeatMode,omitempty"`
	Media                  *Media            `json:"media,omitempty"`
	Items                  []MediaItem       `json:"items,omitempty"`
}

// ParseStatus reads a MEDIA_STATUS body.
func ParseStatus(msg jsonmsg.Message) (MediaStatus, error) {
	if msg.Type() != protocol.TypeMediaStatus {
		return MediaStatus{}, fmt.Errorf("%w: expected %s, got %q", protocol.ErrProtocolViolation, protocol.TypeMediaStatus, msg.Type())
	}
	var body struct {
		Status []MediaStatus `json:"status"`
	}
	if err := msg.Decode(&body); err != nil {
		return MediaStatus{}, err
	}
	if len(body.Status) == 0 {
		return MediaStatus{}, nil
	}
	status := body.Status[0]
	status.Valid = true
	return status, nil
}

// Response is the outcome of a media request. A failure carries the
// reason, or the failure message type when the device gave none.
type Response struct {
	Reason string
	Status MediaStatus
}

func (r Response) Succeeded() bool { return r.Reason == "" }
func (r Response) Failed() bool    { return !r.Succeeded() }

func (r Response) String() string {
	if r.Succeeded() {
		return "success"
	}
	return "failure, " + r.Reason
}

// ParseResponse reads a reply to a media request.
func ParseResponse(msg jsonmsg.Message) (Response, error) {
	if msg.Has("status") && msg.Type() == protocol.TypeMediaStatus {
		status, err := ParseStatus(msg)
		if err != nil {
			return Response{}, err
		}
		return Response{Status: status}, nil
	}
	reason := msg.Get(jsonmsg.FieldReason).String()
	if reason == "" {
		reason = msg.Type()
	}
	if reason == "" {
		reason = "unknown media response"
	}
	return Response{Reason: reason}, nil
}
