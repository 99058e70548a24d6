package protocol

import "fmt"

// Version is the protocol version announced in the greeting.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// AtLeast reports whether v is the same as or newer than major.minor.patch.
func (v Version) AtLeast(major, minor, patch int) bool {
	if v.Major != major {
		return v.Major > major
	}
	if v.Minor != minor {
		return v.Minor > minor
	}
	return v.Patch >= patch
}

// Greeting is the first line the daemon sends on a new connection.
type Greeting struct {
	Name    string  `json:"name"`
	Version Version `json:"version"`
}

// Status is one decoded `status` response. A nil field was absent from the reply.
type Status struct {
	State        *string `json:"state,omitempty"`
	Time         *string `json:"time,omitempty"`
	Elapsed      *string `json:"elapsed,omitempty"`
	Bitrate      *string `json:"bitrate,omitempty"`
	MixRampDB    *string `json:"mixrampdb,omitempty"`
	MixRampDelay *string `json:"mixrampdelay,omitempty"`
	Audio        *string `json:"audio,omitempty"`
	Error        *string `json:"error,omitempty"`

	Repeat  *bool `json:"repeat,omitempty"`
	Random  *bool `json:"random,omitempty"`
	Single  *bool `json:"single,omitempty"`
	Consume *bool `json:"consume,omitempty"`

	Volume         *int `json:"volume,omitempty"`
	Playlist       *int `json:"playlist,omitempty"`
	PlaylistLength *int `json:"playlistlength,omitempty"`
	Song           *int `json:"song,omitempty"`
	SongID         *int `json:"songid,omitempty"`
	NextSong       *int `json:"nextsong,omitempty"`
	NextSongID     *int `json:"nextsongid,omitempty"`
	Duration       *int `json:"duration,omitempty"`
	XFade          *int `json:"xfade,omitempty"`
	UpdatingDB     *int `json:"updating_db,omitempty"`
}

// Player states reported in Status.State.
const (
	StatePlay  = "play"
	StatePause = "pause"
	StateStop  = "stop"
)

// Song is one record of a song listing. Attrs keeps every key of the record.
type Song struct {
	File  string            `json:"file"`
	Title *string           `json:"title,omitempty"`
	Name  *string           `json:"name,omitempty"`
	Pos   *int              `json:"pos,omitempty"`
	ID    *int              `json:"id,omitempty"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Playlist is a stored playlist with its songs.
type Playlist struct {
	Name  string `json:"name"`
	Songs []Song `json:"songs"`
}

// StoredPlaylist is one entry of a `listplaylists` reply.
type StoredPlaylist struct {
	Name         string `json:"name"`
	LastModified string `json:"last_modified,omitempty"`
}
