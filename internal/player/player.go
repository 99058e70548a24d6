// Package player formats playback and queue commands on top of the pipeline.
package player

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/mpdctl/internal/mpd"
	"github.com/danmuck/mpdctl/internal/protocol"
)

var (
	ErrInvalidArgument   = errors.New("player: invalid argument")
	ErrVolumeUnavailable = errors.New("player: volume not reported")
	ErrStateUnavailable  = errors.New("player: playback state not reported")
)

// Executor is the pipeline surface the wrappers need. *mpd.Client implements it.
type Executor interface {
	mpd.Sender
	Exchange(ctx context.Context, fn func(mpd.Sender) error) error
	ExecuteWithFreshStatus(ctx context.Context, fn func(mpd.Sender, protocol.Status) error) error
}

type Player struct {
	exec Executor
}

func New(exec Executor) *Player {
	return &Player{exec: exec}
}

func (p *Player) send(ctx context.Context, command string, args ...any) error {
	_, err := p.exec.Execute(ctx, command, args...)
	return err
}

// Status refreshes and returns the daemon status.
func (p *Player) Status(ctx context.Context) (protocol.Status, error) {
	var out protocol.Status
	err := p.exec.ExecuteWithFreshStatus(ctx, func(_ mpd.Sender, st protocol.Status) error {
		out = st
		return nil
	})
	return out, err
}

// CurrentSong returns the playing song; ok is false when nothing is queued.
func (p *Player) CurrentSong(ctx context.Context) (protocol.Song, bool, error) {
	var (
		song protocol.Song
		ok   bool
	)
	err := p.exec.Exchange(ctx, func(s mpd.Sender) error {
		raw, err := s.Execute(ctx, "currentsong")
		if err != nil {
			return err
		}
		song, ok, err = protocol.DecodeSong(raw)
		return err
	})
	if err != nil {
		return protocol.Song{}, false, err
	}
	return song, ok, nil
}

func (p *Player) Play(ctx context.Context) error {
	return p.send(ctx, "play")
}

// PlayPos plays the song at queue position pos.
func (p *Player) PlayPos(ctx context.Context, pos int) error {
	if pos < 0 {
		return fmt.Errorf("%w: position %d", ErrInvalidArgument, pos)
	}
	return p.send(ctx, "play", pos)
}

// PlayID plays the queued song with id.
func (p *Player) PlayID(ctx context.Context, id int) error {
	if id < 0 {
		return fmt.Errorf("%w: song id %d", ErrInvalidArgument, id)
	}
	return p.send(ctx, "playid", id)
}

func (p *Player) Stop(ctx context.Context) error {
	return p.send(ctx, "stop")
}

func (p *Player) Pause(ctx context.Context, pause bool) error {
	return p.send(ctx, "pause", boolArg(pause))
}

// Toggle pauses while playing and resumes while paused. A stopped player
// starts playing. Without a known state nothing is sent and
// ErrStateUnavailable is returned.
func (p *Player) Toggle(ctx context.Context) error {
	return p.exec.ExecuteWithFreshStatus(ctx, func(s mpd.Sender, st protocol.Status) error {
		if st.State == nil {
			return ErrStateUnavailable
		}
		var err error
		switch *st.State {
		case protocol.StatePlay:
			_, err = s.Execute(ctx, "pause", 1)
		case protocol.StatePause:
			_, err = s.Execute(ctx, "pause", 0)
		case protocol.StateStop:
			_, err = s.Execute(ctx, "play")
		default:
			err = fmt.Errorf("%w: state %q", ErrStateUnavailable, *st.State)
		}
		return err
	})
}

func (p *Player) Volume(ctx context.Context) (int, error) {
	var vol int
	err := p.exec.ExecuteWithFreshStatus(ctx, func(_ mpd.Sender, st protocol.Status) error {
		if st.Volume == nil {
			return ErrVolumeUnavailable
		}
		vol = *st.Volume
		return nil
	})
	return vol, err
}

// SetVolume sets the volume to value in [0, 100].
func (p *Player) SetVolume(ctx context.Context, value int) error {
	if value < 0 || value > 100 {
		return fmt.Errorf("%w: volume %d outside 0..100", ErrInvalidArgument, value)
	}
	return p.send(ctx, "setvol", value)
}

// IncrVolume moves the volume by delta in [-100, 100], clamping the result
// to [0, 100]. A zero delta sends nothing.
func (p *Player) IncrVolume(ctx context.Context, delta int) error {
	if delta < -100 || delta > 100 {
		return fmt.Errorf("%w: volume delta %d outside -100..100", ErrInvalidArgument, delta)
	}
	if delta == 0 {
		return nil
	}
	return p.exec.ExecuteWithFreshStatus(ctx, func(s mpd.Sender, st protocol.Status) error {
		if st.Volume == nil {
			return ErrVolumeUnavailable
		}
		target := min(max(*st.Volume+delta, 0), 100)
		_, err := s.Execute(ctx, "setvol", target)
		return err
	})
}

func (p *Player) Next(ctx context.Context) error {
	return p.send(ctx, "next")
}

func (p *Player) Previous(ctx context.Context) error {
	return p.send(ctx, "previous")
}

func (p *Player) Shuffle(ctx context.Context) error {
	return p.send(ctx, "shuffle")
}

// ShuffleRange shuffles queue positions [start, end).
func (p *Player) ShuffleRange(ctx context.Context, start, end int) error {
	if start < 0 || end < start {
		return fmt.Errorf("%w: shuffle range %d:%d", ErrInvalidArgument, start, end)
	}
	return p.send(ctx, "shuffle", fmt.Sprintf("%d:%d", start, end))
}

// ShuffleTo shuffles queue positions [0, end).
func (p *Player) ShuffleTo(ctx context.Context, end int) error {
	return p.ShuffleRange(ctx, 0, end)
}

func (p *Player) Clear(ctx context.Context) error {
	return p.send(ctx, "clear")
}

// Add appends uri to the queue.
func (p *Player) Add(ctx context.Context, uri string) error {
	if uri == "" {
		return fmt.Errorf("%w: empty uri", ErrInvalidArgument)
	}
	return p.send(ctx, "add", protocol.Quote(uri))
}

func (p *Player) DeleteID(ctx context.Context, id int) error {
	if id < 0 {
		return fmt.Errorf("%w: song id %d", ErrInvalidArgument, id)
	}
	return p.send(ctx, "deleteid", id)
}

func (p *Player) DeletePos(ctx context.Context, pos int) error {
	if pos < 0 {
		return fmt.Errorf("%w: position %d", ErrInvalidArgument, pos)
	}
	return p.send(ctx, "delete", pos)
}

// Queue lists the current queue.
func (p *Player) Queue(ctx context.Context) ([]protocol.Song, error) {
	var songs []protocol.Song
	err := p.exec.Exchange(ctx, func(s mpd.Sender) error {
		raw, err := s.Execute(ctx, "playlistinfo")
		if err != nil {
			return err
		}
		songs, err = protocol.DecodeSongs(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return songs, nil
}

func boolArg(v bool) int {
	if v {
		return 1
	}
	return 0
}
