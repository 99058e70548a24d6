package player

import (
	"context"
	"fmt"

	"github.com/danmuck/mpdctl/internal/mpd"
	"github.com/danmuck/mpdctl/internal/protocol"
)

// Playlists manages stored playlists. Names and URIs are quoted on the wire.
type Playlists struct {
	exec Executor
}

func NewPlaylists(exec Executor) *Playlists {
	return &Playlists{exec: exec}
}

func (p *Playlists) send(ctx context.Context, command string, args ...any) error {
	_, err := p.exec.Execute(ctx, command, args...)
	return err
}

// Names lists stored playlists without their songs.
func (p *Playlists) Names(ctx context.Context) ([]protocol.StoredPlaylist, error) {
	var out []protocol.StoredPlaylist
	err := p.exec.Exchange(ctx, func(s mpd.Sender) error {
		raw, err := s.Execute(ctx, "listplaylists")
		if err != nil {
			return err
		}
		out, err = protocol.DecodePlaylists(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns every stored playlist with its songs in one exchange.
func (p *Playlists) List(ctx context.Context) ([]protocol.Playlist, error) {
	var out []protocol.Playlist
	err := p.exec.Exchange(ctx, func(s mpd.Sender) error {
		raw, err := s.Execute(ctx, "listplaylists")
		if err != nil {
			return err
		}
		stored, err := protocol.DecodePlaylists(raw)
		if err != nil {
			return err
		}
		out = make([]protocol.Playlist, 0, len(stored))
		for _, sp := range stored {
			pl, err := getPlaylist(ctx, s, sp.Name)
			if err != nil {
				return err
			}
			out = append(out, pl)
		}
		return nil
	})
	return out, err
}

func (p *Playlists) Get(ctx context.Context, name string) (protocol.Playlist, error) {
	if err := checkName(name); err != nil {
		return protocol.Playlist{}, err
	}
	var pl protocol.Playlist
	err := p.exec.Exchange(ctx, func(s mpd.Sender) error {
		var err error
		pl, err = getPlaylist(ctx, s, name)
		return err
	})
	return pl, err
}

func getPlaylist(ctx context.Context, s mpd.Sender, name string) (protocol.Playlist, error) {
	raw, err := s.Execute(ctx, "listplaylistinfo", protocol.Quote(name))
	if err != nil {
		return protocol.Playlist{}, err
	}
	songs, err := protocol.DecodeSongs(raw)
	if err != nil {
		return protocol.Playlist{}, err
	}
	return protocol.Playlist{Name: name, Songs: songs}, nil
}

// Load appends the stored playlist to the queue.
func (p *Playlists) Load(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	return p.send(ctx, "load", protocol.Quote(name))
}

// Save stores the queue under name.
func (p *Playlists) Save(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	return p.send(ctx, "save", protocol.Quote(name))
}

func (p *Playlists) Rename(ctx context.Context, name, newName string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := checkName(newName); err != nil {
		return err
	}
	return p.send(ctx, "rename", protocol.Quote(name), protocol.Quote(newName))
}

func (p *Playlists) Remove(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	return p.send(ctx, "rm", protocol.Quote(name))
}

// Add appends uri to the stored playlist.
func (p *Playlists) Add(ctx context.Context, name, uri string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if uri == "" {
		return fmt.Errorf("%w: empty uri", ErrInvalidArgument)
	}
	return p.send(ctx, "playlistadd", protocol.Quote(name), protocol.Quote(uri))
}

// Delete removes the song at pos from the stored playlist.
func (p *Playlists) Delete(ctx context.Context, name string, pos int) error {
	if err := checkName(name); err != nil {
		return err
	}
	if pos < 0 {
		return fmt.Errorf("%w: position %d", ErrInvalidArgument, pos)
	}
	return p.send(ctx, "playlistdelete", protocol.Quote(name), pos)
}

func (p *Playlists) Clear(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	return p.send(ctx, "playlistclear", protocol.Quote(name))
}

func checkName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty playlist name", ErrInvalidArgument)
	}
	return nil
}
