package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	sentinelKey     = "file"
	playlistKey     = "playlist"
	lastModifiedKey = "Last-Modified"
	terminatorLine  = "OK"
	attrSeparator   = ": "
)

// DecodeSongs decodes a multi-record listing such as `playlistinfo` or
// `listplaylistinfo`. Each `file:` line starts a new record. Lines seen
// before the first record (directory entries) are skipped. A listing that
// never reaches the `OK` line is rejected.
func DecodeSongs(raw []byte) ([]Song, error) {
	songs := make([]Song, 0)
	var current map[string]string

	flush := func() error {
		if current == nil {
			return nil
		}
		song, err := songFromAttrs(current)
		if err != nil {
			return err
		}
		songs = append(songs, song)
		current = nil
		return nil
	}

	for _, line := range strings.Split(string(raw), "\n") {
		if line == terminatorLine {
			if err := flush(); err != nil {
				return nil, err
			}
			return songs, nil
		}
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, attrSeparator)
		if !ok {
			return nil, fmt.Errorf("%w: listing line %q", ErrProtocol, line)
		}
		if key == sentinelKey {
			if err := flush(); err != nil {
				return nil, err
			}
			current = map[string]string{sentinelKey: value}
			continue
		}
		if current != nil {
			current[key] = value
		}
	}
	return nil, fmt.Errorf("%w: listing missing %s terminator", ErrProtocol, terminatorLine)
}

// DecodeSong decodes a flat single-record reply such as `currentsong`.
// ok is false when the reply carries no record.
func DecodeSong(raw []byte) (Song, bool, error) {
	attrs := make(map[string]string)
	for _, line := range payloadLines(string(raw)) {
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, attrSeparator)
		if !found {
			return Song{}, false, fmt.Errorf("%w: song line %q", ErrProtocol, line)
		}
		attrs[key] = value
	}
	if len(attrs) == 0 {
		return Song{}, false, nil
	}
	song, err := songFromAttrs(attrs)
	if err != nil {
		return Song{}, false, err
	}
	return song, true, nil
}

// DecodePlaylists decodes a `listplaylists` reply.
func DecodePlaylists(raw []byte) ([]StoredPlaylist, error) {
	out := make([]StoredPlaylist, 0)
	for _, line := range strings.Split(string(raw), "\n") {
		if line == terminatorLine {
			return out, nil
		}
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, attrSeparator)
		if !ok {
			return nil, fmt.Errorf("%w: playlist line %q", ErrProtocol, line)
		}
		switch key {
		case playlistKey:
			out = append(out, StoredPlaylist{Name: value})
		case lastModifiedKey:
			if len(out) > 0 {
				out[len(out)-1].LastModified = value
			}
		}
	}
	return nil, fmt.Errorf("%w: playlist listing missing %s terminator", ErrProtocol, terminatorLine)
}

func songFromAttrs(attrs map[string]string) (Song, error) {
	file, ok := attrs[sentinelKey]
	if !ok {
		return Song{}, fmt.Errorf("%w: record without %s key", ErrProtocol, sentinelKey)
	}
	song := Song{
		File:  file,
		Title: optAttr(attrs, "Title"),
		Name:  optAttr(attrs, "Name"),
		Attrs: attrs,
	}
	var err error
	if song.Pos, err = optIntAttr(attrs, "Pos"); err != nil {
		return Song{}, err
	}
	if song.ID, err = optIntAttr(attrs, "Id"); err != nil {
		return Song{}, err
	}
	return song, nil
}

func optAttr(attrs map[string]string, key string) *string {
	v, ok := attrs[key]
	if !ok {
		return nil
	}
	return &v
}

func optIntAttr(attrs map[string]string, key string) (*int, error) {
	v, ok := attrs[key]
	if !ok || v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q is not an integer", ErrProtocol, key, v)
	}
	return &n, nil
}
