package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type statusField func(s *Status, value string) error

// statusFields maps each known status key to its typed decoder.
var statusFields = map[string]statusField{
	"state":        stringField(func(s *Status) **string { return &s.State }),
	"time":         stringField(func(s *Status) **string { return &s.Time }),
	"elapsed":      stringField(func(s *Status) **string { return &s.Elapsed }),
	"bitrate":      stringField(func(s *Status) **string { return &s.Bitrate }),
	"mixrampdb":    stringField(func(s *Status) **string { return &s.MixRampDB }),
	"mixrampdelay": stringField(func(s *Status) **string { return &s.MixRampDelay }),
	"audio":        stringField(func(s *Status) **string { return &s.Audio }),
	"error":        stringField(func(s *Status) **string { return &s.Error }),

	"repeat":  boolField(func(s *Status) **bool { return &s.Repeat }),
	"random":  boolField(func(s *Status) **bool { return &s.Random }),
	"single":  boolField(func(s *Status) **bool { return &s.Single }),
	"consume": boolField(func(s *Status) **bool { return &s.Consume }),

	"volume":         intField(func(s *Status) **int { return &s.Volume }),
	"playlist":       intField(func(s *Status) **int { return &s.Playlist }),
	"playlistlength": intField(func(s *Status) **int { return &s.PlaylistLength }),
	"song":           intField(func(s *Status) **int { return &s.Song }),
	"songid":         intField(func(s *Status) **int { return &s.SongID }),
	"nextsong":       intField(func(s *Status) **int { return &s.NextSong }),
	"nextsongid":     intField(func(s *Status) **int { return &s.NextSongID }),
	"duration":       intField(func(s *Status) **int { return &s.Duration }),
	"xfade":          intField(func(s *Status) **int { return &s.XFade }),
	"updating_db":    intField(func(s *Status) **int { return &s.UpdatingDB }),
}

// DecodeStatus decodes a success frame of the `status` command.
func DecodeStatus(raw []byte) (Status, error) {
	var st Status
	for _, line := range payloadLines(string(raw)) {
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			return Status{}, fmt.Errorf("%w: status line %q", ErrProtocol, line)
		}
		decode, known := statusFields[key]
		if !known {
			continue
		}
		if err := decode(&st, value); err != nil {
			return Status{}, fmt.Errorf("%w: status field %s: %v", ErrProtocol, key, err)
		}
	}
	return st, nil
}

func stringField(field func(*Status) **string) statusField {
	return func(s *Status, value string) error {
		v := value
		*field(s) = &v
		return nil
	}
}

func boolField(field func(*Status) **bool) statusField {
	return func(s *Status, value string) error {
		*field(s) = parseOptBool(value)
		return nil
	}
}

func intField(field func(*Status) **int) statusField {
	return func(s *Status, value string) error {
		v, err := parseOptInt(value)
		if err != nil {
			return err
		}
		*field(s) = v
		return nil
	}
}

func parseOptBool(value string) *bool {
	if value == "" {
		return nil
	}
	v := value != "0"
	return &v
}

// parseOptInt also accepts fractional values (newer daemons report
// duration as seconds with a fraction) and truncates them toward zero.
func parseOptInt(value string) (*int, error) {
	if value == "" {
		return nil, nil
	}
	if n, err := strconv.Atoi(value); err == nil {
		return &n, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("not an integer: %q", value)
	}
	n := int(math.Trunc(f))
	return &n, nil
}

// payloadLines splits a success frame into lines and drops the final two
// (the `OK` terminator and the empty string after its newline).
func payloadLines(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return nil
	}
	return lines[:len(lines)-2]
}
