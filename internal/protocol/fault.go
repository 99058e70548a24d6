package protocol

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Error codes carried in ACK lines.
const (
	FaultNotList       = 1
	FaultArg           = 2
	FaultPassword      = 3
	FaultPermission    = 4
	FaultUnknown       = 5
	FaultNoExist       = 50
	FaultPlaylistMax   = 51
	FaultSystem        = 52
	FaultPlaylistLoad  = 53
	FaultUpdateAlready = 54
	FaultPlayerSync    = 55
	FaultExist         = 56
)

var ackPattern = regexp.MustCompile(`^ACK \[(\d+)@(\d+)\] \{([^}]*)\} ?(.*)$`)

// Fault is the decoded content of an ACK line. When the line does not match
// the ACK grammar only Raw is set.
type Fault struct {
	Code         *int    `json:"code,omitempty"`
	CommandIndex *int    `json:"command_index,omitempty"`
	Command      *string `json:"command,omitempty"`
	Message      *string `json:"message,omitempty"`
	Raw          string  `json:"raw"`
}

// Structured reports whether the ACK line was parsed into its fields.
func (f Fault) Structured() bool {
	return f.Code != nil && f.CommandIndex != nil && f.Command != nil && f.Message != nil
}

// HasCode reports whether the fault carries the given ACK code.
func (f Fault) HasCode(code int) bool {
	return f.Code != nil && *f.Code == code
}

// DecodeFault decodes an error frame. It never fails: undecodable input
// yields a degraded Fault holding only Raw.
func DecodeFault(raw []byte) Fault {
	if !utf8.Valid(raw) {
		return Fault{Raw: strings.ToValidUTF8(string(raw), "�")}
	}
	text := string(raw)
	line, _, _ := strings.Cut(text, "\n")
	line = strings.TrimRight(line, "\r")

	m := ackPattern.FindStringSubmatch(line)
	if m == nil {
		return Fault{Raw: text}
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return Fault{Raw: text}
	}
	index, err := strconv.Atoi(m[2])
	if err != nil {
		return Fault{Raw: text}
	}
	command := m[3]
	message := m[4]
	return Fault{
		Code:         &code,
		CommandIndex: &index,
		Command:      &command,
		Message:      &message,
		Raw:          text,
	}
}
