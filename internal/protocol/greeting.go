package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

const greetingPrefix = "OK "

// ParseGreeting parses `OK <name> <major>.<minor>.<patch>`.
func ParseGreeting(line string) (Greeting, error) {
	trimmed := strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(trimmed, greetingPrefix) {
		return Greeting{}, fmt.Errorf("%w: greeting %q", ErrProtocol, line)
	}
	rest := strings.TrimSpace(strings.TrimPrefix(trimmed, greetingPrefix))
	idx := strings.LastIndexByte(rest, ' ')
	if idx <= 0 {
		return Greeting{}, fmt.Errorf("%w: greeting %q missing version", ErrProtocol, line)
	}
	name := strings.TrimSpace(rest[:idx])
	v, err := ParseVersion(rest[idx+1:])
	if err != nil {
		return Greeting{}, err
	}
	return Greeting{Name: name, Version: v}, nil
}

// ParseVersion parses a `major.minor.patch` token.
func ParseVersion(token string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("%w: version %q", ErrProtocol, token)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("%w: version %q", ErrProtocol, token)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}
