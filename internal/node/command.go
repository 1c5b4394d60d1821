package node

import (
	"errors"
	"fmt"
	"strings"
)

// Command is a host command a node accepts.
type Command int

const (
	CommandQuery Command = iota + 1
	CommandDiscover
	CommandUpdateProfile
	CommandRemoveNoticesAll
)

var (
	// ErrUnknownCommand is returned for names that are not a Command, or for
	// commands the target node does not accept.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrUnknownNode is returned when no node is registered at an address.
	ErrUnknownNode = errors.New("unknown node")
)

func (c Command) String() string {
	switch c {
	case CommandQuery:
		return "QUERY"
	case CommandDiscover:
		return "DISCOVER"
	case CommandUpdateProfile:
		return "UPDATE_PROFILE"
	case CommandRemoveNoticesAll:
		return "REMOVE_NOTICES_ALL"
	default:
		return fmt.Sprintf("Command(%d)", int(c))
	}
}

// ParseCommand maps a host command name (case-insensitive) to a Command.
func ParseCommand(name string) (Command, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "QUERY":
		return CommandQuery, nil
	case "DISCOVER":
		return CommandDiscover, nil
	case "UPDATE_PROFILE":
		return CommandUpdateProfile, nil
	case "REMOVE_NOTICES_ALL":
		return CommandRemoveNoticesAll, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}
