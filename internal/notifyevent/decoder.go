package notifyevent

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/notify-push/gateway/internal/user"
)

// Channel names the upstream producer publishes on. The decoder dispatches
// on these exactly; anything else is an unknown channel.
const (
	ChannelStorageUpdate = "notify_storage_update"
	ChannelGroupUpdate   = "notify_group_membership_update"
	ChannelShareCreate   = "notify_share_created"
	ChannelTestCookie    = "notify_test_cookie"
)

// Channels lists every channel the decoder understands, in subscribe order.
func Channels() []string {
	return []string{ChannelStorageUpdate, ChannelGroupUpdate, ChannelShareCreate, ChannelTestCookie}
}

// DecodeError reports why a (channel, payload) pair could not be decoded.
type DecodeError struct {
	Channel string
	Reason  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q: %s", e.Channel, e.Reason)
}

// Decode parses a raw bus message into a typed Event. It is a pure function:
// no I/O, no clock, and total for every known channel given a well-formed
// payload.
func Decode(channel, payload string) (Event, error) {
	switch channel {
	case ChannelStorageUpdate:
		return decodeStorageUpdate(payload)
	case ChannelGroupUpdate:
		u, err := decodeUser(channel, payload)
		if err != nil {
			return nil, err
		}
		return GroupUpdate{User: u}, nil
	case ChannelShareCreate:
		u, err := decodeUser(channel, payload)
		if err != nil {
			return nil, err
		}
		return ShareCreate{User: u}, nil
	case ChannelTestCookie:
		return decodeTestCookie(payload)
	default:
		return nil, &DecodeError{Channel: channel, Reason: "unknown channel"}
	}
}

// decodeStorageUpdate expects "<storage>!<path>", storage a decimal uint32
// and path the remainder of the payload (including any further "!").
func decodeStorageUpdate(payload string) (Event, error) {
	sep := strings.IndexByte(payload, '!')
	if sep < 0 {
		return nil, &DecodeError{Channel: ChannelStorageUpdate, Reason: "missing storage/path separator"}
	}
	storageField, path := payload[:sep], payload[sep+1:]
	if storageField == "" {
		return nil, &DecodeError{Channel: ChannelStorageUpdate, Reason: "missing storage id"}
	}
	if path == "" {
		return nil, &DecodeError{Channel: ChannelStorageUpdate, Reason: "missing path"}
	}
	storage, err := strconv.ParseUint(storageField, 10, 32)
	if err != nil {
		return nil, &DecodeError{Channel: ChannelStorageUpdate, Reason: "invalid storage id: " + err.Error()}
	}
	return StorageUpdate{Storage: uint32(storage), Path: path}, nil
}

func decodeUser(channel, payload string) (user.ID, error) {
	if payload == "" {
		return "", &DecodeError{Channel: channel, Reason: "missing user"}
	}
	return user.ID(payload), nil
}

func decodeTestCookie(payload string) (Event, error) {
	if payload == "" {
		return nil, &DecodeError{Channel: ChannelTestCookie, Reason: "missing cookie value"}
	}
	cookie, err := strconv.ParseUint(payload, 10, 32)
	if err != nil {
		return nil, &DecodeError{Channel: ChannelTestCookie, Reason: "invalid cookie value: " + err.Error()}
	}
	return TestCookie(cookie), nil
}
