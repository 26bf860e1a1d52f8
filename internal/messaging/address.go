package messaging

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var ErrInvalidAddress = errors.New("invalid recipient address")

// UserServer is the channel domain for individual recipients.
const UserServer = "s.whatsapp.net"

// Address is a channel recipient identifier: country-code-prefixed digits
// followed by @UserServer.
type Address string

func (a Address) User() string {
	user, _, _ := strings.Cut(string(a), "@")
	return user
}

// NormalizeAddress turns a stored phone number into a channel address.
// Numbers without an international prefix are read in defaultRegion.
// Values that already look like an address are validated and returned.
func NormalizeAddress(raw, defaultRegion string) (Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	if user, server, ok := strings.Cut(raw, "@"); ok {
		if server != UserServer {
			return "", fmt.Errorf("%w: unsupported server %q", ErrInvalidAddress, server)
		}
		raw = "+" + user
	}

	num, err := phonenumbers.Parse(raw, defaultRegion)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidAddress, raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("%w: %q is not a valid number", ErrInvalidAddress, raw)
	}

	e164 := phonenumbers.Format(num, phonenumbers.E164)
	return Address(strings.TrimPrefix(e164, "+") + "@" + UserServer), nil
}
