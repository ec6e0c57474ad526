package store

import (
	"fmt"
	"strings"
)

const groupServer = "@g.us"

// IsGroupID reports whether the chat address is a group.
func IsGroupID(chatID string) bool {
	return strings.Contains(chatID, groupServer)
}

func userPart(chatID string) string {
	user, _, _ := strings.Cut(chatID, "@")
	return user
}

// DisplayName derives a human readable fallback name from a chat address.
func DisplayName(chatID string) string {
	raw := userPart(chatID)
	if IsGroupID(chatID) {
		return "Group " + raw
	}
	if strings.HasPrefix(raw, "55") && len(raw) >= 12 {
		area, number := raw[2:4], raw[4:]
		return fmt.Sprintf("(%s) %s-%s", area, number[:5], number[5:])
	}
	return raw
}

// FormatPhone normalizes a chat address into a dialable Brazilian-style
// phone number. Groups keep their raw id.
func FormatPhone(chatID string) string {
	raw := userPart(chatID)
	switch {
	case IsGroupID(chatID):
		return raw
	case strings.HasPrefix(raw, "55") && len(raw) >= 12:
		return fmt.Sprintf("+%s %s %s-%s", raw[:2], raw[2:4], raw[4:9], raw[9:])
	case len(raw) >= 10:
		return fmt.Sprintf("+55 %s %s-%s", raw[:2], raw[2:7], raw[7:])
	default:
		return "+55 " + raw
	}
}

const userServer = "@s.whatsapp.net"

// NormalizeChatID turns a bare phone number ("+55 81 99999-8888") into a
// user chat address. Addresses that already carry a server are returned
// unchanged.
func NormalizeChatID(to string) string {
	to = strings.TrimSpace(to)
	if to == "" || strings.Contains(to, "@") {
		return to
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, to)
	if digits == "" {
		return to
	}
	return digits + userServer
}
