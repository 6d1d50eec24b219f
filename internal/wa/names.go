package wa

import (
	"context"

	"go.mau.fi/whatsmeow/types"
)

// GroupLookup resolves group display names.
type GroupLookup interface {
	GroupName(ctx context.Context, jid types.JID) (string, error)
}

// ContactLookup resolves contact-book names.
type ContactLookup interface {
	ContactFullName(ctx context.Context, jid types.JID) (string, error)
}

// ResolveChatName picks a display name for a chat, falling through a
// fixed order of sources. The second return value reports whether the
// name is a synthesized fallback that a later, better source should be
// allowed to replace.
func ResolveChatName(ctx context.Context, groups GroupLookup, contacts ContactLookup, chat types.JID, convName, pushName string) (string, bool) {
	switch chat.Server {
	case types.GroupServer:
		if convName != "" {
			return convName, false
		}
		if groups != nil {
			if name, err := groups.GroupName(ctx, chat); err == nil && name != "" {
				return name, false
			}
		}
		return "Group " + chat.User, true
	case types.BroadcastServer:
		return "Broadcast", false
	default:
		if convName != "" {
			return convName, false
		}
		if pushName != "" {
			return pushName, false
		}
		if contacts != nil {
			if name, err := contacts.ContactFullName(ctx, chat); err == nil && name != "" {
				return name, false
			}
		}
		return "+" + chat.User, true
	}
}
