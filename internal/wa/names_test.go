package wa

import (
	"context"
	"errors"
	"testing"

	"go.mau.fi/whatsmeow/types"
)

type fakeGroups struct {
	name string
	err  error
}

func (f *fakeGroups) GroupName(context.Context, types.JID) (string, error) {
	return f.name, f.err
}

type fakeContacts struct {
	name string
	err  error
}

func (f *fakeContacts) ContactFullName(context.Context, types.JID) (string, error) {
	return f.name, f.err
}

func TestResolveChatName(t *testing.T) {
	ctx := context.Background()
	user := types.JID{User: "558592403672", Server: types.DefaultUserServer}
	group := types.JID{User: "120363123456", Server: types.GroupServer}
	broadcast := types.JID{User: "status", Server: types.BroadcastServer}

	tests := []struct {
		desc         string
		chat         types.JID
		convName     string
		pushName     string
		groups       *fakeGroups
		contacts     *fakeContacts
		want         string
		wantFallback bool
	}{
		{
			desc: "group conversation name wins",
			chat: group, convName: "Family", groups: &fakeGroups{name: "Other"},
			want: "Family",
		},
		{
			desc: "group info when no conversation name",
			chat: group, groups: &fakeGroups{name: "Work Chat"},
			want: "Work Chat",
		},
		{
			desc: "group lookup failure falls back to synthesized name",
			chat: group, groups: &fakeGroups{err: errors.New("not connected")},
			want: "Group 120363123456", wantFallback: true,
		},
		{
			desc: "broadcast is fixed",
			chat: broadcast, convName: "ignored",
			want: "Broadcast",
		},
		{
			desc: "user conversation name wins",
			chat: user, convName: "Alice", pushName: "alice99",
			want: "Alice",
		},
		{
			desc: "push name before contact book",
			chat: user, pushName: "alice99", contacts: &fakeContacts{name: "Alice Real"},
			want: "alice99",
		},
		{
			desc: "contact book name",
			chat: user, contacts: &fakeContacts{name: "Alice Real"},
			want: "Alice Real",
		},
		{
			desc: "phone number fallback",
			chat: user, contacts: &fakeContacts{},
			want: "+558592403672", wantFallback: true,
		},
		{
			desc: "nil lookups still resolve",
			chat: user,
			want: "+558592403672", wantFallback: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			var groups GroupLookup
			if tt.groups != nil {
				groups = tt.groups
			}
			var contacts ContactLookup
			if tt.contacts != nil {
				contacts = tt.contacts
			}
			got, fallback := ResolveChatName(ctx, groups, contacts, tt.chat, tt.convName, tt.pushName)
			if got != tt.want {
				t.Errorf("name = %q, want %q", got, tt.want)
			}
			if fallback != tt.wantFallback {
				t.Errorf("fallback = %v, want %v", fallback, tt.wantFallback)
			}
		})
	}
}

func TestParseRecipient(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "+55 859-240-3672", want: "558592403672@s.whatsapp.net"},
		{in: "558592403672", want: "558592403672@s.whatsapp.net"},
		{in: "chat@g.us", want: "chat@g.us"},
		{in: "  ", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseRecipient(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRecipient(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRecipient(%q) error: %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseRecipient(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
