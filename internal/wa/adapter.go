package wa

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmadeira/wabridge/internal/bus"
	"github.com/jmadeira/wabridge/internal/paths"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter wraps the whatsmeow client and owns the live connection
// handle. Everything above this package talks in terms of the adapter,
// never the raw client.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewAdapter creates a new WhatsApp adapter backed by the
// device-credential store under dataDir.
func NewAdapter(ctx context.Context, dataDir string, b *bus.Bus, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("WABridge", [3]uint32{0, 1, 0})

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", paths.SessionDBPath(dataDir)),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	return &Adapter{
		client:    whatsmeow.NewClient(deviceStore, nil),
		container: container,
		bus:       b,
		logger:    logger,
	}, nil
}

// Client returns the underlying whatsmeow client.
func (a *Adapter) Client() *whatsmeow.Client {
	return a.client
}

// IsLoggedIn returns whether a paired device session exists.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// IsConnected returns whether the link is currently up.
func (a *Adapter) IsConnected() bool {
	return a.client.IsConnected()
}

// JID returns the full device JID, or empty when unpaired.
func (a *Adapter) JID() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.String()
}

// OwnUserID returns the phone-number part of the device identity.
func (a *Adapter) OwnUserID() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.User
}

// Connect initiates the WhatsApp connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect terminates the WhatsApp connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// Logout invalidates the session on the server side.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// DeleteSession removes the local device credentials.
func (a *Adapter) DeleteSession(ctx context.Context) error {
	if a.client.Store.ID == nil {
		return nil
	}
	return a.client.Store.Delete(ctx)
}

// RegisterEventHandler adds a handler for whatsmeow events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// GetQRChannel returns the rotating pairing-code channel. Must be
// called before Connect.
func (a *Adapter) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	if a.IsLoggedIn() {
		return nil, fmt.Errorf("already logged in")
	}
	ch, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}
	return ch, nil
}

// SendMessage sends a prepared message and returns the server message ID.
func (a *Adapter) SendMessage(ctx context.Context, to types.JID, msg *waE2E.Message) (string, error) {
	resp, err := a.client.SendMessage(ctx, to, msg)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// Upload pushes attachment bytes to the media servers and returns the
// descriptor fields shared with the inbound persistence path.
func (a *Adapter) Upload(ctx context.Context, data []byte, kind whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	return a.client.Upload(ctx, data, kind)
}

// Download fetches and decrypts attachment bytes for a descriptor.
func (a *Adapter) Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	return a.client.Download(ctx, msg)
}

// GroupName looks up the display name of a group chat.
func (a *Adapter) GroupName(ctx context.Context, jid types.JID) (string, error) {
	info, err := a.client.GetGroupInfo(ctx, jid)
	if err != nil {
		return "", err
	}
	return info.Name, nil
}

// ContactFullName looks up the contact-book full name for a user.
func (a *Adapter) ContactFullName(ctx context.Context, jid types.JID) (string, error) {
	contact, err := a.client.Store.Contacts.GetContact(ctx, jid)
	if err != nil {
		return "", err
	}
	return contact.FullName, nil
}

// ChatName resolves a chat display name through the naming waterfall.
func (a *Adapter) ChatName(ctx context.Context, chat types.JID, convName, pushName string) (string, bool) {
	return ResolveChatName(ctx, a, a, chat, convName, pushName)
}

// ContactInfo returns contact-book details for a JID string.
func (a *Adapter) ContactInfo(ctx context.Context, jid string) (name, pushName, number string, err error) {
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return "", "", "", fmt.Errorf("parse JID: %w", err)
	}
	contact, err := a.client.Store.Contacts.GetContact(ctx, parsed)
	if err != nil {
		return "", "", "", err
	}
	return contact.FullName, contact.PushName, parsed.User, nil
}

// ProfilePictureURL returns the avatar URL and id for a JID string.
// Both are empty when the user has no picture visible to us.
func (a *Adapter) ProfilePictureURL(ctx context.Context, jid string) (url, id string, err error) {
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return "", "", fmt.Errorf("parse JID: %w", err)
	}
	pic, err := a.client.GetProfilePictureInfo(ctx, parsed, &whatsmeow.GetProfilePictureParams{Preview: false})
	if err != nil {
		return "", "", err
	}
	if pic == nil {
		return "", "", nil
	}
	return pic.URL, pic.ID, nil
}

// RequestHistorySync asks the primary device for an on-demand backfill
// of up to count messages.
func (a *Adapter) RequestHistorySync(ctx context.Context, count int) error {
	if !a.client.IsConnected() {
		return fmt.Errorf("client is not connected")
	}
	if a.client.Store.ID == nil {
		return fmt.Errorf("client is not logged in")
	}

	// Presence must be announced before the primary accepts the request.
	if err := a.client.SendPresence(ctx, types.PresenceAvailable); err != nil {
		a.logger.Warn("failed to send presence before history sync", zap.Error(err))
	}

	msg := a.client.BuildHistorySyncRequest(nil, count)
	if msg == nil {
		return fmt.Errorf("build history sync request")
	}
	_, err := a.client.SendMessage(ctx, types.JID{Server: types.DefaultUserServer, User: "status"}, msg)
	if err != nil {
		return fmt.Errorf("request history sync: %w", err)
	}
	return nil
}

// ParseRecipient turns a phone number or JID string into a JID.
func ParseRecipient(recipient string) (types.JID, error) {
	recipient = strings.TrimSpace(recipient)
	for _, cut := range []string{"+", "-", " "} {
		recipient = strings.ReplaceAll(recipient, cut, "")
	}
	if strings.Contains(recipient, "@") {
		return types.ParseJID(recipient)
	}
	if recipient == "" {
		return types.JID{}, fmt.Errorf("empty recipient")
	}
	return types.JID{User: recipient, Server: types.DefaultUserServer}, nil
}
