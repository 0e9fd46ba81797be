package wa

import (
	"context"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/ofbraga/chatd/internal/bus"
	"github.com/ofbraga/chatd/internal/chat"
	"github.com/ofbraga/chatd/internal/home"
	"github.com/ofbraga/chatd/internal/transport"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter wraps the whatsmeow client and implements transport.Sender for the
// chat engine. Credentials live in a per-profile database separate from the
// message store.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	bus       *bus.Bus
	logger    *zap.Logger
	profile   string
}

// NewAdapter creates a new transport adapter for the given profile.
func NewAdapter(ctx context.Context, profile string, b *bus.Bus, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("chatd", [3]uint32{0, 1, 0})

	dbPath := home.CredentialsDBPath(profile)

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create credential store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)

	return &Adapter{
		client:    client,
		container: container,
		bus:       b,
		logger:    logger,
		profile:   profile,
	}, nil
}

// Client returns the underlying whatsmeow client.
func (a *Adapter) Client() *whatsmeow.Client {
	return a.client
}

// Account returns the local account identity, or "" before pairing.
func (a *Adapter) Account() chat.AccountID {
	if a.client.Store.ID == nil {
		return ""
	}
	return chat.AccountID(a.client.Store.ID.ToNonAD().String())
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// Connect initiates the network connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting transport")
	return a.client.Connect()
}

// Disconnect terminates the network connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting transport")
	a.client.Disconnect()
}

// Logout invalidates the pairing and removes credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// RegisterEventHandler adds a handler for transport events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// Send hands an outgoing message to the network and returns the server
// message ID. The wire format has no dedicated thread or delay fields:
// ThreadID stays in the local store, and a delayed message gets its original
// write time appended to the text so the remote party still sees when it was
// authored.
func (a *Adapter) Send(ctx context.Context, msg *transport.WireMessage) (string, error) {
	if !a.client.IsConnected() {
		return "", transport.ErrNotConnected
	}
	to, err := types.ParseJID(msg.To)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(wireBody(msg)),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// wireBody renders the outgoing text. Messages that sat in the queue past the
// delay threshold carry their original write time as a trailing line.
func wireBody(msg *transport.WireMessage) string {
	if msg.DelayedAt == nil {
		return msg.Body
	}
	return fmt.Sprintf("%s\n[written %s, delivery was delayed]",
		msg.Body, msg.DelayedAt.UTC().Format("2006-01-02 15:04 MST"))
}

// GetQRChannel returns the QR channel for pairing. Must be called before
// Connect.
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
