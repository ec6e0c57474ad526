package wa

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotLoggedIn is returned by calls that need a paired device.
var ErrNotLoggedIn = errors.New("not logged in")

// Adapter wraps the whatsmeow client and manages one WhatsApp connection.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	handler   *EventHandler
	sink      Sink
	logger    *zap.Logger
	cancelQR  context.CancelFunc
}

// Options configures a new adapter.
type Options struct {
	// DBPath is the credential store (session.db).
	DBPath string
	// DeviceName is shown in the phone's linked devices list.
	DeviceName string
}

// NewAdapter opens the credential store and builds a client whose events
// are delivered to sink.
func NewAdapter(ctx context.Context, opts Options, sink Sink, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DeviceName != "" {
		wastore.SetOSInfo(opts.DeviceName, [3]uint32{0, 1, 0})
	}

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", opts.DBPath),
		NewLogger(logger.Named("sqlstore")),
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, NewLogger(logger.Named("whatsmeow")))
	// The session manager owns the reconnect policy.
	client.EnableAutoReconnect = false

	a := &Adapter{
		client:    client,
		container: container,
		handler:   NewEventHandler(sink, logger),
		sink:      sink,
		logger:    logger,
	}
	client.AddEventHandler(a.handler.Handle)
	return a, nil
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// Connect opens the connection. Unpaired devices get a QR channel first,
// whose codes are rendered and handed to the sink.
func (a *Adapter) Connect(ctx context.Context) error {
	if !a.IsLoggedIn() {
		qrCtx, cancel := context.WithCancel(context.Background())
		qrChan, err := a.client.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("get QR channel: %w", err)
		}
		a.cancelQR = cancel
		go a.consumeQR(qrChan)
	}

	a.logger.Info("connecting to WhatsApp", zap.Bool("paired", a.IsLoggedIn()))
	if err := a.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (a *Adapter) consumeQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			image, err := RenderQR(item.Code)
			if err != nil {
				a.logger.Error("render QR code", zap.Error(err))
			}
			a.sink.OnQR(item.Code, image)
		case "success":
			a.logger.Info("pairing succeeded")
			return
		case "timeout":
			a.logger.Warn("QR code timeout")
			a.sink.OnClosed(false, "qr timeout")
			return
		default:
			if item.Error != nil {
				a.logger.Warn("pairing failed", zap.String("event", item.Event), zap.Error(item.Error))
				a.sink.OnClosed(false, item.Event)
				return
			}
		}
	}
}

// Disconnect terminates the WhatsApp connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	if a.cancelQR != nil {
		a.cancelQR()
	}
	a.client.Disconnect()
}

// Logout invalidates the session on the server and removes credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	if !a.IsLoggedIn() {
		return ErrNotLoggedIn
	}
	return a.client.Logout(ctx)
}

// Close disconnects and releases the credential store.
func (a *Adapter) Close() error {
	a.Disconnect()
	return a.container.Close()
}

// SendText sends a text message to the given chat. Returns the server message ID.
func (a *Adapter) SendText(ctx context.Context, chatID string, text string) (string, error) {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// MarkRead sends a read receipt for one message.
func (a *Adapter) MarkRead(ctx context.Context, chatID, msgID, sender string) error {
	chat, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parse chat JID: %w", err)
	}
	senderJID := chat
	if sender != "" {
		if senderJID, err = types.ParseJID(sender); err != nil {
			return fmt.Errorf("parse sender JID: %w", err)
		}
	}
	if err := a.client.MarkRead(ctx, []types.MessageID{msgID}, time.Now(), chat, senderJID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// PhoneNumber returns the phone number from the device store, or empty string.
func (a *Adapter) PhoneNumber() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.User
}

// ClearAuth deletes the credential store so the next connection starts a
// fresh pairing. The adapter using it must be closed first.
func ClearAuth(dbPath string) error {
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		if err := os.Remove(dbPath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", dbPath+suffix, err)
		}
	}
	return nil
}
