package infrastructure

import (
	"context"
	"fmt"
	"sync"

	"soulbot/internal/entities"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// WhatsAppClient is the optional second chat transport.
type WhatsAppClient struct {
	Client *whatsmeow.Client

	OnMessage func(ctx context.Context, msg entities.Message)

	log    zerolog.Logger
	qrCode string
	qrLock sync.RWMutex
}

func NewWhatsAppClient(ctx context.Context, dbPath string, log zerolog.Logger) (*WhatsAppClient, error) {
	log = log.With().Str("component", "whatsapp").Logger()

	// Device keys live in their own SQLite file, separate from the ledger
	container, err := sqlstore.New(ctx, "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)", waLog.Zerolog(log.With().Str("module", "store").Logger()))
	if err != nil {
		return nil, fmt.Errorf("failed to open whatsapp store: %w", err)
	}

	// Get the first device (or create one)
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, waLog.Zerolog(log.With().Str("module", "client").Logger()))
	w := &WhatsAppClient{Client: client, log: log}
	return w, nil
}

// Start registers the event handler and connects. A fresh device logs a
// QR code that must be scanned from the phone.
func (w *WhatsAppClient) Start(ctx context.Context) error {
	w.Client.AddEventHandler(func(evt interface{}) {
		if v, ok := evt.(*events.Message); ok {
			w.handleMessage(ctx, v)
		}
	})

	if w.Client.Store.ID != nil {
		if err := w.Client.Connect(); err != nil {
			return err
		}
		w.log.Info().Msg("connected with existing session")
		return nil
	}

	qrChan, err := w.Client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("qr channel: %w", err)
	}
	if err := w.Client.Connect(); err != nil {
		return err
	}

	go func() {
		for evt := range qrChan {
			if evt.Event == "code" {
				w.qrLock.Lock()
				w.qrCode = evt.Code
				w.qrLock.Unlock()
				w.log.Info().Str("qr", evt.Code).Msg("scan QR code to log in")
			} else {
				w.log.Info().Str("event", evt.Event).Msg("login event")
			}
		}
	}()
	return nil
}

func (w *WhatsAppClient) GetQR() string {
	w.qrLock.RLock()
	defer w.qrLock.RUnlock()
	return w.qrCode
}

func (w *WhatsAppClient) IsLoggedIn() bool {
	return w.Client.Store.ID != nil
}

func (w *WhatsAppClient) Disconnect() {
	w.Client.Disconnect()
}

func (w *WhatsAppClient) SendMessage(to string, content string) error {
	jid, err := types.ParseJID(to + "@s.whatsapp.net")
	if err != nil {
		return fmt.Errorf("invalid number format: %w", err)
	}

	_, err = w.Client.SendMessage(context.Background(), jid, &waProto.Message{
		Conversation: &content,
	})
	return err
}

// SendPresence shows the typing indicator while a reply is generated
func (w *WhatsAppClient) SendPresence(to string) {
	jid, err := types.ParseJID(to + "@s.whatsapp.net")
	if err != nil {
		return
	}
	w.Client.SendPresence(context.Background(), types.PresenceAvailable)
	w.Client.SendChatPresence(context.Background(), jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
}

func (w *WhatsAppClient) handleMessage(ctx context.Context, evt *events.Message) {
	// Ignore group messages and our own echoes
	if evt.Info.IsGroup || evt.Info.IsFromMe || w.OnMessage == nil {
		return
	}
	sender, content := ParseMessage(evt)
	if content == "" {
		return
	}

	w.SendPresence(sender)
	w.OnMessage(ctx, entities.Message{
		ID:          evt.Info.ID,
		From:        sender,
		DisplayName: evt.Info.PushName,
		Content:     content,
		Platform:    "whatsapp",
		Timestamp:   evt.Info.Timestamp.UTC(),
	})
}

// ParseMessage extracts sender phone number and text
func ParseMessage(evt *events.Message) (string, string) {
	sender := evt.Info.Sender.User
	var content string

	if evt.Message.GetConversation() != "" {
		content = evt.Message.GetConversation()
	} else if ext := evt.Message.GetExtendedTextMessage(); ext != nil {
		content = ext.GetText()
	}

	return sender, content
}

