package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	maxTextBytes    = 4096
	maxCaptionBytes = 1024
	// Telegram caps an album at ten items.
	maxAlbumItems = 10
)

type Options struct {
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Debug      bool
}

type Client struct {
	bot        *tgbotapi.BotAPI
	httpClient *http.Client
	logger     *slog.Logger
}

// Photo is one picture of an outgoing album.
type Photo struct {
	Name    string
	Data    []byte
	Caption string
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if opts.HTTPClient == nil {
		return nil, errors.New("http client is nil")
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, tgbotapi.APIEndpoint, opts.HTTPClient)
	if err != nil {
		return nil, err
	}
	bot.Debug = opts.Debug

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		bot:        bot,
		httpClient: opts.HTTPClient,
		logger:     logger,
	}, nil
}

func (c *Client) Username() string {
	return c.bot.Self.UserName
}

type Update = tgbotapi.Update

type UpdatesOptions struct {
	Timeout time.Duration
}

func (c *Client) Updates(opts UpdatesOptions) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	if opts.Timeout > 0 {
		u.Timeout = int(opts.Timeout.Seconds())
	} else {
		u.Timeout = 30
	}
	return c.bot.GetUpdatesChan(u)
}

func (c *Client) StopUpdates() {
	c.bot.StopReceivingUpdates()
}

func (c *Client) SendTyping(chatID int64) {
	_, _ = c.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatUploadPhoto))
}

func (c *Client) SendText(chatID int64, text string) error {
	for _, p := range splitByBytes(text, maxTextBytes) {
		if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, p)); err != nil {
			return err
		}
	}
	return nil
}

// SendTextReturningID sends a single message and returns its id so it can
// be edited later.
func (c *Client) SendTextReturningID(chatID int64, text string) (int, error) {
	msg, err := c.bot.Send(tgbotapi.NewMessage(chatID, truncateByBytes(text, maxTextBytes)))
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

func (c *Client) EditText(chatID int64, messageID int, text string) error {
	_, err := c.bot.Send(tgbotapi.NewEditMessageText(chatID, messageID, truncateByBytes(text, maxTextBytes)))
	return err
}

func (c *Client) SendPhotoBytes(chatID int64, data []byte, name, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	if caption != "" {
		photo.Caption = truncateByBytes(caption, maxCaptionBytes)
	}
	_, err := c.bot.Send(photo)
	return err
}

// SendAlbum sends photos as media groups of at most ten.
func (c *Client) SendAlbum(chatID int64, photos []Photo) error {
	for start := 0; start < len(photos); start += maxAlbumItems {
		end := min(start+maxAlbumItems, len(photos))
		batch := photos[start:end]
		if len(batch) == 1 {
			if err := c.SendPhotoBytes(chatID, batch[0].Data, batch[0].Name, batch[0].Caption); err != nil {
				return err
			}
			continue
		}

		media := make([]any, 0, len(batch))
		for _, p := range batch {
			item := tgbotapi.NewInputMediaPhoto(tgbotapi.FileBytes{Name: p.Name, Bytes: p.Data})
			if p.Caption != "" {
				item.Caption = truncateByBytes(p.Caption, maxCaptionBytes)
			}
			media = append(media, item)
		}
		if _, err := c.bot.SendMediaGroup(tgbotapi.NewMediaGroup(chatID, media)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) SendDocument(chatID int64, data []byte, name, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	if caption != "" {
		doc.Caption = truncateByBytes(caption, maxCaptionBytes)
	}
	_, err := c.bot.Send(doc)
	return err
}

// DownloadFile fetches a file the user sent and reports its content type.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	fileURL, err := c.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, "", fmt.Errorf("telegram file download %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, strings.TrimSpace(resp.Header.Get("content-type")), nil
}

// splitByBytes cuts text into chunks of at most maxBytes without breaking
// a UTF-8 sequence.
func splitByBytes(text string, maxBytes int) []string {
	if len(text) <= maxBytes || maxBytes <= 0 {
		return []string{text}
	}

	var out []string
	for len(text) > 0 {
		chunk := truncateByBytes(text, maxBytes)
		if chunk == "" {
			// a single rune wider than maxBytes
			_, size := utf8.DecodeRuneInString(text)
			chunk = text[:size]
		}
		out = append(out, chunk)
		text = text[len(chunk):]
	}
	return out
}

func truncateByBytes(text string, maxBytes int) string {
	if len(text) <= maxBytes || maxBytes <= 0 {
		return text
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
