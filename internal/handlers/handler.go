package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"lynchvision/internal/director"
	"lynchvision/internal/imaging"
	"lynchvision/internal/mediagroup"
	"lynchvision/internal/render"
	"lynchvision/internal/session"
	"lynchvision/internal/studio"
	"lynchvision/internal/telegram"
)

// Messenger is the part of the Telegram client the bot talks through.
type Messenger interface {
	SendText(chatID int64, text string) error
	SendTextReturningID(chatID int64, text string) (int, error)
	EditText(chatID int64, messageID int, text string) error
	SendTyping(chatID int64)
	SendPhotoBytes(chatID int64, data []byte, name, caption string) error
	SendAlbum(chatID int64, photos []telegram.Photo) error
	SendDocument(chatID int64, data []byte, name, caption string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, string, error)
}

type Options struct {
	Messenger Messenger
	Studio    *studio.Studio
	Sessions  *session.Store
	Logger    *slog.Logger
}

type Handler struct {
	tg       Messenger
	studio   *studio.Studio
	sessions *session.Store
	logger   *slog.Logger
	albums   *mediagroup.Aggregator
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = session.NewStore(session.Options{})
	}

	return &Handler{
		tg:       opts.Messenger,
		studio:   opts.Studio,
		sessions: sessions,
		logger:   logger,
	}
}

// SetAlbumAggregator routes album photos through ag instead of handling
// each one as its own submission.
func (h *Handler) SetAlbumAggregator(ag *mediagroup.Aggregator) {
	h.albums = ag
}

const helpText = "🎬 LynchVision\n\n" +
	"Send a reference photo. The caption is the scene you want; leave it empty for a dynamic cinematic moment.\n\n" +
	"Commands:\n" +
	"/mode shot|grid - one shot or a 3x3 storyboard\n" +
	"/aspect 1:1|16:9|9:16|4:3|3:4 - output frame\n" +
	"/settings - current mode and aspect\n" +
	"/clear - forget the last results\n" +
	"/help - this message"

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.Message == nil {
		return nil
	}
	msg := update.Message
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		return h.handleCommand(chatID, msg)
	}

	if fileID := referenceFileID(msg); fileID != "" {
		if msg.MediaGroupID != "" && h.albums != nil {
			h.albums.Add(mediagroup.Photo{
				ChatID:  chatID,
				AlbumID: msg.MediaGroupID,
				Caption: msg.Caption,
				FileID:  fileID,
			})
			return nil
		}
		return h.produce(ctx, chatID, fileID, msg.Caption)
	}

	if strings.TrimSpace(msg.Text) != "" {
		return h.tg.SendText(chatID, "📷 Send a reference photo with the scene as its caption. /help for more.")
	}
	return nil
}

// HandleAlbum runs one production for a whole album using its first photo.
func (h *Handler) HandleAlbum(ctx context.Context, album mediagroup.Album) {
	if len(album.FileIDs) == 0 {
		return
	}
	if len(album.FileIDs) > 1 {
		_ = h.tg.SendText(album.ChatID, "ℹ️ Using the first photo of the album as the reference.")
	}
	if err := h.produce(ctx, album.ChatID, album.FileIDs[0], album.Caption); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Error("album production failed", "chat_id", album.ChatID, "err", err)
	}
}

// RejectAlbum tells the chat that a buffered album arrived too late to be
// produced, such as during shutdown.
func (h *Handler) RejectAlbum(album mediagroup.Album) {
	h.logger.Warn("album dropped", "chat_id", album.ChatID, "album_id", album.AlbumID, "photos", len(album.FileIDs))
	_ = h.tg.SendText(album.ChatID, "⚠️ The bot is restarting. Please send the photo again in a minute.")
}

func (h *Handler) handleCommand(chatID int64, msg *tgbotapi.Message) error {
	sess := h.session(chatID)
	arg := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		return h.tg.SendText(chatID, helpText)
	case "mode":
		switch director.Mode(strings.ToLower(arg)) {
		case director.ModeShot:
			sess.SetMode(director.ModeShot)
			return h.tg.SendText(chatID, "✅ Mode: single shot")
		case director.ModeGrid:
			sess.SetMode(director.ModeGrid)
			return h.tg.SendText(chatID, "✅ Mode: 3x3 storyboard")
		default:
			return h.tg.SendText(chatID, "❌ Usage: /mode shot or /mode grid")
		}
	case "aspect":
		if arg == "" {
			return h.tg.SendText(chatID, "❌ Usage: /aspect "+aspectList())
		}
		aspect, err := render.ParseAspectRatio(arg)
		if err != nil {
			return h.tg.SendText(chatID, "❌ Supported ratios: "+aspectList())
		}
		sess.SetAspect(aspect)
		return h.tg.SendText(chatID, "✅ Aspect ratio: "+string(aspect))
	case "settings":
		v := sess.View()
		return h.tg.SendText(chatID, fmt.Sprintf("Mode: %s\nAspect ratio: %s", v.Mode, v.Aspect))
	case "clear":
		sess.Clear()
		return h.tg.SendText(chatID, "✅ Results cleared.")
	default:
		return h.tg.SendText(chatID, "❌ Unknown command. Use /help.")
	}
}

func (h *Handler) produce(ctx context.Context, chatID int64, fileID, caption string) error {
	sess := h.session(chatID)
	v := sess.View()

	h.tg.SendTyping(chatID)
	data, mimeType, err := h.tg.DownloadFile(ctx, fileID)
	if err != nil {
		h.logger.Error("reference download failed", "chat_id", chatID, "err", err)
		return h.tg.SendText(chatID, "❌ Could not download the photo. Please try again.")
	}
	ref, err := imaging.NewReference(data, mimeType)
	if err != nil {
		return h.tg.SendText(chatID, "❌ Please send a PNG or JPEG image.")
	}

	scene := strings.TrimSpace(caption)
	if v.Mode == director.ModeGrid {
		return h.grid(ctx, chatID, sess, ref, scene, v.Aspect)
	}
	return h.shot(ctx, chatID, sess, ref, scene, v.Aspect)
}

func (h *Handler) shot(ctx context.Context, chatID int64, sess *session.Session, ref imaging.Reference, scene string, aspect render.AspectRatio) error {
	status := h.newStatus(chatID, "🎬 Directing the shot...")

	res, err := h.studio.Shot(ctx, studio.ShotInput{
		Reference: ref,
		Scene:     scene,
		Aspect:    aspect,
		OnStage: func(st studio.Stage) {
			if st == studio.StageRendering {
				status.set("🎥 Rendering the " + string(aspect) + " frame...")
			}
		},
	})
	if err != nil {
		h.logger.Warn("shot failed", "chat_id", chatID, "err", err)
		return status.set(userMessage(err))
	}

	sess.SetShot(res.Prompt, res.PNG, aspect)
	if err := h.tg.SendPhotoBytes(chatID, res.PNG, session.ShotFilename, res.Prompt); err != nil {
		return err
	}
	if err := h.tg.SendDocument(chatID, res.PNG, session.ShotFilename, "Full resolution PNG"); err != nil {
		return err
	}
	return status.set("✅ Shot ready.")
}

func (h *Handler) grid(ctx context.Context, chatID int64, sess *session.Session, ref imaging.Reference, scene string, aspect render.AspectRatio) error {
	run := sess.StartGrid(director.ShotCount)
	status := h.newStatus(chatID, "🎬 Writing the storyboard...")
	logger := h.logger.With("chat_id", chatID, "run_id", run.ID)

	res, err := h.studio.Grid(ctx, studio.GridInput{
		Reference: ref,
		Scene:     scene,
		Aspect:    aspect,
		OnStage:   run.SetStage,
		OnPrompts: func(prompts []string) {
			run.SetPrompts(prompts)
			status.progress(0, len(prompts))
		},
		OnProgress: func(out render.Outcome, completed, total int) {
			run.Record(out, completed)
			status.progress(completed, total)
		},
	})
	run.Finish(err)
	if err != nil {
		logger.Warn("grid failed", "err", err)
		return status.set(userMessage(err))
	}
	if res.Present == 0 {
		return status.set(fmt.Sprintf("❌ None of the %d shots could be rendered. Please try again.", len(res.Outcomes)))
	}

	photos := make([]telegram.Photo, 0, res.Present)
	for _, i := range run.Present() {
		jpeg, _, err := run.JPEG(i)
		if err != nil {
			logger.Warn("jpeg transcode failed", "index", i, "err", err)
			continue
		}
		photos = append(photos, telegram.Photo{
			Name:    session.GridFilename(i),
			Data:    jpeg,
			Caption: fmt.Sprintf("Shot %d: %s", i+1, res.Prompts[i]),
		})
	}
	if err := h.tg.SendAlbum(chatID, photos); err != nil {
		return err
	}

	archive, n, err := run.Archive()
	if err != nil {
		logger.Warn("archive failed", "err", err)
	} else if n > 0 {
		if err := h.tg.SendDocument(chatID, archive, session.ArchiveFilename, fmt.Sprintf("%d/%d shots", n, len(res.Outcomes))); err != nil {
			return err
		}
	}
	return status.set(fmt.Sprintf("✅ Storyboard ready: %d/%d shots.", res.Present, len(res.Outcomes)))
}

func (h *Handler) session(chatID int64) *session.Session {
	return h.sessions.Get("tg:" + strconv.FormatInt(chatID, 10))
}

// statusMessage is the one message a production edits as it advances.
// Progress callbacks arrive from several workers, so edits are serialized
// and never move the count backwards.
type statusMessage struct {
	tg     Messenger
	chatID int64
	id     int

	mu    sync.Mutex
	shown int
}

func (h *Handler) newStatus(chatID int64, text string) *statusMessage {
	id, err := h.tg.SendTextReturningID(chatID, text)
	if err != nil {
		h.logger.Warn("status message failed", "chat_id", chatID, "err", err)
	}
	return &statusMessage{tg: h.tg, chatID: chatID, id: id, shown: -1}
}

func (s *statusMessage) set(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(text)
}

func (s *statusMessage) progress(completed, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if completed <= s.shown {
		return
	}
	s.shown = completed
	_ = s.sendLocked(fmt.Sprintf("🎥 Rendering %d/%d", completed, total))
}

func (s *statusMessage) sendLocked(text string) error {
	if s.id == 0 {
		return s.tg.SendText(s.chatID, text)
	}
	return s.tg.EditText(s.chatID, s.id, text)
}

func referenceFileID(msg *tgbotapi.Message) string {
	if len(msg.Photo) > 0 {
		// sizes are ordered smallest first
		return msg.Photo[len(msg.Photo)-1].FileID
	}
	if msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/") {
		return msg.Document.FileID
	}
	return ""
}

func aspectList() string {
	ratios := render.AspectRatios()
	out := make([]string, len(ratios))
	for i, a := range ratios {
		out[i] = string(a)
	}
	return strings.Join(out, ", ")
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, studio.ErrMissingGeminiKey):
		return "❌ The bot has no Google API key configured."
	case errors.Is(err, studio.ErrMissingProxyKey):
		return "❌ The image proxy is not configured."
	case errors.Is(err, director.ErrNoPrompt):
		return "❌ Could not write a prompt for this photo. Try another one or change the caption."
	case errors.Is(err, context.DeadlineExceeded):
		return "⌛ The production took too long. Please try again."
	default:
		return "❌ Something went wrong while producing. Please try again."
	}
}
