// Package bot answers Telegram voice messages with their transcription.
package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/audio"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/logger"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/metrics"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/transcription"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/transcriptlog"
)

// User-facing replies.
const (
	replyHelp        = "Help!"
	replyNoSpeech    = "No speech recognized."
	replyDecodeError = "Sorry, I could not read this audio file."
	replyInferError  = "Sorry, speech recognition failed. Please try again later."
	replyFetchError  = "Sorry, I could not download this file from Telegram."
	replyRateLimited = "Too many messages, please wait a moment and try again."
	replyTooLong     = "This voice message is too long. The limit is %d seconds."
)

// API is the subset of *tgbotapi.BotAPI the bot uses.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
	StopReceivingUpdates()
}

// Transcriber converts a local audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*transcription.Result, error)
}

// Config holds bot behaviour limits.
type Config struct {
	MaxConcurrent      int
	RateLimitPerMinute int // zero disables rate limiting
	MaxVoiceDuration   time.Duration
	RequestTimeout     time.Duration
	// TempDir is where attachments are staged. Empty uses os.TempDir.
	TempDir    string
	HTTPClient *http.Client
}

// Bot dispatches Telegram updates to the transcriber.
type Bot struct {
	api         API
	transcriber Transcriber
	config      Config
	log         *logger.ContextLogger
	metrics     *metrics.Metrics
	transcripts *transcriptlog.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	limitersMu sync.Mutex
	limiters   map[int64]*rate.Limiter
}

// New creates a bot
func New(api API, tr Transcriber, config Config, log *logger.Logger, m *metrics.Metrics, transcripts *transcriptlog.Logger) *Bot {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 5 * time.Minute
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Bot{
		api:         api,
		transcriber: tr,
		config:      config,
		log:         log.With("bot"),
		metrics:     m,
		transcripts: transcripts,
		sem:         make(chan struct{}, config.MaxConcurrent),
		limiters:    make(map[int64]*rate.Limiter),
	}
}

// Run long-polls for updates until ctx is cancelled, then waits for the
// in-flight handlers.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	b.log.Info("Polling for updates (max %d concurrent)", b.config.MaxConcurrent)

	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			b.log.Info("Stopping update polling")
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			if !b.acquire(ctx) {
				continue
			}
			b.wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer b.wg.Done()
				defer b.release()
				b.handle(ctx, msg)
			}(update.Message)
		}
	}
}

func (b *Bot) acquire(ctx context.Context) bool {
	select {
	case b.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (b *Bot) release() {
	<-b.sem
}

// handle processes one inbound message. Panics are logged, never propagated.
func (b *Bot) handle(ctx context.Context, msg *tgbotapi.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Handler panic on message %d: %v", msg.MessageID, r)
		}
	}()

	if msg.Chat == nil {
		return
	}

	if msg.IsCommand() {
		b.metrics.ObserveMessage("command")
		b.handleCommand(msg)
		return
	}

	att, ok := attachmentOf(msg)
	if !ok {
		b.metrics.ObserveMessage("other")
		return
	}
	b.metrics.ObserveMessage(att.kind)

	if !b.allow(msg.Chat.ID) {
		b.metrics.ObserveMessage("rate_limited")
		b.reply(msg, replyRateLimited)
		return
	}

	if b.config.MaxVoiceDuration > 0 && time.Duration(att.duration)*time.Second > b.config.MaxVoiceDuration {
		b.metrics.ObserveMessage("too_long")
		b.reply(msg, fmt.Sprintf(replyTooLong, int(b.config.MaxVoiceDuration.Seconds())))
		return
	}

	// In-flight work outlives the poll loop, so detach from its cancellation.
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.config.RequestTimeout)
	defer cancel()

	done := b.metrics.TrackInFlight()
	defer done()

	b.transcribe(reqCtx, msg, att)
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		out := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf("Hi %s!", mentionHTML(msg.From)))
		out.ParseMode = tgbotapi.ModeHTML
		out.ReplyToMessageID = msg.MessageID
		out.ReplyMarkup = tgbotapi.ForceReply{ForceReply: true, Selective: true}
		b.send(out)
	case "help":
		b.reply(msg, replyHelp)
	default:
		b.log.Debug("Ignoring unknown command /%s", msg.Command())
	}
}

func (b *Bot) transcribe(ctx context.Context, msg *tgbotapi.Message, att attachment) {
	requestID := uuid.New().String()
	chatID := msg.Chat.ID
	start := time.Now()

	fields := map[string]interface{}{
		"request_id": requestID,
		"chat_id":    chatID,
		"kind":       att.kind,
		"duration":   att.duration,
	}
	b.log.InfoWithFields("Voice message received", fields)

	result, kind, err := b.fetchAndTranscribe(ctx, att)
	if err != nil {
		b.log.ErrorWithFields("Transcription failed", map[string]interface{}{
			"request_id": requestID,
			"chat_id":    chatID,
			"stage":      kind,
			"error":      err.Error(),
		})
		if logErr := b.transcripts.LogFailure(requestID, chatID, kind, err); logErr != nil {
			b.log.Warn("Failed to write transcript log: %v", logErr)
		}
		b.reply(msg, noticeFor(kind))
		return
	}

	text := strings.TrimSpace(result.Text())
	if logErr := b.transcripts.LogTranscription(requestID, chatID, result.Audio.Seconds(), text); logErr != nil {
		b.log.Warn("Failed to write transcript log: %v", logErr)
	}

	b.log.InfoWithFields("Transcription sent", map[string]interface{}{
		"request_id": requestID,
		"chat_id":    chatID,
		"chars":      len([]rune(text)),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})

	if text == "" {
		b.reply(msg, replyNoSpeech)
		return
	}
	for _, part := range SplitMessage(text, MaxMessageLength) {
		b.reply(msg, part)
	}
}

// Failure stages reported by fetchAndTranscribe.
const (
	stageDownload  = "download"
	stageDecode    = "decode"
	stageInference = "inference"
	stageOther     = "error"
)

// fetchAndTranscribe stages the attachment in a scoped temp dir that is
// removed on every return path.
func (b *Bot) fetchAndTranscribe(ctx context.Context, att attachment) (*transcription.Result, string, error) {
	path, cleanup, err := b.download(ctx, att.fileID)
	defer cleanup()
	if err != nil {
		return nil, stageDownload, err
	}

	result, err := b.transcriber.Transcribe(ctx, path)
	if err != nil {
		var decodeErr *audio.DecodeError
		var inferErr *transcription.InferenceError
		switch {
		case errors.As(err, &decodeErr):
			return nil, stageDecode, err
		case errors.As(err, &inferErr):
			return nil, stageInference, err
		default:
			return nil, stageOther, err
		}
	}
	return result, "", nil
}

func noticeFor(stage string) string {
	switch stage {
	case stageDownload:
		return replyFetchError
	case stageDecode:
		return replyDecodeError
	default:
		return replyInferError
	}
}

func (b *Bot) allow(chatID int64) bool {
	if b.config.RateLimitPerMinute <= 0 {
		return true
	}

	b.limitersMu.Lock()
	defer b.limitersMu.Unlock()

	l, ok := b.limiters[chatID]
	if !ok {
		if len(b.limiters) >= limiterSweepSize {
			b.sweepLimiters()
		}
		n := b.config.RateLimitPerMinute
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
		b.limiters[chatID] = l
	}
	return l.Allow()
}

// limiterSweepSize is the number of tracked chats that triggers a sweep.
const limiterSweepSize = 1024

// sweepLimiters drops limiters whose bucket has refilled. A full bucket
// behaves exactly like a new one, so dropping it loses no state.
// Callers hold limitersMu.
func (b *Bot) sweepLimiters() {
	for id, l := range b.limiters {
		if l.Tokens() >= float64(l.Burst()) {
			delete(b.limiters, id)
		}
	}
}

func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	b.send(out)
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.log.Error("Failed to send message: %v", err)
	}
}

type attachment struct {
	kind     string
	fileID   string
	duration int
}

// attachmentOf returns the transcribable media of msg, if any.
func attachmentOf(msg *tgbotapi.Message) (attachment, bool) {
	switch {
	case msg.Voice != nil:
		return attachment{kind: "voice", fileID: msg.Voice.FileID, duration: msg.Voice.Duration}, true
	case msg.Audio != nil:
		return attachment{kind: "audio", fileID: msg.Audio.FileID, duration: msg.Audio.Duration}, true
	case msg.VideoNote != nil:
		return attachment{kind: "video_note", fileID: msg.VideoNote.FileID, duration: msg.VideoNote.Duration}, true
	}
	return attachment{}, false
}

// mentionHTML renders an inline mention of the user.
func mentionHTML(u *tgbotapi.User) string {
	if u == nil {
		return "there"
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, u.ID, html.EscapeString(name))
}
