package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"telegram-bot-client/internal/methods"
	"telegram-bot-client/internal/metrics"
	"telegram-bot-client/internal/monitor"
	"telegram-bot-client/internal/session"
	"telegram-bot-client/internal/storage"
	"telegram-bot-client/internal/types"
)

// DefaultCacheTTL is how long getMe and getFile results are reused
const DefaultCacheTTL = 5 * time.Minute

const cacheKeyMe = "me"

// Bot binds a token to a session and adds rate limiting, result caching and
// persistent update offsets on top of raw method calls.
type Bot struct {
	token   string
	id      int64
	session session.Session
	logger  *slog.Logger

	storage    storage.StorageService
	limiter    *monitor.RateLimitManager
	providerID string
	cacheTTL   time.Duration
	cache      *gocache.Cache

	offsetMu   sync.Mutex
	lastUpdate int64
}

// Option configures a Bot
type Option func(*Bot)

// WithStorage persists the getUpdates offset
func WithStorage(s storage.StorageService) Option {
	return func(b *Bot) {
		b.storage = s
	}
}

// WithRateLimiter checks every call against the limiter under providerID
func WithRateLimiter(limiter *monitor.RateLimitManager, providerID string) Option {
	return func(b *Bot) {
		b.limiter = limiter
		b.providerID = providerID
	}
}

// WithCacheTTL sets the result cache lifetime. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(b *Bot) {
		b.cacheTTL = ttl
	}
}

// New creates a bot for token. The session is owned by the bot from now on.
func New(token string, sess session.Session, logger *slog.Logger, opts ...Option) (*Bot, error) {
	id, err := ParseBotID(token)
	if err != nil {
		return nil, fmt.Errorf("invalid bot token: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("session is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bot{
		token:    token,
		id:       id,
		session:  sess,
		logger:   logger.With("bot_id", id),
		cacheTTL: DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.cacheTTL > 0 {
		b.cache = gocache.New(b.cacheTTL, 2*b.cacheTTL)
	}

	b.logger.Debug("Token validation passed", "token_length", len(token))
	return b, nil
}

// ID returns the numeric bot id taken from the token
func (b *Bot) ID() int64 {
	return b.id
}

// Session returns the underlying session
func (b *Bot) Session() session.Session {
	return b.session
}

// Call builds and sends a method, returning the raw result
func (b *Bot) Call(ctx context.Context, m methods.Method) (json.RawMessage, error) {
	req, err := m.BuildRequest()
	if err != nil {
		return nil, err
	}

	if b.limiter != nil {
		if err := b.limiter.CheckCall(b.providerID); err != nil {
			metrics.RateLimitRejections.WithLabelValues(b.providerID).Inc()
			return nil, fmt.Errorf("%s: %w", req.Method, err)
		}
	}

	result, err := b.session.MakeRequest(ctx, b.token, req)

	if b.limiter != nil && !errors.Is(err, session.ErrSessionClosed) {
		if regErr := b.limiter.RegisterCall(b.providerID); regErr != nil {
			b.logger.Warn("Failed to register API call", "method", req.Method, "error", regErr)
		}

		var retryErr *session.RetryAfterError
		if errors.As(err, &retryErr) {
			b.limiter.SetCooldown(b.providerID, retryErr.RetryAfter)
		}
	}

	return result, err
}

// call sends m and decodes its result into T
func call[T any](ctx context.Context, b *Bot, m methods.Method) (T, error) {
	var out T
	raw, err := b.Call(ctx, m)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%s: failed to decode result: %w: %w", m.APIMethod(), session.ErrMalformedResponse, err)
	}
	return out, nil
}

func (b *Bot) cached(name, key string) (any, bool) {
	if b.cache == nil {
		return nil, false
	}
	value, found := b.cache.Get(key)
	result := "miss"
	if found {
		result = "hit"
	}
	metrics.CacheLookups.WithLabelValues(name, result).Inc()
	return value, found
}

func (b *Bot) store(key string, value any) {
	if b.cache != nil {
		b.cache.SetDefault(key, value)
	}
}

// GetMe returns the bot's own user, cached for the cache TTL
func (b *Bot) GetMe(ctx context.Context) (*types.User, error) {
	if value, ok := b.cached("get_me", cacheKeyMe); ok {
		if user, ok := value.(*types.User); ok {
			return user, nil
		}
	}

	user, err := call[*types.User](ctx, b, methods.GetMe{})
	if err != nil {
		return nil, err
	}
	b.store(cacheKeyMe, user)
	return user, nil
}

// SendMessage sends a text message
func (b *Bot) SendMessage(ctx context.Context, m methods.SendMessage) (*types.Message, error) {
	return call[*types.Message](ctx, b, m)
}

// SendDocument uploads or re-sends a document
func (b *Bot) SendDocument(ctx context.Context, m methods.SendDocument) (*types.Message, error) {
	return call[*types.Message](ctx, b, m)
}

// DeleteWebhook removes any webhook so getUpdates can be used
func (b *Bot) DeleteWebhook(ctx context.Context, dropPending bool) error {
	ok, err := call[bool](ctx, b, methods.DeleteWebhook{DropPendingUpdates: methods.Ptr(dropPending)})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("deleteWebhook: %w: result is false", session.ErrMalformedResponse)
	}
	return nil
}

// GetFile returns download information for fileID, cached per id
func (b *Bot) GetFile(ctx context.Context, fileID string) (*types.File, error) {
	key := "file:" + fileID
	if value, ok := b.cached("get_file", key); ok {
		if file, ok := value.(*types.File); ok {
			return file, nil
		}
	}

	file, err := call[*types.File](ctx, b, methods.GetFile{FileID: fileID})
	if err != nil {
		return nil, err
	}
	b.store(key, file)
	return file, nil
}

// Download writes the content of fileID to w. Files of a local server are
// read from disk, others are streamed from the file endpoint.
func (b *Bot) Download(ctx context.Context, fileID string, w io.Writer) (int64, error) {
	file, err := b.GetFile(ctx, fileID)
	if err != nil {
		return 0, err
	}
	if file.FilePath == "" {
		return 0, fmt.Errorf("file %s has no download path", fileID)
	}

	api := b.session.API()
	if api.IsLocal {
		f, err := os.Open(file.FilePath)
		if err != nil {
			return 0, fmt.Errorf("failed to open local file: %w", err)
		}
		defer f.Close()

		n, err := io.Copy(w, f)
		if err != nil {
			return n, fmt.Errorf("failed to copy local file: %w", err)
		}
		return n, nil
	}

	return b.session.StreamContent(ctx, api.FileURL(b.token, file.FilePath), w)
}

// FetchUpdates long-polls for new updates starting after the last confirmed
// one, and records the highest update id received.
func (b *Bot) FetchUpdates(ctx context.Context, timeout time.Duration, limit int) ([]types.Update, error) {
	b.offsetMu.Lock()
	defer b.offsetMu.Unlock()

	offset, err := b.currentOffset(ctx)
	if err != nil {
		return nil, err
	}

	m := methods.GetUpdates{Timeout: methods.Ptr(int(timeout / time.Second))}
	if offset > 0 {
		m.Offset = methods.Ptr(offset)
	}
	if limit > 0 {
		m.Limit = methods.Ptr(limit)
	}

	updates, err := call[[]types.Update](ctx, b, m)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return updates, nil
	}

	highest := b.lastUpdate
	for _, update := range updates {
		highest = max(highest, update.UpdateID)
	}
	if highest == b.lastUpdate {
		return updates, nil
	}
	b.lastUpdate = highest

	if b.storage != nil {
		state := &storage.UpdateState{BotID: b.id, LastUpdateID: highest}
		if err := b.storage.UpsertUpdateState(ctx, state); err != nil {
			b.logger.Error("Failed to persist update offset",
				"last_update_id", highest,
				"error", err)
			return updates, fmt.Errorf("failed to persist update offset: %w", err)
		}
	}

	b.logger.Debug("Fetched updates",
		"count", len(updates),
		"last_update_id", highest)
	return updates, nil
}

// currentOffset must be called with offsetMu held
func (b *Bot) currentOffset(ctx context.Context) (int64, error) {
	if b.lastUpdate == 0 && b.storage != nil {
		state, err := b.storage.GetUpdateState(ctx, b.id)
		if err != nil {
			return 0, fmt.Errorf("failed to load update offset: %w", err)
		}
		if state != nil {
			b.lastUpdate = state.LastUpdateID
		}
	}
	if b.lastUpdate == 0 {
		return 0, nil
	}
	return b.lastUpdate + 1, nil
}

// Close closes the session
func (b *Bot) Close(ctx context.Context) error {
	if b.cache != nil {
		b.cache.Flush()
	}
	return b.session.Close(ctx)
}

// Use runs fn and closes the bot when it returns, panics included
func (b *Bot) Use(ctx context.Context, fn func(*Bot) error) (err error) {
	defer func() {
		if closeErr := b.Close(context.WithoutCancel(ctx)); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close bot: %w", closeErr))
		}
	}()
	return fn(b)
}
