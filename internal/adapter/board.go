package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"sjsage522/noticewatcher/helpers"
	"sjsage522/noticewatcher/logger"
	werrors "sjsage522/noticewatcher/pkg/errors"
	"sjsage522/noticewatcher/services/cache"
)

// DefaultBlockTime is how long a source is left alone after it throttled us
const DefaultBlockTime = 5 * time.Minute

// BoardConfig configures a BoardAdapter
type BoardConfig struct {
	ID          string
	URL         string
	Selectors   Selectors
	Identity    IdentityRule
	RequireRows bool
	BlockTime   time.Duration
}

// BoardAdapter fetches a server-rendered board over plain HTTP
type BoardAdapter struct {
	id        string
	url       string
	parser    *RowParser
	cacheSvc  cache.CacheService
	blockTime time.Duration
	fetch     func(ctx context.Context, url string) (io.Reader, error)
}

// NewBoardAdapter creates a board adapter. cacheSvc may be nil, which
// disables the rate-limit cooldown.
func NewBoardAdapter(cfg BoardConfig, cacheSvc cache.CacheService) (*BoardAdapter, error) {
	parser, err := NewRowParser(cfg.ID, cfg.URL, cfg.Selectors, cfg.Identity, cfg.RequireRows)
	if err != nil {
		return nil, err
	}

	blockTime := cfg.BlockTime
	if blockTime <= 0 {
		blockTime = DefaultBlockTime
	}

	return &BoardAdapter{
		id:        cfg.ID,
		url:       cfg.URL,
		parser:    parser,
		cacheSvc:  cacheSvc,
		blockTime: blockTime,
		fetch:     helpers.FetchWithRandomHeaders,
	}, nil
}

// Name returns the source id
func (a *BoardAdapter) Name() string { return a.id }

// Kind returns KindBoard
func (a *BoardAdapter) Kind() Kind { return KindBoard }

// Fetch downloads the board page and parses its rows
func (a *BoardAdapter) Fetch(ctx context.Context) ([]ObservedItem, error) {
	if err := a.checkCooldown(); err != nil {
		return nil, err
	}

	body, err := a.fetch(ctx, a.url)
	if err != nil {
		return nil, a.classify(err)
	}

	return a.parser.Parse(body)
}

func (a *BoardAdapter) checkCooldown() error {
	if a.cacheSvc == nil {
		return nil
	}
	value, err := a.cacheSvc.Get(cache.CooldownKey(a.id))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			logger.ForCache().Warn().Err(err).Str("source", a.id).Msg("cooldown lookup failed")
		}
		return nil
	}

	seconds, _ := strconv.Atoi(string(value))
	return werrors.New(werrors.ErrorTypeRateLimit, a.id,
		fmt.Sprintf("%d초 동안 더 이상 요청을 보내지 않음", seconds), nil)
}

// classify maps a fetch failure onto the error taxonomy
func (a *BoardAdapter) classify(err error) error {
	var statusErr *helpers.StatusError
	if !errors.As(err, &statusErr) {
		return werrors.NewNetwork(a.id, "fetch failed", err)
	}

	switch code := statusErr.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return werrors.NewAuth(a.id, "access denied", statusErr)
	case code == http.StatusNotFound || code == http.StatusGone:
		return werrors.NewNotFound(a.id, statusErr.Error())
	case statusErr.IsRateLimited():
		block := a.cooldownFor(statusErr.RetryAfter)
		a.startCooldown(block)
		return werrors.NewRateLimit(a.id, block)
	case code >= 500:
		return werrors.NewNetwork(a.id, "server error", statusErr)
	default:
		return werrors.New(werrors.ErrorTypeNotFound, a.id, "unexpected response", statusErr)
	}
}

// cooldownFor honours a Retry-After in seconds when it asks for longer than the default
func (a *BoardAdapter) cooldownFor(retryAfter string) time.Duration {
	if secs, err := strconv.Atoi(retryAfter); err == nil {
		if d := time.Duration(secs) * time.Second; d > a.blockTime {
			return d
		}
	}
	return a.blockTime
}

func (a *BoardAdapter) startCooldown(block time.Duration) {
	if a.cacheSvc == nil {
		return
	}
	value := []byte(strconv.Itoa(int(block / time.Second)))
	if err := a.cacheSvc.Set(cache.CooldownKey(a.id), value, block); err != nil {
		logger.ForCache().Warn().Err(err).Str("source", a.id).Msg("failed to store cooldown")
	}
}
