package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"sjsage522/noticewatcher/logger"
	werrors "sjsage522/noticewatcher/pkg/errors"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const (
	defaultPopupTimeout  = 3 * time.Second
	defaultRenderTimeout = 20 * time.Second
)

// ChromeConfig selects how the shared Chrome instance is obtained
type ChromeConfig struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local headless Chrome.
	RemoteURL string
	// Bin overrides the Chrome binary used by the launcher
	Bin string
}

// ChromeSession lazily starts one Chrome shared by all browser sources
type ChromeSession struct {
	cfg ChromeConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewChromeSession creates a session; Chrome starts on first use
func NewChromeSession(cfg ChromeConfig) *ChromeSession {
	return &ChromeSession{cfg: cfg}
}

// Browser returns the connected browser, launching or connecting if needed
func (s *ChromeSession) Browser() (*rod.Browser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		return s.browser, nil
	}

	log := logger.ForAdapter(string(KindBrowser))

	wsURL := s.cfg.RemoteURL
	if wsURL != "" {
		log.Info().Str("url", wsURL).Msg("connecting to remote chrome")
	} else {
		l := launcher.New().Headless(true).
			Set("disable-blink-features", "AutomationControlled").
			Set("lang", "ko-KR")
		if s.cfg.Bin != "" {
			l = l.Bin(s.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		wsURL = u
		s.lnch = l
		log.Info().Str("url", wsURL).Msg("launched local chrome")
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		s.cleanupLocked()
		return nil, fmt.Errorf("connect chrome: %w", err)
	}
	s.browser = b
	return b, nil
}

// Close shuts Chrome down
func (s *ChromeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked()
}

func (s *ChromeSession) cleanupLocked() error {
	var err error
	if s.browser != nil {
		err = s.browser.Close()
		s.browser = nil
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
		s.lnch = nil
	}
	return err
}

// BrowserConfig configures a BrowserAdapter
type BrowserConfig struct {
	ID          string
	URL         string
	Selectors   Selectors
	Identity    IdentityRule
	RequireRows bool
	// Login is optional; nil skips the login step
	Login *LoginSteps
	// PopupCloseSelector is clicked when it shows up within PopupTimeout
	PopupCloseSelector string
	PopupTimeout       time.Duration
	// RenderTimeout bounds the wait for the row selector
	RenderTimeout time.Duration
}

// BrowserAdapter renders a board in headless Chrome, for sites that need a
// login session, close a popup layer, or build their list client-side.
type BrowserAdapter struct {
	cfg     BrowserConfig
	parser  *RowParser
	session *ChromeSession
}

// NewBrowserAdapter creates a browser adapter backed by session
func NewBrowserAdapter(cfg BrowserConfig, session *ChromeSession) (*BrowserAdapter, error) {
	parser, err := NewRowParser(cfg.ID, cfg.URL, cfg.Selectors, cfg.Identity, cfg.RequireRows)
	if err != nil {
		return nil, err
	}
	if cfg.PopupTimeout <= 0 {
		cfg.PopupTimeout = defaultPopupTimeout
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = defaultRenderTimeout
	}
	if cfg.Login != nil && (cfg.Login.Username == "" || cfg.Login.Password == "") {
		return nil, werrors.NewConfiguration(fmt.Sprintf("%s: login credentials are not set", cfg.ID), nil)
	}
	return &BrowserAdapter{cfg: cfg, parser: parser, session: session}, nil
}

// Name returns the source id
func (a *BrowserAdapter) Name() string { return a.cfg.ID }

// Kind returns KindBrowser
func (a *BrowserAdapter) Kind() Kind { return KindBrowser }

// Fetch logs in if configured, opens the board and parses the rendered rows
func (a *BrowserAdapter) Fetch(ctx context.Context) ([]ObservedItem, error) {
	b, err := a.session.Browser()
	if err != nil {
		return nil, werrors.NewNetwork(a.cfg.ID, "browser unavailable", err)
	}

	// A fresh incognito context per fetch keeps login cookies apart
	incognito, err := b.Incognito()
	if err != nil {
		return nil, werrors.NewNetwork(a.cfg.ID, "open browser context", err)
	}
	defer incognito.Close()

	page, err := stealth.Page(incognito)
	if err != nil {
		return nil, werrors.NewNetwork(a.cfg.ID, "create tab", err)
	}
	defer page.Close()
	page = page.Context(ctx)

	// Boards greet visitors with alert() dialogs that block the page
	go page.EachEvent(func(e *proto.PageJavascriptDialogOpening) {
		_ = proto.PageHandleJavaScriptDialog{Accept: true}.Call(page)
	})()

	if a.cfg.Login != nil {
		if err := a.login(ctx, page); err != nil {
			return nil, err
		}
	}

	if err := a.navigate(page, a.cfg.URL); err != nil {
		return nil, err
	}
	a.closePopup(page)

	if _, err := page.Timeout(a.cfg.RenderTimeout).Element(a.cfg.Selectors.Row); err != nil {
		if !a.cfg.RequireRows && ctx.Err() == nil {
			return []ObservedItem{}, nil
		}
		return nil, a.waitError(ctx, "render", werrors.NewParsing(a.cfg.ID, fmt.Sprintf("rows %q did not render", a.cfg.Selectors.Row), err))
	}

	html, err := page.HTML()
	if err != nil {
		return nil, werrors.NewNetwork(a.cfg.ID, "read rendered page", err)
	}

	return a.parser.Parse(strings.NewReader(html))
}

func (a *BrowserAdapter) navigate(page *rod.Page, url string) error {
	if err := page.Navigate(url); err != nil {
		return werrors.NewNetwork(a.cfg.ID, "navigate "+url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return werrors.NewNetwork(a.cfg.ID, "load "+url, err)
	}
	return nil
}

func (a *BrowserAdapter) login(ctx context.Context, page *rod.Page) error {
	steps := a.cfg.Login
	loginURL := steps.URL
	if loginURL == "" {
		loginURL = a.cfg.URL
	}
	if err := a.navigate(page, loginURL); err != nil {
		return err
	}
	a.closePopup(page)

	form := page.Timeout(a.cfg.RenderTimeout)
	user, err := form.Element(steps.UsernameSelector)
	if err != nil {
		return a.waitError(ctx, "login", werrors.NewParsing(a.cfg.ID, "login form not found", err))
	}
	if err := user.Input(steps.Username); err != nil {
		return werrors.NewNetwork(a.cfg.ID, "type username", err)
	}
	pass, err := form.Element(steps.PasswordSelector)
	if err != nil {
		return a.waitError(ctx, "login", werrors.NewParsing(a.cfg.ID, "password field not found", err))
	}
	if err := pass.Input(steps.Password); err != nil {
		return werrors.NewNetwork(a.cfg.ID, "type password", err)
	}
	submit, err := form.Element(steps.SubmitSelector)
	if err != nil {
		return a.waitError(ctx, "login", werrors.NewParsing(a.cfg.ID, "login button not found", err))
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return werrors.NewNetwork(a.cfg.ID, "submit login", err)
	}
	if err := page.WaitLoad(); err != nil {
		return werrors.NewNetwork(a.cfg.ID, "load after login", err)
	}

	if steps.FailureSelector != "" {
		if failed, _, _ := page.Has(steps.FailureSelector); failed {
			return werrors.NewAuth(a.cfg.ID, "login rejected", nil)
		}
	}
	if steps.SuccessSelector != "" {
		if _, err := page.Timeout(a.cfg.RenderTimeout).Element(steps.SuccessSelector); err != nil {
			return a.waitError(ctx, "login", werrors.NewAuth(a.cfg.ID, "login did not complete", err))
		}
	}

	logger.ForSource(a.cfg.ID).Debug().Msg("logged in")
	return nil
}

// waitError turns a failed element wait into a retryable network error when
// ctx ran out first; the page never got the chance to answer. Otherwise it
// returns failure.
func (a *BrowserAdapter) waitError(ctx context.Context, step string, failure error) error {
	if err := ctx.Err(); err != nil {
		return werrors.NewNetwork(a.cfg.ID, step+" interrupted", err)
	}
	return failure
}

// closePopup dismisses a notice layer if one appears; its absence is normal
func (a *BrowserAdapter) closePopup(page *rod.Page) {
	if a.cfg.PopupCloseSelector == "" {
		return
	}
	el, err := page.Timeout(a.cfg.PopupTimeout).Element(a.cfg.PopupCloseSelector)
	if err != nil {
		return
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		logger.ForSource(a.cfg.ID).Debug().Err(err).Msg("popup close click failed")
	}
}
