package adapter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	werrors "sjsage522/noticewatcher/pkg/errors"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestChrome skips the test when neither a remote nor a local Chrome is available
func newTestChrome(t *testing.T) *ChromeSession {
	t.Helper()
	remote := os.Getenv("CHROME_REMOTE_URL")
	if remote == "" {
		if _, ok := launcher.LookPath(); !ok {
			t.Skip("Chrome is not available, skipping test")
		}
	}
	session := NewChromeSession(ChromeConfig{RemoteURL: remote})
	t.Cleanup(func() { _ = session.Close() })
	return session
}

const loginHTML = `<html><body>
<div id="popup"><button class="close" onclick="document.getElementById('popup').remove()">닫기</button></div>
<form action="/board" method="get">
  <input id="uid" name="uid"><input id="upw" name="upw" type="password">
  <button id="login" type="submit">로그인</button>
</form>
</body></html>`

// The board list is built client-side, like the sites that need a browser
const renderedBoardHTML = `<html><body><ul class="list"></ul>
<script>
setTimeout(function () {
  var ul = document.querySelector('ul.list');
  ul.innerHTML = '<li data-id="7"><a class="subject" href="/view/7">회원 전용 공지</a></li>';
}, 100);
</script></body></html>`

func TestBrowserAdapterLoginAndRender(t *testing.T) {
	session := newTestChrome(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, loginHTML)
	})
	mux.HandleFunc("/board", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, renderedBoardHTML)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	a, err := NewBrowserAdapter(BrowserConfig{
		ID:        "members",
		URL:       server.URL + "/board",
		Selectors: Selectors{Row: "ul.list li", Title: "a.subject"},
		Identity:  IdentityRule{Attr: "data-id"},
		Login: &LoginSteps{
			URL:              server.URL + "/login",
			UsernameSelector: "#uid",
			PasswordSelector: "#upw",
			SubmitSelector:   "#login",
			Username:         "student",
			Password:         "pw",
		},
		PopupCloseSelector: "#popup button.close",
		RequireRows:        true,
		RenderTimeout:      10 * time.Second,
	}, session)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	items, err := a.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "회원 전용 공지", items[0].Title)
	assert.Equal(t, "7", items[0].Identity)
	assert.Equal(t, server.URL+"/view/7", items[0].Link)
}

func TestBrowserAdapterRowsNeverRender(t *testing.T) {
	session := newTestChrome(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html><body><p>점검 중</p></body></html>`)
	}))
	defer server.Close()

	a, err := NewBrowserAdapter(BrowserConfig{
		ID:            "members",
		URL:           server.URL,
		Selectors:     Selectors{Row: "ul.list li", Title: "a"},
		RequireRows:   true,
		RenderTimeout: time.Second,
	}, session)
	require.NoError(t, err)

	_, err = a.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, werrors.Is(err, werrors.ErrorTypeParsing))
}

func TestBrowserWaitErrorAfterDeadline(t *testing.T) {
	a := &BrowserAdapter{cfg: BrowserConfig{ID: "members"}}
	rejected := werrors.NewAuth("members", "login did not complete", nil)

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	err := a.waitError(expired, "login", rejected)
	assert.True(t, werrors.IsRetryable(err), "a timed out wait is retried")
	assert.True(t, werrors.Is(err, werrors.ErrorTypeNetwork))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = a.waitError(context.Background(), "login", rejected)
	assert.Same(t, rejected, err)
	assert.False(t, werrors.IsRetryable(err))
}

func TestBrowserAdapterLoginTimeoutIsRetryable(t *testing.T) {
	session := newTestChrome(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, loginHTML)
	})
	// the page after login never shows the member menu
	mux.HandleFunc("/board", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html><body><p>잠시만 기다려 주세요</p></body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	a, err := NewBrowserAdapter(BrowserConfig{
		ID:        "members",
		URL:       server.URL + "/board",
		Selectors: Selectors{Row: "ul.list li", Title: "a"},
		Login: &LoginSteps{
			URL:              server.URL + "/login",
			UsernameSelector: "#uid",
			PasswordSelector: "#upw",
			SubmitSelector:   "#login",
			SuccessSelector:  "#member-menu",
			Username:         "student",
			Password:         "pw",
		},
		RequireRows:   true,
		RenderTimeout: 30 * time.Second,
	}, session)
	require.NoError(t, err)

	// the fetch deadline expires long before the render timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = a.Fetch(ctx)
	require.Error(t, err)
	assert.True(t, werrors.IsRetryable(err), "got %v", err)
}

func TestNewBrowserAdapterRequiresCredentials(t *testing.T) {
	_, err := NewBrowserAdapter(BrowserConfig{
		ID:        "members",
		URL:       "https://example.com",
		Selectors: Selectors{Row: "li", Title: "a"},
		Login:     &LoginSteps{UsernameSelector: "#id"},
	}, NewChromeSession(ChromeConfig{}))
	assert.True(t, werrors.Is(err, werrors.ErrorTypeConfiguration))
}
