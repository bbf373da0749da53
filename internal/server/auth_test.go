package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/banux/caderneta/internal/app"
	"github.com/banux/caderneta/internal/backend/fs"
	"github.com/banux/caderneta/internal/importer"
	"github.com/banux/caderneta/internal/normalize"
	"github.com/banux/caderneta/internal/persist"
)

const (
	testTotal    = 40
	testPassword = "figurinhas"
)

// newTestAlbum creates a controller over an empty temp-dir backend.
func newTestAlbum(t *testing.T, quota int64) (*app.Controller, *fs.Backend) {
	t.Helper()
	backend, err := fs.New(t.TempDir(), quota)
	if err != nil {
		t.Fatalf("fs.New: %v", err)
	}
	n, err := normalize.New(0, "")
	if err != nil {
		t.Fatalf("normalize.New: %v", err)
	}
	m := persist.New(backend, persist.DefaultKey, testTotal)
	c := app.New(context.Background(), m, importer.New(m, n, importer.PolicyKeep), app.Options{PageSize: 16})
	return c, backend
}

// newTestServer creates a Server backed by an empty temp-dir backend.
func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	c, backend := newTestAlbum(t, 0)
	if opts.Usage == nil {
		opts.Usage = backend
	}
	return New(c, opts)
}

// newLockedAlbum returns a password-protected server over an album that
// already holds stickers in slots 0 and 1.
func newLockedAlbum(t *testing.T) (*Server, *app.Controller) {
	t.Helper()
	c, backend := newTestAlbum(t, 0)
	for i := 0; i < 2; i++ {
		if _, err := c.ImportSingle(context.Background(), i, pngBytes(t, i+1)); err != nil {
			t.Fatalf("ImportSingle(%d): %v", i, err)
		}
	}
	return New(c, Options{Password: testPassword, Usage: backend}), c
}

func login(t *testing.T, srv *Server) *http.Cookie {
	t.Helper()
	token, err := srv.sessions.issue()
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return &http.Cookie{Name: albumCookie, Value: token}
}

func TestAuth_AlbumRoutesNeedCredentials(t *testing.T) {
	srv, c := newLockedAlbum(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/album"},
		{http.MethodGet, "/api/slots/0/image"},
		{http.MethodPost, "/api/import"},
		{http.MethodPost, "/api/slots/pending"},
		{http.MethodDelete, "/api/slots/0"},
		{http.MethodPost, "/api/reset"},
		{http.MethodPost, "/api/input"},
	} {
		rr := do(t, srv, tc.method, tc.path, nil, "")
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: got %d, want 401", tc.method, tc.path, rr.Code)
		}
		if rr.Header().Get("WWW-Authenticate") == "" {
			t.Errorf("%s %s: no WWW-Authenticate challenge", tc.method, tc.path)
		}
	}
	if got := c.View().Occupied; got != 2 {
		t.Errorf("unauthenticated requests changed the album: %d stickers, want 2", got)
	}
}

func TestAuth_BasicCredentialsOnAPI(t *testing.T) {
	srv, c := newLockedAlbum(t)

	req := httptest.NewRequest(http.MethodPost, "/api/reset", nil)
	req.SetBasicAuth("script", "wrong")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: got %d, want 401", rr.Code)
	}
	if c.View().Occupied != 2 {
		t.Fatal("reset ran with a wrong password")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/reset", nil)
	req.SetBasicAuth("", testPassword)
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("reset with Basic credentials: got %d: %s", rr.Code, rr.Body.String())
	}
	if c.View().Occupied != 0 {
		t.Error("reset did not empty the album")
	}
}

func TestAuth_BasicCredentialsNotForPage(t *testing.T) {
	srv, _ := newLockedAlbum(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("", testPassword)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("got %d, want 303 to the login page", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/login?redirect=%2F" {
		t.Errorf("Location = %q", loc)
	}
}

func TestAuth_SessionImportsAndRemoves(t *testing.T) {
	srv, c := newLockedAlbum(t)
	cookie := login(t, srv)

	body, ct := buildMultipartBody(t, part{"file", "new.png", "image/png", pngBytes(t, 9)})
	req := httptest.NewRequest(http.MethodPost, "/api/slots/5", body)
	req.Header.Set("Content-Type", ct)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("import: got %d: %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/slots/0", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("remove: got %d: %s", rr.Code, rr.Body.String())
	}

	if !c.SlotOccupied(5) || c.SlotOccupied(0) {
		t.Errorf("album after import and remove: slot5=%v slot0=%v", c.SlotOccupied(5), c.SlotOccupied(0))
	}
}

func TestAuth_CrossOriginWriteRefused(t *testing.T) {
	srv, c := newLockedAlbum(t)
	cookie := login(t, srv)

	req := httptest.NewRequest(http.MethodPost, "http://album.local/api/reset", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("cross-origin reset: got %d, want 403", rr.Code)
	}
	if c.View().Occupied != 2 {
		t.Fatal("cross-origin reset emptied the album")
	}

	req = httptest.NewRequest(http.MethodPost, "http://album.local/api/reset", nil)
	req.Header.Set("Origin", "http://album.local")
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("same-origin reset: got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAuth_LoginPageShowsAlbumCover(t *testing.T) {
	srv, _ := newLockedAlbum(t)

	rr := do(t, srv, http.MethodGet, "/login", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /login: got %d", rr.Code)
	}
	page := rr.Body.String()
	want := fmt.Sprintf("2 of %d stickers", testTotal)
	if !strings.Contains(page, want) {
		t.Errorf("login page should say %q", want)
	}
	if !strings.Contains(page, "stored") {
		t.Error("login page should show storage usage")
	}
	if !strings.Contains(page, "width: 5%") {
		t.Error("progress bar should be 5% full")
	}
}

func TestAuth_LoginPost(t *testing.T) {
	srv, _ := newLockedAlbum(t)

	post := func(password, redirect string) *httptest.ResponseRecorder {
		form := url.Values{"password": {password}, "redirect": {redirect}}
		return do(t, srv, http.MethodPost, "/login", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	}

	rr := post("wrong", "/")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: got %d, want 401", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Wrong password") {
		t.Error("wrong password should re-render the cover with an error")
	}

	rr = post(testPassword, "//elsewhere.example/")
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("login: got %d, want 303", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/" {
		t.Errorf("off-site redirect kept: %q", loc)
	}
	var token string
	for _, ck := range rr.Result().Cookies() {
		if ck.Name == albumCookie {
			token = ck.Value
		}
	}
	if !srv.sessions.valid(token) {
		t.Fatal("login did not issue a usable session")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/album", nil)
	req.AddCookie(&http.Cookie{Name: albumCookie, Value: token})
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("album with session: got %d", rr.Code)
	}
}

func TestAuth_LogoutLocksAlbum(t *testing.T) {
	srv, _ := newLockedAlbum(t)
	cookie := login(t, srv)

	req := httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/login" {
		t.Fatalf("logout: got %d to %q", rr.Code, rr.Header().Get("Location"))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/album", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("album after logout: got %d, want 401", rr.Code)
	}
}

func TestAuth_OpenAlbum(t *testing.T) {
	srv := newTestServer(t, Options{})

	if rr := do(t, srv, http.MethodGet, "/api/album", nil, ""); rr.Code != http.StatusOK {
		t.Errorf("album without password: got %d", rr.Code)
	}
	rr := do(t, srv, http.MethodGet, "/login?redirect=/api/album", nil, "")
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/api/album" {
		t.Errorf("login without password: got %d to %q", rr.Code, rr.Header().Get("Location"))
	}
}

func TestAuth_HealthAlwaysPublic(t *testing.T) {
	srv, _ := newLockedAlbum(t)
	if rr := do(t, srv, http.MethodGet, "/health", nil, ""); rr.Code != http.StatusOK {
		t.Errorf("/health: got %d", rr.Code)
	}
}

func TestSessionStore_Expiry(t *testing.T) {
	s := newSessionStore(time.Millisecond)
	token, err := s.issue()
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if s.valid(token) {
		t.Error("expired token still valid")
	}

	s.ttl = time.Hour
	fresh, _ := s.issue()
	s.revoke(fresh)
	if s.valid(fresh) {
		t.Error("revoked token still valid")
	}
}

func TestSafeRedirect(t *testing.T) {
	for in, want := range map[string]string{
		"":                     "/",
		"/":                    "/",
		"/api/album?page=2":    "/api/album?page=2",
		"//evil.example":       "/",
		"/\\evil.example":      "/",
		"https://evil.example": "/",
	} {
		if got := safeRedirect(in); got != want {
			t.Errorf("safeRedirect(%q) = %q, want %q", in, got, want)
		}
	}
}
