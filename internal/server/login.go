package server

import (
	"html/template"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
)

// loginTmpl shows a locked album cover: how full the album is and how much
// storage it takes, then the password form.
var loginTmpl = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8"/>
  <meta name="viewport" content="width=device-width,initial-scale=1.0"/>
  <title>Caderneta</title>
  <style>
    body { margin: 0; min-height: 100vh; display: flex; align-items: center; justify-content: center; font-family: system-ui, sans-serif; background: #f3f1ea; color: #222; }
    .cover { background: #2c3e50; color: #fff; border-radius: 12px; padding: 2rem; width: 18rem; box-shadow: 0 6px 24px rgba(0,0,0,.2); }
    h1 { margin: 0 0 .25rem; font-size: 1.4rem; }
    .count { margin: 0 0 .25rem; }
    .bar { height: 6px; background: rgba(255,255,255,.25); border-radius: 3px; margin-bottom: .5rem; }
    .bar div { height: 100%; background: #e67e22; border-radius: 3px; }
    .storage { font-size: .8rem; opacity: .8; margin: 0 0 1.25rem; }
    .error { background: #fdecea; color: #8a1c1c; border-radius: 6px; padding: .4rem .6rem; font-size: .85rem; margin-bottom: .75rem; }
    input[type=password] { width: 100%; box-sizing: border-box; padding: .5rem; border-radius: 6px; border: 0; margin-bottom: .75rem; }
    button { width: 100%; padding: .5rem; border: 0; border-radius: 6px; background: #fff; color: #2c3e50; font-weight: 600; cursor: pointer; }
  </style>
</head>
<body>
  <form class="cover" method="POST" action="/login">
    <h1>Caderneta</h1>
    <p class="count">{{.Occupied}} of {{.Total}} stickers</p>
    <div class="bar"><div style="width: {{.Percent}}%"></div></div>
    {{if .Storage}}<p class="storage">{{.Storage}} stored</p>{{end}}
    {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
    <input type="hidden" name="redirect" value="{{.Redirect}}"/>
    <input name="password" type="password" autocomplete="current-password" placeholder="Password" autofocus required/>
    <button type="submit">Open album</button>
  </form>
</body>
</html>`))

type loginPage struct {
	Occupied int
	Total    int
	Percent  int
	Storage  string
	Error    string
	Redirect string
}

// cover summarizes the album for the login page.
func (s *Server) cover(r *http.Request) loginPage {
	v := s.album.View()
	p := loginPage{Occupied: v.Occupied, Total: v.Total}
	if v.Total > 0 {
		p.Percent = v.Occupied * 100 / v.Total
	}
	if s.opts.Usage != nil {
		if used, capacity, err := s.opts.Usage.Usage(r.Context()); err == nil {
			p.Storage = humanize.Bytes(uint64(used))
			if capacity > 0 {
				p.Storage += " of " + humanize.Bytes(uint64(capacity))
			}
		}
	}
	return p
}

func (s *Server) renderLogin(w http.ResponseWriter, status int, p loginPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := loginTmpl.Execute(w, p); err != nil {
		s.logger.Error().Err(err).Msg("render login page")
	}
}

func (s *Server) loggedIn(r *http.Request) bool {
	c, err := r.Cookie(albumCookie)
	return err == nil && s.sessions.valid(c.Value)
}

// handleLoginPage shows the album cover with the password form.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	redirect := safeRedirect(r.URL.Query().Get("redirect"))
	if s.opts.Password == "" || s.loggedIn(r) {
		http.Redirect(w, r, redirect, http.StatusSeeOther)
		return
	}
	p := s.cover(r)
	p.Redirect = redirect
	s.renderLogin(w, http.StatusOK, p)
}

// handleLoginPost unlocks the album for this browser.
func (s *Server) handleLoginPost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	redirect := safeRedirect(r.FormValue("redirect"))

	if s.opts.Password != "" && !passwordMatches(r.FormValue("password"), s.opts.Password) {
		s.logger.Warn().Str("remote", r.RemoteAddr).Msg("wrong album password")
		p := s.cover(r)
		p.Redirect = redirect
		p.Error = "Wrong password."
		s.renderLogin(w, http.StatusUnauthorized, p)
		return
	}

	token, err := s.sessions.issue()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     albumCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.sessions.ttl / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, redirect, http.StatusSeeOther)
}

// handleLogout locks the album again for this browser.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(albumCookie); err == nil {
		s.sessions.revoke(c.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: albumCookie, Path: "/", MaxAge: -1})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
