// Package auth gates every gallery route behind the shared guest password,
// either as HTTP basic auth or as a login form backed by a session cookie.
package auth

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/bcrypt"
)

// SessionName is the cookie that holds login state and flash messages.
const SessionName = "slideshow"

const authenticatedKey = "authenticated"

// Authenticator checks the configured credentials.
type Authenticator struct {
	mode     string
	username string
	hash     []byte
	store    sessions.Store
}

// New creates an authenticator for mode ("basic" or "session").
// The hash never leaves memory and is checked on every basic auth request,
// so the minimum bcrypt cost is used.
func New(mode, username, password string, store sessions.Store) (*Authenticator, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	if mode != "basic" && mode != "session" {
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
	if mode == "session" && store == nil {
		return nil, fmt.Errorf("session auth needs a session store")
	}
	return &Authenticator{mode: mode, username: username, hash: hash, store: store}, nil
}

// Mode returns the configured auth mode.
func (a *Authenticator) Mode() string {
	return a.mode
}

// Check reports whether the credentials match.
func (a *Authenticator) Check(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := bcrypt.CompareHashAndPassword(a.hash, []byte(password)) == nil
	return userOK && passOK
}

// Middleware rejects requests that are not authenticated.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	if a.mode == "basic" {
		return middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
			Realm: "slideshow",
			Validator: func(username, password string, c echo.Context) (bool, error) {
				ok := a.Check(username, password)
				if !ok {
					slog.Warn("rejected credentials", "ip", c.RealIP(), "path", c.Request().URL.Path)
				}
				return ok, nil
			},
		})
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if a.LoggedIn(c) {
				return next(c)
			}
			if wantsHTML(c.Request()) {
				return c.Redirect(http.StatusFound, "/login")
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "login required")
		}
	}
}

// LoggedIn reports whether the request carries a valid session.
func (a *Authenticator) LoggedIn(c echo.Context) bool {
	if a.store == nil {
		return false
	}
	session, err := a.store.Get(c.Request(), SessionName)
	if err != nil {
		return false
	}
	ok, _ := session.Values[authenticatedKey].(bool)
	return ok
}

// Login stores a logged-in session when the password is right. The
// session form only asks for the password.
func (a *Authenticator) Login(c echo.Context, password string) (bool, error) {
	if !a.Check(a.username, password) {
		slog.Warn("failed login", "ip", c.RealIP())
		return false, nil
	}
	session, _ := a.store.Get(c.Request(), SessionName)
	session.Values[authenticatedKey] = true
	if err := session.Save(c.Request(), c.Response()); err != nil {
		return false, fmt.Errorf("failed to save session: %w", err)
	}
	return true, nil
}

// Logout clears the session.
func (a *Authenticator) Logout(c echo.Context) error {
	session, _ := a.store.Get(c.Request(), SessionName)
	delete(session.Values, authenticatedKey)
	session.Options.MaxAge = -1
	return session.Save(c.Request(), c.Response())
}

func wantsHTML(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}
