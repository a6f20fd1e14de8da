package api

import (
	"embed"
	"html/template"
	"io"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates renders the embedded HTML pages.
type Templates struct {
	t *template.Template
}

// NewTemplates parses the embedded templates.
func NewTemplates() (*Templates, error) {
	t, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Templates{t: t}, nil
}

func (t *Templates) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	return t.t.ExecuteTemplate(w, name, data)
}

// SetupRouter creates the echo router. Every request passes through
// recovery and logging, then authentication, then its handler.
func SetupRouter(handler *Handler, templates *Templates) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = templates

	e.Use(middleware.Recover())
	e.Use(RequestLogger())

	e.GET("/health", handler.HandleHealth)

	if handler.auth.Mode() == "session" {
		e.GET("/login", handler.HandleLoginPage)
		e.POST("/login", handler.HandleLogin)
		e.GET("/logout", handler.HandleLogout)
	}

	g := e.Group("", handler.auth.Middleware())

	g.GET("/", handler.HandleClient)
	g.GET("/gallery", handler.HandleGallery)
	g.POST("/posts", handler.HandleCreatePost)
	g.GET("/posts", handler.HandleListPosts)
	g.GET("/images/:name", handler.HandleImage)
	g.GET("/database_clear", handler.HandleClear)
	g.GET("/database_show", handler.HandleShow)
	g.GET("/ws", handler.HandleWebSocket)

	return e
}

// RequestLogger returns an echo middleware that logs requests using slog.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()

			slog.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
				"bytes_out", res.Size,
			)

			return nil
		}
	}
}
