package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"slideshow/internal/auth"
	"slideshow/internal/gallery"
	"slideshow/internal/models"
	"slideshow/internal/upload"
	ws "slideshow/internal/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// PostStore is what the HTTP layer reads from and clears in the post store.
type PostStore interface {
	ListPosts(ctx context.Context) ([]models.Post, error)
	SampleRandom(ctx context.Context, n int) ([]models.Post, error)
	MaxID(ctx context.Context) (int64, bool, error)
	ClearAll(ctx context.Context) (int64, error)
}

// ImageFiles locates stored images.
type ImageFiles interface {
	Stat(name string) (string, error)
	ReadFile(name string) ([]byte, error)
}

// Handler contains the HTTP handlers of the gallery.
type Handler struct {
	posts    PostStore
	images   ImageFiles
	uploads  *upload.Service
	hub      *ws.Hub
	auth     *auth.Authenticator
	sessions sessions.Store
	pageRefs gallery.Materializer
}

// NewHandler creates the HTTP handlers. Pages always link images by URL,
// whatever the broadcast image mode is.
func NewHandler(posts PostStore, images ImageFiles, uploads *upload.Service, hub *ws.Hub, authenticator *auth.Authenticator, store sessions.Store) *Handler {
	pageRefs, _ := gallery.NewMaterializer(gallery.ModeURL, images, "")
	return &Handler{
		posts:    posts,
		images:   images,
		uploads:  uploads,
		hub:      hub,
		auth:     authenticator,
		sessions: store,
		pageRefs: pageRefs,
	}
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"status":  "ok",
		"viewers": h.hub.Count(),
	})
}

// HandleClient handles GET /, the upload form.
func (h *Handler) HandleClient(c echo.Context) error {
	return c.Render(http.StatusOK, "client.html", echo.Map{
		"Flashes": h.popFlashes(c),
	})
}

// HandleGallery handles GET /gallery. It renders an initial random frame,
// later frames arrive over the websocket.
func (h *Handler) HandleGallery(c echo.Context) error {
	posts, err := h.posts.SampleRandom(c.Request().Context(), gallery.FrameSize+1)
	if err != nil {
		slog.Error("failed to sample gallery", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load gallery")
	}

	var feature models.ImageRef
	var comment string
	if len(posts) > gallery.FrameSize {
		featured := posts[gallery.FrameSize]
		if ref, err := h.pageRefs.Resolve(featured.Name); err == nil {
			feature, comment = ref, featured.Comment
		}
	}

	data := echo.Map{
		"Labels":  models.SlotLabels,
		"Frame":   gallery.BuildFrame(posts[:min(len(posts), gallery.FrameSize)], h.pageRefs),
		"Feature": feature,
		"Comment": comment,
	}
	return c.Render(http.StatusOK, "gallery.html", data)
}

// HandleCreatePost handles POST /posts.
// Accepts a multipart form with an "image" file and a "comment" field.
func (h *Handler) HandleCreatePost(c echo.Context) error {
	var in upload.Input

	fileHeader, err := c.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		return h.respondUpload(c, nil, &models.ValidationError{Field: "image", Reason: "unreadable upload: " + err.Error()})
	default:
		src, err := fileHeader.Open()
		if err != nil {
			return h.respondUpload(c, nil, fmt.Errorf("failed to read uploaded file: %w", err))
		}
		defer src.Close()
		in.Image = src
		in.Filename = fileHeader.Filename
	}

	if params, err := c.FormParams(); err == nil {
		if vals, ok := params["comment"]; ok && len(vals) > 0 {
			in.Comment = &vals[0]
		}
	}

	post, err := h.uploads.Upload(c.Request().Context(), in)
	return h.respondUpload(c, post, err)
}

func (h *Handler) respondUpload(c echo.Context, post *models.Post, err error) error {
	var verr *models.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &verr):
		slog.Info("rejected upload", "field", verr.Field, "reason", verr.Reason)
	default:
		slog.Error("upload failed", "error", err)
	}

	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON) {
		if err != nil {
			return c.JSON(uploadStatus(err), echo.Map{"error": upload.Message(err)})
		}
		return c.JSON(http.StatusCreated, post)
	}

	h.addFlash(c, upload.Message(err))
	return c.Redirect(http.StatusSeeOther, "/")
}

func uploadStatus(err error) int {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrDuplicateName):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// HandleListPosts handles GET /posts.
func (h *Handler) HandleListPosts(c echo.Context) error {
	posts, err := h.posts.ListPosts(c.Request().Context())
	if err != nil {
		slog.Error("failed to list posts", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list posts"})
	}
	return c.JSON(http.StatusOK, echo.Map{"posts": posts})
}

// HandleImage handles GET /images/:name.
func (h *Handler) HandleImage(c echo.Context) error {
	path, err := h.images.Stat(c.Param("name"))
	if err != nil {
		if errors.Is(err, models.ErrImageNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "image not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid image name")
	}
	return c.File(path)
}

// HandleClear handles GET /database_clear.
func (h *Handler) HandleClear(c echo.Context) error {
	ctx := c.Request().Context()
	success := true
	var msg string

	if _, ok, err := h.posts.MaxID(ctx); err != nil {
		slog.Error("failed to read max id", "error", err)
		success, msg = false, err.Error()
	} else if !ok {
		msg = "DB was already empty, did nothing."
	} else if n, err := h.posts.ClearAll(ctx); err != nil {
		slog.Error("failed to clear posts", "error", err)
		success, msg = false, err.Error()
	} else {
		slog.Info("cleared posts", "rows", n)
		msg = fmt.Sprintf("Deleted %d rows. DB is now empty.", n)
	}

	status := http.StatusOK
	if !success {
		status = http.StatusInternalServerError
	}
	return c.Render(status, "message.html", echo.Map{
		"Title":   "Clear database",
		"Success": success,
		"Message": msg,
	})
}

// HandleShow handles GET /database_show.
func (h *Handler) HandleShow(c echo.Context) error {
	posts, err := h.posts.ListPosts(c.Request().Context())
	if err != nil {
		slog.Error("failed to list posts", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list posts")
	}
	return c.Render(http.StatusOK, "dump.html", posts)
}

// HandleWebSocket handles GET /ws. The connection stays in the hub until
// the viewer goes away.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return nil
	}
	h.hub.Join(conn).Serve()
	return nil
}

// HandleLoginPage handles GET /login.
func (h *Handler) HandleLoginPage(c echo.Context) error {
	return c.Render(http.StatusOK, "login.html", echo.Map{})
}

// HandleLogin handles POST /login.
func (h *Handler) HandleLogin(c echo.Context) error {
	ok, err := h.auth.Login(c, c.FormValue("password"))
	if err != nil {
		slog.Error("login failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}
	if !ok {
		return c.Render(http.StatusUnauthorized, "login.html", echo.Map{"Error": "Wrong password"})
	}
	return c.Redirect(http.StatusSeeOther, "/")
}

// HandleLogout handles GET /logout.
func (h *Handler) HandleLogout(c echo.Context) error {
	if err := h.auth.Logout(c); err != nil {
		slog.Warn("failed to clear session", "error", err)
	}
	return c.Redirect(http.StatusSeeOther, "/login")
}

func (h *Handler) addFlash(c echo.Context, msg string) {
	session, _ := h.sessions.Get(c.Request(), auth.SessionName)
	session.AddFlash(msg)
	if err := session.Save(c.Request(), c.Response()); err != nil {
		slog.Warn("failed to save flash", "error", err)
	}
}

func (h *Handler) popFlashes(c echo.Context) []string {
	session, _ := h.sessions.Get(c.Request(), auth.SessionName)
	flashes := session.Flashes()
	if len(flashes) == 0 {
		return nil
	}
	if err := session.Save(c.Request(), c.Response()); err != nil {
		slog.Warn("failed to save session", "error", err)
	}

	msgs := make([]string, 0, len(flashes))
	for _, f := range flashes {
		if s, ok := f.(string); ok {
			msgs = append(msgs, s)
		}
	}
	return msgs
}
