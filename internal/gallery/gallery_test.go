package gallery

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"slideshow/internal/models"
	"slideshow/internal/storage"
)

type fakeSampler struct {
	posts []models.Post
	err   error
}

func (f *fakeSampler) SampleRandom(_ context.Context, n int) ([]models.Post, error) {
	if f.err != nil {
		return nil, f.err
	}
	if n > len(f.posts) {
		n = len(f.posts)
	}
	return f.posts[:n], nil
}

type broadcast struct {
	event   string
	payload interface{}
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []broadcast
}

func (f *fakeChannel) Broadcast(event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, broadcast{event, payload})
	return nil
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// imageDir creates a store holding one file per post.
func imageDir(t *testing.T, posts []models.Post) *storage.ImageStore {
	t.Helper()
	dir := t.TempDir()
	for _, p := range posts {
		if err := os.WriteFile(filepath.Join(dir, p.Name), []byte("img-"+p.Name), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return storage.NewImageStore(dir)
}

func makePosts(n int) []models.Post {
	posts := make([]models.Post, n)
	for i := range posts {
		posts[i] = models.Post{ID: int64(i + 1), Name: fmt.Sprintf("p%d.jpg", i+1)}
	}
	return posts
}

func TestRunCycle(t *testing.T) {
	t.Run("full frame uses all four slots in order", func(t *testing.T) {
		posts := makePosts(4)
		m, _ := NewMaterializer(ModeURL, imageDir(t, posts), "http://host:8000/")
		ch := &fakeChannel{}
		u := NewUpdater(&fakeSampler{posts: posts}, m, ch, "gallery update", time.Hour)

		frame, err := u.RunCycle(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for i, label := range models.SlotLabels {
			want := fmt.Sprintf("http://host:8000/images/p%d.jpg", i+1)
			if frame[label].Src != want {
				t.Errorf("slot %s: expected %s, got %s", label, want, frame[label].Src)
			}
		}
		if ch.count() != 1 || ch.sent[0].event != "gallery update" {
			t.Errorf("expected one gallery update broadcast, got %+v", ch.sent)
		}
		if u.State() != StateIdle {
			t.Errorf("expected idle after cycle, got %s", u.State())
		}
	})

	t.Run("two posts give a two slot frame", func(t *testing.T) {
		posts := makePosts(2)
		m, _ := NewMaterializer(ModeURL, imageDir(t, posts), "")
		ch := &fakeChannel{}
		u := NewUpdater(&fakeSampler{posts: posts}, m, ch, "gallery update", time.Hour)

		frame, err := u.RunCycle(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(frame) != 2 {
			t.Fatalf("expected 2 slots, got %d", len(frame))
		}
		if _, ok := frame[models.SlotTopLeft]; !ok {
			t.Error("expected top-left slot")
		}
		if _, ok := frame[models.SlotBottomLeft]; !ok {
			t.Error("expected bottom-left slot")
		}
		sent := ch.sent[0].payload.(models.GalleryFrame)
		if len(sent) != 2 {
			t.Errorf("broadcast frame has %d slots", len(sent))
		}
	})

	t.Run("missing images are skipped", func(t *testing.T) {
		posts := makePosts(4)
		images := imageDir(t, posts[:3])
		m, _ := NewMaterializer(ModeURL, images, "")
		ch := &fakeChannel{}
		u := NewUpdater(&fakeSampler{posts: []models.Post{posts[3], posts[0], posts[1], posts[2]}}, m, ch, "g", time.Hour)

		frame, err := u.RunCycle(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(frame) != 3 {
			t.Fatalf("expected 3 slots, got %d", len(frame))
		}
		if frame[models.SlotTopLeft].Src != "/images/p1.jpg" {
			t.Errorf("expected first resolved post in top-left, got %s", frame[models.SlotTopLeft].Src)
		}
	})

	t.Run("empty store broadcasts empty frame", func(t *testing.T) {
		m, _ := NewMaterializer(ModeURL, imageDir(t, nil), "")
		ch := &fakeChannel{}
		u := NewUpdater(&fakeSampler{}, m, ch, "g", time.Hour)

		frame, err := u.RunCycle(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(frame) != 0 || ch.count() != 1 {
			t.Errorf("expected one empty frame, got %v (%d broadcasts)", frame, ch.count())
		}
	})

	t.Run("store error skips the broadcast", func(t *testing.T) {
		m, _ := NewMaterializer(ModeURL, imageDir(t, nil), "")
		ch := &fakeChannel{}
		storeErr := &models.StoreError{Op: "sample", Err: errors.New("disk gone")}
		u := NewUpdater(&fakeSampler{err: storeErr}, m, ch, "g", time.Hour)

		_, err := u.RunCycle(context.Background())
		if !errors.As(err, new(*models.StoreError)) {
			t.Errorf("expected StoreError, got %v", err)
		}
		if ch.count() != 0 {
			t.Errorf("expected no broadcast, got %d", ch.count())
		}
	})
}

func TestUpdater_StartStop(t *testing.T) {
	t.Run("broadcasts every interval until cancelled", func(t *testing.T) {
		posts := makePosts(1)
		m, _ := NewMaterializer(ModeURL, imageDir(t, posts), "")
		ch := &fakeChannel{}
		u := NewUpdater(&fakeSampler{posts: posts}, m, ch, "g", 10*time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		u.Start(ctx)

		deadline := time.Now().Add(2 * time.Second)
		for ch.count() < 3 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
		u.Wait()

		if ch.count() < 3 {
			t.Errorf("expected at least 3 broadcasts, got %d", ch.count())
		}
	})

	t.Run("keeps running after failed cycles", func(t *testing.T) {
		m, _ := NewMaterializer(ModeURL, imageDir(t, nil), "")
		sampler := &flakySampler{}
		ch := &fakeChannel{}
		u := NewUpdater(sampler, m, ch, "g", 10*time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		u.Start(ctx)

		deadline := time.Now().Add(2 * time.Second)
		for ch.count() < 2 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
		u.Wait()

		if ch.count() < 2 {
			t.Errorf("expected loop to survive failures, got %d broadcasts", ch.count())
		}
	})
}

func TestUpdater_StartTwice(t *testing.T) {
	m, _ := NewMaterializer(ModeURL, imageDir(t, nil), "")
	ch := &fakeChannel{}
	u := NewUpdater(&fakeSampler{}, m, ch, "g", 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	u.Start(ctx)
	u.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for ch.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	u.Wait()

	// a second loop would have panicked closing done on exit
	time.Sleep(30 * time.Millisecond)
	if ch.count() < 2 {
		t.Errorf("expected the single loop to keep broadcasting, got %d", ch.count())
	}
}

// flakySampler fails every other call.
type flakySampler struct {
	mu    sync.Mutex
	calls int
}

func (f *flakySampler) SampleRandom(context.Context, int) ([]models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls%2 == 1 {
		return nil, errors.New("locked")
	}
	return nil, nil
}

func TestMaterializers(t *testing.T) {
	posts := []models.Post{{Name: "2024-01-01T10_00_00.jpg"}}
	images := imageDir(t, posts)

	t.Run("url", func(t *testing.T) {
		m, err := NewMaterializer(ModeURL, images, "http://example.com")
		if err != nil {
			t.Fatal(err)
		}
		ref, err := m.Resolve("2024-01-01T10_00_00.jpg")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ref.Src != "http://example.com/images/2024-01-01T10_00_00.jpg" {
			t.Errorf("unexpected src %s", ref.Src)
		}
		if ref.ContentType != "image/jpeg" {
			t.Errorf("unexpected content type %s", ref.ContentType)
		}
		if ref.Data != nil {
			t.Error("url mode should not carry bytes")
		}
	})

	t.Run("url without public address is relative", func(t *testing.T) {
		m, _ := NewMaterializer(ModeURL, images, "")
		ref, err := m.Resolve("2024-01-01T10_00_00.jpg")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ref.Src != "/images/2024-01-01T10_00_00.jpg" {
			t.Errorf("expected relative src, got %s", ref.Src)
		}
	})

	t.Run("inline", func(t *testing.T) {
		m, _ := NewMaterializer(ModeInline, images, "")
		ref, err := m.Resolve("2024-01-01T10_00_00.jpg")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		prefix := "data:image/jpeg;base64,"
		if !strings.HasPrefix(ref.Src, prefix) {
			t.Fatalf("expected data uri, got %s", ref.Src)
		}
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ref.Src, prefix))
		if err != nil || string(decoded) != "img-2024-01-01T10_00_00.jpg" {
			t.Errorf("unexpected inline payload %q (%v)", decoded, err)
		}
	})

	t.Run("binary", func(t *testing.T) {
		m, _ := NewMaterializer(ModeBinary, images, "")
		ref, err := m.Resolve("2024-01-01T10_00_00.jpg")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(ref.Data) != "img-2024-01-01T10_00_00.jpg" || ref.Src != "" {
			t.Errorf("unexpected ref %+v", ref)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		for _, mode := range []string{ModeURL, ModeInline, ModeBinary} {
			m, _ := NewMaterializer(mode, images, "")
			if _, err := m.Resolve("gone.jpg"); !errors.Is(err, models.ErrImageNotFound) {
				t.Errorf("%s: expected ErrImageNotFound, got %v", mode, err)
			}
		}
	})

	t.Run("unknown mode", func(t *testing.T) {
		if _, err := NewMaterializer("carrier-pigeon", images, ""); err == nil {
			t.Error("expected error for unknown mode")
		}
	})
}
