// Package gallery drives what connected viewers see: a periodic random
// frame of stored photos, and the image references that go into it.
package gallery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"slideshow/internal/models"
)

// FrameSize is how many photos a periodic frame shows.
const FrameSize = 4

// State is where the updater is in its cycle
type State int32

const (
	StateIdle State = iota
	StateSampling
	StateResolving
	StateBroadcasting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSampling:
		return "sampling"
	case StateResolving:
		return "resolving"
	case StateBroadcasting:
		return "broadcasting"
	default:
		return "unknown"
	}
}

// Sampler draws distinct random posts.
type Sampler interface {
	SampleRandom(ctx context.Context, n int) ([]models.Post, error)
}

// Broadcaster fans an event out to every connected viewer.
type Broadcaster interface {
	Broadcast(event string, payload interface{}) error
}

// Updater periodically pushes a random gallery frame to all viewers.
type Updater struct {
	sampler      Sampler
	materializer Materializer
	channel      Broadcaster
	event        string
	interval     time.Duration
	state        atomic.Int32
	done         chan struct{}
	startOnce    sync.Once
}

// NewUpdater creates an updater that broadcasts under event every interval.
func NewUpdater(sampler Sampler, materializer Materializer, channel Broadcaster, event string, interval time.Duration) *Updater {
	return &Updater{
		sampler:      sampler,
		materializer: materializer,
		channel:      channel,
		event:        event,
		interval:     interval,
		done:         make(chan struct{}),
	}
}

// Start runs the update loop in a background goroutine until ctx is cancelled.
// The first frame goes out one interval after Start. Later calls do nothing.
func (u *Updater) Start(ctx context.Context) {
	u.startOnce.Do(func() { u.run(ctx) })
}

func (u *Updater) run(ctx context.Context) {
	slog.Info("gallery updater started", "interval", u.interval)

	go func() {
		defer close(u.done)

		ticker := time.NewTicker(u.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := u.RunCycle(ctx); err != nil {
					if errors.Is(err, context.Canceled) {
						continue
					}
					slog.Error("gallery update failed", "error", err)
				}
			case <-ctx.Done():
				slog.Info("gallery updater stopping")
				return
			}
		}
	}()
}

// Wait blocks until the update loop has exited.
func (u *Updater) Wait() {
	<-u.done
}

// State reports the current phase of the loop.
func (u *Updater) State() State {
	return State(u.state.Load())
}

// RunCycle samples, resolves and broadcasts one frame. Posts whose image
// cannot be resolved are skipped, so the frame may have fewer slots.
func (u *Updater) RunCycle(ctx context.Context) (models.GalleryFrame, error) {
	defer u.state.Store(int32(StateIdle))

	u.state.Store(int32(StateSampling))
	posts, err := u.sampler.SampleRandom(ctx, FrameSize)
	if err != nil {
		return nil, err
	}

	u.state.Store(int32(StateResolving))
	frame := BuildFrame(posts, u.materializer)

	u.state.Store(int32(StateBroadcasting))
	if err := u.channel.Broadcast(u.event, frame); err != nil {
		return nil, err
	}

	slog.Info("updated gallery", "sampled", len(posts), "slots", len(frame))
	return frame, nil
}

// BuildFrame resolves posts in order and assigns them to the frame slots.
func BuildFrame(posts []models.Post, materializer Materializer) models.GalleryFrame {
	frame := make(models.GalleryFrame, len(posts))
	slot := 0
	for _, p := range posts {
		if slot == len(models.SlotLabels) {
			break
		}
		ref, err := materializer.Resolve(p.Name)
		if err != nil {
			slog.Warn("skipping gallery image", "post_id", p.ID, "name", p.Name, "error", err)
			continue
		}
		frame[models.SlotLabels[slot]] = ref
		slot++
	}
	return frame
}
