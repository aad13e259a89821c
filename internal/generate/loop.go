package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/zulandar/netmaker/internal/content"
	"github.com/zulandar/netmaker/internal/models"
	"github.com/zulandar/netmaker/internal/schedule"
	"gorm.io/gorm"
)

// ErrNothingGenerated is returned when the generator produced no usable
// artifact.
var ErrNothingGenerated = errors.New("generate: nothing generated")

// LoopOpts holds parameters for creating a Loop.
type LoopOpts struct {
	DB          *gorm.DB
	Generator   Generator
	CreatorName string
	Rand        *rand.Rand
	Logger      *slog.Logger
}

// Loop turns generated artifacts into content items. At most one
// generation runs at a time; ticks that find it busy are skipped.
type Loop struct {
	db      *gorm.DB
	gen     Generator
	creator string
	rng     *rand.Rand
	log     *slog.Logger

	slot chan struct{}
	wg   sync.WaitGroup
}

// NewLoop creates a Loop.
func NewLoop(opts LoopOpts) (*Loop, error) {
	if opts.DB == nil || opts.Generator == nil {
		return nil, fmt.Errorf("generate: db and generator are required")
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		db:      opts.DB,
		gen:     opts.Generator,
		creator: opts.CreatorName,
		rng:     rng,
		log:     logger.With("loop", "generate"),
		slot:    make(chan struct{}, 1),
	}, nil
}

// Run starts a background generation on every tick unless one is still in
// flight. On cancellation it waits for the worker to exit; the generation
// itself is abandoned.
func (l *Loop) Run(ctx context.Context, sched schedule.Schedule) {
	l.log.Info("starting", "schedule", sched.String())
	schedule.Every(ctx, sched, func(ctx context.Context) {
		if !l.Start(ctx) {
			l.log.Debug("generation still running, skipping tick")
		}
	})
	l.wg.Wait()
	l.log.Info("stopped")
}

// Start launches one generation in the background and reports whether the
// worker slot was free.
func (l *Loop) Start(ctx context.Context) bool {
	select {
	case l.slot <- struct{}{}:
	default:
		return false
	}
	tip := RandomGenre(l.rng)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() { <-l.slot }()
		l.runOnce(ctx, tip)
	}()
	return true
}

// Wait blocks until the in-flight generation, if any, has finished.
func (l *Loop) Wait() {
	l.wg.Wait()
}

func (l *Loop) runOnce(ctx context.Context, tip string) {
	item, err := l.RunOnce(ctx, tip)
	switch {
	case err == nil:
		l.log.Info("content added", "content", item.ID, "file", item.FilePath, "genre", tip)
	case errors.Is(err, ErrNothingGenerated):
		l.log.Info("generation produced nothing, waiting for next iteration", "genre", tip)
	case ctx.Err() != nil:
		l.log.Info("generation abandoned", "genre", tip)
	default:
		l.log.Error("generation failed", "genre", tip, "err", err)
	}
}

// RunOnce generates one artifact synchronously and records it.
func (l *Loop) RunOnce(ctx context.Context, tip string) (*models.ContentItem, error) {
	d, err := l.gen.Generate(ctx, tip)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrNothingGenerated
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return content.Add(l.db, content.AddOpts{
		Description: d.Description,
		DisplayName: d.Title,
		CreatorName: l.creator,
		FilePath:    d.FilePath,
		Keywords:    d.Tags,
		SeriesName:  d.SeriesName,
	})
}
