package generate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/netmaker/internal/config"
	"github.com/zulandar/netmaker/internal/content"
	"github.com/zulandar/netmaker/internal/db"
	"gorm.io/gorm"
)

// pipelineScript emulates the prompt/image program. The prompt step echoes
// the genre into the title; the image step copies stdin into the file.
const pipelineScript = `#!/bin/sh
case "$1" in
prompt)
  printf '{"Description":"A lone tower","Title":"%s","Tags":["tower","night"],"SeriesName":"Towers","FileName":"tower"}' "$2"
  ;;
image)
  cat > "$2"
  ;;
*)
  echo "unknown step $1" >&2
  exit 2
  ;;
esac
`

func writeScript(t *testing.T, body string) []string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return []string{"/bin/sh", path}
}

func newGenerator(t *testing.T, script string) (*CommandGenerator, string) {
	t.Helper()
	base := filepath.Join(t.TempDir(), "images")
	g, err := NewCommandGenerator(CommandOpts{
		Command:  writeScript(t, script),
		BasePath: base,
		Timeout:  10 * time.Second,
		Rand:     rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)
	return g, base
}

func TestCommandGenerator_Generate(t *testing.T) {
	g, base := newGenerator(t, pipelineScript)

	d, err := g.Generate(context.Background(), "Gothic Manor")
	require.NoError(t, err)
	require.NotNil(t, d)

	assert.Equal(t, "A lone tower", d.Description)
	assert.Equal(t, "Gothic Manor", d.Title)
	assert.Equal(t, []string{"tower", "night"}, d.Tags)
	assert.Equal(t, "Towers", d.SeriesName)

	assert.Equal(t, base, filepath.Dir(d.FilePath))
	name := filepath.Base(d.FilePath)
	assert.True(t, strings.HasPrefix(name, "tower_"), "name %q", name)
	assert.Equal(t, ".jpg", filepath.Ext(name))

	data, err := os.ReadFile(d.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "A lone tower", string(data))
}

func TestCommandGenerator_FileNameStaysUnderBasePath(t *testing.T) {
	for _, name := range []string{"../../escape", "/etc/cron.d/x", "sub/dir/pic.png", ".."} {
		t.Run(name, func(t *testing.T) {
			g, base := newGenerator(t, `#!/bin/sh
case "$1" in
prompt) printf '{"Description":"d","FileName":"`+name+`"}' ;;
image) cat > "$2" ;;
esac
`)
			d, err := g.Generate(context.Background(), "Still Life")
			require.NoError(t, err)
			require.NotNil(t, d)
			assert.Equal(t, base, filepath.Dir(d.FilePath))
			assert.FileExists(t, d.FilePath)
		})
	}
}

func TestCommandGenerator_EmptyDescriptionSkips(t *testing.T) {
	g, _ := newGenerator(t, `#!/bin/sh
[ "$1" = prompt ] && echo '{"Description":"","Title":"x"}'
`)
	d, err := g.Generate(context.Background(), "Still Life")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestCommandGenerator_UnparseablePromptSkips(t *testing.T) {
	g, _ := newGenerator(t, `#!/bin/sh
echo 'Sure! Here is your prompt:'
`)
	d, err := g.Generate(context.Background(), "Still Life")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestCommandGenerator_StepFailure(t *testing.T) {
	g, _ := newGenerator(t, `#!/bin/sh
echo "model not loaded" >&2
exit 1
`)
	_, err := g.Generate(context.Background(), "Fine Art")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt step")
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestCommandGenerator_ImageNotWritten(t *testing.T) {
	g, _ := newGenerator(t, `#!/bin/sh
[ "$1" = prompt ] && echo '{"Description":"d","FileName":"a.png"}'
exit 0
`)
	_, err := g.Generate(context.Background(), "Fine Art")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not write")
}

func TestCommandGenerator_Timeout(t *testing.T) {
	base := t.TempDir()
	g, err := NewCommandGenerator(CommandOpts{
		Command:  writeScript(t, "#!/bin/sh\nexec sleep 5\n"),
		BasePath: base,
		Timeout:  100 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = g.Generate(context.Background(), "Fine Art")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestNewCommandGenerator_RequiresCommand(t *testing.T) {
	_, err := NewCommandGenerator(CommandOpts{})
	assert.Error(t, err)
}

func TestWithImageExt(t *testing.T) {
	tests := map[string]string{
		"tower":      "tower.jpg",
		"tower.png":  "tower.png",
		"tower.JPEG": "tower.JPEG",
		"tower.gif":  "tower.gif.jpg",
	}
	for in, want := range tests {
		assert.Equal(t, want, withImageExt(in), "withImageExt(%q)", in)
	}
}

func TestUniquePath_RedrawsUntilFree(t *testing.T) {
	taken := map[string]bool{}
	calls := 0
	exists := func(p string) bool {
		calls++
		if calls <= 3 {
			taken[p] = true
			return true
		}
		return false
	}
	got := UniquePath("/img/a.jpg", rand.New(rand.NewSource(5)), exists)
	assert.Equal(t, 4, calls)
	assert.False(t, taken[got])
	assert.Regexp(t, `^/img/a_\d{1,4}\.jpg$`, got)
}

func TestRandomGenre(t *testing.T) {
	r := rand.New(rand.NewSource(9))
	for i := 0; i < 100; i++ {
		assert.Contains(t, Genres, RandomGenre(r))
	}
	assert.Len(t, Genres, 40)
}

func TestTagList_AcceptsString(t *testing.T) {
	var tl tagList
	require.NoError(t, tl.UnmarshalJSON([]byte(`"sea, sky ,  , sun"`)))
	assert.Equal(t, tagList{"sea", "sky", "sun"}, tl)
	assert.Error(t, tl.UnmarshalJSON([]byte(`42`)))
}

// --- Loop ---

type stubGenerator struct {
	d       *Descriptor
	err     error
	block   chan struct{}
	started chan string
}

func (s *stubGenerator) Generate(ctx context.Context, tip string) (*Descriptor, error) {
	if s.started != nil {
		s.started <- tip
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.d, s.err
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Open(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	t.Cleanup(func() { db.Close(gdb) })
	return gdb
}

func newLoop(t *testing.T, gdb *gorm.DB, gen Generator) *Loop {
	t.Helper()
	l, err := NewLoop(LoopOpts{
		DB:          gdb,
		Generator:   gen,
		CreatorName: "pastel.network",
		Rand:        rand.New(rand.NewSource(1)),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return l
}

func TestLoop_RunOnceAddsContent(t *testing.T) {
	gdb := openTestDB(t)
	l := newLoop(t, gdb, &stubGenerator{d: &Descriptor{
		Description: "A lone tower",
		Title:       "Tower",
		Tags:        []string{"tower", "night"},
		SeriesName:  "Towers",
		FilePath:    "images/tower_12.jpg",
	}})

	item, err := l.RunOnce(context.Background(), "Gothic Manor")
	require.NoError(t, err)
	assert.Equal(t, "tower, night", item.Keywords)
	assert.Equal(t, "Tower", item.DisplayName)
	assert.Equal(t, "pastel.network", item.CreatorName)
	assert.Nil(t, item.CascadeTicketID)

	n, err := content.Count(gdb)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestLoop_RunOnceNothingGenerated(t *testing.T) {
	gdb := openTestDB(t)
	l := newLoop(t, gdb, &stubGenerator{})

	_, err := l.RunOnce(context.Background(), "Fine Art")
	assert.ErrorIs(t, err, ErrNothingGenerated)

	l = newLoop(t, gdb, &stubGenerator{err: errors.New("gpu on fire")})
	_, err = l.RunOnce(context.Background(), "Fine Art")
	assert.EqualError(t, err, "gpu on fire")

	n, err := content.Count(gdb)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoop_SingleWorker(t *testing.T) {
	gdb := openTestDB(t)
	gen := &stubGenerator{
		d:       &Descriptor{Description: "d", FilePath: "f.jpg"},
		block:   make(chan struct{}),
		started: make(chan string, 2),
	}
	l := newLoop(t, gdb, gen)
	ctx := context.Background()

	require.True(t, l.Start(ctx))
	select {
	case tip := <-gen.started:
		assert.Contains(t, Genres, tip)
	case <-time.After(2 * time.Second):
		t.Fatal("generation did not start")
	}
	assert.False(t, l.Start(ctx), "second start while busy")

	close(gen.block)
	l.Wait()

	n, err := content.Count(gdb)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.True(t, l.Start(ctx), "slot is free again")
	l.Wait()
}

func TestLoop_CancelAbandonsGeneration(t *testing.T) {
	gdb := openTestDB(t)
	gen := &stubGenerator{
		d:       &Descriptor{Description: "d", FilePath: "f.jpg"},
		block:   make(chan struct{}),
		started: make(chan string, 1),
	}
	l := newLoop(t, gdb, gen)

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, l.Start(ctx))
	<-gen.started
	cancel()
	l.Wait()

	n, err := content.Count(gdb)
	require.NoError(t, err)
	assert.Zero(t, n)
}
