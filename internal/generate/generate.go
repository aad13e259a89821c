// Package generate produces new content items by driving an external
// prompt and image pipeline.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// Descriptor describes one generated artifact.
type Descriptor struct {
	Description string
	Title       string
	Tags        []string
	SeriesName  string
	FilePath    string
}

// Generator produces one artifact for a genre tip. A nil descriptor with a
// nil error means nothing usable was produced and the iteration is skipped.
type Generator interface {
	Generate(ctx context.Context, tip string) (*Descriptor, error)
}

// Genres are the tips handed to the prompt step.
var Genres = []string{
	"Space Opera",
	"Fantasy World",
	"Magic Realm",
	"Dystopian Future",
	"Post-apocalyptic Landscape",
	"Alien Invasion",
	"Fairy Tale Kingdom",
	"Medieval Setting",
	"Steampunk Metropolis",
	"Science Fiction Cityscape",
	"Pirate Seascape",
	"Astrological Imagery",
	"Cryptid Forest",
	"Mystical Island",
	"Cosmic Landscape",
	"Dreamlike Environment",
	"Cybernetic Reality",
	"Supernatural Phenomena",
	"Epic Adventure",
	"Gothic Manor",
	"Abstract Art",
	"Still Life",
	"Portrait Photography",
	"Wildlife Photography",
	"Black and White",
	"Cityscape Images",
	"Fashion Photography",
	"Landscape Images",
	"Street Photography",
	"Documentary Photography",
	"Conceptual Art",
	"Fine Art",
	"Sports Photography",
	"Travel Photography",
	"Event Photography",
	"Food Photography",
	"Architectural Photography",
	"Underwater Photography",
	"Macro Photography",
	"Wedding Photography",
}

// RandomGenre picks a genre tip.
func RandomGenre(r *rand.Rand) string {
	return Genres[r.Intn(len(Genres))]
}

// prompt is the JSON document printed by the prompt step.
type prompt struct {
	Description string  `json:"Description"`
	Title       string  `json:"Title"`
	Tags        tagList `json:"Tags"`
	SeriesName  string  `json:"SeriesName"`
	FileName    string  `json:"FileName"`
}

// tagList accepts either a JSON array of strings or one comma-separated
// string.
type tagList []string

func (t *tagList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*t = list
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("tags: want array or string: %w", err)
	}
	*t = nil
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			*t = append(*t, p)
		}
	}
	return nil
}

// CommandOpts holds parameters for creating a CommandGenerator.
type CommandOpts struct {
	Command  []string // program and leading arguments
	BasePath string   // directory receiving generated files
	Timeout  time.Duration
	Rand     *rand.Rand
}

// CommandGenerator runs an external program in two steps:
//
//	<command> prompt <genre>      prints a prompt JSON document on stdout
//	<command> image <output path> reads the description on stdin and writes the image
type CommandGenerator struct {
	command  []string
	basePath string
	timeout  time.Duration
	rng      *rand.Rand
	exists   func(string) bool
}

// NewCommandGenerator creates a CommandGenerator.
func NewCommandGenerator(opts CommandOpts) (*CommandGenerator, error) {
	if len(opts.Command) == 0 || opts.Command[0] == "" {
		return nil, fmt.Errorf("generate: command is required")
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &CommandGenerator{
		command:  opts.Command,
		basePath: opts.BasePath,
		timeout:  opts.Timeout,
		rng:      rng,
		exists:   fileExists,
	}, nil
}

// Generate runs the prompt step and, if it produced a description, the
// image step.
func (g *CommandGenerator) Generate(ctx context.Context, tip string) (*Descriptor, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	out, err := g.run(ctx, nil, "prompt", tip)
	if err != nil {
		return nil, err
	}
	var p prompt
	if err := json.Unmarshal(bytes.TrimSpace(out), &p); err != nil {
		return nil, nil
	}
	if strings.TrimSpace(p.Description) == "" {
		return nil, nil
	}

	// The model names the file; only its last element is used so the image
	// always lands directly under the base path.
	fileName := filepath.Base(strings.TrimSpace(p.FileName))
	switch fileName {
	case ".", "..", string(filepath.Separator):
		fileName = ""
	}
	if fileName == "" {
		fileName = fmt.Sprintf("%d.jpg", 100000+g.rng.Intn(900000))
	}
	path := UniquePath(filepath.Join(g.basePath, withImageExt(fileName)), g.rng, g.exists)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("generate: create %s: %w", filepath.Dir(path), err)
	}
	if _, err := g.run(ctx, []byte(p.Description), "image", path); err != nil {
		return nil, err
	}
	if !g.exists(path) {
		return nil, fmt.Errorf("generate: image step did not write %s", path)
	}

	title := p.Title
	if title == "" {
		title = filepath.Base(path)
	}
	return &Descriptor{
		Description: p.Description,
		Title:       title,
		Tags:        p.Tags,
		SeriesName:  p.SeriesName,
		FilePath:    path,
	}, nil
}

func (g *CommandGenerator) run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	argv := append(append([]string{}, g.command[1:]...), args...)
	cmd := exec.CommandContext(ctx, g.command[0], argv...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 10 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return nil, fmt.Errorf("generate: %s step: %w: %s", args[0], err, msg)
	}
	return stdout.Bytes(), nil
}

// withImageExt appends ".jpg" unless name already has an image extension.
func withImageExt(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return name
	default:
		return name + ".jpg"
	}
}

// UniquePath inserts a random "_N" suffix (N in 0..9999) before the
// extension, drawing again until exists reports the path free.
func UniquePath(path string, r *rand.Rand, exists func(string) bool) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for {
		candidate := fmt.Sprintf("%s_%d%s", base, r.Intn(10000), ext)
		if !exists(candidate) {
			return candidate
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
