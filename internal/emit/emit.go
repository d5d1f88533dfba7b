// Package emit is the code-emission boundary: a Backend turns a fitted
// TargetIR into an Artifact. Backends that emit per node can have their
// fragments reused through the build cache.
package emit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/transform"
)

// Symbol is one symbol table entry.
type Symbol struct {
	Name    string `json:"name"`
	Section string `json:"section"`
	Offset  int64  `json:"offset"`
	Size    int64  `json:"size"`
}

// Artifact is an emitted image. Size counts loadable bytes only.
type Artifact struct {
	Binary   []byte           `json:"-"`
	Size     int64            `json:"size"`
	Sections []ir.SectionSize `json:"sections"`
	Symbols  []Symbol         `json:"symbols"`
}

// Digest is the SHA-256 of the binary.
func (a *Artifact) Digest() string {
	sum := sha256.Sum256(a.Binary)
	return hex.EncodeToString(sum[:])
}

// Section returns a section's size.
func (a *Artifact) Section(name string) int64 {
	for _, s := range a.Sections {
		if s.Name == name {
			return s.Size
		}
	}
	return 0
}

// Summary is the report view of the artifact.
func (a *Artifact) Summary(estimated int64) *ir.ArtifactSummary {
	return &ir.ArtifactSummary{
		Digest:    a.Digest(),
		Size:      a.Size,
		Estimated: estimated,
		Sections:  a.Sections,
		Symbols:   len(a.Symbols),
	}
}

// Backend emits an artifact for a fitted TargetIR.
type Backend interface {
	Name() string
	Emit(ctx context.Context, tir *transform.TargetIR, target ir.Target, profile ir.Profile) (*Artifact, error)
}

// FragmentBackend emits each node separately and links the pieces.
type FragmentBackend interface {
	Backend
	EmitFragment(ctx context.Context, tir *transform.TargetIR, f transform.Fragment) ([]byte, error)
	Link(ctx context.Context, tir *transform.TargetIR, pieces map[string][]byte) (*Artifact, error)
}

// FragmentKey is the build-cache key of a node's emitted piece.
func FragmentKey(tir *transform.TargetIR, f transform.Fragment) string {
	data, _ := json.Marshal(f)
	return "art/" + f.Node + "/" + ir.MustHash(ir.DomainFragment, ir.Strings([]string{
		tir.Target.Fingerprint(), string(data),
	}))
}

// Emitter runs a backend, reusing per-node pieces when it can.
type Emitter struct {
	backend Backend
	logger  *zap.Logger
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Emitter) { e.logger = l }
}

// NewEmitter wraps backend.
func NewEmitter(backend Backend, opts ...Option) *Emitter {
	e := &Emitter{backend: backend, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit produces the artifact. With a cache and a FragmentBackend, pieces
// of unchanged nodes are reused. Backend failures come back as
// *EmissionError.
func (e *Emitter) Emit(ctx context.Context, tir *transform.TargetIR, cache transform.FragmentCache) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fb, ok := e.backend.(FragmentBackend)
	if !ok || cache == nil {
		art, err := e.backend.Emit(ctx, tir, tir.Target, tir.Profile)
		return art, e.wrap("", art, err)
	}

	pieces := make(map[string][]byte, len(tir.Fragments))
	reused := 0
	for _, f := range tir.Fragments {
		data, hit, err := cache.Fetch(ctx, FragmentKey(tir, f), func(ctx context.Context) ([]byte, error) {
			return fb.EmitFragment(ctx, tir, f)
		})
		if err != nil {
			return nil, e.wrap(f.Node, nil, err)
		}
		if hit {
			reused++
		}
		pieces[f.Node] = data
	}
	e.logger.Debug("emitted fragments",
		zap.String("backend", e.backend.Name()),
		zap.Int("fragments", len(pieces)),
		zap.Int("reused", reused),
	)
	art, err := fb.Link(ctx, tir, pieces)
	return art, e.wrap("", art, err)
}

func (e *Emitter) wrap(node string, art *Artifact, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ee *EmissionError
	if errors.As(err, &ee) {
		return err
	}
	return &EmissionError{Backend: e.backend.Name(), Node: ir.Short(node), Partial: art, Err: err}
}

// ErrNothingToEmit is returned for a TargetIR without fragments.
var ErrNothingToEmit = errors.New("nothing to emit")

func missingPiece(node string) error {
	return fmt.Errorf("no emitted piece for node %s", ir.Short(node))
}
