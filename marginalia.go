package marginalia

import (
	"context"
	_ "embed"
	"log/slog"

	"github.com/aretw0/marginalia/internal/logging"
	"github.com/aretw0/marginalia/pkg/adapters/memory"
	"github.com/aretw0/marginalia/pkg/domain"
	"github.com/aretw0/marginalia/pkg/ports"
	"github.com/aretw0/marginalia/pkg/script"
	"github.com/aretw0/marginalia/pkg/session"
	"github.com/aretw0/marginalia/pkg/tracking"
)

// Version is the release of this module.
//
//go:embed VERSION
var Version string

// Engine is the high-level entry point for the library.
// It wires a session.Manager to a script.Runner.
type Engine struct {
	manager *session.Manager
	runner  *script.Runner

	store     ports.SnapshotStore
	locker    ports.DistributedLocker
	locator   ports.Locator
	hooks     domain.LifecycleHooks
	prefix    string
	logger    *slog.Logger
	onFailure func(sessionID string, err error)
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithStore sets the snapshot store (default: in-memory).
func WithStore(store ports.SnapshotStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithLocker enables distributed session locks.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = locker
	}
}

// WithLocator changes how script paths are resolved.
func WithLocator(loc ports.Locator) Option {
	return func(e *Engine) {
		e.locator = loc
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithPrefix sets the marker prefix for new sessions.
func WithPrefix(prefix string) Option {
	return func(e *Engine) {
		e.prefix = prefix
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithFailureHook is called when a session restarts after a fatal log error.
func WithFailureHook(fn func(sessionID string, err error)) Option {
	return func(e *Engine) {
		e.onFailure = fn
	}
}

// New initializes an Engine.
func New(opts ...Option) *Engine {
	eng := &Engine{}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.store == nil {
		eng.store = memory.NewStore()
	}
	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}

	trackOpts := []tracking.Option{
		tracking.WithLogger(eng.logger),
		tracking.WithLifecycleHooks(eng.hooks),
	}
	if eng.prefix != "" {
		trackOpts = append(trackOpts, tracking.WithPrefix(eng.prefix))
	}
	mgrOpts := []session.Option{
		session.WithLogger(eng.logger),
		session.WithTrackerOptions(trackOpts...),
		session.WithFailureHook(eng.onFailure),
	}
	if eng.locker != nil {
		mgrOpts = append(mgrOpts, session.WithLocker(eng.locker))
	}

	eng.manager = session.NewManager(eng.store, mgrOpts...)
	eng.runner = script.NewRunner(eng.locator)
	return eng
}

// Start creates a session for xml. An empty sessionID gets a random UUID.
func (e *Engine) Start(ctx context.Context, sessionID, xml string) (*session.Session, error) {
	return e.manager.Start(ctx, sessionID, xml)
}

// Apply runs steps against the session atomically: on error nothing is saved.
func (e *Engine) Apply(ctx context.Context, sessionID string, steps []script.Step) ([]script.Outcome, error) {
	var outcomes []script.Outcome
	_, err := e.manager.Edit(ctx, sessionID, func(sess *session.Session) error {
		var err error
		outcomes, err = e.runner.Apply(sess, steps)
		return err
	})
	return outcomes, err
}

// ApplyScript parses a YAML or JSON script and applies it.
func (e *Engine) ApplyScript(ctx context.Context, sessionID string, data []byte) ([]script.Outcome, error) {
	steps, err := script.Parse(data)
	if err != nil {
		return nil, err
	}
	return e.Apply(ctx, sessionID, steps)
}

// Undo undoes the most recent change.
func (e *Engine) Undo(ctx context.Context, sessionID string) (domain.ChangeType, error) {
	outcomes, err := e.Apply(ctx, sessionID, []script.Step{{Op: script.OpUndo}})
	if err != nil {
		return "", err
	}
	return outcomes[0].Undone[0], nil
}

// UndoTo undoes changes until the counter equals step.
func (e *Engine) UndoTo(ctx context.Context, sessionID string, step int) error {
	_, err := e.Apply(ctx, sessionID, []script.Step{{Op: script.OpUndoTo, To: step}})
	return err
}

// UndoBreakpoint undoes changes through the most recent breakpoint and returns its label.
// found is false when the whole log was undone without meeting one.
func (e *Engine) UndoBreakpoint(ctx context.Context, sessionID string) (label string, found bool, err error) {
	outcomes, err := e.Apply(ctx, sessionID, []script.Step{{Op: script.OpUndoBreakpoint}})
	if err != nil {
		return "", false, err
	}
	return outcomes[0].Label, outcomes[0].Found, nil
}

// Clean returns the session document without markers.
func (e *Engine) Clean(ctx context.Context, sessionID string) (string, error) {
	return e.manager.Clean(ctx, sessionID)
}

// Document returns the session document with its markers.
func (e *Engine) Document(ctx context.Context, sessionID string) (string, error) {
	sess, err := e.manager.Load(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return sess.Document.WriteToString()
}

// Manager returns the session manager, e.g. to mount the HTTP or MCP adapters.
func (e *Engine) Manager() *session.Manager {
	return e.manager
}

// Runner returns the script runner.
func (e *Engine) Runner() *script.Runner {
	return e.runner
}
