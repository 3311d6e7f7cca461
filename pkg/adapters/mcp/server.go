package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/marginalia"
	"github.com/aretw0/marginalia/internal/logging"
	"github.com/aretw0/marginalia/pkg/domain"
	"github.com/aretw0/marginalia/pkg/script"
	"github.com/aretw0/marginalia/pkg/session"
	"github.com/aretw0/marginalia/pkg/tracking"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// SessionResult is the structured output shared by every tool.
type SessionResult struct {
	SessionID string              `json:"session_id" jsonschema_description:"The edit session"`
	Counter   int                 `json:"counter" jsonschema_description:"Number of changes in the undo log"`
	Undone    []domain.ChangeType `json:"undone,omitempty" jsonschema_description:"Change types undone, most recent first"`
	Label     string              `json:"label,omitempty" jsonschema_description:"Label of the breakpoint that was reached"`
	Found     bool                `json:"found,omitempty" jsonschema_description:"Whether a breakpoint was reached"`
	Document  string              `json:"document,omitempty" jsonschema_description:"The XML document"`
}

// StartArgs are the arguments of start_session.
type StartArgs struct {
	SessionID string `json:"session_id"`
	XML       string `json:"xml"`
}

// ApplyArgs are the arguments of apply_changes.
type ApplyArgs struct {
	SessionID string           `json:"session_id"`
	Steps     []map[string]any `json:"steps"`
}

// UndoArgs are the arguments of undo.
type UndoArgs struct {
	SessionID string `json:"session_id"`
	ToStep    *int   `json:"to_step,omitempty"`
}

// DocumentArgs are the arguments of get_document and undo_breakpoint.
type DocumentArgs struct {
	SessionID string `json:"session_id"`
	Markers   bool   `json:"markers,omitempty"`
}

// Server exposes a session.Manager as an MCP server.
type Server struct {
	manager   *session.Manager
	runner    *script.Runner
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger. Stdio transports must not log to stdout.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRunner replaces the script runner.
func WithRunner(r *script.Runner) Option {
	return func(s *Server) {
		s.runner = r
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(mgr *session.Manager, opts ...Option) *Server {
	s := &Server{
		manager:   mgr,
		runner:    script.NewRunner(nil),
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("marginalia-mcp", strings.TrimSpace(marginalia.Version), server.WithToolCapabilities(false)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves MCP over SSE on addr until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL("http://"+addr))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{Addr: addr, Handler: mux}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	sessionArg := mcp.WithString("session_id", mcp.Required(), mcp.Description("Edit session identifier"))

	s.mcpServer.AddTool(mcp.NewTool("start_session",
		mcp.WithDescription("Start an edit session on an XML document. Existing change markers are adopted."),
		mcp.WithString("session_id", mcp.Description("Session identifier (generated when omitted)")),
		mcp.WithString("xml", mcp.Required(), mcp.Description("The XML document")),
		mcp.WithOutputSchema[SessionResult](),
	), mcp.NewStructuredToolHandler(s.handleStart))

	s.mcpServer.AddTool(mcp.NewTool("apply_changes",
		mcp.WithDescription("Apply an edit script atomically. Steps are objects with an 'op' "+
			"(add-element, add-attribute, remove-element, remove-attribute, set-attribute, set-text, "+
			"swap, breakpoint, subselect, undo, undo-to, undo-breakpoint, undo-subselect) and its fields."),
		sessionArg,
		mcp.WithArray("steps", mcp.Required(), mcp.Description("Script steps"), mcp.Items(map[string]any{"type": "object"})),
		mcp.WithOutputSchema[SessionResult](),
	), mcp.NewStructuredToolHandler(s.handleApply))

	s.mcpServer.AddTool(mcp.NewTool("undo",
		mcp.WithDescription("Undo the last change, or every change after to_step."),
		sessionArg,
		mcp.WithNumber("to_step", mcp.Description("Counter to return to (optional)")),
		mcp.WithOutputSchema[SessionResult](),
	), mcp.NewStructuredToolHandler(s.handleUndo))

	s.mcpServer.AddTool(mcp.NewTool("undo_breakpoint",
		mcp.WithDescription("Undo every change up to and including the most recent breakpoint."),
		sessionArg,
		mcp.WithOutputSchema[SessionResult](),
	), mcp.NewStructuredToolHandler(s.handleUndoBreakpoint))

	s.mcpServer.AddTool(mcp.NewTool("get_document",
		mcp.WithDescription("Return the session document, without change markers unless markers is true."),
		sessionArg,
		mcp.WithBoolean("markers", mcp.Description("Include change markers")),
		mcp.WithOutputSchema[SessionResult](),
	), mcp.NewStructuredToolHandler(s.handleGetDocument))
}

func (s *Server) handleStart(ctx context.Context, _ mcp.CallToolRequest, args StartArgs) (SessionResult, error) {
	sess, err := s.manager.Start(ctx, args.SessionID, args.XML)
	if err != nil {
		return SessionResult{}, err
	}
	return SessionResult{SessionID: sess.ID, Counter: sess.Tracker.Counter()}, nil
}

func (s *Server) handleApply(ctx context.Context, _ mcp.CallToolRequest, args ApplyArgs) (SessionResult, error) {
	steps, err := script.Decode(args.Steps)
	if err != nil {
		return SessionResult{}, err
	}
	return s.edit(ctx, args.SessionID, steps)
}

func (s *Server) handleUndo(ctx context.Context, _ mcp.CallToolRequest, args UndoArgs) (SessionResult, error) {
	step := script.Step{Op: script.OpUndo}
	if args.ToStep != nil {
		step = script.Step{Op: script.OpUndoTo, To: *args.ToStep}
	}
	return s.edit(ctx, args.SessionID, []script.Step{step})
}

func (s *Server) handleUndoBreakpoint(ctx context.Context, _ mcp.CallToolRequest, args DocumentArgs) (SessionResult, error) {
	return s.edit(ctx, args.SessionID, []script.Step{{Op: script.OpUndoBreakpoint}})
}

func (s *Server) handleGetDocument(ctx context.Context, _ mcp.CallToolRequest, args DocumentArgs) (SessionResult, error) {
	sess, err := s.manager.Load(ctx, args.SessionID)
	if err != nil {
		return SessionResult{}, err
	}
	doc := sess.Document
	if !args.Markers {
		doc = tracking.Strip(doc, sess.Tracker.Prefix())
	}
	xml, err := doc.WriteToString()
	if err != nil {
		return SessionResult{}, err
	}
	return SessionResult{SessionID: sess.ID, Counter: sess.Tracker.Counter(), Document: xml}, nil
}

// edit runs steps in one Manager.Edit and folds the outcomes into one result.
func (s *Server) edit(ctx context.Context, sessionID string, steps []script.Step) (SessionResult, error) {
	var outcomes []script.Outcome
	sess, err := s.manager.Edit(ctx, sessionID, func(sess *session.Session) error {
		var err error
		outcomes, err = s.runner.Apply(sess, steps)
		return err
	})
	if err != nil {
		if domain.IsFatal(err) {
			s.logger.Error("MCP: session restarted", "session_id", sessionID, "err", err)
			return SessionResult{}, fmt.Errorf("session restarted from its clean document: %w", err)
		}
		if errors.Is(err, domain.ErrSessionNotFound) {
			return SessionResult{}, fmt.Errorf("unknown session %q: %w", sessionID, err)
		}
		return SessionResult{}, err
	}

	res := SessionResult{SessionID: sess.ID, Counter: sess.Tracker.Counter()}
	for _, out := range outcomes {
		res.Undone = append(res.Undone, out.Undone...)
		if out.Found {
			res.Label, res.Found = out.Label, true
		}
	}
	return res, nil
}
