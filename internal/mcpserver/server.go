// Package mcpserver exposes the world, travel and memory operations as MCP
// tools so that a narrator agent can drive them.
//
// The server is built on github.com/modelcontextprotocol/go-sdk. Every tool
// is registered with a typed input and output struct, so the SDK derives the
// JSON schemas and returns results as structured content. Handler errors are
// reported to the client as tool errors, not protocol failures.
package mcpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/realmkeeper/internal/narration"
	"github.com/MrWong99/realmkeeper/internal/observe"
	"github.com/MrWong99/realmkeeper/internal/travel"
	"github.com/MrWong99/realmkeeper/internal/world"
	"github.com/MrWong99/realmkeeper/internal/world/placename"
	"github.com/MrWong99/realmkeeper/pkg/memory"
	"github.com/MrWong99/realmkeeper/pkg/provider/embeddings"
)

const (
	serverName    = "realmkeeper"
	serverVersion = "0.1.0"
)

// Deps holds the services the tools call into. All fields except Embedder
// are required. Without an Embedder the memory tools are not registered.
type Deps struct {
	World     *world.Service
	Travel    *travel.Validator
	Memories  memory.Saver
	Searcher  memory.Searcher
	Narration *narration.Assembler
	Embedder  embeddings.Provider
}

func (d Deps) validate() error {
	var errs []error
	if d.World == nil {
		errs = append(errs, errors.New("world service is required"))
	}
	if d.Travel == nil {
		errs = append(errs, errors.New("travel validator is required"))
	}
	if d.Memories == nil {
		errs = append(errs, errors.New("memory saver is required"))
	}
	if d.Searcher == nil {
		errs = append(errs, errors.New("memory searcher is required"))
	}
	if d.Narration == nil {
		errs = append(errs, errors.New("narration assembler is required"))
	}
	return errors.Join(errs...)
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithResolver replaces the destination name resolver used by the travel
// tool.
func WithResolver(r *placename.Resolver) Option {
	return func(s *Server) { s.resolver = r }
}

// Server is the MCP tool server.
type Server struct {
	deps     Deps
	sdk      *mcp.Server
	metrics  *observe.Metrics
	resolver *placename.Resolver
}

// New builds a Server and registers every tool.
func New(deps Deps, opts ...Option) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, errors.Join(errors.New("mcpserver: invalid dependencies"), err)
	}
	s := &Server{
		deps:     deps,
		sdk:      mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil),
		resolver: placename.New(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.registerWorldTools()
	if deps.Embedder != nil {
		s.registerMemoryTools()
	}
	return s, nil
}

// SDK returns the underlying go-sdk server, e.g. to connect it to an
// in-memory transport.
func (s *Server) SDK() *mcp.Server { return s.sdk }

// RunStdio serves a single client over stdin/stdout until ctx is cancelled
// or the client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.sdk.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler returns a streamable HTTP handler serving this server.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.sdk }, nil)
}

// addTool registers fn under tool with call counting and latency metrics.
func addTool[In, Out any](s *Server, tool *mcp.Tool, fn func(ctx context.Context, in In) (Out, error)) {
	mcp.AddTool(s.sdk, tool, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		ctx, span := observe.StartSpan(ctx, "mcp.tool."+tool.Name)
		start := time.Now()

		out, err := fn(ctx, in)

		s.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("tool", tool.Name)))
		s.metrics.RecordToolCall(ctx, tool.Name, observe.Status(err))
		observe.EndSpan(span, err)
		if err != nil {
			observe.Logger(ctx).Debug("mcp tool failed", "tool", tool.Name, "err", err)
			var zero Out
			return nil, zero, err
		}
		return nil, out, nil
	})
}

// embed turns narrator text into a query vector.
func (s *Server) embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("text must not be empty")
	}
	return s.deps.Embedder.Embed(ctx, text)
}
