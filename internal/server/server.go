package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/buildinfo"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/database"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/metrics"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/vectorservice"
)

const serverName = "mcp-campaign-vectors-go"

// MCPServer handles MCP protocol communication
type MCPServer struct {
	server *mcp.Server
	svc    *vectorservice.Service
	logger *zap.Logger
	dims   int
}

// NewMCPServer creates a new MCP server over the vector service. dims is
// reported by the health tool.
func NewMCPServer(svc *vectorservice.Service, dims int, logger *zap.Logger) *MCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: buildinfo.Version,
	}, nil)

	mcpServer := &MCPServer{
		server: server,
		svc:    svc,
		logger: logger.Named("mcp"),
		dims:   dims,
	}
	mcpServer.setupToolHandlers()
	return mcpServer
}

func schemaFor[T any](what string) *jsonschema.Schema {
	s, err := jsonschema.For[T]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for %s: %v", what, err))
	}
	return s
}

// setupToolHandlers registers all MCP tools
func (s *MCPServer) setupToolHandlers() {
	readOnly := &mcp.ToolAnnotations{Title: "Read only", ReadOnlyHint: true}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "generate_embedding",
		Title:        "Generate Embedding",
		Description:  "Embed text with the configured provider. Cached embeddings are served when the provider is unreachable.",
		InputSchema:  schemaFor[apptype.GenerateEmbeddingArgs]("GenerateEmbeddingArgs"),
		OutputSchema: schemaFor[apptype.GenerateEmbeddingResult]("GenerateEmbeddingResult"),
	}, s.handleGenerateEmbedding)

	mcp.AddTool(s.server, &mcp.Tool{
		Annotations:  readOnly,
		Name:         "find_similar",
		Title:        "Find Similar",
		Description:  "Find campaign entities similar to a text or vector query. Falls back to local, keyword and cached search when the vector service is degraded.",
		InputSchema:  schemaFor[apptype.FindSimilarArgs]("FindSimilarArgs"),
		OutputSchema: schemaFor[apptype.FindSimilarResult]("FindSimilarResult"),
	}, s.handleFindSimilar)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "store_embedding",
		Title:        "Store Embedding",
		Description:  "Store an entity embedding. Text is embedded when no vector is given.",
		InputSchema:  schemaFor[apptype.StoreEmbeddingArgs]("StoreEmbeddingArgs"),
		OutputSchema: schemaFor[apptype.StoreEmbeddingResult]("StoreEmbeddingResult"),
	}, s.handleStoreEmbedding)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "remove_embedding",
		Title:        "Remove Embedding",
		Description:  "Remove an entity embedding from the local cache and the remote index.",
		InputSchema:  schemaFor[apptype.RemoveEmbeddingArgs]("RemoveEmbeddingArgs"),
		OutputSchema: schemaFor[apptype.RemoveEmbeddingResult]("RemoveEmbeddingResult"),
	}, s.handleRemoveEmbedding)

	// service_status returns a large nested document; no output schema.
	mcp.AddTool(s.server, &mcp.Tool{
		Annotations: readOnly,
		Name:        "service_status",
		Title:       "Service Status",
		Description: "Service level, circuit breaker, retry, cache, local vector and fallback statistics.",
		InputSchema: schemaFor[apptype.ServiceStatusArgs]("ServiceStatusArgs"),
	}, s.handleServiceStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Annotations:  readOnly,
		Name:         "feature_status",
		Title:        "Feature Status",
		Description:  "Which features are available at the current degradation level.",
		InputSchema:  schemaFor[apptype.FeatureStatusArgs]("FeatureStatusArgs"),
		OutputSchema: schemaFor[apptype.FeatureStatusResult]("FeatureStatusResult"),
	}, s.handleFeatureStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "breaker_control",
		Title:        "Breaker Control",
		Description:  "Reset the remote circuit breaker, or trip it to force local operation.",
		InputSchema:  schemaFor[apptype.BreakerControlArgs]("BreakerControlArgs"),
		OutputSchema: schemaFor[apptype.BreakerControlResult]("BreakerControlResult"),
	}, s.handleBreakerControl)

	mcp.AddTool(s.server, &mcp.Tool{
		Annotations:  readOnly,
		Name:         "health_check",
		Title:        "Health Check",
		Description:  "Returns server version and the current service level.",
		InputSchema:  schemaFor[apptype.HealthArgs]("HealthArgs"),
		OutputSchema: schemaFor[apptype.HealthResult]("HealthResult"),
	}, s.handleHealth)
}

func (s *MCPServer) handleGenerateEmbedding(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.GenerateEmbeddingArgs],
) (*mcp.CallToolResultFor[apptype.GenerateEmbeddingResult], error) {
	done := metrics.TimeTool("generate_embedding")
	var success bool
	defer func() { done(success) }()
	args := params.Arguments
	vec, err := s.svc.GenerateEmbedding(ctx, args.Text, apptype.EmbeddingOptions{Model: args.Model, SkipCache: args.SkipCache})
	if err != nil {
		return nil, fmt.Errorf("generate embedding failed: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.GenerateEmbeddingResult]{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Generated %d-dimensional embedding", len(vec))}},
		StructuredContent: apptype.GenerateEmbeddingResult{
			Vector:     vec,
			Dimensions: len(vec),
			Level:      s.svc.Level().String(),
		},
	}, nil
}

// parseQuery accepts a string for text search or a numeric array for
// vector search.
func parseQuery(raw any) (apptype.Query, error) {
	if text, ok := raw.(string); ok {
		return apptype.Query{Text: text}, nil
	}
	vec, ok, err := database.CoerceVector(raw)
	if err != nil {
		return apptype.Query{}, fmt.Errorf("invalid vector query: %w", err)
	}
	if !ok {
		return apptype.Query{}, fmt.Errorf("query must be a string or an array of numbers, got %T", raw)
	}
	return apptype.Query{Vector: vec}, nil
}

func (s *MCPServer) handleFindSimilar(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.FindSimilarArgs],
) (*mcp.CallToolResultFor[apptype.FindSimilarResult], error) {
	done := metrics.TimeTool("find_similar")
	var success bool
	defer func() { done(success) }()
	args := params.Arguments
	q, err := parseQuery(args.Query)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.FindSimilar(ctx, q, apptype.SearchOptions{
		EntityTypes: args.EntityTypes,
		Limit:       args.Limit,
		MinScore:    args.MinScore,
		WorldID:     args.ScopeArgs.WorldID,
		CampaignID:  args.ScopeArgs.CampaignID,
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	success = true
	level := s.svc.Level().String()
	return &mcp.CallToolResultFor[apptype.FindSimilarResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Found %d results (level %s)", len(res), level)}},
		StructuredContent: apptype.FindSimilarResult{Results: res, Level: level},
	}, nil
}

func (s *MCPServer) handleStoreEmbedding(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.StoreEmbeddingArgs],
) (*mcp.CallToolResultFor[apptype.StoreEmbeddingResult], error) {
	done := metrics.TimeTool("store_embedding")
	var success bool
	defer func() { done(success) }()
	args := params.Arguments
	if strings.TrimSpace(args.EntityType) == "" {
		return nil, errors.New("entityType is required")
	}
	id, err := s.svc.StoreEmbedding(ctx, apptype.EmbeddingRecord{
		EntityID:   args.EntityID,
		EntityType: args.EntityType,
		Vector:     args.Vector,
		Text:       args.Text,
		Metadata:   args.Metadata,
		WorldID:    args.ScopeArgs.WorldID,
		CampaignID: args.ScopeArgs.CampaignID,
	})
	remoteStored := err == nil
	if err != nil && (id == "" || !errors.Is(err, vectorservice.ErrServiceUnavailable)) {
		return nil, fmt.Errorf("store embedding failed: %w", err)
	}
	text := "Embedding stored"
	if !remoteStored {
		s.logger.Warn("embedding kept locally only", zap.String("entity_id", id), zap.Error(err))
		text = "Embedding kept locally; remote write pending: " + err.Error()
	}
	success = true
	return &mcp.CallToolResultFor[apptype.StoreEmbeddingResult]{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		StructuredContent: apptype.StoreEmbeddingResult{
			EntityID: id,
			Remote:   remoteStored,
			Level:    s.svc.Level().String(),
		},
	}, nil
}

func (s *MCPServer) handleRemoveEmbedding(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.RemoveEmbeddingArgs],
) (*mcp.CallToolResultFor[apptype.RemoveEmbeddingResult], error) {
	done := metrics.TimeTool("remove_embedding")
	var success bool
	defer func() { done(success) }()
	id := params.Arguments.EntityID
	if err := s.svc.RemoveEmbedding(ctx, id); err != nil {
		return nil, fmt.Errorf("remove embedding failed: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.RemoveEmbeddingResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "Embedding removed"}},
		StructuredContent: apptype.RemoveEmbeddingResult{EntityID: id, Removed: true},
	}, nil
}

func (s *MCPServer) handleServiceStatus(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.ServiceStatusArgs],
) (*mcp.CallToolResultFor[vectorservice.Status], error) {
	done := metrics.TimeTool("service_status")
	defer func() { done(true) }()
	st := s.svc.Status()
	text := fmt.Sprintf("level=%s breaker=%s local=%d remote_available=%t",
		st.Level, st.Breaker.State, st.Local.Count, st.Remote.Available)
	return &mcp.CallToolResultFor[vectorservice.Status]{
		Content:           []mcp.Content{&mcp.TextContent{Text: text}},
		StructuredContent: st,
	}, nil
}

func (s *MCPServer) handleFeatureStatus(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.FeatureStatusArgs],
) (*mcp.CallToolResultFor[apptype.FeatureStatusResult], error) {
	done := metrics.TimeTool("feature_status")
	var success bool
	defer func() { done(success) }()
	want := params.Arguments.FeatureID
	out := apptype.FeatureStatusResult{
		Level:    s.svc.Degraded().Level().String(),
		Features: []apptype.FeatureState{},
	}
	for _, f := range s.svc.Features() {
		if want != "" && f.ID != want {
			continue
		}
		out.Features = append(out.Features, apptype.FeatureState{
			ID:          f.ID,
			Priority:    f.Priority.String(),
			Enabled:     f.Enabled,
			Description: f.Description,
		})
	}
	if want != "" && len(out.Features) == 0 {
		return nil, fmt.Errorf("unknown feature %q", want)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.FeatureStatusResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%d features at level %s", len(out.Features), out.Level)}},
		StructuredContent: out,
	}, nil
}

func (s *MCPServer) handleBreakerControl(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.BreakerControlArgs],
) (*mcp.CallToolResultFor[apptype.BreakerControlResult], error) {
	done := metrics.TimeTool("breaker_control")
	var success bool
	defer func() { done(success) }()
	args := params.Arguments
	switch strings.ToLower(args.Action) {
	case "reset":
		s.svc.ResetBreaker()
	case "trip":
		reason := args.Reason
		if reason == "" {
			reason = "tripped via breaker_control"
		}
		s.svc.TripBreaker(reason)
	default:
		return nil, fmt.Errorf("unknown action %q, want reset or trip", args.Action)
	}
	s.logger.Info("breaker control", zap.String("action", args.Action), zap.String("reason", args.Reason))
	success = true
	state := s.svc.Status().Breaker.State.String()
	return &mcp.CallToolResultFor[apptype.BreakerControlResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "Breaker " + state}},
		StructuredContent: apptype.BreakerControlResult{State: state},
	}, nil
}

// handleHealth returns basic server health information
func (s *MCPServer) handleHealth(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.HealthArgs],
) (*mcp.CallToolResultFor[apptype.HealthResult], error) {
	done := metrics.TimeTool("health_check")
	defer func() { done(true) }()
	res := apptype.HealthResult{
		Name:          serverName,
		Version:       buildinfo.Version,
		Revision:      buildinfo.Revision,
		BuildDate:     buildinfo.BuildDate,
		Level:         s.svc.Level().String(),
		EmbeddingDims: s.dims,
	}
	return &mcp.CallToolResultFor[apptype.HealthResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "ok"}},
		StructuredContent: res,
	}, nil
}

// Run starts the MCP server with stdio transport
func (s *MCPServer) Run(ctx context.Context) error {
	transport := mcp.NewStdioTransport()
	return s.server.Run(ctx, transport)
}

// RunSSE starts the MCP server over SSE at the given address and endpoint
func (s *MCPServer) RunSSE(ctx context.Context, addr string, endpoint string) error {
	handler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server { return s.server })
	mux := http.NewServeMux()
	mux.Handle(endpoint, handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("SSE MCP server listening", zap.String("addr", addr), zap.String("endpoint", endpoint))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
