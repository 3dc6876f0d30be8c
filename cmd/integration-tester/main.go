package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/pflag"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apptype"
)

type StepResult struct {
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Detail    string `json:"detail,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

type Report struct {
	SSEURL     string       `json:"sse_url"`
	StartedAt  time.Time    `json:"started_at"`
	DurationMs int64        `json:"duration_ms"`
	Steps      []StepResult `json:"steps"`
	Passed     bool         `json:"passed"`
}

func main() {
	sseURL := pflag.String("sse-url", "http://localhost:8080/sse", "SSE endpoint URL")
	campaign := pflag.String("campaign", "integration", "Campaign id used to scope stored entities")
	skipBreaker := pflag.Bool("skip-breaker", false, "Skip the trip/reset steps (for shared deployments)")
	timeout := pflag.Duration("timeout", 30*time.Second, "Overall timeout")
	pflag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{Name: "integration-tester", Version: "dev"}, nil)
	transport := mcp.NewSSEClientTransport(*sseURL, nil)

	start := time.Now()
	report := Report{SSEURL: *sseURL, StartedAt: start}
	steps := make([]StepResult, 0, 16)

	// Connect
	tConn := time.Now()
	connRes := StepResult{Name: "connect"}
	session, err := client.Connect(ctx, transport)
	if err != nil {
		connRes.Error = err.Error()
		connRes.ElapsedMs = elapsedMsSince(tConn)
		report.Steps = append(steps, connRes)
		report.DurationMs = elapsedMsSince(start)
		writeReport(report)
		os.Exit(1)
	}
	defer session.Close()
	connRes.Success = true
	connRes.ElapsedMs = elapsedMsSince(tConn)
	steps = append(steps, connRes)

	scope := apptype.ScopeArgs{CampaignID: *campaign}
	entityID := fmt.Sprintf("it-%d", start.UnixNano())

	steps = append(steps, runListTools(ctx, session))
	steps = append(steps, runHealthCheck(ctx, session))
	steps = append(steps, runStoreEmbedding(ctx, session, scope, entityID))
	steps = append(steps, runGenerateEmbedding(ctx, session))
	steps = append(steps, runFindSimilarText(ctx, session, scope, entityID))
	steps = append(steps, runFindSimilarVector(ctx, session, scope))
	steps = append(steps, runFeatureStatus(ctx, session))
	steps = append(steps, runServiceStatus(ctx, session))
	if !*skipBreaker {
		steps = append(steps, runBreaker(ctx, session, "trip"))
		// degraded search must still answer
		steps = append(steps, runFindSimilarDegraded(ctx, session, scope))
		steps = append(steps, runBreaker(ctx, session, "reset"))
		steps = append(steps, runHealthCheck(ctx, session))
	}
	steps = append(steps, runRemoveEmbedding(ctx, session, entityID))

	// finalize report
	report.Steps = steps
	report.DurationMs = elapsedMsSince(start)
	report.Passed = true
	for _, s := range steps {
		if !s.Success {
			report.Passed = false
			break
		}
	}
	writeReport(report)

	if !report.Passed {
		os.Exit(1)
	}
}

func writeReport(report Report) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
}

// callStep runs one tool call and decodes its structured output into out when non-nil.
func callStep(ctx context.Context, session *mcp.ClientSession, step, tool string, args any, out any) (StepResult, bool) {
	t0 := time.Now()
	res := StepResult{Name: step}

	raw, err := json.Marshal(args)
	if err != nil {
		res.Error = err.Error()
		res.ElapsedMs = elapsedMsSince(t0)
		return res, false
	}
	cr, err := session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: json.RawMessage(raw)})
	res.ElapsedMs = elapsedMsSince(t0)
	if err != nil {
		res.Error = err.Error()
		return res, false
	}
	if cr.IsError {
		res.Error = toolText(cr)
		return res, false
	}
	if out != nil && cr.StructuredContent != nil {
		b, err := json.Marshal(cr.StructuredContent)
		if err == nil {
			err = json.Unmarshal(b, out)
		}
		if err != nil {
			res.Error = fmt.Sprintf("decode %s output: %v", tool, err)
			return res, false
		}
	}
	res.Success = true
	res.Detail = toolText(cr)
	return res, true
}

func toolText(cr *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, c := range cr.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func runListTools(ctx context.Context, session *mcp.ClientSession) StepResult {
	t0 := time.Now()
	res := StepResult{Name: "list_tools"}
	tools, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		res.Error = err.Error()
	} else {
		res.Success = true
		res.Detail = fmt.Sprintf("%d tools", len(tools.Tools))
	}
	res.ElapsedMs = elapsedMsSince(t0)
	return res
}

func runHealthCheck(ctx context.Context, session *mcp.ClientSession) StepResult {
	var out apptype.HealthResult
	res, ok := callStep(ctx, session, "health_check", "health_check", apptype.HealthArgs{}, &out)
	if ok {
		res.Detail = fmt.Sprintf("%s %s level=%s dims=%d", out.Name, out.Version, out.Level, out.EmbeddingDims)
	}
	return res
}

func runStoreEmbedding(ctx context.Context, session *mcp.ClientSession, scope apptype.ScopeArgs, id string) StepResult {
	args := apptype.StoreEmbeddingArgs{
		ScopeArgs:  scope,
		EntityID:   id,
		EntityType: "location",
		Text:       "the amber temple high in the mountains of barovia",
		Metadata:   map[string]any{"source": "integration-tester"},
	}
	var out apptype.StoreEmbeddingResult
	res, ok := callStep(ctx, session, "store_embedding", "store_embedding", args, &out)
	if ok && out.EntityID != id {
		res.Success = false
		res.Error = fmt.Sprintf("stored id %q, want %q", out.EntityID, id)
	}
	return res
}

func runGenerateEmbedding(ctx context.Context, session *mcp.ClientSession) StepResult {
	var out apptype.GenerateEmbeddingResult
	res, ok := callStep(ctx, session, "generate_embedding", "generate_embedding",
		apptype.GenerateEmbeddingArgs{Text: "a cursed sword"}, &out)
	if ok && (len(out.Vector) == 0 || len(out.Vector) != out.Dimensions) {
		res.Success = false
		res.Error = fmt.Sprintf("vector length %d, dimensions %d", len(out.Vector), out.Dimensions)
	}
	return res
}

func runFindSimilarText(ctx context.Context, session *mcp.ClientSession, scope apptype.ScopeArgs, id string) StepResult {
	var out apptype.FindSimilarResult
	res, ok := callStep(ctx, session, "find_similar_text", "find_similar", apptype.FindSimilarArgs{
		ScopeArgs: scope,
		Query:     "the amber temple high in the mountains of barovia",
		Limit:     5,
	}, &out)
	if !ok {
		return res
	}
	for _, r := range out.Results {
		if r.EntityID == id {
			return res
		}
	}
	res.Success = false
	res.Error = fmt.Sprintf("%s not among %d results", id, len(out.Results))
	return res
}

func runFindSimilarVector(ctx context.Context, session *mcp.ClientSession, scope apptype.ScopeArgs) StepResult {
	// reuse a generated vector so the query matches the server's dimensions
	var emb apptype.GenerateEmbeddingResult
	res, ok := callStep(ctx, session, "find_similar_vector", "generate_embedding",
		apptype.GenerateEmbeddingArgs{Text: "amber temple"}, &emb)
	if !ok {
		return res
	}
	res, _ = callStep(ctx, session, "find_similar_vector", "find_similar",
		apptype.FindSimilarArgs{ScopeArgs: scope, Query: emb.Vector, Limit: 5}, nil)
	return res
}

func runFindSimilarDegraded(ctx context.Context, session *mcp.ClientSession, scope apptype.ScopeArgs) StepResult {
	var out apptype.FindSimilarResult
	res, ok := callStep(ctx, session, "find_similar_degraded", "find_similar",
		apptype.FindSimilarArgs{ScopeArgs: scope, Query: "amber temple", Limit: 5}, &out)
	if ok && out.Level == "FULL" {
		res.Success = false
		res.Error = "search served at FULL with the breaker open"
	}
	return res
}

func runFeatureStatus(ctx context.Context, session *mcp.ClientSession) StepResult {
	var out apptype.FeatureStatusResult
	res, ok := callStep(ctx, session, "feature_status", "feature_status", apptype.FeatureStatusArgs{}, &out)
	if ok && len(out.Features) == 0 {
		res.Success = false
		res.Error = "no features reported"
	}
	return res
}

func runServiceStatus(ctx context.Context, session *mcp.ClientSession) StepResult {
	res, _ := callStep(ctx, session, "service_status", "service_status", apptype.ServiceStatusArgs{}, nil)
	return res
}

func runBreaker(ctx context.Context, session *mcp.ClientSession, action string) StepResult {
	want := map[string]string{"trip": "OPEN", "reset": "CLOSED"}[action]
	var out apptype.BreakerControlResult
	res, ok := callStep(ctx, session, "breaker_"+action, "breaker_control",
		apptype.BreakerControlArgs{Action: action, Reason: "integration-tester"}, &out)
	if ok && out.State != want {
		res.Success = false
		res.Error = fmt.Sprintf("breaker %s, want %s", out.State, want)
	}
	return res
}

func runRemoveEmbedding(ctx context.Context, session *mcp.ClientSession, id string) StepResult {
	var out apptype.RemoveEmbeddingResult
	res, ok := callStep(ctx, session, "remove_embedding", "remove_embedding", apptype.RemoveEmbeddingArgs{EntityID: id}, &out)
	if ok && !out.Removed {
		res.Success = false
		res.Error = "entity not removed"
	}
	return res
}

// elapsedMsSince returns max(1ms, elapsed) to avoid zero durations on fast steps
func elapsedMsSince(t0 time.Time) int64 {
	d := time.Since(t0) / time.Millisecond
	if d <= 0 {
		return 1
	}
	return int64(d)
}
