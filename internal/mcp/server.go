// Package mcp exposes the sidecar to coding agents as an MCP stdio server.
// Debug tools resolve their storage scope per call from project_directory;
// learning sessions share a coordinator with the web UI through the
// registry so browser submissions wake blocked tool calls immediately.
package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kokistudios/sidecar/internal/debug"
	"github.com/kokistudios/sidecar/internal/learning"
	"github.com/kokistudios/sidecar/internal/quiz"
	"github.com/kokistudios/sidecar/internal/record"
	"github.com/kokistudios/sidecar/internal/retrieval"
	"github.com/kokistudios/sidecar/internal/store"
)

// Server wraps the MCP server with the sidecar's stores.
type Server struct {
	version  string
	registry *learning.Registry
	webAddr  string
	server   *mcp.Server
}

// NewServer creates a sidecar MCP server. webAddr is where the learning UI
// is reachable; it is surfaced in get_system_info.
func NewServer(version string, registry *learning.Registry, webAddr string) *Server {
	s := &Server{version: version, registry: registry, webAddr: webAddr}

	impl := &mcp.Implementation{
		Name:    "sidecar",
		Version: version,
	}

	s.server = mcp.NewServer(impl, nil)
	s.registerTools()

	return s
}

// Run starts the MCP server on stdio.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// registerTools adds all sidecar tools to the MCP server.
func (s *Server) registerTools() {
	// debug_record - store a resolved debugging experience
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "debug_record",
		Description: "Record a debugging experience AFTER you have resolved an error. Stores the error context, " +
			"root cause, and working solution so future sessions can find it with debug_search. " +
			"PROACTIVE USE: Call this whenever you fix a non-trivial error - the record is what makes the fix " +
			"reusable. Records are immutable once stored.",
	}, s.handleDebugRecord)

	// debug_search - find prior debugging experiences
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "debug_search",
		Description: "Search recorded debugging experiences for this project. START HERE when you hit an error - " +
			"returns compact summaries (id, error_type, tags, recency). Matching is OR across query words with " +
			"synonym expansion; error_type and tags narrow results. Use debug_get to read the full cause and " +
			"solution of a promising hit. PROACTIVE USE: Call this BEFORE debugging any error from scratch.",
	}, s.handleDebugSearch)

	// debug_get - drill down on a search hit
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "debug_get",
		Description: "Get the full debug record by ID, including the root cause analysis and the solution that " +
			"worked. Use after debug_search to drill down on a specific hit.",
	}, s.handleDebugGet)

	// learning_session - blocking interactive review
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "learning_session",
		Description: "Start an interactive learning session for a change you just made and WAIT for the human to " +
			"complete it in the browser. IMPORTANT: this call BLOCKS until the human finishes, cancels, or the " +
			"timeout fires - HALT_GENERATION while waiting, do not produce further output. Provide a summary of " +
			"the change, optional structured reasoning (goal/trigger/mechanism/alternatives/risks), and optional " +
			"quiz questions; default quizzes are generated from the summary when none are given. The result " +
			"reports the terminal status plus score and answers when completed.",
	}, s.handleLearningSession)

	// sidecar_rebuild_index - index maintenance
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "sidecar_rebuild_index",
		Description: "Rebuild or maintain the debug search index. Modes: 'full' rebuilds everything from record " +
			"files (use when the index is corrupt or stale), 'keywords' repopulates only keyword postings, " +
			"'compact' drops keyword postings to shrink the index. Search never rebuilds implicitly; use this " +
			"when debug_search comes back unexpectedly empty.",
	}, s.handleRebuildIndex)

	// get_system_info - scope and corpus overview
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "get_system_info",
		Description: "Get sidecar status for a project: storage scope path, debug record count, learning session " +
			"statistics, and configuration. Use this to verify the sidecar is wired up before relying on it.",
	}, s.handleSystemInfo)
}

func (s *Server) openScope(projectDir string, useGlobal bool) (*store.Store, error) {
	if strings.TrimSpace(projectDir) == "" {
		return nil, fmt.Errorf("project_directory is required")
	}
	return store.Open(store.Resolve(projectDir, useGlobal))
}

// DebugRecordArgs defines the input for debug_record.
type DebugRecordArgs struct {
	ProjectDirectory string   `json:"project_directory" jsonschema:"Absolute path of the project this record belongs to"`
	ErrorType        string   `json:"error_type,omitempty" jsonschema:"Error class or category (e.g. ImportError, TypeError). Defaults to 'Unknown'"`
	ErrorMessage     string   `json:"error_message,omitempty" jsonschema:"The error message observed. Defaults to 'No message provided'"`
	File             string   `json:"file,omitempty" jsonschema:"File where the error occurred"`
	Line             int      `json:"line,omitempty" jsonschema:"Line number where the error occurred"`
	Cause            string   `json:"cause,omitempty" jsonschema:"Root cause analysis - why the error happened"`
	Solution         string   `json:"solution,omitempty" jsonschema:"The fix that actually worked"`
	Tags             []string `json:"tags,omitempty" jsonschema:"Categorization tags (e.g. python, deps, ci)"`
	UseGlobal        bool     `json:"use_global,omitempty" jsonschema:"Store under the global scope instead of the project-local .sidecar directory"`
}

// DebugRecordResult is the output of debug_record.
type DebugRecordResult struct {
	RecordID string `json:"record_id"`
	Message  string `json:"message"`
}

func (s *Server) handleDebugRecord(ctx context.Context, req *mcp.CallToolRequest, args DebugRecordArgs) (*mcp.CallToolResult, any, error) {
	scope, err := s.openScope(args.ProjectDirectory, args.UseGlobal)
	if err != nil {
		return nil, nil, err
	}

	// Tolerant intake: agents often omit context fields mid-session, and a
	// partially described experience still beats a lost one.
	errorType := strings.TrimSpace(args.ErrorType)
	if errorType == "" {
		errorType = "Unknown"
	}
	errorMessage := strings.TrimSpace(args.ErrorMessage)
	if errorMessage == "" {
		errorMessage = "No message provided"
	}

	id, err := debug.NewStore(scope).Put(&record.DebugRecord{
		ErrorType:    errorType,
		ErrorMessage: errorMessage,
		File:         args.File,
		Line:         args.Line,
		Cause:        args.Cause,
		Solution:     args.Solution,
		Tags:         args.Tags,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to record debug experience: %w", err)
	}

	out := DebugRecordResult{
		RecordID: id,
		Message:  fmt.Sprintf("Debug experience recorded as %s. It is now searchable via debug_search.", id),
	}
	return nil, out, nil
}

// DebugSearchArgs defines the input for debug_search.
type DebugSearchArgs struct {
	ProjectDirectory string   `json:"project_directory" jsonschema:"Absolute path of the project to search"`
	Query            string   `json:"query,omitempty" jsonschema:"Free-text query (error message, keywords). Empty returns the most recent records"`
	ErrorType        string   `json:"error_type,omitempty" jsonschema:"Exact error type filter (e.g. ImportError)"`
	Tags             []string `json:"tags,omitempty" jsonschema:"Tag filter - a record matches if it carries any of these"`
	Limit            int      `json:"limit,omitempty" jsonschema:"Maximum results, clamped to 1-20 (default 5)"`
	UseGlobal        bool     `json:"use_global,omitempty" jsonschema:"Search the global scope instead of the project-local one"`
}

// DebugSearchResult is the output of debug_search.
type DebugSearchResult struct {
	Results []debug.Summary `json:"results"`
	Count   int             `json:"count"`
	Message string          `json:"message,omitempty"`
}

func (s *Server) handleDebugSearch(ctx context.Context, req *mcp.CallToolRequest, args DebugSearchArgs) (*mcp.CallToolResult, any, error) {
	scope, err := s.openScope(args.ProjectDirectory, args.UseGlobal)
	if err != nil {
		return nil, nil, err
	}

	results := retrieval.Search(debug.NewStore(scope), retrieval.Query{
		Text:      args.Query,
		ErrorType: args.ErrorType,
		Tags:      args.Tags,
		Limit:     args.Limit,
	}, scope.Config.Search.MinTokenLen)

	out := DebugSearchResult{
		Results: results,
		Count:   len(results),
	}
	if len(results) == 0 {
		out.Message = "No matching debug records. Try broader keywords, or sidecar_rebuild_index if records exist but search stays empty."
	} else {
		out.Message = "Summaries only - use debug_get with a record id to read the cause and solution."
	}
	return nil, out, nil
}

// DebugGetArgs defines the input for debug_get.
type DebugGetArgs struct {
	ProjectDirectory string `json:"project_directory" jsonschema:"Absolute path of the project"`
	RecordID         string `json:"record_id" jsonschema:"The record id from a debug_search result"`
	UseGlobal        bool   `json:"use_global,omitempty" jsonschema:"Read from the global scope instead of the project-local one"`
}

func (s *Server) handleDebugGet(ctx context.Context, req *mcp.CallToolRequest, args DebugGetArgs) (*mcp.CallToolResult, any, error) {
	if args.RecordID == "" {
		return nil, nil, fmt.Errorf("record_id is required")
	}
	scope, err := s.openScope(args.ProjectDirectory, args.UseGlobal)
	if err != nil {
		return nil, nil, err
	}

	rec, err := debug.NewStore(scope).Get(args.RecordID)
	if err != nil {
		return nil, nil, fmt.Errorf("record not found: %w", err)
	}
	return nil, rec, nil
}

// ReasoningArgs mirrors the structured reasoning block on a session.
type ReasoningArgs struct {
	Goal         string `json:"goal,omitempty" jsonschema:"What the change was trying to achieve"`
	Trigger      string `json:"trigger,omitempty" jsonschema:"What prompted the change"`
	Mechanism    string `json:"mechanism,omitempty" jsonschema:"How the change works"`
	Alternatives string `json:"alternatives,omitempty" jsonschema:"Other approaches considered"`
	Risks        string `json:"risks,omitempty" jsonschema:"Known risks or tradeoffs"`
}

// QuizArgs is one supplied quiz question.
type QuizArgs struct {
	Question    string   `json:"question" jsonschema:"The question text"`
	Options     []string `json:"options" jsonschema:"Exactly 4 answer options"`
	Answer      string   `json:"answer" jsonschema:"The correct option label (e.g. 'B')"`
	Explanation string   `json:"explanation,omitempty" jsonschema:"Why the answer is correct"`
}

// LearningSessionArgs defines the input for learning_session.
type LearningSessionArgs struct {
	ProjectDirectory string         `json:"project_directory" jsonschema:"Absolute path of the project"`
	Summary          string         `json:"summary" jsonschema:"Summary of the change the human should review"`
	Reasoning        *ReasoningArgs `json:"reasoning,omitempty" jsonschema:"Structured reasoning behind the change"`
	Quizzes          []QuizArgs     `json:"quizzes,omitempty" jsonschema:"Quiz questions. Omit to generate defaults from the summary"`
	FocusAreas       []string       `json:"focus_areas,omitempty" jsonschema:"Review focus: logic, security, performance, architecture, syntax"`
	TimeoutSeconds   int            `json:"timeout_seconds,omitempty" jsonschema:"How long to wait for the human, clamped to 60-7200 (default 600)"`
	UseGlobal        bool           `json:"use_global,omitempty" jsonschema:"Store under the global scope instead of the project-local one"`
}

// LearningSessionResult is the terminal outcome of learning_session.
type LearningSessionResult struct {
	SessionID string   `json:"session_id"`
	Status    string   `json:"status"`
	Score     *int     `json:"score,omitempty"`
	Answers   []string `json:"answers,omitempty"`
	Message   string   `json:"message"`
}

func (s *Server) handleLearningSession(ctx context.Context, req *mcp.CallToolRequest, args LearningSessionArgs) (*mcp.CallToolResult, any, error) {
	scope, err := s.openScope(args.ProjectDirectory, args.UseGlobal)
	if err != nil {
		return nil, nil, err
	}

	sess := &record.LearningSession{
		Summary:        args.Summary,
		FocusAreas:     args.FocusAreas,
		TimeoutSeconds: args.TimeoutSeconds,
	}
	if args.Reasoning != nil {
		sess.Reasoning = quiz.NormalizeReasoning(&record.Reasoning{
			Goal:         args.Reasoning.Goal,
			Trigger:      args.Reasoning.Trigger,
			Mechanism:    args.Reasoning.Mechanism,
			Alternatives: args.Reasoning.Alternatives,
			Risks:        args.Reasoning.Risks,
		})
	}
	for _, q := range args.Quizzes {
		sess.Quizzes = append(sess.Quizzes, record.Quiz{
			Question:    q.Question,
			Options:     q.Options,
			Answer:      q.Answer,
			Explanation: q.Explanation,
		})
	}
	if len(sess.Quizzes) == 0 {
		sess.Quizzes = quiz.Defaults(args.Summary)
	}

	coord := s.registry.For(scope)
	id, err := coord.Create(sess)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create learning session: %w", err)
	}

	done, err := coord.AwaitCompletion(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("wait for session %s interrupted: %w", id, err)
	}

	out := LearningSessionResult{
		SessionID: done.ID,
		Status:    string(done.Status),
	}
	switch done.Status {
	case record.StatusCompleted:
		out.Score = done.Score
		out.Answers = done.Answers
		out.Message = fmt.Sprintf("Learning session completed with score %d/%d.", scoreOf(done), len(done.Quizzes))
	case record.StatusCancelled:
		out.Message = "Learning session was cancelled by the human."
	case record.StatusTimedOut:
		out.Message = fmt.Sprintf("Learning session timed out after %d seconds without completion.", done.TimeoutSeconds)
	}
	return nil, out, nil
}

func scoreOf(sess *record.LearningSession) int {
	if sess.Score == nil {
		return 0
	}
	return *sess.Score
}

// RebuildIndexArgs defines the input for sidecar_rebuild_index.
type RebuildIndexArgs struct {
	ProjectDirectory string `json:"project_directory" jsonschema:"Absolute path of the project"`
	Mode             string `json:"mode,omitempty" jsonschema:"'full' (default), 'keywords', or 'compact'"`
	UseGlobal        bool   `json:"use_global,omitempty" jsonschema:"Operate on the global scope instead of the project-local one"`
}

// RebuildIndexResult is the output of sidecar_rebuild_index.
type RebuildIndexResult struct {
	Mode    string `json:"mode"`
	Stats   any    `json:"stats"`
	Message string `json:"message"`
}

func (s *Server) handleRebuildIndex(ctx context.Context, req *mcp.CallToolRequest, args RebuildIndexArgs) (*mcp.CallToolResult, any, error) {
	scope, err := s.openScope(args.ProjectDirectory, args.UseGlobal)
	if err != nil {
		return nil, nil, err
	}
	ds := debug.NewStore(scope)

	mode := args.Mode
	if mode == "" {
		mode = "full"
	}
	out := RebuildIndexResult{Mode: mode}
	switch mode {
	case "full":
		stats, err := ds.RebuildIndex()
		if err != nil {
			return nil, nil, fmt.Errorf("rebuild failed: %w", err)
		}
		out.Stats = stats
		out.Message = fmt.Sprintf("Index rebuilt from %d record files (%d unreadable).", stats.Records, stats.Errors)
	case "keywords":
		n, err := ds.RebuildKeywords()
		if err != nil {
			return nil, nil, fmt.Errorf("keyword rebuild failed: %w", err)
		}
		out.Stats = map[string]int{"keywords": n}
		out.Message = fmt.Sprintf("Keyword postings rebuilt: %d keywords.", n)
	case "compact":
		stats, err := ds.CompactIndex()
		if err != nil {
			return nil, nil, fmt.Errorf("compact failed: %w", err)
		}
		out.Stats = stats
		out.Message = fmt.Sprintf("Index compacted: %d keyword postings removed, %d records kept.", stats.KeywordsRemoved, stats.RecordsKept)
	default:
		return nil, nil, fmt.Errorf("unknown mode %q: use 'full', 'keywords', or 'compact'", mode)
	}
	return nil, out, nil
}

// SystemInfoArgs defines the input for get_system_info.
type SystemInfoArgs struct {
	ProjectDirectory string `json:"project_directory" jsonschema:"Absolute path of the project"`
	UseGlobal        bool   `json:"use_global,omitempty" jsonschema:"Inspect the global scope instead of the project-local one"`
}

// SystemInfoResult is the output of get_system_info.
type SystemInfoResult struct {
	Version           string              `json:"version"`
	ScopeRoot         string              `json:"scope_root"`
	DebugRecords      int                 `json:"debug_records"`
	SessionStatistics learning.Statistics `json:"session_statistics"`
	WebAddr           string              `json:"web_addr,omitempty"`
	Config            store.Config        `json:"config"`
}

func (s *Server) handleSystemInfo(ctx context.Context, req *mcp.CallToolRequest, args SystemInfoArgs) (*mcp.CallToolResult, any, error) {
	scope, err := s.openScope(args.ProjectDirectory, args.UseGlobal)
	if err != nil {
		return nil, nil, err
	}

	out := SystemInfoResult{
		Version:           s.version,
		ScopeRoot:         scope.Root,
		DebugRecords:      debug.NewStore(scope).Count(),
		SessionStatistics: learning.NewStorage(scope).GetStatistics(),
		WebAddr:           s.webAddr,
		Config:            scope.Config,
	}
	return nil, out, nil
}
