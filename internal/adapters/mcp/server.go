// Package mcpadapter exposes one query session as MCP tools over stdio.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/corpus-router/internal/core/domain"
	"github.com/kirillkom/corpus-router/internal/core/ports"
	"github.com/kirillkom/corpus-router/internal/core/stream"
)

const (
	ToolAskCorpus   = "ask_corpus"
	ToolSetModel    = "set_model"
	ToolListModels  = "list_models"
	serverName      = "corpus-router"
	questionArg     = "question"
	settingArg      = "setting"
	modelArg        = "model"
	pipelineHeading = "pipeline: "
)

// Server owns a single session for the lifetime of the MCP connection.
type Server struct {
	sessions  ports.SessionService
	sessionID string
	logger    *slog.Logger
	mcp       *server.MCPServer
}

func New(ctx context.Context, sessions ports.SessionService, version string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	info, err := sessions.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	s := &Server{
		sessions:  sessions,
		sessionID: info.ID,
		logger:    logger,
		mcp: server.NewMCPServer(serverName, version,
			server.WithToolCapabilities(false),
			server.WithInstructions(info.Greeting),
		),
	}

	s.mcp.AddTool(mcp.NewTool(ToolAskCorpus,
		mcp.WithDescription("Answer a question about the loaded documents. Broad questions are summarized over the whole corpus, specific ones use the two most relevant passages."),
		mcp.WithString(questionArg, mcp.Required(), mcp.Description("Question about the corpus")),
	), s.askCorpus)

	s.mcp.AddTool(mcp.NewTool(ToolSetModel,
		mcp.WithDescription("Change the model behind one session setting."),
		mcp.WithString(settingArg, mcp.Required(), mcp.Enum(domain.SettingLLM, domain.SettingRouterLLM, domain.SettingEmbeddingModel)),
		mcp.WithString(modelArg, mcp.Required(), mcp.Description("Model identifier from list_models")),
	), s.setModel)

	s.mcp.AddTool(mcp.NewTool(ToolListModels,
		mcp.WithDescription("List the model identifiers each setting accepts."),
	), s.listModels)

	return s, nil
}

// ServeStdio blocks until stdin closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) Close() error {
	return s.sessions.Close(s.sessionID)
}

func (s *Server) askCorpus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString(questionArg)
	if err != nil || strings.TrimSpace(question) == "" {
		return mcp.NewToolResultError("question is required"), nil
	}

	answer, err := s.sessions.Query(ctx, s.sessionID, question)
	if err != nil {
		if domain.IsKind(err, domain.ErrSelectionFailed) {
			return mcp.NewToolResultError(domain.ErrSelectionFailed.Error()), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := stream.Collect(answer.Stream)
	if err != nil {
		s.logger.Warn("mcp_answer_failed", "pipeline", answer.Decision.Pipeline, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("answer interrupted: %v", err)), nil
	}

	s.logger.Info("mcp_answer", "pipeline", answer.Decision.Pipeline, "fallback", answer.Decision.Fallback)
	return mcp.NewToolResultText(pipelineHeading + string(answer.Decision.Pipeline) + "\n\n" + text), nil
}

func (s *Server) setModel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	setting, err := req.RequireString(settingArg)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	model, err := req.RequireString(modelArg)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	update, err := s.sessions.UpdateSettings(ctx, s.sessionID, map[string]string{setting: model})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(update.Notice), nil
}

func (s *Server) listModels(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(s.sessions.Catalog(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal catalog: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
