package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/n0madic/go-claudebridge/internal/config"
	"github.com/n0madic/go-claudebridge/internal/models"
	"github.com/n0madic/go-claudebridge/internal/session"
	"github.com/n0madic/go-claudebridge/internal/types"
)

// handleChatCompletions handles POST /v1/chat/completions.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req types.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "Invalid JSON body")
		return
	}
	if len(req.Messages) == 0 {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}

	if _, known, hint := s.Catalog.Resolve(req.Model); !known {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error",
			fmt.Sprintf("model %q is not available via this endpoint; available models: %s", req.Model, hint))
		return
	}
	model := req.Model
	if model == "" {
		model = models.PipeModelID
	}

	prefs, err := session.Resolve(s.Preferences, r.Header)
	if err != nil {
		writeError(w, err)
		return
	}

	// OpenAI clients omit stream when they want a single response.
	if req.Stream != nil && *req.Stream {
		s.streamChat(w, r, &req, prefs, model)
		return
	}

	res, err := s.Pipe.Complete(r.Context(), &req, prefs)
	if err != nil {
		if r.Context().Err() != nil {
			slog.Info("chat.client_gone", "error", err)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ChatCompletionResponse{
		ID:      "chatcmpl-" + res.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []types.ChatChoice{{
			Index:        0,
			Message:      types.ChatResponseMsg{Role: "assistant", Content: res.Document},
			FinishReason: finishReason(res.StopReason),
		}},
		Usage: types.UsageFromAnthropic(&res.Usage),
	})
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req *types.ChatCompletionRequest, prefs config.Preferences, model string) {
	cw, ok := newChunkWriter(w, model)
	if !ok {
		writeOpenAIError(w, http.StatusInternalServerError, "server_error", "streaming unsupported")
		return
	}
	for fragment := range s.Pipe.Stream(r.Context(), req, prefs, cw) {
		if !cw.content(fragment) {
			break
		}
	}
	cw.finish(req.StreamOptions != nil && req.StreamOptions.IncludeUsage)
}

// handleListModels handles GET /v1/models.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Catalog.List())
}
