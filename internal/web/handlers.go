package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mailflow/mailflow/internal/engine"
	"github.com/mailflow/mailflow/internal/store"
)

// APIError is the JSON error envelope.
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail carries the machine code and human message of an error.
type APIErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// executionResponse is the JSON shape of one workflow execution.
type executionResponse struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`
	Status      string `json:"status"`
	TriggerData string `json:"trigger_data,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func executionJSON(exec store.WorkflowExecution) executionResponse {
	return executionResponse{
		ID:          exec.ID,
		WorkspaceID: exec.WorkspaceID,
		UserID:      exec.UserID,
		Status:      string(exec.Status),
		TriggerData: exec.TriggerData,
		CreatedAt:   exec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("Response encoding failed", "err", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(
	w http.ResponseWriter, status int, code, message string,
) {

	s.writeJSON(w, status, APIError{
		Error: APIErrorDetail{Code: code, Message: message},
	})
}

// writeEngineError maps engine errors onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var valErr *engine.ValidationError

	switch {
	case errors.As(err, &valErr):
		s.writeError(
			w, http.StatusBadRequest, "invalid_pipeline",
			valErr.Reason,
		)

	case errors.Is(err, engine.ErrAlreadyRunning):
		s.writeError(
			w, http.StatusConflict, "already_running",
			err.Error(),
		)

	case errors.Is(err, engine.ErrNothingToStop):
		s.writeError(
			w, http.StatusConflict, "nothing_to_stop",
			err.Error(),
		)

	default:
		s.writeError(
			w, http.StatusInternalServerError, "internal",
			err.Error(),
		)
	}
}

// userID extracts the acting user from the request. The workflow API is
// fronted by an authenticating proxy that injects the user ID.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}

	return r.URL.Query().Get("user_id")
}

// handleHealth handles GET /api/v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleLaunch handles POST /api/v1/workflows/{workspace}/launch.
func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspace")
	user := userID(r)
	if user == "" {
		s.writeError(
			w, http.StatusBadRequest, "missing_user",
			"user_id is required",
		)

		return
	}

	exec, err := s.engine.Launch(r.Context(), workspaceID, user)
	if err != nil {
		s.writeEngineError(w, err)

		return
	}

	s.writeJSON(w, http.StatusCreated, executionJSON(exec))
}

// handleStop handles POST /api/v1/workflows/{workspace}/stop.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspace")
	user := userID(r)
	if user == "" {
		s.writeError(
			w, http.StatusBadRequest, "missing_user",
			"user_id is required",
		)

		return
	}

	exec, err := s.engine.Stop(r.Context(), workspaceID, user)
	if err != nil {
		s.writeEngineError(w, err)

		return
	}

	// Stop pauses the scope's single active execution.
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":        string(exec.Status),
		"stopped_count": 1,
		"execution":     executionJSON(exec),
	})
}

// handleStatus handles GET /api/v1/workflows/{workspace}/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspace")
	user := userID(r)

	scope, err := s.engine.Status(r.Context(), workspaceID, user)
	if err != nil {
		s.writeEngineError(w, err)

		return
	}

	resp := map[string]any{"status": "idle"}
	if scope.Execution.IsSome() {
		exec := scope.Execution.UnwrapOr(store.WorkflowExecution{})
		resp["status"] = "active"
		resp["execution"] = executionJSON(exec)
	}

	// A watch expiry in the past means no push events will arrive for
	// this scope until the watch is renewed.
	if scope.WatchExpiry.IsSome() {
		resp["watch_expiry"] = scope.WatchExpiry.
			UnwrapOr(time.Time{}).UTC().Format(time.RFC3339)
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleExecutions handles GET /api/v1/workflows/{workspace}/executions.
func (s *Server) handleExecutions(
	w http.ResponseWriter, r *http.Request,
) {

	workspaceID := r.PathValue("workspace")
	user := userID(r)

	execs, err := s.engine.History(r.Context(), workspaceID, user)
	if err != nil {
		s.writeEngineError(w, err)

		return
	}

	out := make([]executionResponse, 0, len(execs))
	for _, exec := range execs {
		out = append(out, executionJSON(exec))
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"executions": out})
}

// blockPayload is the JSON shape of one pipeline block in the editor
// sync payload.
type blockPayload struct {
	BlockID           string `json:"block_id"`
	Type              string `json:"type"`
	Title             string `json:"title"`
	Position          int    `json:"position"`
	ParentConditionID string `json:"parent_condition_id,omitempty"`
}

// handleReplaceBlocks handles PUT /api/v1/workspaces/{workspace}/blocks,
// the editor's pipeline sync.
func (s *Server) handleReplaceBlocks(
	w http.ResponseWriter, r *http.Request,
) {

	workspaceID := r.PathValue("workspace")

	var payload struct {
		Blocks []blockPayload `json:"blocks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(
			w, http.StatusBadRequest, "invalid_body", err.Error(),
		)

		return
	}

	rows := make([]store.PipelineBlock, 0, len(payload.Blocks))
	for _, blk := range payload.Blocks {
		rows = append(rows, store.PipelineBlock{
			BlockID:           blk.BlockID,
			WorkspaceID:       workspaceID,
			Type:              blk.Type,
			Title:             blk.Title,
			Position:          blk.Position,
			ParentConditionID: blk.ParentConditionID,
		})
	}

	if err := s.store.ReplaceBlocks(
		r.Context(), workspaceID, rows,
	); err != nil {
		s.writeError(
			w, http.StatusInternalServerError, "internal",
			err.Error(),
		)

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"count": len(rows),
	})
}

// handleListBlocks handles GET /api/v1/workspaces/{workspace}/blocks.
func (s *Server) handleListBlocks(
	w http.ResponseWriter, r *http.Request,
) {

	workspaceID := r.PathValue("workspace")

	rows, err := s.store.ListBlocks(r.Context(), workspaceID)
	if err != nil {
		s.writeError(
			w, http.StatusInternalServerError, "internal",
			err.Error(),
		)

		return
	}

	out := make([]blockPayload, 0, len(rows))
	for _, blk := range rows {
		out = append(out, blockPayload{
			BlockID:           blk.BlockID,
			Type:              blk.Type,
			Title:             blk.Title,
			Position:          blk.Position,
			ParentConditionID: blk.ParentConditionID,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"blocks": out})
}

// handleGetBlockConfig handles
// GET /api/v1/workspaces/{workspace}/blocks/{block}/config.
func (s *Server) handleGetBlockConfig(
	w http.ResponseWriter, r *http.Request,
) {

	workspaceID := r.PathValue("workspace")
	blockID := r.PathValue("block")

	cfg, err := s.store.GetBlockConfig(r.Context(), workspaceID, blockID)
	switch {
	case errors.Is(err, store.ErrBlockConfigNotFound):
		s.writeError(
			w, http.StatusNotFound, "not_found",
			"no config stored for block",
		)

		return

	case err != nil:
		s.writeError(
			w, http.StatusInternalServerError, "internal",
			err.Error(),
		)

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"block_id": cfg.BlockID,
		"config":   json.RawMessage(cfg.ConfigJSON),
	})
}

// handleSetBlockConfig handles
// PUT /api/v1/workspaces/{workspace}/blocks/{block}/config.
func (s *Server) handleSetBlockConfig(
	w http.ResponseWriter, r *http.Request,
) {

	workspaceID := r.PathValue("workspace")
	blockID := r.PathValue("block")

	var payload struct {
		Config json.RawMessage `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(
			w, http.StatusBadRequest, "invalid_body", err.Error(),
		)

		return
	}
	if len(payload.Config) == 0 {
		payload.Config = json.RawMessage("{}")
	}

	err := s.store.SetBlockConfig(r.Context(), store.BlockConfig{
		WorkspaceID: workspaceID,
		BlockID:     blockID,
		ConfigJSON:  string(payload.Config),
	})
	if err != nil {
		s.writeError(
			w, http.StatusInternalServerError, "internal",
			err.Error(),
		)

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"block_id": blockID,
	})
}
