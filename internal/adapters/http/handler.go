package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PabloGalante/farum-tasks/internal/app/conversation"
	"github.com/PabloGalante/farum-tasks/internal/app/extract"
	"github.com/PabloGalante/farum-tasks/internal/domain"
	"github.com/PabloGalante/farum-tasks/internal/observability"
)

type Server struct {
	pool *conversation.Pool
}

func NewServer(pool *conversation.Pool) http.Handler {
	s := &Server{pool: pool}
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)

	// /history → DELETE: clear every project's transcript for the owner
	mux.HandleFunc("/history", s.handleAllHistory)

	// /projects/{id}                      → PUT
	// /projects/{id}/turns                → POST
	// /projects/{id}/ask                  → POST
	// /projects/{id}/history              → GET, DELETE
	// /projects/{id}/tasks                → GET, POST, DELETE
	// /projects/{id}/tasks/confirm        → POST
	// /projects/{id}/tasks/order          → POST
	// /projects/{id}/tasks/{taskID}       → PATCH, DELETE
	// /projects/{id}/tasks/{taskID}/toggle → POST
	mux.HandleFunc("/projects/", s.handleProject)

	return chainMiddlewares(mux, withLogging, withRequestID, withCORS)
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type projectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type turnRequest struct {
	Text   string   `json:"text"`
	Hidden bool     `json:"hidden,omitempty"`
	Refs   []string `json:"refs,omitempty"`
}

type messageResponse struct {
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

type candidateDTO struct {
	Title    string  `json:"title"`
	Deadline *string `json:"deadline,omitempty"`
	Risk     string  `json:"risk,omitempty"`
}

type taskResponse struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	ProjectID string  `json:"project_id"`
	CreatedAt string  `json:"created_at"`
	Deadline  *string `json:"deadline"`
	Completed bool    `json:"completed"`
	Position  int     `json:"position"`
	Risk      string  `json:"risk"`
}

type commandResponse struct {
	Action   string         `json:"action"`
	Affected []taskResponse `json:"affected"`
	Failures []string       `json:"failures,omitempty"`
	Message  string         `json:"message"`
}

type turnResponse struct {
	ID          string            `json:"id"`
	ProjectID   string            `json:"project_id"`
	State       string            `json:"state"`
	Trace       []string          `json:"trace"`
	UserMessage *messageResponse  `json:"user_message,omitempty"`
	Reply       *messageResponse  `json:"reply,omitempty"`
	Notices     []messageResponse `json:"notices,omitempty"`
	Candidates  []candidateDTO    `json:"candidates"`
	Command     *commandResponse  `json:"command,omitempty"`
	Unresolved  []string          `json:"unresolved,omitempty"`
	Error       string            `json:"error,omitempty"`
}

type createTaskRequest struct {
	Title    string  `json:"title"`
	Deadline *string `json:"deadline,omitempty"`
}

type patchTaskRequest struct {
	Title     *string         `json:"title,omitempty"`
	Deadline  json.RawMessage `json:"deadline,omitempty"`
	Completed *bool           `json:"completed,omitempty"`
}

type confirmRequest struct {
	Candidates []candidateDTO `json:"candidates"`
}

type batchResponse struct {
	Created  []taskResponse `json:"created"`
	Failures []failureDTO   `json:"failures"`
}

type failureDTO struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	Error string `json:"error"`
}

type orderRequest struct {
	Order []string `json:"order"`
}

// ─────────────────────────────────────────────
// Basic routing
// ─────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAllHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	svc, ok := s.service(w, r)
	if !ok {
		return
	}
	if err := svc.ClearAllHistory(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/projects/"), "/")
	parts := strings.Split(path, "/")
	if path == "" || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	svc, ok := s.service(w, r)
	if !ok {
		return
	}
	projectID := domain.ProjectID(parts[0])

	switch {
	case len(parts) == 1:
		s.route(w, r, map[string]func(){
			http.MethodPut: func() { s.handleSaveProject(w, r, svc, projectID) },
		})
	case len(parts) == 2 && parts[1] == "turns":
		s.route(w, r, map[string]func(){
			http.MethodPost: func() { s.handleTurn(w, r, svc, projectID) },
		})
	case len(parts) == 2 && parts[1] == "ask":
		s.route(w, r, map[string]func(){
			http.MethodPost: func() { s.handleAsk(w, r, svc, projectID) },
		})
	case len(parts) == 2 && parts[1] == "history":
		s.route(w, r, map[string]func(){
			http.MethodGet:    func() { s.handleGetHistory(w, r, svc, projectID) },
			http.MethodDelete: func() { s.handleClearHistory(w, r, svc, projectID) },
		})
	case len(parts) == 2 && parts[1] == "tasks":
		s.route(w, r, map[string]func(){
			http.MethodGet:    func() { s.handleListTasks(w, r, svc, projectID) },
			http.MethodPost:   func() { s.handleCreateTask(w, r, svc, projectID) },
			http.MethodDelete: func() { s.handleDeleteAllTasks(w, r, svc, projectID) },
		})
	case len(parts) == 3 && parts[1] == "tasks" && parts[2] == "confirm":
		s.route(w, r, map[string]func(){
			http.MethodPost: func() { s.handleConfirm(w, r, svc, projectID) },
		})
	case len(parts) == 3 && parts[1] == "tasks" && parts[2] == "order":
		s.route(w, r, map[string]func(){
			http.MethodPost: func() { s.handleReorder(w, r, svc, projectID) },
		})
	case len(parts) == 3 && parts[1] == "tasks":
		taskID := domain.TaskID(parts[2])
		s.route(w, r, map[string]func(){
			http.MethodPatch:  func() { s.handlePatchTask(w, r, svc, projectID, taskID) },
			http.MethodDelete: func() { s.handleDeleteTask(w, r, svc, projectID, taskID) },
		})
	case len(parts) == 4 && parts[1] == "tasks" && parts[3] == "toggle":
		taskID := domain.TaskID(parts[2])
		s.route(w, r, map[string]func(){
			http.MethodPost: func() { s.handleToggleTask(w, r, svc, projectID, taskID) },
		})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) route(w http.ResponseWriter, r *http.Request, handlers map[string]func()) {
	h, ok := handlers[r.Method]
	if !ok {
		methodNotAllowed(w)
		return
	}
	h()
}

// service resolves the owner from X-User-Email or the user_email query parameter.
func (s *Server) service(w http.ResponseWriter, r *http.Request) (*conversation.Service, bool) {
	owner := r.Header.Get("X-User-Email")
	if owner == "" {
		owner = r.URL.Query().Get("user_email")
	}
	svc, err := s.pool.For(domain.OwnerEmail(owner))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return svc, true
}

// ─────────────────────────────────────────────
// Concrete handlers
// ─────────────────────────────────────────────

func (s *Server) handleSaveProject(w http.ResponseWriter, r *http.Request, svc *conversation.Service, id domain.ProjectID) {
	var req projectRequest
	if !decode(w, r, &req) {
		return
	}
	p := domain.Project{ID: id, Name: req.Name, Description: req.Description}
	if err := svc.SaveProject(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request, svc *conversation.Service, id domain.ProjectID) {
	var req turnRequest
	if !decode(w, r, &req) {
		return
	}
	refs := make([]domain.TaskID, len(req.Refs))
	for i, ref := range req.Refs {
		refs[i] = domain.TaskID(ref)
	}

	res, err := svc.SendTurn(r.Context(), id, req.Text, conversation.TurnOptions{Hidden: req.Hidden, Refs: refs})
	s.writeTurn(w, r, svc, res, err)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request, svc *conversation.Service, id domain.ProjectID) {
	res, err := svc.AskProject(r.Context(), id)
	s.writeTurn(w, r, svc, res, err)
}

// writeTurn returns the turn body even when the turn ended in error.
func (s *Server) writeTurn(w http.ResponseWriter, r *http.Request, svc *conversation.Service, res *conversation.TurnResult, err error) {
	if res == nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	writeJSON(w, status, toTurnResponse(svc, res))
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request, svc *conversation.Service, id domain.ProjectID) {
	msgs, err := svc.History(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": toMessagesResponse(msgs)})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request, svc *conversation.Service, id domain.ProjectID) {
	if err := svc.ClearHistory(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request, svc *conversation.Service, id domain.ProjectID) {
	var (
		list []domain.Task
		err  error
	)
	if r.URL.Query().Get("reload") == "true" {
		list, err = svc.ReloadTasks(r.Context(), id)
	} else {
		list, err = svc.Tasks(r.Context(), id)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks":   toTasksResponse(svc, list),
		"pending": toCandidatesDTO(svc, svc.PendingCandidates(id)),
	})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request, svc *conversation.Service, id domain.ProjectID) {
	var req createTaskRequest
	if !decode(w, r, &req) {
		return
	}
	deadline, ok := parseDeadline(w, req.Deadline)
	if !ok {
		return
	}
	t, err := svc.CreateTask(r.Context(), id, req.Title, deadline)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaskResponse(svc, *t))
}

func (s *Server) handleDeleteAllTasks(w http.ResponseWriter, r *http.Request, svc *conversation.Service, id domain.ProjectID) {
	if err := svc.DeleteAllTasks(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request, svc *conversation.Service, id domain.ProjectID) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid JSON body")
		return
	}
	candidates := make([]domain.TaskCandidate, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		deadline, ok := parseDeadline(w, c.Deadline)
		if !ok {
			return
		}
		candidates = append(candidates, domain.TaskCandidate{Title: c.Title, Deadline: deadline})
	}

	result, err := svc.ConfirmExtractedTasks(r.Context(), id, candidates)
	if err != nil && result.SuccessCount() == 0 && len(result.Failures) == 0 {
		writeError(w, r, err)
		return
	}

	resp := batchResponse{
		Created:  toTasksResponse(svc, result.Created),
		Failures: make([]failureDTO, 0, len(result.Failures)),
	}
	for _, f := range result.Failures {
		resp.Failures = append(resp.Failures, failureDTO{Index: f.Index, Title: f.Title, Error: f.Err.Error()})
	}

	status := http.StatusCreated
	switch {
	case err != nil:
		status = statusFor(err)
	case result.Partial():
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request, svc *conversation.Service, id domain.ProjectID) {
	var req orderRequest
	if !decode(w, r, &req) {
		return
	}
	order := make([]domain.TaskID, len(req.Order))
	for i, tid := range req.Order {
		order[i] = domain.TaskID(tid)
	}
	list, err := svc.ReorderTasks(r.Context(), id, order)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": toTasksResponse(svc, list)})
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request, svc *conversation.Service, id domain.ProjectID, taskID domain.TaskID) {
	var req patchTaskRequest
	if !decode(w, r, &req) {
		return
	}
	patch := domain.TaskPatch{Title: req.Title, Completed: req.Completed}
	if len(req.Deadline) > 0 {
		var raw *string
		if err := json.Unmarshal(req.Deadline, &raw); err != nil {
			badRequest(w, "deadline must be a string or null")
			return
		}
		deadline, ok := parseDeadline(w, raw)
		if !ok {
			return
		}
		patch.SetDeadline = true
		patch.Deadline = deadline
	}
	if patch.IsEmpty() {
		badRequest(w, "nothing to update")
		return
	}

	t, err := svc.UpdateTask(r.Context(), id, taskID, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(svc, t))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request, svc *conversation.Service, id domain.ProjectID, taskID domain.TaskID) {
	if err := svc.DeleteTask(r.Context(), id, taskID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleTask(w http.ResponseWriter, r *http.Request, svc *conversation.Service, id domain.ProjectID, taskID domain.TaskID) {
	t, err := svc.ToggleTask(r.Context(), id, taskID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(svc, t))
}

// ─────────────────────────────────────────────
// Conversation Helpers
// ─────────────────────────────────────────────

func toMessageResponse(m domain.Message) messageResponse {
	return messageResponse{
		Sender:    string(m.Sender),
		Text:      m.Text,
		Timestamp: domain.FormatTimestamp(m.Timestamp),
	}
}

func toMessagesResponse(msgs []domain.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return out
}

func toTaskResponse(svc *conversation.Service, t domain.Task) taskResponse {
	return taskResponse{
		ID:        string(t.ID),
		Title:     t.Title,
		ProjectID: string(t.ProjectID),
		CreatedAt: domain.FormatTimestamp(t.CreatedAt),
		Deadline:  domain.FormatDeadline(t.Deadline),
		Completed: t.Completed,
		Position:  t.Position,
		Risk:      string(svc.ClassifyRisk(t)),
	}
}

func toTasksResponse(svc *conversation.Service, list []domain.Task) []taskResponse {
	out := make([]taskResponse, 0, len(list))
	for _, t := range list {
		out = append(out, toTaskResponse(svc, t))
	}
	return out
}

func toCandidatesDTO(svc *conversation.Service, cs []domain.TaskCandidate) []candidateDTO {
	out := make([]candidateDTO, 0, len(cs))
	for _, c := range cs {
		out = append(out, candidateDTO{
			Title:    c.Title,
			Deadline: domain.FormatDeadline(c.Deadline),
			Risk:     string(svc.ClassifyRisk(domain.Task{Deadline: c.Deadline})),
		})
	}
	return out
}

func toTurnResponse(svc *conversation.Service, res *conversation.TurnResult) turnResponse {
	out := turnResponse{
		ID:         res.ID,
		ProjectID:  string(res.ProjectID),
		State:      string(res.State),
		Trace:      make([]string, 0, len(res.Trace)),
		Notices:    toMessagesResponse(res.Notices),
		Candidates: toCandidatesDTO(svc, res.Candidates),
	}
	for _, st := range res.Trace {
		out.Trace = append(out.Trace, string(st))
	}
	if res.UserMessage != nil {
		m := toMessageResponse(*res.UserMessage)
		out.UserMessage = &m
	}
	if res.Reply != nil {
		m := toMessageResponse(*res.Reply)
		out.Reply = &m
	}
	if res.Command != nil {
		cmd := &commandResponse{
			Action:   string(res.Command.Action),
			Affected: toTasksResponse(svc, res.Command.Affected),
			Message:  res.Command.Message,
		}
		for _, f := range res.Command.Failures {
			cmd.Failures = append(cmd.Failures, f.Task.Title+": "+f.Err.Error())
		}
		out.Command = cmd
	}
	for _, u := range res.Unresolved {
		out.Unresolved = append(out.Unresolved, u.Ref)
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

// parseDeadline accepts an ISO-8601 timestamp or a plain YYYY-MM-DD date.
func parseDeadline(w http.ResponseWriter, raw *string) (*time.Time, bool) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, true
	}
	v := strings.TrimSpace(*raw)
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return &t, true
	}
	if d := extract.ParseDate(v); d != nil {
		return d, true
	}
	badRequest(w, "deadline must be an ISO-8601 timestamp or YYYY-MM-DD")
	return nil, false
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid JSON body")
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsNetwork(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		observability.LoggerFromContext(r.Context()).Error("request failed", zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": msg,
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
		"error": "method not allowed",
	})
}
