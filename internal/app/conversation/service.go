// Package conversation runs conversational turns for one owner: it assembles
// the context, calls the completion service, extracts task candidates and
// stages them for confirmation.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PabloGalante/farum-tasks/internal/app/assembler"
	"github.com/PabloGalante/farum-tasks/internal/app/extract"
	"github.com/PabloGalante/farum-tasks/internal/app/history"
	"github.com/PabloGalante/farum-tasks/internal/app/risk"
	"github.com/PabloGalante/farum-tasks/internal/app/tasksync"
	"github.com/PabloGalante/farum-tasks/internal/domain"
	"github.com/PabloGalante/farum-tasks/internal/observability"
	"github.com/PabloGalante/farum-tasks/internal/syncx"
)

// Deps are the collaborators shared by every owner's service.
type Deps struct {
	LLM      domain.CompletionClient
	Tasks    domain.TaskStore
	ChatLog  domain.ChatLogStore
	Projects domain.ProjectStore
	Parser   extract.Parser

	MaxSuggestedTasks int
	BatchConcurrency  int
}

type Service struct {
	owner     domain.OwnerEmail
	llm       domain.CompletionClient
	projects  domain.ProjectStore
	history   *history.Store
	tasks     *tasksync.Synchronizer
	assembler *assembler.Assembler
	parser    extract.Parser
	turns     *syncx.KeyedMutex[domain.ProjectID]
	now       func() time.Time

	mu      sync.Mutex
	pending map[domain.ProjectID][]domain.TaskCandidate
}

func NewService(owner domain.OwnerEmail, deps Deps) *Service {
	parser := deps.Parser
	if parser == nil {
		parser = extract.NewLineParser()
	}
	return &Service{
		owner:     owner,
		llm:       deps.LLM,
		projects:  deps.Projects,
		history:   history.New(owner, deps.ChatLog),
		tasks:     tasksync.New(owner, deps.Tasks, deps.BatchConcurrency),
		assembler: assembler.New(deps.MaxSuggestedTasks),
		parser:    parser,
		turns:     syncx.NewKeyedMutex[domain.ProjectID](),
		now:       time.Now,
		pending:   make(map[domain.ProjectID][]domain.TaskCandidate),
	}
}

func (s *Service) Owner() domain.OwnerEmail { return s.owner }

// SendTurn runs one turn for the project. Only one turn per project is in
// flight at a time; a second caller waits until the first is idle or its ctx
// is done. On collaborator failure the result is returned with State Error
// together with the error.
func (s *Service) SendTurn(ctx context.Context, projectID domain.ProjectID, text string, opts TurnOptions) (*TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ErrEmptyMessage
	}
	projectID = domain.NormalizeProject(projectID)

	project, err := s.project(ctx, projectID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.turns.Lock(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("wait for turn on %s: %w", projectID, err)
	}
	defer unlock()

	res := &TurnResult{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Hidden:    opts.Hidden,
	}
	t := newTurn(ctx, res)
	t.log.Info("turn started", zap.Int("refs", len(opts.Refs)))

	t.enter(StateAssembling)

	if project != nil {
		if err := s.tasks.Ensure(ctx, projectID); err != nil {
			t.log.Warn("tasks unavailable for turn", zap.Error(err))
		}
	}

	if tasksync.IsCommand(text) {
		s.runCommand(ctx, t, projectID, text, opts)
		return res, nil
	}

	msgs, err := s.history.History(ctx, projectID)
	if err != nil {
		t.log.Warn("history unavailable for turn", zap.Error(err))
	}

	referenced, unresolved := s.tasks.Resolve(projectID, text, opts.Refs)
	res.Unresolved = unresolved

	req := s.assembler.Assemble(assembler.Input{
		History:    msgs,
		Text:       text,
		Project:    project,
		AutoSend:   opts.Hidden,
		Referenced: referenced,
	})
	res.TaskContext = req.TaskContext

	if !opts.Hidden {
		m := s.history.Append(ctx, projectID, domain.Message{Sender: domain.SenderUser, Text: req.Original})
		res.UserMessage = &m
	}

	t.enter(StateAwaitingCompletion)

	reply, err := s.llm.Complete(ctx, req.Completion())
	if err != nil {
		err = domain.NewNetworkError("completion", "complete", err)
		t.fail(err)
		s.notice(ctx, res, fmt.Sprintf("Sorry, I couldn't get a reply from the assistant: %v. Please try again.", err))
		return res, err
	}

	t.enter(StateParsing)

	// Candidates need a project to be confirmed into.
	extracting := req.TaskContext && project != nil
	var candidates []domain.TaskCandidate
	if extracting {
		candidates = s.parser.Parse(reply)
	}

	if !opts.Hidden || len(candidates) > 0 {
		m := s.history.Append(ctx, projectID, domain.Message{Sender: domain.SenderBot, Text: reply})
		res.Reply = &m
	}
	if !opts.Hidden {
		for _, u := range unresolved {
			s.notice(ctx, res, u.Error()+".")
		}
	}

	if !extracting {
		t.enter(StateIdle)
		t.log.Info("turn finished")
		return res, nil
	}

	t.enter(StateSynchronizing)
	res.Candidates = s.stage(projectID, candidates)
	t.enter(StateIdle)

	t.log.Info("turn finished",
		zap.Int("extracted", len(candidates)),
		zap.Int("staged", len(res.Candidates)),
	)
	return res, nil
}

// runCommand executes a reference command locally instead of asking the assistant.
func (s *Service) runCommand(ctx context.Context, t *turn, projectID domain.ProjectID, text string, opts TurnOptions) {
	res := t.res
	if !opts.Hidden {
		m := s.history.Append(ctx, projectID, domain.Message{Sender: domain.SenderUser, Text: text})
		res.UserMessage = &m
	}

	t.enter(StateSynchronizing)
	cmd := s.tasks.Execute(ctx, projectID, text, opts.Refs)
	res.Command = &cmd
	res.Unresolved = cmd.Unresolved

	// Hidden command results stay out of the transcript.
	if !opts.Hidden {
		m := s.history.Append(ctx, projectID, domain.Message{Sender: domain.SenderBot, Text: cmd.Message})
		res.Reply = &m
	}

	t.enter(StateIdle)
	t.log.Info("command finished",
		zap.String("action", string(cmd.Action)),
		zap.Int("affected", len(cmd.Affected)),
		zap.Int("failed", len(cmd.Failures)),
	)
}

// AskProject sends the project's task template as a hidden turn.
func (s *Service) AskProject(ctx context.Context, projectID domain.ProjectID) (*TurnResult, error) {
	project, err := s.project(ctx, domain.NormalizeProject(projectID))
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, domain.ErrNoProject
	}
	return s.SendTurn(ctx, projectID, ProjectTemplate(*project), TurnOptions{Hidden: true})
}

// stage deduplicates candidates by title, case-insensitively, within the
// reply and against the project's tasks, then stores them as pending.
func (s *Service) stage(projectID domain.ProjectID, candidates []domain.TaskCandidate) []domain.TaskCandidate {
	seen := make(map[string]bool)
	for _, t := range s.tasks.Tasks(projectID) {
		seen[titleKey(t.Title)] = true
	}

	staged := make([]domain.TaskCandidate, 0, len(candidates))
	for _, c := range candidates {
		k := titleKey(c.Title)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		staged = append(staged, c)
	}

	if len(staged) > 0 {
		s.mu.Lock()
		s.pending[projectID] = staged
		s.mu.Unlock()
	}
	return append([]domain.TaskCandidate(nil), staged...)
}

// PendingCandidates returns the candidates awaiting confirmation.
func (s *Service) PendingCandidates(projectID domain.ProjectID) []domain.TaskCandidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TaskCandidate{}, s.pending[domain.NormalizeProject(projectID)]...)
}

// ConfirmExtractedTasks batch-creates the given candidates, or every pending
// one when candidates is empty. The outcome is reported in the transcript.
func (s *Service) ConfirmExtractedTasks(ctx context.Context, projectID domain.ProjectID, candidates []domain.TaskCandidate) (domain.BatchResult, error) {
	projectID = domain.NormalizeProject(projectID)
	if err := s.requireProject(ctx, projectID); err != nil {
		return domain.BatchResult{}, err
	}

	unlock, err := s.turns.Lock(ctx, projectID)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("wait for turn on %s: %w", projectID, err)
	}
	defer unlock()

	if len(candidates) == 0 {
		candidates = s.PendingCandidates(projectID)
	}
	if len(candidates) == 0 {
		return domain.BatchResult{Created: []domain.Task{}, Failures: []domain.BatchFailure{}}, nil
	}

	result, err := s.tasks.BatchCreate(ctx, projectID, candidates)
	s.unstage(projectID, result.Created)
	s.history.Append(ctx, projectID, domain.Message{Sender: domain.SenderBot, Text: batchSummary(len(candidates), result, err)})

	observability.LoggerFromContext(ctx).Info("candidates confirmed",
		zap.String("project_id", string(projectID)),
		zap.Int("created", result.SuccessCount()),
		zap.Int("failed", len(result.Failures)),
	)
	return result, err
}

func (s *Service) unstage(projectID domain.ProjectID, created []domain.Task) {
	done := make(map[string]bool, len(created))
	for _, t := range created {
		done[titleKey(t.Title)] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.pending[projectID][:0:0]
	for _, c := range s.pending[projectID] {
		if !done[titleKey(c.Title)] {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		delete(s.pending, projectID)
		return
	}
	s.pending[projectID] = kept
}

func batchSummary(requested int, r domain.BatchResult, err error) string {
	var b strings.Builder
	switch {
	case err != nil && r.SuccessCount() == 0:
		fmt.Fprintf(&b, "I couldn't add any of the %d task(s).", requested)
	case r.Partial():
		fmt.Fprintf(&b, "Added %d of %d task(s).", r.SuccessCount(), requested)
	default:
		fmt.Fprintf(&b, "Added %d task(s) to the project.", r.SuccessCount())
	}
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "\nFailed: %q (%v)", f.Title, f.Err)
	}
	if err != nil && len(r.Failures) == 0 {
		fmt.Fprintf(&b, "\n%v", err)
	}
	return b.String()
}

func (s *Service) History(ctx context.Context, projectID domain.ProjectID) ([]domain.Message, error) {
	return s.history.History(ctx, projectID)
}

func (s *Service) ClearHistory(ctx context.Context, projectID domain.ProjectID) error {
	return s.history.ClearProject(ctx, projectID)
}

func (s *Service) ClearAllHistory(ctx context.Context) error {
	return s.history.ClearAll(ctx)
}

// Tasks returns the project's tasks, loading them on first access. A read
// failure yields an empty list and the error.
func (s *Service) Tasks(ctx context.Context, projectID domain.ProjectID) ([]domain.Task, error) {
	if err := s.tasks.Ensure(ctx, projectID); err != nil {
		return []domain.Task{}, err
	}
	return s.tasks.Tasks(projectID), nil
}

// ReloadTasks forces a fresh read of the project's tasks.
func (s *Service) ReloadTasks(ctx context.Context, projectID domain.ProjectID) ([]domain.Task, error) {
	list, err := s.tasks.Load(ctx, projectID)
	if err != nil {
		return []domain.Task{}, err
	}
	return list, nil
}

func (s *Service) CreateTask(ctx context.Context, projectID domain.ProjectID, title string, deadline *time.Time) (*domain.Task, error) {
	if err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}
	t, err := s.tasks.Create(ctx, projectID, title, deadline)
	if err != nil {
		s.report(ctx, projectID, "create the task", err)
		return nil, err
	}
	return t, nil
}

func (s *Service) UpdateTask(ctx context.Context, projectID domain.ProjectID, id domain.TaskID, patch domain.TaskPatch) (domain.Task, error) {
	t, err := s.tasks.Update(ctx, projectID, id, patch)
	if err != nil {
		s.report(ctx, projectID, "update the task", err)
	}
	return t, err
}

func (s *Service) ToggleTask(ctx context.Context, projectID domain.ProjectID, id domain.TaskID) (domain.Task, error) {
	t, err := s.tasks.ToggleCompleted(ctx, projectID, id)
	if err != nil {
		s.report(ctx, projectID, "update the task", err)
	}
	return t, err
}

func (s *Service) DeleteTask(ctx context.Context, projectID domain.ProjectID, id domain.TaskID) error {
	err := s.tasks.Delete(ctx, projectID, id)
	if err != nil {
		s.report(ctx, projectID, "delete the task", err)
	}
	return err
}

func (s *Service) DeleteAllTasks(ctx context.Context, projectID domain.ProjectID) error {
	if err := s.requireProject(ctx, projectID); err != nil {
		return err
	}
	err := s.tasks.DeleteAll(ctx, projectID)
	if err != nil {
		s.report(ctx, projectID, "delete the tasks", err)
	}
	return err
}

func (s *Service) ReorderTasks(ctx context.Context, projectID domain.ProjectID, order []domain.TaskID) ([]domain.Task, error) {
	list, err := s.tasks.Reorder(ctx, projectID, order)
	if err != nil {
		s.report(ctx, projectID, "reorder the tasks", err)
	}
	return list, err
}

// ClassifyRisk derives the task's risk tier against the current time.
func (s *Service) ClassifyRisk(t domain.Task) domain.RiskTier {
	return risk.ClassifyTask(t, s.now())
}

// SaveProject registers project metadata under this owner.
func (s *Service) SaveProject(ctx context.Context, p domain.Project) error {
	p.OwnerEmail = s.owner
	if p.ID == "" || p.ID == domain.GeneralProject {
		return domain.ErrNoProject
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = string(p.ID)
	}
	return s.projects.SaveProject(ctx, &p)
}

// project resolves metadata; the general project has none.
func (s *Service) project(ctx context.Context, projectID domain.ProjectID) (*domain.Project, error) {
	if projectID == domain.GeneralProject {
		return nil, nil
	}
	p, err := s.projects.GetProject(ctx, s.owner, projectID)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", projectID, err)
	}
	return p, nil
}

func (s *Service) requireProject(ctx context.Context, projectID domain.ProjectID) error {
	if domain.NormalizeProject(projectID) == domain.GeneralProject {
		return domain.ErrNoProject
	}
	_, err := s.project(ctx, projectID)
	return err
}

// report appends a failed task operation to the transcript. Input errors are
// returned to the caller only.
func (s *Service) report(ctx context.Context, projectID domain.ProjectID, what string, err error) {
	if errors.Is(err, domain.ErrValidation) {
		return
	}
	s.history.Append(ctx, projectID, domain.Message{
		Sender: domain.SenderBot,
		Text:   fmt.Sprintf("I couldn't %s: %v.", what, err),
	})
}

func (s *Service) notice(ctx context.Context, res *TurnResult, text string) {
	m := s.history.Append(ctx, res.ProjectID, domain.Message{Sender: domain.SenderBot, Text: text})
	res.Notices = append(res.Notices, m)
}

func titleKey(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}
