// Package googletasks stores tasks in Google Tasks, one task list per project.
// The owner email and creation time travel in the task notes.
package googletasks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	tasks "google.golang.org/api/tasks/v1"

	"github.com/PabloGalante/farum-tasks/internal/domain"
)

const (
	service    = "google tasks"
	listPrefix = "farum/"

	ownerKey   = "farum-owner: "
	createdKey = "farum-created: "

	statusOpen = "needsAction"
	statusDone = "completed"
)

// Scopes are the OAuth scopes the store needs.
var Scopes = []string{tasks.TasksScope}

// Store implements domain.TaskStore on the Google Tasks API.
type Store struct {
	srv *tasks.Service
	now func() time.Time

	mu       sync.Mutex
	lists    map[domain.ProjectID]string
	taskList map[domain.TaskID]string
}

// NewStore builds the API client from an authenticated HTTP client.
func NewStore(ctx context.Context, client *http.Client, opts ...option.ClientOption) (*Store, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	srv, err := tasks.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Google Tasks client: %w", err)
	}
	return &Store{
		srv:      srv,
		now:      time.Now,
		lists:    make(map[domain.ProjectID]string),
		taskList: make(map[domain.TaskID]string),
	}, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
		return domain.ErrNotFound
	}
	return domain.NewNetworkError(service, op, err)
}

// listID finds the project's task list; with create set it is made on demand.
func (s *Store) listID(ctx context.Context, projectID domain.ProjectID, create bool) (string, error) {
	s.mu.Lock()
	id, ok := s.lists[projectID]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	if err := s.refreshLists(ctx); err != nil {
		return "", err
	}
	s.mu.Lock()
	id, ok = s.lists[projectID]
	s.mu.Unlock()
	if ok {
		return id, nil
	}
	if !create {
		return "", domain.ErrNotFound
	}

	list, err := s.srv.Tasklists.Insert(&tasks.TaskList{Title: listPrefix + string(projectID)}).Context(ctx).Do()
	if err != nil {
		return "", wrap("create task list", err)
	}
	s.mu.Lock()
	s.lists[projectID] = list.Id
	s.mu.Unlock()
	return list.Id, nil
}

func (s *Store) refreshLists(ctx context.Context) error {
	found := make(map[domain.ProjectID]string)
	call := s.srv.Tasklists.List().MaxResults(100)
	err := call.Pages(ctx, func(page *tasks.TaskLists) error {
		for _, l := range page.Items {
			if strings.HasPrefix(l.Title, listPrefix) {
				found[domain.ProjectID(strings.TrimPrefix(l.Title, listPrefix))] = l.Id
			}
		}
		return nil
	})
	if err != nil {
		return wrap("list task lists", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for p, id := range found {
		s.lists[p] = id
	}
	return nil
}

// fetch returns every task of a list ordered by the API's position.
func (s *Store) fetch(ctx context.Context, listID string) ([]*tasks.Task, error) {
	var out []*tasks.Task
	call := s.srv.Tasks.List(listID).ShowCompleted(true).ShowHidden(true).MaxResults(100)
	err := call.Pages(ctx, func(page *tasks.Tasks) error {
		out = append(out, page.Items...)
		return nil
	})
	if err != nil {
		return nil, wrap("list tasks", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *Store) ListTasks(ctx context.Context, projectID domain.ProjectID, owner domain.OwnerEmail) ([]domain.Task, error) {
	listID, err := s.listID(ctx, projectID, false)
	if errors.Is(err, domain.ErrNotFound) {
		return []domain.Task{}, nil
	}
	if err != nil {
		return nil, err
	}

	items, err := s.fetch(ctx, listID)
	if err != nil {
		return nil, err
	}

	out := []domain.Task{}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		meta := parseNotes(it.Notes)
		if meta.owner != owner {
			continue
		}
		s.taskList[domain.TaskID(it.Id)] = listID
		t := toDomain(it, projectID, meta)
		t.Position = len(out)
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) CreateTask(ctx context.Context, in domain.NewTask) (*domain.Task, error) {
	listID, err := s.listID(ctx, in.ProjectID, true)
	if err != nil {
		return nil, err
	}

	items, err := s.fetch(ctx, listID)
	if err != nil {
		return nil, err
	}

	created := s.now().UTC()
	body := &tasks.Task{
		Title:  in.Title,
		Notes:  formatNotes(in.OwnerEmail, created),
		Status: statusOpen,
	}
	if in.Deadline != nil {
		body.Due = in.Deadline.UTC().Format(time.RFC3339)
	}

	call := s.srv.Tasks.Insert(listID, body)
	if n := len(items); n > 0 {
		call = call.Previous(items[n-1].Id)
	}
	it, err := call.Context(ctx).Do()
	if err != nil {
		return nil, wrap("create task", err)
	}

	s.mu.Lock()
	s.taskList[domain.TaskID(it.Id)] = listID
	s.mu.Unlock()

	t := toDomain(it, in.ProjectID, noteMeta{owner: in.OwnerEmail, created: created})
	t.Position = in.Position
	return &t, nil
}

// owned resolves the list of id and checks that owner holds it.
func (s *Store) owned(ctx context.Context, id domain.TaskID, owner domain.OwnerEmail) (string, error) {
	s.mu.Lock()
	listID, ok := s.taskList[id]
	s.mu.Unlock()
	if !ok {
		return "", domain.ErrNotFound
	}

	it, err := s.srv.Tasks.Get(listID, string(id)).Context(ctx).Do()
	if err != nil {
		return "", wrap("get task", err)
	}
	if parseNotes(it.Notes).owner != owner {
		return "", domain.ErrNotFound
	}
	return listID, nil
}

func (s *Store) UpdateTask(ctx context.Context, id domain.TaskID, owner domain.OwnerEmail, patch domain.TaskPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	listID, err := s.owned(ctx, id, owner)
	if err != nil {
		return err
	}

	body := &tasks.Task{}
	if patch.Title != nil {
		body.Title = *patch.Title
	}
	if patch.SetDeadline {
		if patch.Deadline != nil {
			body.Due = patch.Deadline.UTC().Format(time.RFC3339)
		} else {
			body.NullFields = append(body.NullFields, "Due")
		}
	}
	if patch.Completed != nil {
		if *patch.Completed {
			body.Status = statusDone
		} else {
			body.Status = statusOpen
			body.NullFields = append(body.NullFields, "Completed")
		}
	}

	_, err = s.srv.Tasks.Patch(listID, string(id), body).Context(ctx).Do()
	return wrap("update task", err)
}

func (s *Store) DeleteTask(ctx context.Context, id domain.TaskID, owner domain.OwnerEmail) error {
	listID, err := s.owned(ctx, id, owner)
	if err != nil {
		return err
	}
	if err := s.srv.Tasks.Delete(listID, string(id)).Context(ctx).Do(); err != nil {
		return wrap("delete task", err)
	}
	s.mu.Lock()
	delete(s.taskList, id)
	s.mu.Unlock()
	return nil
}

// DeleteProjectTasks removes the owner's tasks from the project's list.
func (s *Store) DeleteProjectTasks(ctx context.Context, projectID domain.ProjectID, owner domain.OwnerEmail) error {
	listID, err := s.listID(ctx, projectID, false)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	items, err := s.fetch(ctx, listID)
	if err != nil {
		return err
	}
	for _, it := range items {
		if parseNotes(it.Notes).owner != owner {
			continue
		}
		if err := s.srv.Tasks.Delete(listID, it.Id).Context(ctx).Do(); err != nil {
			if werr := wrap("delete task", err); !errors.Is(werr, domain.ErrNotFound) {
				return werr
			}
		}
		s.mu.Lock()
		delete(s.taskList, domain.TaskID(it.Id))
		s.mu.Unlock()
	}
	return nil
}

// ReorderTasks moves each task right after its predecessor in order.
func (s *Store) ReorderTasks(ctx context.Context, owner domain.OwnerEmail, order []domain.TaskID) error {
	prev := ""
	for _, id := range order {
		listID, err := s.owned(ctx, id, owner)
		if err != nil {
			return err
		}
		call := s.srv.Tasks.Move(listID, string(id))
		if prev != "" {
			call = call.Previous(prev)
		}
		if _, err := call.Context(ctx).Do(); err != nil {
			return wrap("move task", err)
		}
		prev = string(id)
	}
	return nil
}

type noteMeta struct {
	owner   domain.OwnerEmail
	created time.Time
}

func formatNotes(owner domain.OwnerEmail, created time.Time) string {
	return ownerKey + string(owner) + "\n" + createdKey + created.Format(time.RFC3339Nano)
}

func parseNotes(notes string) noteMeta {
	var m noteMeta
	for _, line := range strings.Split(notes, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, ownerKey):
			m.owner = domain.OwnerEmail(strings.TrimPrefix(line, ownerKey))
		case strings.HasPrefix(line, createdKey):
			if t, err := time.Parse(time.RFC3339Nano, strings.TrimPrefix(line, createdKey)); err == nil {
				m.created = t
			}
		}
	}
	return m
}

func toDomain(it *tasks.Task, projectID domain.ProjectID, meta noteMeta) domain.Task {
	t := domain.Task{
		ID:         domain.TaskID(it.Id),
		Title:      it.Title,
		ProjectID:  projectID,
		OwnerEmail: meta.owner,
		CreatedAt:  meta.created,
		Completed:  it.Status == statusDone,
	}
	if it.Due != "" {
		if d, err := time.Parse(time.RFC3339, it.Due); err == nil {
			d = d.UTC()
			t.Deadline = &d
		}
	}
	return t
}
