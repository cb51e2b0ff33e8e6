package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/farum-tasks/internal/domain"
)

const service = "firestore"

// Store implements domain.TaskStore, domain.ChatLogStore and
// domain.ProjectStore on Firestore.
type Store struct {
	client *firestore.Client
}

// NewStore creates a Firestore store for the given GCP project.
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) tasksCol() *firestore.CollectionRef {
	return s.client.Collection("tasks")
}

func (s *Store) chatCol() *firestore.CollectionRef {
	return s.client.Collection("chat_history")
}

func (s *Store) projectDoc(owner domain.OwnerEmail, id domain.ProjectID) *firestore.DocumentRef {
	return s.client.Collection("owners").Doc(string(owner)).Collection("projects").Doc(string(id))
}

// wrap maps gRPC NotFound onto domain.ErrNotFound; anything else is a network failure.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return domain.ErrNotFound
	}
	return domain.NewNetworkError(service, op, err)
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type taskDoc struct {
	Title      string     `firestore:"title"`
	ProjectID  string     `firestore:"project_id"`
	OwnerEmail string     `firestore:"user_email"`
	CreatedAt  time.Time  `firestore:"created_at"`
	Deadline   *time.Time `firestore:"deadline"`
	Completed  bool       `firestore:"completed"`
	Position   int        `firestore:"order_index"`
}

func (d taskDoc) toDomain(id string) domain.Task {
	t := domain.Task{
		ID:         domain.TaskID(id),
		Title:      d.Title,
		ProjectID:  domain.ProjectID(d.ProjectID),
		OwnerEmail: domain.OwnerEmail(d.OwnerEmail),
		CreatedAt:  d.CreatedAt,
		Completed:  d.Completed,
		Position:   d.Position,
	}
	if d.Deadline != nil {
		dl := d.Deadline.UTC()
		t.Deadline = &dl
	}
	return t
}

type chatDoc struct {
	ProjectID  string    `firestore:"project_id"`
	OwnerEmail string    `firestore:"user_email"`
	Sender     string    `firestore:"sender"`
	Text       string    `firestore:"text"`
	Timestamp  time.Time `firestore:"timestamp"`
	Seq        int64     `firestore:"seq"`
}

type projectDoc struct {
	Name        string    `firestore:"name"`
	Description string    `firestore:"description"`
	UpdatedAt   time.Time `firestore:"updated_at"`
}

// ─────────────────────────────────────────
// TaskStore implementation
// ─────────────────────────────────────────

func (s *Store) ListTasks(ctx context.Context, projectID domain.ProjectID, owner domain.OwnerEmail) ([]domain.Task, error) {
	q := s.tasksCol().
		Where("project_id", "==", string(projectID)).
		Where("user_email", "==", string(owner)).
		OrderBy("order_index", firestore.Asc)

	iter := q.Documents(ctx)
	defer iter.Stop()

	out := []domain.Task{}
	for {
		snap, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, wrap("list tasks", err)
		}

		var doc taskDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode taskDoc: %w", err)
		}
		out = append(out, doc.toDomain(snap.Ref.ID))
	}
	return out, nil
}

func (s *Store) CreateTask(ctx context.Context, in domain.NewTask) (*domain.Task, error) {
	ref := s.tasksCol().NewDoc()
	doc := taskDoc{
		Title:      in.Title,
		ProjectID:  string(in.ProjectID),
		OwnerEmail: string(in.OwnerEmail),
		CreatedAt:  time.Now().UTC(),
		Deadline:   in.Deadline,
		Position:   in.Position,
	}

	if _, err := ref.Create(ctx, doc); err != nil {
		return nil, wrap("create task", err)
	}

	t := doc.toDomain(ref.ID)
	return &t, nil
}

// ownedTask reads a task inside tx and checks it belongs to owner.
func (s *Store) ownedTask(tx *firestore.Transaction, id domain.TaskID, owner domain.OwnerEmail) (*firestore.DocumentRef, error) {
	ref := s.tasksCol().Doc(string(id))
	snap, err := tx.Get(ref)
	if err != nil {
		return nil, err
	}
	var doc taskDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode taskDoc: %w", err)
	}
	if doc.OwnerEmail != string(owner) {
		return nil, domain.ErrNotFound
	}
	return ref, nil
}

func (s *Store) UpdateTask(ctx context.Context, id domain.TaskID, owner domain.OwnerEmail, patch domain.TaskPatch) error {
	var updates []firestore.Update
	if patch.Title != nil {
		updates = append(updates, firestore.Update{Path: "title", Value: *patch.Title})
	}
	if patch.SetDeadline {
		var v any
		if patch.Deadline != nil {
			v = patch.Deadline.UTC()
		}
		updates = append(updates, firestore.Update{Path: "deadline", Value: v})
	}
	if patch.Completed != nil {
		updates = append(updates, firestore.Update{Path: "completed", Value: *patch.Completed})
	}
	if len(updates) == 0 {
		return nil
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := s.ownedTask(tx, id, owner)
		if err != nil {
			return err
		}
		return tx.Update(ref, updates)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return wrap("update task", err)
}

func (s *Store) DeleteTask(ctx context.Context, id domain.TaskID, owner domain.OwnerEmail) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := s.ownedTask(tx, id, owner)
		if err != nil {
			return err
		}
		return tx.Delete(ref)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return wrap("delete task", err)
}

func (s *Store) DeleteProjectTasks(ctx context.Context, projectID domain.ProjectID, owner domain.OwnerEmail) error {
	q := s.tasksCol().
		Where("project_id", "==", string(projectID)).
		Where("user_email", "==", string(owner))
	return wrap("delete project tasks", s.bulkDelete(ctx, q))
}

// ReorderTasks writes order_index for every listed task in one transaction.
func (s *Store) ReorderTasks(ctx context.Context, owner domain.OwnerEmail, order []domain.TaskID) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		refs := make([]*firestore.DocumentRef, 0, len(order))
		for _, id := range order {
			ref, err := s.ownedTask(tx, id, owner)
			if err != nil {
				return err
			}
			refs = append(refs, ref)
		}
		for pos, ref := range refs {
			if err := tx.Update(ref, []firestore.Update{{Path: "order_index", Value: pos}}); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return wrap("reorder tasks", err)
}

// ─────────────────────────────────────────
// ChatLogStore implementation
// ─────────────────────────────────────────

func (s *Store) AppendChat(ctx context.Context, projectID domain.ProjectID, owner domain.OwnerEmail, msg domain.Message) error {
	doc := chatDoc{
		ProjectID:  string(projectID),
		OwnerEmail: string(owner),
		Sender:     string(msg.Sender),
		Text:       msg.Text,
		Timestamp:  msg.Timestamp.UTC(),
		Seq:        time.Now().UnixNano(),
	}

	if _, _, err := s.chatCol().Add(ctx, doc); err != nil {
		return wrap("append chat", err)
	}
	return nil
}

func (s *Store) ListChat(ctx context.Context, projectID domain.ProjectID, owner domain.OwnerEmail) ([]domain.Message, error) {
	q := s.chatCol().
		Where("project_id", "==", string(projectID)).
		Where("user_email", "==", string(owner)).
		OrderBy("timestamp", firestore.Asc).
		OrderBy("seq", firestore.Asc)

	iter := q.Documents(ctx)
	defer iter.Stop()

	out := []domain.Message{}
	for {
		snap, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, wrap("list chat", err)
		}

		var doc chatDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode chatDoc: %w", err)
		}
		out = append(out, domain.Message{
			Sender:    domain.Sender(doc.Sender),
			Text:      doc.Text,
			Timestamp: doc.Timestamp.UTC(),
		})
	}
	return out, nil
}

func (s *Store) DeleteChatByProject(ctx context.Context, projectID domain.ProjectID, owner domain.OwnerEmail) error {
	q := s.chatCol().
		Where("project_id", "==", string(projectID)).
		Where("user_email", "==", string(owner))
	return wrap("delete chat", s.bulkDelete(ctx, q))
}

func (s *Store) DeleteChatByOwner(ctx context.Context, owner domain.OwnerEmail) error {
	q := s.chatCol().Where("user_email", "==", string(owner))
	return wrap("delete all chat", s.bulkDelete(ctx, q))
}

// bulkDelete removes every document matched by q through a BulkWriter.
func (s *Store) bulkDelete(ctx context.Context, q firestore.Query) error {
	iter := q.Documents(ctx)
	defer iter.Stop()

	bw := s.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for {
		snap, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			bw.End()
			return err
		}
		job, err := bw.Delete(snap.Ref)
		if err != nil {
			bw.End()
			return err
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil && status.Code(err) != codes.NotFound {
			return err
		}
	}
	return nil
}

// ─────────────────────────────────────────
// ProjectStore implementation
// ─────────────────────────────────────────

func (s *Store) GetProject(ctx context.Context, owner domain.OwnerEmail, id domain.ProjectID) (*domain.Project, error) {
	snap, err := s.projectDoc(owner, id).Get(ctx)
	if err != nil {
		return nil, wrap("get project", err)
	}

	var doc projectDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode projectDoc: %w", err)
	}
	return &domain.Project{
		ID:          id,
		OwnerEmail:  owner,
		Name:        doc.Name,
		Description: doc.Description,
	}, nil
}

func (s *Store) SaveProject(ctx context.Context, p *domain.Project) error {
	doc := projectDoc{
		Name:        p.Name,
		Description: p.Description,
		UpdatedAt:   time.Now().UTC(),
	}
	if _, err := s.projectDoc(p.OwnerEmail, p.ID).Set(ctx, doc); err != nil {
		return wrap("save project", err)
	}
	return nil
}
