package domain

import "context"

// CompletionClient defines how the engine talks to the completion service.
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// TaskStore is the remote task store. Every mutation is scoped by owner.
type TaskStore interface {
	ListTasks(ctx context.Context, projectID ProjectID, owner OwnerEmail) ([]Task, error)
	CreateTask(ctx context.Context, in NewTask) (*Task, error)
	UpdateTask(ctx context.Context, id TaskID, owner OwnerEmail, patch TaskPatch) error
	DeleteTask(ctx context.Context, id TaskID, owner OwnerEmail) error
	DeleteProjectTasks(ctx context.Context, projectID ProjectID, owner OwnerEmail) error
	ReorderTasks(ctx context.Context, owner OwnerEmail, order []TaskID) error
}

// ChatLogStore is the append-only remote chat log keyed by (project, owner).
type ChatLogStore interface {
	AppendChat(ctx context.Context, projectID ProjectID, owner OwnerEmail, msg Message) error
	ListChat(ctx context.Context, projectID ProjectID, owner OwnerEmail) ([]Message, error)
	DeleteChatByProject(ctx context.Context, projectID ProjectID, owner OwnerEmail) error
	DeleteChatByOwner(ctx context.Context, owner OwnerEmail) error
}

// ProjectStore resolves project metadata.
type ProjectStore interface {
	GetProject(ctx context.Context, owner OwnerEmail, id ProjectID) (*Project, error)
	SaveProject(ctx context.Context, p *Project) error
}
