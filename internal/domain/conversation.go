package domain

// Message is one entry of a project's chat transcript.
type Message struct {
	Sender    Sender
	Text      string
	Timestamp Timestamp
}

// ChatHistory maps a project to its ordered transcript.
type ChatHistory map[ProjectID][]Message

// ChatEntry is one role-tagged item of the window sent to the completion service.
type ChatEntry struct {
	Role    Role
	Content string
}

// CompletionRequest is the context window plus the primary message of one turn.
type CompletionRequest struct {
	Entries []ChatEntry
	Message string
}

// Project is referenced by the engine but owned by the project store.
type Project struct {
	ID          ProjectID
	OwnerEmail  OwnerEmail
	Name        string
	Description string
}
