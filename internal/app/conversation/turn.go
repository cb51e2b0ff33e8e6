package conversation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/PabloGalante/farum-tasks/internal/app/tasksync"
	"github.com/PabloGalante/farum-tasks/internal/domain"
	"github.com/PabloGalante/farum-tasks/internal/observability"
)

// State is one step of a conversational turn.
type State string

const (
	StateIdle               State = "idle"
	StateAssembling         State = "assembling"
	StateAwaitingCompletion State = "awaiting_completion"
	StateParsing            State = "parsing"
	StateSynchronizing      State = "synchronizing"
	StateError              State = "error"
)

// TurnOptions are the attributes of one turn.
type TurnOptions struct {
	// Hidden turns are system-initiated: the prompt never shows in the
	// transcript and the reply only shows when it yields candidates.
	Hidden bool
	// Refs is the @Task<N> reference list, 1-based, fixed at send time.
	Refs []domain.TaskID
}

// TurnResult is what one SendTurn did.
type TurnResult struct {
	ID        string
	ProjectID domain.ProjectID
	Hidden    bool
	State     State
	Trace     []State

	UserMessage *domain.Message
	Reply       *domain.Message
	// Notices are extra bot messages, such as error or reference reports.
	Notices []domain.Message

	TaskContext bool
	Candidates  []domain.TaskCandidate
	Command     *tasksync.CommandResult
	Unresolved  []*domain.ReferenceError
	Err         error
}

// turn drives the state trace and logs every step with its duration.
type turn struct {
	res     *TurnResult
	log     *zap.Logger
	entered time.Time
}

func newTurn(ctx context.Context, res *TurnResult) *turn {
	log := observability.LoggerFromContext(ctx).With(
		zap.String("turn_id", res.ID),
		zap.String("project_id", string(res.ProjectID)),
		zap.Bool("hidden", res.Hidden),
	)
	res.State = StateIdle
	res.Trace = []State{StateIdle}
	return &turn{res: res, log: log, entered: time.Now()}
}

func (t *turn) enter(next State) {
	prev := t.res.State
	now := time.Now()
	t.log.Debug("turn transition",
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
		zap.Int64("elapsed_ms", now.Sub(t.entered).Milliseconds()),
	)
	t.entered = now
	t.res.State = next
	t.res.Trace = append(t.res.Trace, next)
}

func (t *turn) fail(err error) {
	t.res.Err = err
	t.log.Error("turn failed", zap.String("state", string(t.res.State)), zap.Error(err))
	t.enter(StateError)
}
