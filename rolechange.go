package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ErrInvalidRoleTransition is returned when a requested status change is
// not allowed.
var ErrInvalidRoleTransition = goerrors.New("invalid role change transition", goerrors.CategoryValidation).
	WithTextCode("INVALID_ROLE_CHANGE_TRANSITION").
	WithCode(goerrors.CodeBadRequest)

// ErrTerminalRoleChange is returned when acting on an already-resolved
// request.
var ErrTerminalRoleChange = goerrors.New("role change request already resolved", goerrors.CategoryConflict).
	WithTextCode("TERMINAL_ROLE_CHANGE").
	WithCode(goerrors.CodeConflict)

// RoleChangeHook is executed around an approval or rejection.
type RoleChangeHook func(ctx context.Context, request *RoleChangeRequest) error

// RoleChangeOption customizes a single transition.
type RoleChangeOption func(*roleChangeOptions)

type roleChangeOptions struct {
	reason      string
	beforeHooks []RoleChangeHook
	afterHooks  []RoleChangeHook
}

// WithRoleChangeReason attaches a human-readable reason to the transition.
func WithRoleChangeReason(reason string) RoleChangeOption {
	return func(o *roleChangeOptions) {
		o.reason = reason
	}
}

// WithBeforeRoleChangeHook adds a hook executed before persistence.
func WithBeforeRoleChangeHook(h RoleChangeHook) RoleChangeOption {
	return func(o *roleChangeOptions) {
		if h != nil {
			o.beforeHooks = append(o.beforeHooks, h)
		}
	}
}

// WithAfterRoleChangeHook adds a hook executed after the transition
// succeeds.
func WithAfterRoleChangeHook(h RoleChangeHook) RoleChangeOption {
	return func(o *roleChangeOptions) {
		if h != nil {
			o.afterHooks = append(o.afterHooks, h)
		}
	}
}

// RoleChangeWorkflow mediates the request/approve/reject state machine for
// switching an account's role. Approval is the only path to
// Directory.updateRole, and it kills every outstanding session so a stale
// role claim cannot outlive the change.
type RoleChangeWorkflow struct {
	repo         RepositoryManager
	directory    *Directory
	activitySink ActivitySink
	logger       Logger
	now          func() time.Time
	transitions  map[RoleChangeStatus]map[RoleChangeStatus]struct{}
}

// WorkflowOption customizes workflow construction.
type WorkflowOption func(*RoleChangeWorkflow)

// WithWorkflowActivitySink sets the sink used to publish workflow events.
func WithWorkflowActivitySink(sink ActivitySink) WorkflowOption {
	return func(w *RoleChangeWorkflow) {
		w.activitySink = normalizeActivitySink(sink)
	}
}

// WithWorkflowLogger overrides the workflow logger.
func WithWorkflowLogger(logger Logger) WorkflowOption {
	return func(w *RoleChangeWorkflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWorkflowClock injects a custom clock (useful for tests).
func WithWorkflowClock(clock func() time.Time) WorkflowOption {
	return func(w *RoleChangeWorkflow) {
		if clock != nil {
			w.now = clock
		}
	}
}

// NewRoleChangeWorkflow builds the workflow over the repository manager.
func NewRoleChangeWorkflow(repo RepositoryManager, opts ...WorkflowOption) *RoleChangeWorkflow {
	w := &RoleChangeWorkflow{
		repo:         repo,
		directory:    NewDirectory(repo),
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		now:          time.Now,
		transitions: map[RoleChangeStatus]map[RoleChangeStatus]struct{}{
			RoleChangePending: {
				RoleChangeApproved: {},
				RoleChangeRejected: {},
			},
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}

	return w
}

// Request opens a role change for the identity. Requests for the role the
// account already holds are rejected outright with no record written, and
// a second request while one is pending is refused.
func (w *RoleChangeWorkflow) Request(ctx context.Context, actor ActorRef, identityID uuid.UUID, requestedRole UserRole) (*RoleChangeRequest, error) {
	if !requestedRole.IsValid() {
		return nil, NewValidationError(nil, "invalid role: "+string(requestedRole))
	}

	identity, err := w.repo.Identities().GetByID(ctx, identityID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "role change lookup failed")
	}

	if identity.Role == requestedRole {
		return nil, ErrNoOpRoleChange
	}

	if _, err := w.repo.RoleChanges().PendingForUser(ctx, identityID); err == nil {
		return nil, ErrRoleChangePending
	} else if !repository.IsRecordNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "pending role change lookup failed")
	}

	record := &RoleChangeRequest{
		ID:            uuid.New(),
		UserID:        identityID,
		CurrentRole:   identity.Role,
		RequestedRole: requestedRole,
		Status:        RoleChangePending,
	}

	created, err := w.repo.RoleChanges().Create(ctx, record)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create role change request")
	}

	w.recordActivity(ctx, ActivityEventRoleChangeRequest, actor, identityID, map[string]any{
		"request_id":     created.ID.String(),
		"current_role":   string(created.CurrentRole),
		"requested_role": string(created.RequestedRole),
	})

	return created, nil
}

// Approve resolves a pending request: the request row, the directory role,
// and the blanket session revocation commit together. Already-issued
// sessions die with the old role claim; the next sign-in carries the new
// one.
func (w *RoleChangeWorkflow) Approve(ctx context.Context, actor ActorRef, requestID uuid.UUID, opts ...RoleChangeOption) (*RoleChangeRequest, error) {
	return w.resolve(ctx, actor, requestID, RoleChangeApproved, opts...)
}

// Reject resolves a pending request without touching the directory.
func (w *RoleChangeWorkflow) Reject(ctx context.Context, actor ActorRef, requestID uuid.UUID, opts ...RoleChangeOption) (*RoleChangeRequest, error) {
	return w.resolve(ctx, actor, requestID, RoleChangeRejected, opts...)
}

func (w *RoleChangeWorkflow) resolve(ctx context.Context, actor ActorRef, requestID uuid.UUID, target RoleChangeStatus, opts ...RoleChangeOption) (*RoleChangeRequest, error) {
	options := &roleChangeOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	request, err := w.repo.RoleChanges().GetByID(ctx, requestID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, goerrors.Wrap(err, goerrors.CategoryNotFound, "role change request not found").
				WithCode(goerrors.CodeNotFound)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load role change request")
	}

	if request.Terminal() {
		return nil, ErrTerminalRoleChange
	}

	if !w.canTransition(request.Status, target) {
		return nil, ErrInvalidRoleTransition.WithMetadata(map[string]any{
			"from": string(request.Status),
			"to":   string(target),
		})
	}

	for _, hook := range options.beforeHooks {
		if err := hook(ctx, request); err != nil {
			return nil, err
		}
	}

	err = w.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		updated, err := w.repo.RoleChanges().UpdateStatusTx(ctx, tx, request.ID, target)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update role change status")
		}
		request.Status = updated.Status
		request.UpdatedAt = updated.UpdatedAt

		if target != RoleChangeApproved {
			return nil
		}

		if _, err := w.directory.updateRole(ctx, tx, request.UserID, request.RequestedRole); err != nil {
			return err
		}

		// Breaking change for every cached role claim out there: force
		// a re-login rather than trust stale sessions.
		if _, err := w.repo.Sessions().RevokeAllForIdentityTx(ctx, tx, request.UserID); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke sessions on approval")
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, hook := range options.afterHooks {
		if err := hook(ctx, request); err != nil {
			return nil, err
		}
	}

	eventType := ActivityEventRoleChangeRejected
	if target == RoleChangeApproved {
		eventType = ActivityEventRoleChangeApproved
	}

	w.recordActivity(ctx, eventType, actor, request.UserID, map[string]any{
		"request_id":     request.ID.String(),
		"current_role":   string(request.CurrentRole),
		"requested_role": string(request.RequestedRole),
		"reason":         options.reason,
	})

	return request, nil
}

func (w *RoleChangeWorkflow) canTransition(from, to RoleChangeStatus) bool {
	targets, ok := w.transitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

func (w *RoleChangeWorkflow) recordActivity(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID uuid.UUID, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Actor:      actor,
		UserID:     userID.String(),
		Metadata:   metadata,
		OccurredAt: w.now(),
	}

	if err := w.activitySink.Record(ctx, event); err != nil {
		w.logger.Warn("activity sink record error: %v", err)
	}
}
