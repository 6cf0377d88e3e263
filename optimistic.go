package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/exp/slices"
)

type OperationKind string

const (
	OperationKindCreate     OperationKind = "create"
	OperationKindUpdate     OperationKind = "update"
	OperationKindDelete     OperationKind = "delete"
	OperationKindMarkRead   OperationKind = "mark_read"
	OperationKindMarkUnread OperationKind = "mark_unread"
)

// operation state machine is:
// OperationStatusPending
//
//	-> OperationStatusSuccess (remote mutation confirmed)
//	-> OperationStatusFailed (remote mutation rejected, rollback applied)
type OperationStatus string

const (
	OperationStatusPending OperationStatus = "pending"
	OperationStatusSuccess OperationStatus = "success"
	OperationStatusFailed  OperationStatus = "failed"
)

// OperationChange describes what happened to an operation in the registry.
type OperationChange string

const (
	OperationChangeRegistered OperationChange = "registered"
	OperationChangeCommitted  OperationChange = "committed"
	OperationChangeRolledBack OperationChange = "rolled_back"
	OperationChangeSuperseded OperationChange = "superseded"
	OperationChangeDiscarded  OperationChange = "discarded"
)

type OperationListener = func(operation *OptimisticOperation, change OperationChange)

// OptimisticOperation tracks one local mutation from the moment the user
// sees its effect until the server confirms or rejects it.
type OptimisticOperation struct {
	OperationId Id
	Kind        OperationKind
	// EntityId is the affected notification. For creations it is the
	// temporary client id until a server event confirms the real one.
	EntityId  Id
	Timestamp time.Time
	// Data is the optimistic record the user already sees.
	Data *NotificationRecord
	// RollbackData restores the pre-operation record on failure. nil for
	// creations, whose rollback is removal.
	RollbackData *NotificationRecord
	// RollbackIndex is the content index a rolled-back delete re-inserts
	// at. Stamped by the sync layer when it applies the delete. -1 when
	// unknown.
	RollbackIndex int
	Status        OperationStatus
	Err           error
	// Superseded retires the operation after a server event already
	// settled its outcome. A superseded operation neither commits nor
	// rolls back.
	Superseded bool
}

// OptimisticUpdateContext pairs one operation with the remote mutation that
// makes it durable. Execute is nil for operations whose remote mutation
// happens outside this library (creations, generic edits); the caller
// assigns it, and a context with a nil Execute commits immediately.
type OptimisticUpdateContext struct {
	Operation *OptimisticOperation
	Execute   func(ctx context.Context) error
	OnSuccess func(operation *OptimisticOperation)
	OnError   func(operation *OptimisticOperation, err error)
}

type OptimisticSettings struct {
	ExecuteTimeout time.Duration
}

func DefaultOptimisticSettings() *OptimisticSettings {
	return &OptimisticSettings{
		ExecuteTimeout: 30 * time.Second,
	}
}

// OptimisticUpdateManager owns the pending-operation registry. It never
// touches pages itself; the sync layer folds and rolls back pages in
// response to the change feed, and `ApplyOptimisticUpdatesToPage` replays
// the registry onto any page.
type OptimisticUpdateManager struct {
	ctx    context.Context
	cancel context.CancelFunc

	// client backs the built-in mark and delete mutations. nil keeps every
	// operation local, which is how collaborator-free tests run.
	client NotificationClient

	settings *OptimisticSettings

	stateLock    sync.Mutex
	operationIds []Id
	operations   map[Id]*OptimisticOperation

	changeCallbacks *CallbackList[OperationListener]
}

func NewOptimisticUpdateManagerWithDefaults(
	ctx context.Context,
	client NotificationClient,
) *OptimisticUpdateManager {
	return NewOptimisticUpdateManager(ctx, client, DefaultOptimisticSettings())
}

func NewOptimisticUpdateManager(
	ctx context.Context,
	client NotificationClient,
	settings *OptimisticSettings,
) *OptimisticUpdateManager {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &OptimisticUpdateManager{
		ctx:             cancelCtx,
		cancel:          cancel,
		client:          client,
		settings:        settings,
		operations:      map[Id]*OptimisticOperation{},
		changeCallbacks: NewCallbackList[OperationListener](),
	}
}

// CreateMarkAsReadUpdate registers a pending mark_read operation and
// returns its update context. The optimistic record is the original with
// the seen flag set, the update date advanced, and the unconfirmed marker
// set.
func (self *OptimisticUpdateManager) CreateMarkAsReadUpdate(
	notificationId Id,
	original *NotificationRecord,
) *OptimisticUpdateContext {
	data := original.Clone()
	data.IsSeen = true
	data.UpdateDate = time.Now().UTC()
	data.IsOptimistic = true

	operation := newOperation(OperationKindMarkRead, notificationId, data, original.Clone())
	updateContext := &OptimisticUpdateContext{
		Operation: operation,
	}
	if self.client != nil {
		updateContext.Execute = func(ctx context.Context) error {
			_, err := self.client.MarkAsSeen(ctx, notificationId)
			return err
		}
	}
	self.register(operation)
	return updateContext
}

// CreateMarkAsUnreadUpdate is the inverse of CreateMarkAsReadUpdate.
func (self *OptimisticUpdateManager) CreateMarkAsUnreadUpdate(
	notificationId Id,
	original *NotificationRecord,
) *OptimisticUpdateContext {
	data := original.Clone()
	data.IsSeen = false
	data.UpdateDate = time.Now().UTC()
	data.IsOptimistic = true

	operation := newOperation(OperationKindMarkUnread, notificationId, data, original.Clone())
	updateContext := &OptimisticUpdateContext{
		Operation: operation,
	}
	if self.client != nil {
		updateContext.Execute = func(ctx context.Context) error {
			_, err := self.client.MarkAsUnseen(ctx, notificationId)
			return err
		}
	}
	self.register(operation)
	return updateContext
}

// CreateDeleteUpdate registers a pending delete. The rollback data is the
// removed record; the sync layer stamps the index it was removed from so a
// rollback can re-insert it in place.
func (self *OptimisticUpdateManager) CreateDeleteUpdate(
	notificationId Id,
	original *NotificationRecord,
) *OptimisticUpdateContext {
	operation := newOperation(OperationKindDelete, notificationId, original.Clone(), original.Clone())
	updateContext := &OptimisticUpdateContext{
		Operation: operation,
	}
	if self.client != nil {
		updateContext.Execute = func(ctx context.Context) error {
			return self.client.DeleteNotification(ctx, notificationId)
		}
	}
	self.register(operation)
	return updateContext
}

// CreateCreateUpdate registers a pending creation under a temporary client
// id. Notifications are born server-side, so there is no built-in remote
// mutation; the caller assigns Execute when one exists.
func (self *OptimisticUpdateManager) CreateCreateUpdate(
	payload *NotificationRecord,
) *OptimisticUpdateContext {
	data := payload.Clone()
	if data.NotificationId == (Id{}) {
		data.NotificationId = NewId()
	}
	now := time.Now().UTC()
	if data.CreateDate.IsZero() {
		data.CreateDate = now
	}
	data.UpdateDate = now
	data.IsOptimistic = true

	operation := newOperation(OperationKindCreate, data.NotificationId, data, nil)
	updateContext := &OptimisticUpdateContext{
		Operation: operation,
	}
	self.register(operation)
	return updateContext
}

// CreateUpdateUpdate registers a general field edit. Execute is
// caller-assigned, as with creations.
func (self *OptimisticUpdateManager) CreateUpdateUpdate(
	notificationId Id,
	original *NotificationRecord,
	updated *NotificationRecord,
) *OptimisticUpdateContext {
	data := updated.Clone()
	data.NotificationId = notificationId
	data.UpdateDate = time.Now().UTC()
	data.IsOptimistic = true

	operation := newOperation(OperationKindUpdate, notificationId, data, original.Clone())
	updateContext := &OptimisticUpdateContext{
		Operation: operation,
	}
	self.register(operation)
	return updateContext
}

// ExecuteOptimisticUpdate runs the remote mutation for an update context.
// The optimistic data is already visible by the time this is called;
// success commits it, failure rolls it back and returns ErrMutationFailed
// wrapping the cause. An operation superseded while the mutation was in
// flight neither commits nor rolls back.
func (self *OptimisticUpdateManager) ExecuteOptimisticUpdate(
	ctx context.Context,
	updateContext *OptimisticUpdateContext,
) error {
	if err := self.ctx.Err(); err != nil {
		return err
	}

	operation := updateContext.Operation

	var err error
	if updateContext.Execute != nil {
		execCtx, execCancel := context.WithTimeout(ctx, self.settings.ExecuteTimeout)
		err = updateContext.Execute(execCtx)
		execCancel()
	}

	if err == nil {
		self.complete(operation, OperationStatusSuccess, nil)
		if updateContext.OnSuccess != nil {
			safeCallback("opt", func() {
				updateContext.OnSuccess(operation)
			})
		}
		return nil
	}

	glog.Infof("[opt]%s %s failed = %s\n", operation.Kind, operation.EntityId, err)
	self.complete(operation, OperationStatusFailed, err)
	if updateContext.OnError != nil {
		safeCallback("opt", func() {
			updateContext.OnError(operation, err)
		})
	}
	return fmt.Errorf("%w: %w", ErrMutationFailed, err)
}

// ApplyOptimisticUpdatesToPage folds the pending operations onto a page,
// first issued first applied, and returns the rebuilt page. The input page
// is not modified. Operation ids are time ordered, so the fold order is
// the issue order.
func (self *OptimisticUpdateManager) ApplyOptimisticUpdatesToPage(page *NotificationPage) *NotificationPage {
	for _, operation := range self.PendingOperations() {
		page = applyOperation(page, operation)
	}
	return page
}

// PendingOperations returns the pending operations in issue order. Callers
// must not mutate the returned operations.
func (self *OptimisticUpdateManager) PendingOperations() []*OptimisticOperation {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	operations := make([]*OptimisticOperation, 0, len(self.operationIds))
	for _, operationId := range self.operationIds {
		operations = append(operations, self.operations[operationId])
	}
	return operations
}

// PendingCreationMatching finds the oldest pending creation with the same
// actor, content, and type, which is how a created event is matched back
// to the optimistic record that anticipated it.
func (self *OptimisticUpdateManager) PendingCreationMatching(
	actorId Id,
	contentId Id,
	notificationType NotificationType,
) *OptimisticOperation {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for _, operationId := range self.operationIds {
		operation := self.operations[operationId]
		if operation.Kind != OperationKindCreate {
			continue
		}
		data := operation.Data
		if data.ActorId == actorId && data.ContentId == contentId && data.Type == notificationType {
			return operation
		}
	}
	return nil
}

// HasPendingDelete reports whether a pending delete targets the
// notification, which makes the matching deleted event idempotent.
func (self *OptimisticUpdateManager) HasPendingDelete(notificationId Id) bool {
	return self.PendingDeleteFor(notificationId) != nil
}

// PendingDeleteFor returns the pending delete targeting the notification.
// nil when none.
func (self *OptimisticUpdateManager) PendingDeleteFor(notificationId Id) *OptimisticOperation {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for _, operationId := range self.operationIds {
		operation := self.operations[operationId]
		if operation.Kind == OperationKindDelete && operation.EntityId == notificationId {
			return operation
		}
	}
	return nil
}

// PendingMutationFor returns the newest pending update, mark_read, or
// mark_unread operation for the notification. nil when none.
func (self *OptimisticUpdateManager) PendingMutationFor(notificationId Id) *OptimisticOperation {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for i := len(self.operationIds) - 1; 0 <= i; i -= 1 {
		operation := self.operations[self.operationIds[i]]
		if operation.EntityId != notificationId {
			continue
		}
		switch operation.Kind {
		case OperationKindUpdate, OperationKindMarkRead, OperationKindMarkUnread:
			return operation
		}
	}
	return nil
}

// Supersede retires a pending operation whose outcome a server event
// already settled. The operation leaves the registry without commit or
// rollback; an in-flight execute for it completes quietly.
func (self *OptimisticUpdateManager) Supersede(operationId Id) {
	self.stateLock.Lock()
	operation, ok := self.operations[operationId]
	if ok {
		operation.Superseded = true
		self.removeLocked(operationId)
	}
	self.stateLock.Unlock()

	if ok {
		glog.V(2).Infof("[opt]supersede %s %s\n", operation.Kind, operation.EntityId)
		self.notify(operation, OperationChangeSuperseded)
	}
}

// DiscardPendingOperations drops every pending operation without applying
// rollbacks, for session changes where the optimistic state no longer maps
// to the canonical page. Returns the discarded operations. In-flight
// executes for discarded operations complete quietly.
func (self *OptimisticUpdateManager) DiscardPendingOperations() []*OptimisticOperation {
	self.stateLock.Lock()
	discarded := make([]*OptimisticOperation, 0, len(self.operationIds))
	for _, operationId := range self.operationIds {
		operation := self.operations[operationId]
		operation.Superseded = true
		discarded = append(discarded, operation)
	}
	self.operationIds = []Id{}
	self.operations = map[Id]*OptimisticOperation{}
	self.stateLock.Unlock()

	if 0 < len(discarded) {
		glog.Infof("[opt]discard %d pending\n", len(discarded))
	}
	for _, operation := range discarded {
		self.notify(operation, OperationChangeDiscarded)
	}
	return discarded
}

// AddChangeListener subscribes to registry changes. The returned func
// unsubscribes.
func (self *OptimisticUpdateManager) AddChangeListener(listener OperationListener) func() {
	callbackId := self.changeCallbacks.Add(listener)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *OptimisticUpdateManager) Close() {
	self.cancel()
}

func (self *OptimisticUpdateManager) register(operation *OptimisticOperation) {
	self.stateLock.Lock()
	self.operationIds = append(self.operationIds, operation.OperationId)
	self.operations[operation.OperationId] = operation
	self.stateLock.Unlock()

	glog.V(2).Infof("[opt]register %s %s\n", operation.Kind, operation.EntityId)
	self.notify(operation, OperationChangeRegistered)
}

func (self *OptimisticUpdateManager) complete(
	operation *OptimisticOperation,
	status OperationStatus,
	err error,
) {
	self.stateLock.Lock()
	superseded := operation.Superseded
	operation.Status = status
	operation.Err = err
	self.removeLocked(operation.OperationId)
	self.stateLock.Unlock()

	if superseded {
		// a server event already settled this entity. nothing to commit
		// or roll back.
		return
	}

	switch status {
	case OperationStatusSuccess:
		self.notify(operation, OperationChangeCommitted)
	case OperationStatusFailed:
		self.notify(operation, OperationChangeRolledBack)
	}
}

func (self *OptimisticUpdateManager) removeLocked(operationId Id) {
	if i := slices.Index(self.operationIds, operationId); 0 <= i {
		self.operationIds = slices.Delete(self.operationIds, i, i+1)
	}
	delete(self.operations, operationId)
}

func (self *OptimisticUpdateManager) notify(operation *OptimisticOperation, change OperationChange) {
	for _, listener := range self.changeCallbacks.Get() {
		safeCallback("opt", func() {
			listener(operation, change)
		})
	}
}

func newOperation(
	kind OperationKind,
	entityId Id,
	data *NotificationRecord,
	rollbackData *NotificationRecord,
) *OptimisticOperation {
	return &OptimisticOperation{
		OperationId:   NewId(),
		Kind:          kind,
		EntityId:      entityId,
		Timestamp:     time.Now().UTC(),
		Data:          data,
		RollbackData:  rollbackData,
		RollbackIndex: -1,
		Status:        OperationStatusPending,
	}
}

// applyOperation folds one pending operation onto a page.
func applyOperation(page *NotificationPage, operation *OptimisticOperation) *NotificationPage {
	switch operation.Kind {
	case OperationKindCreate:
		if page.IndexOf(operation.EntityId) < 0 {
			return page.WithPrepended(*operation.Data)
		}
		return page
	case OperationKindUpdate, OperationKindMarkRead, OperationKindMarkUnread:
		return page.WithReplaced(*operation.Data)
	case OperationKindDelete:
		return page.WithRemoved(operation.EntityId)
	default:
		return page
	}
}

// rollbackOperation undoes one failed operation on a page: creations are
// removed, deletes re-inserted at their original index, everything else
// restored field for field from the rollback data.
func rollbackOperation(page *NotificationPage, operation *OptimisticOperation) *NotificationPage {
	switch operation.Kind {
	case OperationKindCreate:
		return page.WithRemoved(operation.EntityId)
	case OperationKindDelete:
		if operation.RollbackData == nil {
			return page
		}
		index := operation.RollbackIndex
		if index < 0 {
			index = 0
		}
		return page.WithInserted(index, *operation.RollbackData)
	case OperationKindUpdate, OperationKindMarkRead, OperationKindMarkUnread:
		if operation.RollbackData == nil {
			return page
		}
		return page.WithReplaced(*operation.RollbackData)
	default:
		return page
	}
}
