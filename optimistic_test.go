package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestMarkAsReadLifecycle(t *testing.T) {
	ctx := context.Background()
	manager := NewOptimisticUpdateManagerWithDefaults(ctx, nil)
	defer manager.Close()

	original := testRecord(NotificationTypeLike, false)

	changes := []OperationChange{}
	unsubscribe := manager.AddChangeListener(func(operation *OptimisticOperation, change OperationChange) {
		changes = append(changes, change)
	})
	defer unsubscribe()

	updateContext := manager.CreateMarkAsReadUpdate(original.NotificationId, &original)
	operation := updateContext.Operation

	assert.Equal(t, operation.Kind, OperationKindMarkRead)
	assert.Equal(t, operation.Status, OperationStatusPending)
	assert.Equal(t, operation.EntityId, original.NotificationId)
	assert.Equal(t, operation.Data.IsSeen, true)
	assert.Equal(t, operation.Data.IsOptimistic, true)
	assert.Equal(t, operation.RollbackData.IsSeen, false)
	assert.Equal(t, len(manager.PendingOperations()), 1)

	// no client wired, so the mutation commits locally
	err := manager.ExecuteOptimisticUpdate(ctx, updateContext)
	assert.Equal(t, err, nil)
	assert.Equal(t, operation.Status, OperationStatusSuccess)
	assert.Equal(t, len(manager.PendingOperations()), 0)
	assert.Equal(t, changes, []OperationChange{OperationChangeRegistered, OperationChangeCommitted})
}

func TestExecuteFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	manager := NewOptimisticUpdateManagerWithDefaults(ctx, nil)
	defer manager.Close()

	original := testRecord(NotificationTypeComment, false)

	var rolledBack *OptimisticOperation
	unsubscribe := manager.AddChangeListener(func(operation *OptimisticOperation, change OperationChange) {
		if change == OperationChangeRolledBack {
			rolledBack = operation
		}
	})
	defer unsubscribe()

	updateContext := manager.CreateMarkAsReadUpdate(original.NotificationId, &original)
	cause := fmt.Errorf("backend rejected")
	updateContext.Execute = func(ctx context.Context) error {
		return cause
	}
	var callbackErr error
	updateContext.OnError = func(operation *OptimisticOperation, err error) {
		callbackErr = err
	}

	err := manager.ExecuteOptimisticUpdate(ctx, updateContext)
	assert.Equal(t, errors.Is(err, ErrMutationFailed), true)
	assert.Equal(t, errors.Is(err, cause), true)
	assert.Equal(t, callbackErr, cause)
	assert.Equal(t, updateContext.Operation.Status, OperationStatusFailed)
	assert.Equal(t, updateContext.Operation.Err, cause)
	assert.Equal(t, rolledBack == updateContext.Operation, true)
	assert.Equal(t, len(manager.PendingOperations()), 0)
}

func TestExecuteTimeout(t *testing.T) {
	ctx := context.Background()
	settings := DefaultOptimisticSettings()
	settings.ExecuteTimeout = 10 * time.Millisecond
	manager := NewOptimisticUpdateManager(ctx, nil, settings)
	defer manager.Close()

	original := testRecord(NotificationTypeLike, false)
	updateContext := manager.CreateMarkAsReadUpdate(original.NotificationId, &original)
	updateContext.Execute = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	err := manager.ExecuteOptimisticUpdate(ctx, updateContext)
	assert.Equal(t, errors.Is(err, ErrMutationFailed), true)
	assert.Equal(t, errors.Is(err, context.DeadlineExceeded), true)
}

func TestApplyOptimisticUpdatesToPage(t *testing.T) {
	ctx := context.Background()
	manager := NewOptimisticUpdateManagerWithDefaults(ctx, nil)
	defer manager.Close()

	a := testRecord(NotificationTypeFollow, false)
	b := testRecord(NotificationTypeLike, false)
	page := NewNotificationPage([]NotificationRecord{a, b}, 0, 20, 10, false)

	manager.CreateMarkAsReadUpdate(a.NotificationId, &a)
	manager.CreateDeleteUpdate(b.NotificationId, &b)
	created := manager.CreateCreateUpdate(&NotificationRecord{
		ActorId:   NewId(),
		ContentId: NewId(),
		Type:      NotificationTypeRepost,
	})

	folded := manager.ApplyOptimisticUpdatesToPage(page)
	assert.Equal(t, folded.NumberOfElements, 2)
	assert.Equal(t, folded.TotalElements, 10)
	assert.Equal(t, folded.Content[0].NotificationId, created.Operation.EntityId)
	assert.Equal(t, folded.Content[0].IsOptimistic, true)

	seen, ok := folded.Find(a.NotificationId)
	assert.Equal(t, ok, true)
	assert.Equal(t, seen.IsSeen, true)
	assert.Equal(t, folded.IndexOf(b.NotificationId), -1)

	// the input page is untouched
	assert.Equal(t, page.NumberOfElements, 2)
	assert.Equal(t, page.Content[0].IsSeen, false)
}

func TestPendingQueries(t *testing.T) {
	ctx := context.Background()
	manager := NewOptimisticUpdateManagerWithDefaults(ctx, nil)
	defer manager.Close()

	record := testRecord(NotificationTypeMention, false)

	manager.CreateMarkAsReadUpdate(record.NotificationId, &record)
	seen := record
	seen.IsSeen = true
	second := manager.CreateMarkAsUnreadUpdate(record.NotificationId, &seen)

	// the newest mutation for the entity wins
	pending := manager.PendingMutationFor(record.NotificationId)
	assert.Equal(t, pending == second.Operation, true)

	other := testRecord(NotificationTypeFollow, false)
	assert.Equal(t, manager.PendingMutationFor(other.NotificationId) == nil, true)

	deleted := manager.CreateDeleteUpdate(other.NotificationId, &other)
	assert.Equal(t, manager.HasPendingDelete(other.NotificationId), true)
	assert.Equal(t, manager.HasPendingDelete(record.NotificationId), false)
	assert.Equal(t, manager.PendingDeleteFor(other.NotificationId) == deleted.Operation, true)

	payload := &NotificationRecord{ActorId: NewId(), ContentId: NewId(), Type: NotificationTypeLike}
	creation := manager.CreateCreateUpdate(payload)
	match := manager.PendingCreationMatching(payload.ActorId, payload.ContentId, NotificationTypeLike)
	assert.Equal(t, match == creation.Operation, true)
	assert.Equal(t, manager.PendingCreationMatching(payload.ActorId, payload.ContentId, NotificationTypeFollow) == nil, true)

	// pending operations come back in issue order
	operations := manager.PendingOperations()
	assert.Equal(t, len(operations), 4)
	for i := 1; i < len(operations); i += 1 {
		assert.Equal(t, operations[i-1].OperationId.LessThan(operations[i].OperationId), true)
	}
}

func TestCreateCreateUpdateAssignsTempId(t *testing.T) {
	ctx := context.Background()
	manager := NewOptimisticUpdateManagerWithDefaults(ctx, nil)
	defer manager.Close()

	payload := &NotificationRecord{ActorId: NewId(), ContentId: NewId(), Type: NotificationTypeComment}
	creation := manager.CreateCreateUpdate(payload)

	operation := creation.Operation
	assert.Equal(t, operation.Kind, OperationKindCreate)
	assert.Equal(t, operation.EntityId == Id{}, false)
	assert.Equal(t, operation.Data.NotificationId, operation.EntityId)
	assert.Equal(t, operation.Data.IsOptimistic, true)
	assert.Equal(t, operation.Data.CreateDate.IsZero(), false)
	assert.Equal(t, operation.Data.UpdateDate.IsZero(), false)
}

func TestSupersedeSkipsRollback(t *testing.T) {
	ctx := context.Background()
	manager := NewOptimisticUpdateManagerWithDefaults(ctx, nil)
	defer manager.Close()

	record := testRecord(NotificationTypeLike, false)
	updateContext := manager.CreateMarkAsReadUpdate(record.NotificationId, &record)
	updateContext.Execute = func(ctx context.Context) error {
		return errors.New("late failure")
	}

	changes := []OperationChange{}
	unsubscribe := manager.AddChangeListener(func(operation *OptimisticOperation, change OperationChange) {
		changes = append(changes, change)
	})
	defer unsubscribe()

	manager.Supersede(updateContext.Operation.OperationId)
	assert.Equal(t, len(manager.PendingOperations()), 0)
	assert.Equal(t, changes, []OperationChange{OperationChangeSuperseded})

	// the in-flight mutation still fails, but the settled outcome stands:
	// no rollback notification follows
	err := manager.ExecuteOptimisticUpdate(ctx, updateContext)
	assert.Equal(t, errors.Is(err, ErrMutationFailed), true)
	assert.Equal(t, changes, []OperationChange{OperationChangeSuperseded})
}

func TestDiscardPending(t *testing.T) {
	ctx := context.Background()
	manager := NewOptimisticUpdateManagerWithDefaults(ctx, nil)
	defer manager.Close()

	a := testRecord(NotificationTypeFollow, false)
	b := testRecord(NotificationTypeLike, false)
	manager.CreateMarkAsReadUpdate(a.NotificationId, &a)
	manager.CreateDeleteUpdate(b.NotificationId, &b)

	discarded := manager.DiscardPendingOperations()
	assert.Equal(t, len(discarded), 2)
	assert.Equal(t, discarded[0].Superseded, true)
	assert.Equal(t, len(manager.PendingOperations()), 0)
	assert.Equal(t, len(manager.DiscardPendingOperations()), 0)
}

func TestRollbackRestoration(t *testing.T) {
	a := testRecord(NotificationTypeFollow, false)
	b := testRecord(NotificationTypeLike, false)
	c := testRecord(NotificationTypeComment, true)
	page := NewNotificationPage([]NotificationRecord{a, b, c}, 0, 20, 30, false)

	ctx := context.Background()
	manager := NewOptimisticUpdateManagerWithDefaults(ctx, nil)
	defer manager.Close()

	// mark_read rolls back field for field
	markRead := manager.CreateMarkAsReadUpdate(b.NotificationId, &b).Operation
	folded := applyOperation(page, markRead)
	restored := rollbackOperation(folded, markRead)
	assert.Equal(t, restored.Content, page.Content)

	// delete rolls back to the original position
	deleted := manager.CreateDeleteUpdate(b.NotificationId, &b).Operation
	deleted.RollbackIndex = 1
	folded = applyOperation(page, deleted)
	assert.Equal(t, folded.IndexOf(b.NotificationId), -1)
	restored = rollbackOperation(folded, deleted)
	assert.Equal(t, restored.Content, page.Content)
	assert.Equal(t, restored.TotalElements, page.TotalElements)

	// create rolls back by disappearing
	creation := manager.CreateCreateUpdate(&NotificationRecord{
		ActorId:   NewId(),
		ContentId: NewId(),
		Type:      NotificationTypeRepost,
	}).Operation
	folded = applyOperation(page, creation)
	assert.Equal(t, folded.NumberOfElements, 4)
	restored = rollbackOperation(folded, creation)
	assert.Equal(t, restored.Content, page.Content)
	assert.Equal(t, restored.TotalElements, page.TotalElements)
}
