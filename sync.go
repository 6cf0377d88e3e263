package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
)

// MergeStrategy picks the winner when a server event collides with an
// unconfirmed local creation. Update adjudication is not strategy
// sensitive: it always compares wall-clock update times, server winning
// ties.
type MergeStrategy string

const (
	MergeStrategyClientFirst   MergeStrategy = "client_first"
	MergeStrategyServerFirst   MergeStrategy = "server_first"
	MergeStrategyLastWriteWins MergeStrategy = "last_write_wins"
)

type ConflictKind string

const (
	ConflictKindCreate ConflictKind = "create_conflict"
	ConflictKindUpdate ConflictKind = "update_conflict"
	ConflictKindDelete ConflictKind = "delete_conflict"
)

type ConflictResolution string

const (
	ConflictResolutionNone       ConflictResolution = ""
	ConflictResolutionServerWins ConflictResolution = "server_wins"
	ConflictResolutionClientWins ConflictResolution = "client_wins"
	ConflictResolutionManual     ConflictResolution = "manual"
)

// SyncConflict records one adjudicated collision between local and server
// state. Conflicts are bookkeeping, never errors: by the time one is
// recorded the page already shows the adjudicated result.
type SyncConflict struct {
	ConflictId Id
	Kind       ConflictKind
	ClientId   Id
	ServerId   Id
	ClientData *NotificationRecord
	ServerData *NotificationRecord
	Timestamp  time.Time
	Resolution ConflictResolution
}

type PageListener = func(page *NotificationPage)

type StateSyncSettings struct {
	DefaultMergeStrategy MergeStrategy
	// MaxConflictHistory caps the retained conflict records, oldest
	// dropped first. 0 keeps everything.
	MaxConflictHistory int
}

func DefaultStateSyncSettings() *StateSyncSettings {
	return &StateSyncSettings{
		DefaultMergeStrategy: MergeStrategyLastWriteWins,
		MaxConflictHistory:   256,
	}
}

// StateSyncManager is the sole producer of the canonical page. It merges
// the three sources of truth: full server pages, realtime events, and the
// pending optimistic operations, whose change feed it subscribes to on
// construction.
type StateSyncManager struct {
	ctx    context.Context
	cancel context.CancelFunc

	optimistic *OptimisticUpdateManager

	settings *StateSyncSettings

	stateLock     sync.Mutex
	canonicalPage *NotificationPage
	conflictIds   []Id
	conflicts     map[Id]*SyncConflict
	syncing       bool

	pageCallbacks *CallbackList[PageListener]

	unsubscribes []func()
}

func NewStateSyncManagerWithDefaults(
	ctx context.Context,
	optimistic *OptimisticUpdateManager,
) *StateSyncManager {
	return NewStateSyncManager(ctx, optimistic, DefaultStateSyncSettings())
}

func NewStateSyncManager(
	ctx context.Context,
	optimistic *OptimisticUpdateManager,
	settings *StateSyncSettings,
) *StateSyncManager {
	cancelCtx, cancel := context.WithCancel(ctx)
	query := DefaultNotificationQuery()
	manager := &StateSyncManager{
		ctx:           cancelCtx,
		cancel:        cancel,
		optimistic:    optimistic,
		settings:      settings,
		canonicalPage: EmptyNotificationPage(query.PageNumber, query.PageSize),
		conflicts:     map[Id]*SyncConflict{},
		pageCallbacks: NewCallbackList[PageListener](),
	}
	if optimistic != nil {
		manager.unsubscribes = append(
			manager.unsubscribes,
			optimistic.AddChangeListener(manager.onOperationChange),
		)
	}
	return manager
}

// AttachConnection subscribes the manager to the connection's notification
// events. Events merge into the canonical page with the default strategy.
// The returned func detaches.
func (self *StateSyncManager) AttachConnection(connection *ConnectionManager) func() {
	unsubscribes := []func(){}
	for _, eventType := range NotificationEventTypes() {
		unsubscribes = append(unsubscribes, connection.AddEventListener(eventType, self.handleEvent))
	}
	return func() {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
	}
}

func (self *StateSyncManager) handleEvent(event *ChannelEvent) {
	self.ProcessRealtimeEvent(event, nil, self.settings.DefaultMergeStrategy)
}

// CanonicalPage returns the current canonical page. The page is immutable;
// hold it as long as needed.
func (self *StateSyncManager) CanonicalPage() *NotificationPage {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.canonicalPage
}

// AddPageListener subscribes to canonical page installs. The returned func
// unsubscribes.
func (self *StateSyncManager) AddPageListener(listener PageListener) func() {
	callbackId := self.pageCallbacks.Add(listener)
	return func() {
		self.pageCallbacks.Remove(callbackId)
	}
}

// ProcessRealtimeEvent merges one channel event into a page and returns
// the merged page. A nil currentPage merges into the canonical page;
// the result is installed and broadcast when the canonical page was the
// input. Adjudication consults the pending operation registry; conflicts
// are recorded, never returned as errors.
func (self *StateSyncManager) ProcessRealtimeEvent(
	event *ChannelEvent,
	currentPage *NotificationPage,
	strategy MergeStrategy,
) *NotificationPage {
	if strategy == "" {
		strategy = self.settings.DefaultMergeStrategy
	}

	self.stateLock.Lock()
	page := currentPage
	install := page == nil || page == self.canonicalPage
	if page == nil {
		page = self.canonicalPage
	}

	if event == nil || event.Data == nil {
		self.stateLock.Unlock()
		return page
	}

	merged, conflict, retire := self.mergeEventLocked(event, page, strategy)
	if conflict != nil {
		self.recordConflictLocked(conflict)
	}
	changed := false
	if install {
		changed = self.installPageLocked(merged)
	}
	self.stateLock.Unlock()

	for _, operationId := range retire {
		self.optimistic.Supersede(operationId)
	}
	if conflict != nil {
		glog.Infof("[sync]%s client=%s server=%s\n", conflict.Kind, conflict.ClientId, conflict.ServerId)
	}
	if changed {
		self.notifyPage(merged)
	}
	return merged
}

// SynchronizeServerResponse merges a freshly fetched server page with the
// locally shown page. The server page is authoritative for membership and
// totals; pending optimistic operations are folded back on top, and
// pending creations the server page already contains are adjudicated by
// the strategy, as with realtime created events. The merged page is
// installed as canonical and broadcast. A nil server page keeps the client
// page.
func (self *StateSyncManager) SynchronizeServerResponse(
	serverPage *NotificationPage,
	clientPage *NotificationPage,
	strategy MergeStrategy,
) *NotificationPage {
	if strategy == "" {
		strategy = self.settings.DefaultMergeStrategy
	}
	if serverPage == nil {
		serverPage = clientPage
	}
	if serverPage == nil {
		serverPage = self.CanonicalPage()
	}

	self.stateLock.Lock()
	merged, conflicts, retire := self.mergeServerPageLocked(serverPage, strategy)
	for _, conflict := range conflicts {
		self.recordConflictLocked(conflict)
	}
	self.installPageLocked(merged)
	self.stateLock.Unlock()

	for _, operationId := range retire {
		self.optimistic.Supersede(operationId)
	}
	for _, conflict := range conflicts {
		glog.Infof("[sync]%s client=%s server=%s\n", conflict.Kind, conflict.ClientId, conflict.ServerId)
	}
	self.notifyPage(merged)
	return merged
}

// ForceSync refetches the page from the repository and installs it as
// canonical, discarding pending optimistic state first. Single flight: a
// call while one is in progress returns ErrSyncInProgress.
func (self *StateSyncManager) ForceSync(
	ctx context.Context,
	client NotificationClient,
	query *NotificationQuery,
) (*NotificationPage, error) {
	self.stateLock.Lock()
	if self.syncing {
		self.stateLock.Unlock()
		return nil, ErrSyncInProgress
	}
	self.syncing = true
	self.stateLock.Unlock()

	defer func() {
		self.stateLock.Lock()
		self.syncing = false
		self.stateLock.Unlock()
	}()

	if self.optimistic != nil {
		self.optimistic.DiscardPendingOperations()
	}

	if query == nil {
		query = DefaultNotificationQuery()
	}
	page, err := client.GetNotifications(ctx, query)
	if err != nil {
		glog.Infof("[sync]force sync error = %s\n", err)
		return nil, err
	}

	self.stateLock.Lock()
	self.installPageLocked(page)
	self.stateLock.Unlock()

	glog.Infof("[sync]force sync installed page %d (%d records)\n", page.PageNumber, len(page.Content))
	self.notifyPage(page)
	return page, nil
}

// PendingConflicts returns the conflicts without a resolution stamp, in
// record order. Callers must not mutate the returned conflicts.
func (self *StateSyncManager) PendingConflicts() []*SyncConflict {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	conflicts := []*SyncConflict{}
	for _, conflictId := range self.conflictIds {
		conflict := self.conflicts[conflictId]
		if conflict.Resolution == ConflictResolutionNone {
			conflicts = append(conflicts, conflict)
		}
	}
	return conflicts
}

// Conflicts returns every retained conflict in record order, resolved or
// not. Callers must not mutate the returned conflicts.
func (self *StateSyncManager) Conflicts() []*SyncConflict {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	conflicts := make([]*SyncConflict, 0, len(self.conflictIds))
	for _, conflictId := range self.conflictIds {
		conflicts = append(conflicts, self.conflicts[conflictId])
	}
	return conflicts
}

// ResolveConflict stamps a resolution on a recorded conflict. The stamp is
// an audit mark only; it does not replay or undo page state.
func (self *StateSyncManager) ResolveConflict(conflictId Id, resolution ConflictResolution) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	conflict, ok := self.conflicts[conflictId]
	if !ok {
		return fmt.Errorf("%w: conflict %s", ErrNotFound, conflictId)
	}
	conflict.Resolution = resolution
	return nil
}

// ClearResolvedConflicts drops every conflict with a resolution stamp and
// returns how many were dropped.
func (self *StateSyncManager) ClearResolvedConflicts() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	kept := make([]Id, 0, len(self.conflictIds))
	dropped := 0
	for _, conflictId := range self.conflictIds {
		if self.conflicts[conflictId].Resolution == ConflictResolutionNone {
			kept = append(kept, conflictId)
		} else {
			delete(self.conflicts, conflictId)
			dropped += 1
		}
	}
	self.conflictIds = kept
	return dropped
}

func (self *StateSyncManager) Close() {
	for _, unsubscribe := range self.unsubscribes {
		unsubscribe()
	}
	self.cancel()
}

// onOperationChange keeps the canonical page in step with the operation
// registry: registrations fold in, rollbacks restore, commits clear the
// unconfirmed marker. Superseded and discarded operations were already
// settled on the page by the event that retired them.
func (self *StateSyncManager) onOperationChange(operation *OptimisticOperation, change OperationChange) {
	switch change {
	case OperationChangeRegistered:
		self.stateLock.Lock()
		if operation.Kind == OperationKindDelete {
			operation.RollbackIndex = self.canonicalPage.IndexOf(operation.EntityId)
		}
		page := applyOperation(self.canonicalPage, operation)
		changed := self.installPageLocked(page)
		self.stateLock.Unlock()
		if changed {
			self.notifyPage(page)
		}
	case OperationChangeRolledBack:
		self.stateLock.Lock()
		page := rollbackOperation(self.canonicalPage, operation)
		changed := self.installPageLocked(page)
		self.stateLock.Unlock()
		if changed {
			glog.Infof("[sync]rolled back %s %s\n", operation.Kind, operation.EntityId)
			self.notifyPage(page)
		}
	case OperationChangeCommitted:
		self.stateLock.Lock()
		page := self.canonicalPage
		if record, ok := page.Find(operation.EntityId); ok && record.IsOptimistic {
			record.IsOptimistic = false
			page = page.WithReplaced(*record)
		}
		changed := self.installPageLocked(page)
		self.stateLock.Unlock()
		if changed {
			self.notifyPage(page)
		}
	}
}

// mergeEventLocked adjudicates one event against a page. It returns the
// merged page, the conflict to record when one was born, and the pending
// operation ids the event retired.
func (self *StateSyncManager) mergeEventLocked(
	event *ChannelEvent,
	page *NotificationPage,
	strategy MergeStrategy,
) (*NotificationPage, *SyncConflict, []Id) {
	switch event.Type {
	case EventTypeNotificationCreated:
		return self.mergeCreatedLocked(event.Data, page, strategy)
	case EventTypeNotificationUpdated, EventTypeNotificationRead:
		return self.mergeUpdatedLocked(event.Data, page)
	case EventTypeNotificationDeleted:
		return self.mergeDeletedLocked(event.Data, page)
	default:
		return page, nil, nil
	}
}

// a created event either confirms a pending optimistic creation, matched
// on actor, content, and type, or introduces a record this client has not
// seen. A replayed id is a no-op.
func (self *StateSyncManager) mergeCreatedLocked(
	record *NotificationRecord,
	page *NotificationPage,
	strategy MergeStrategy,
) (*NotificationPage, *SyncConflict, []Id) {
	if 0 <= page.IndexOf(record.NotificationId) {
		return page, nil, nil
	}

	serverRecord := *record.Clone()
	serverRecord.IsOptimistic = false

	var pending *OptimisticOperation
	if self.optimistic != nil {
		pending = self.optimistic.PendingCreationMatching(record.ActorId, record.ContentId, record.Type)
	}
	if pending == nil {
		return page.WithPrepended(serverRecord), nil, nil
	}

	retire := []Id{pending.OperationId}

	if strategy == MergeStrategyClientFirst {
		// the optimistic record was right. adopt the server id in place,
		// no conflict.
		confirmed := *pending.Data.Clone()
		confirmed.NotificationId = serverRecord.NotificationId
		confirmed.IsOptimistic = false
		merged := page.WithSubstituted(pending.EntityId, confirmed)
		if merged == page {
			merged = page.WithPrepended(confirmed)
		}
		return merged, nil, retire
	}

	// server_first and last_write_wins take the server record. the
	// displacement is recorded as a creation conflict, already resolved in
	// the server's favor.
	merged := page.WithSubstituted(pending.EntityId, serverRecord)
	if merged == page {
		merged = page.WithPrepended(serverRecord)
	}
	return merged, creationConflict(pending.Data, &serverRecord), retire
}

// an updated or read event for an entity with a pending local mutation is
// adjudicated on wall-clock update time: an event matching the pending
// intent is its confirmation, a strictly newer local record outlives a
// stale event, and otherwise the server overwrites, the operation retires,
// and an unresolved update conflict is recorded. Ties go to the server.
func (self *StateSyncManager) mergeUpdatedLocked(
	record *NotificationRecord,
	page *NotificationPage,
) (*NotificationPage, *SyncConflict, []Id) {
	serverRecord := *record.Clone()
	serverRecord.IsOptimistic = false

	var pending *OptimisticOperation
	if self.optimistic != nil {
		pending = self.optimistic.PendingMutationFor(record.NotificationId)
	}
	if pending == nil {
		return page.WithReplaced(serverRecord), nil, nil
	}

	if recordsEquivalent(pending.Data, &serverRecord) {
		return page.WithReplaced(serverRecord), nil, []Id{pending.OperationId}
	}

	if pending.Data.UpdatedAfter(&serverRecord) {
		// the local change is strictly newer. keep it; the in-flight
		// mutation carries it to the server.
		return page, nil, nil
	}

	conflict := updateConflict(pending.Data, &serverRecord)
	return page.WithReplaced(serverRecord), conflict, []Id{pending.OperationId}
}

// a deleted event is idempotent: a matching pending local delete or an
// absent record merges silently. Removing a record the client still shows
// without a pending delete is recorded as a delete conflict.
func (self *StateSyncManager) mergeDeletedLocked(
	record *NotificationRecord,
	page *NotificationPage,
) (*NotificationPage, *SyncConflict, []Id) {
	notificationId := record.NotificationId

	if self.optimistic != nil {
		if pending := self.optimistic.PendingDeleteFor(notificationId); pending != nil {
			return page.WithRemoved(notificationId), nil, []Id{pending.OperationId}
		}
	}

	removed, ok := page.Find(notificationId)
	if !ok {
		return page, nil, nil
	}

	return page.WithRemoved(notificationId), deleteConflict(removed), nil
}

// mergeServerPageLocked folds the pending operations back onto a freshly
// fetched page, adjudicating each against the server copy the same way the
// realtime merge does.
func (self *StateSyncManager) mergeServerPageLocked(
	serverPage *NotificationPage,
	strategy MergeStrategy,
) (*NotificationPage, []*SyncConflict, []Id) {
	merged := serverPage
	conflicts := []*SyncConflict{}
	retire := []Id{}

	if self.optimistic == nil {
		return merged, conflicts, retire
	}

	for _, operation := range self.optimistic.PendingOperations() {
		switch operation.Kind {
		case OperationKindCreate:
			server, ok := findMatchingCreation(merged, operation.Data)
			if !ok {
				merged = applyOperation(merged, operation)
				continue
			}
			retire = append(retire, operation.OperationId)
			if strategy == MergeStrategyClientFirst {
				confirmed := *operation.Data.Clone()
				confirmed.NotificationId = server.NotificationId
				confirmed.IsOptimistic = false
				merged = merged.WithReplaced(confirmed)
			} else {
				conflicts = append(conflicts, creationConflict(operation.Data, server))
			}
		case OperationKindDelete:
			if merged.IndexOf(operation.EntityId) < 0 {
				// already gone server-side. retire so a late failure of
				// the in-flight delete cannot resurrect the record.
				retire = append(retire, operation.OperationId)
				continue
			}
			merged = applyOperation(merged, operation)
		case OperationKindUpdate, OperationKindMarkRead, OperationKindMarkUnread:
			server, ok := merged.Find(operation.EntityId)
			if !ok {
				// deleted server-side or out of the page window. don't
				// resurrect it.
				continue
			}
			if recordsEquivalent(operation.Data, server) {
				retire = append(retire, operation.OperationId)
				continue
			}
			if operation.Data.UpdatedAfter(server) {
				merged = applyOperation(merged, operation)
			} else {
				retire = append(retire, operation.OperationId)
				conflicts = append(conflicts, updateConflict(operation.Data, server))
			}
		}
	}
	return merged, conflicts, retire
}

func (self *StateSyncManager) recordConflictLocked(conflict *SyncConflict) {
	self.conflictIds = append(self.conflictIds, conflict.ConflictId)
	self.conflicts[conflict.ConflictId] = conflict

	if max := self.settings.MaxConflictHistory; 0 < max {
		for max < len(self.conflictIds) {
			dropId := self.conflictIds[0]
			self.conflictIds = self.conflictIds[1:]
			delete(self.conflicts, dropId)
		}
	}
}

// installPageLocked swaps the canonical page. Merge helpers return the
// input page unchanged for no-ops, so pointer identity tells whether
// anything happened.
func (self *StateSyncManager) installPageLocked(page *NotificationPage) bool {
	if page == self.canonicalPage {
		return false
	}
	self.canonicalPage = page
	return true
}

func (self *StateSyncManager) notifyPage(page *NotificationPage) {
	for _, listener := range self.pageCallbacks.Get() {
		safeCallback("sync", func() {
			listener(page)
		})
	}
}

// recordsEquivalent reports whether two records would render identically,
// ignoring the bookkeeping fields.
func recordsEquivalent(a *NotificationRecord, b *NotificationRecord) bool {
	return a.NotificationId == b.NotificationId &&
		a.ActorId == b.ActorId &&
		a.ContentId == b.ContentId &&
		a.Type == b.Type &&
		a.IsSeen == b.IsSeen
}

// findMatchingCreation matches a pending creation to a server record by
// the actor, content, type triple.
func findMatchingCreation(page *NotificationPage, data *NotificationRecord) (*NotificationRecord, bool) {
	for _, record := range page.Content {
		if record.ActorId == data.ActorId && record.ContentId == data.ContentId && record.Type == data.Type {
			match := record
			return &match, true
		}
	}
	return nil, false
}

func creationConflict(clientData *NotificationRecord, serverData *NotificationRecord) *SyncConflict {
	return &SyncConflict{
		ConflictId: NewId(),
		Kind:       ConflictKindCreate,
		ClientId:   clientData.NotificationId,
		ServerId:   serverData.NotificationId,
		ClientData: clientData.Clone(),
		ServerData: serverData.Clone(),
		Timestamp:  time.Now().UTC(),
		Resolution: ConflictResolutionServerWins,
	}
}

func updateConflict(clientData *NotificationRecord, serverData *NotificationRecord) *SyncConflict {
	return &SyncConflict{
		ConflictId: NewId(),
		Kind:       ConflictKindUpdate,
		ClientId:   clientData.NotificationId,
		ServerId:   serverData.NotificationId,
		ClientData: clientData.Clone(),
		ServerData: serverData.Clone(),
		Timestamp:  time.Now().UTC(),
	}
}

func deleteConflict(clientData *NotificationRecord) *SyncConflict {
	return &SyncConflict{
		ConflictId: NewId(),
		Kind:       ConflictKindDelete,
		ClientId:   clientData.NotificationId,
		ServerId:   clientData.NotificationId,
		ClientData: clientData.Clone(),
		Timestamp:  time.Now().UTC(),
		Resolution: ConflictResolutionServerWins,
	}
}

// NotificationSync bundles the three managers and their collaborators into
// the one assembly most clients want: connect, listen, mutate, refresh.
type NotificationSync struct {
	Connection *ConnectionManager
	Optimistic *OptimisticUpdateManager
	Sync       *StateSyncManager

	client NotificationClient

	detach func()
	cancel context.CancelFunc
}

type NotificationSyncSettings struct {
	Connection *ConnectionSettings
	Optimistic *OptimisticSettings
	Sync       *StateSyncSettings
}

func DefaultNotificationSyncSettings() *NotificationSyncSettings {
	return &NotificationSyncSettings{
		Connection: DefaultConnectionSettings(),
		Optimistic: DefaultOptimisticSettings(),
		Sync:       DefaultStateSyncSettings(),
	}
}

func NewNotificationSyncWithDefaults(
	ctx context.Context,
	channelUrl string,
	auth *SessionAuth,
	client NotificationClient,
	store Store,
) *NotificationSync {
	return NewNotificationSync(ctx, channelUrl, auth, client, store, DefaultNotificationSyncSettings())
}

func NewNotificationSync(
	ctx context.Context,
	channelUrl string,
	auth *SessionAuth,
	client NotificationClient,
	store Store,
	settings *NotificationSyncSettings,
) *NotificationSync {
	cancelCtx, cancel := context.WithCancel(ctx)

	connection := NewConnectionManager(cancelCtx, channelUrl, auth, store, settings.Connection)
	optimistic := NewOptimisticUpdateManager(cancelCtx, client, settings.Optimistic)
	syncManager := NewStateSyncManager(cancelCtx, optimistic, settings.Sync)
	detach := syncManager.AttachConnection(connection)

	return &NotificationSync{
		Connection: connection,
		Optimistic: optimistic,
		Sync:       syncManager,
		client:     client,
		detach:     detach,
		cancel:     cancel,
	}
}

func (self *NotificationSync) Connect(ctx context.Context, sessionId Id) error {
	return self.Connection.Connect(ctx, sessionId)
}

func (self *NotificationSync) Disconnect() {
	self.Connection.Disconnect()
}

// Refresh fetches a page from the repository and merges it with the
// locally shown state.
func (self *NotificationSync) Refresh(ctx context.Context, query *NotificationQuery) (*NotificationPage, error) {
	if query == nil {
		query = DefaultNotificationQuery()
	}
	serverPage, err := self.client.GetNotifications(ctx, query)
	if err != nil {
		return nil, err
	}
	merged := self.Sync.SynchronizeServerResponse(
		serverPage,
		self.Sync.CanonicalPage(),
		self.Sync.settings.DefaultMergeStrategy,
	)
	return merged, nil
}

// ForceSync discards pending optimistic state and installs a fresh page.
func (self *NotificationSync) ForceSync(ctx context.Context, query *NotificationQuery) (*NotificationPage, error) {
	return self.Sync.ForceSync(ctx, self.client, query)
}

// MarkAsRead optimistically marks a shown notification read and confirms
// it with the repository.
func (self *NotificationSync) MarkAsRead(ctx context.Context, notificationId Id) error {
	record, ok := self.Sync.CanonicalPage().Find(notificationId)
	if !ok {
		return fmt.Errorf("%w: notification %s", ErrNotFound, notificationId)
	}
	updateContext := self.Optimistic.CreateMarkAsReadUpdate(notificationId, record)
	return self.Optimistic.ExecuteOptimisticUpdate(ctx, updateContext)
}

// MarkAsUnread is the inverse of MarkAsRead.
func (self *NotificationSync) MarkAsUnread(ctx context.Context, notificationId Id) error {
	record, ok := self.Sync.CanonicalPage().Find(notificationId)
	if !ok {
		return fmt.Errorf("%w: notification %s", ErrNotFound, notificationId)
	}
	updateContext := self.Optimistic.CreateMarkAsUnreadUpdate(notificationId, record)
	return self.Optimistic.ExecuteOptimisticUpdate(ctx, updateContext)
}

// Delete optimistically removes a shown notification and confirms it with
// the repository.
func (self *NotificationSync) Delete(ctx context.Context, notificationId Id) error {
	record, ok := self.Sync.CanonicalPage().Find(notificationId)
	if !ok {
		return fmt.Errorf("%w: notification %s", ErrNotFound, notificationId)
	}
	updateContext := self.Optimistic.CreateDeleteUpdate(notificationId, record)
	return self.Optimistic.ExecuteOptimisticUpdate(ctx, updateContext)
}

func (self *NotificationSync) Close() {
	self.detach()
	self.Connection.Close()
	self.Optimistic.Close()
	self.Sync.Close()
	self.cancel()
}
