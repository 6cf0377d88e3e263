package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
)

// NotificationClient is the remote repository collaborator. The server is
// the source of truth; everything here is fetch and confirm.
type NotificationClient interface {
	GetNotifications(ctx context.Context, query *NotificationQuery) (*NotificationPage, error)
	MarkAsSeen(ctx context.Context, notificationId Id) (*NotificationRecord, error)
	MarkAsUnseen(ctx context.Context, notificationId Id) (*NotificationRecord, error)
	DeleteNotification(ctx context.Context, notificationId Id) error
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// NotificationApi talks to the notification repository over HTTPS with the
// Bearer session JWT.
type NotificationApi struct {
	ctx context.Context

	apiUrl string

	httpClient *http.Client

	stateLock sync.Mutex
	byJwt     string
}

func NewNotificationApi(ctx context.Context, apiUrl string) *NotificationApi {
	return &NotificationApi{
		ctx:    ctx,
		apiUrl: apiUrl,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (self *NotificationApi) SetByJwt(byJwt string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.byJwt = byJwt
}

func (self *NotificationApi) SetAuth(auth *SessionAuth) {
	if auth == nil {
		self.SetByJwt("")
		return
	}
	self.SetByJwt(auth.ByJwt)
}

func (self *NotificationApi) getByJwt() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.byJwt
}

func (self *NotificationApi) GetNotifications(ctx context.Context, query *NotificationQuery) (*NotificationPage, error) {
	if query == nil {
		query = DefaultNotificationQuery()
	}
	path := fmt.Sprintf("/notifications?%s", query.values().Encode())
	page, err := get(ctx, self, path, &NotificationPage{})
	if err != nil {
		return nil, err
	}
	return page.normalized(), nil
}

func (self *NotificationApi) GetNotificationsAsync(query *NotificationQuery, callback apiCallback[*NotificationPage]) {
	go func() {
		callback.Result(self.GetNotifications(self.ctx, query))
	}()
}

func (self *NotificationApi) MarkAsSeen(ctx context.Context, notificationId Id) (*NotificationRecord, error) {
	path := fmt.Sprintf("/notifications/%s/seen", notificationId)
	return post(ctx, self, path, nil, &NotificationRecord{})
}

func (self *NotificationApi) MarkAsSeenAsync(notificationId Id, callback apiCallback[*NotificationRecord]) {
	go func() {
		callback.Result(self.MarkAsSeen(self.ctx, notificationId))
	}()
}

func (self *NotificationApi) MarkAsUnseen(ctx context.Context, notificationId Id) (*NotificationRecord, error) {
	path := fmt.Sprintf("/notifications/%s/unseen", notificationId)
	return post(ctx, self, path, nil, &NotificationRecord{})
}

func (self *NotificationApi) MarkAsUnseenAsync(notificationId Id, callback apiCallback[*NotificationRecord]) {
	go func() {
		callback.Result(self.MarkAsUnseen(self.ctx, notificationId))
	}()
}

func (self *NotificationApi) DeleteNotification(ctx context.Context, notificationId Id) error {
	path := fmt.Sprintf("/notifications/%s", notificationId)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, self.apiUrl+path, nil)
	if err != nil {
		return err
	}
	_, err = doRequest(self, req, &struct{}{})
	return err
}

func (self *NotificationApi) DeleteNotificationAsync(notificationId Id, callback apiCallback[bool]) {
	go func() {
		err := self.DeleteNotification(self.ctx, notificationId)
		callback.Result(err == nil, err)
	}()
}

func get[R any](ctx context.Context, api *NotificationApi, path string, result R) (R, error) {
	var empty R

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.apiUrl+path, nil)
	if err != nil {
		return empty, err
	}
	return doRequest(api, req, result)
}

func post[R any](ctx context.Context, api *NotificationApi, path string, args any, result R) (R, error) {
	var empty R

	var body io.Reader
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return empty, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, api.apiUrl+path, body)
	if err != nil {
		return empty, err
	}
	if args != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return doRequest(api, req, result)
}

func doRequest[R any](api *NotificationApi, req *http.Request, result R) (R, error) {
	var empty R

	req.Header.Set("Accept", "application/json")
	if byJwt := api.getByJwt(); byJwt != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", byJwt))
	}

	res, err := api.httpClient.Do(req)
	if err != nil {
		return empty, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer res.Body.Close()

	glog.V(2).Infof("[api]%s %s = %d\n", req.Method, req.URL.Path, res.StatusCode)

	switch {
	case res.StatusCode == http.StatusNotFound:
		return empty, fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	case http.StatusOK <= res.StatusCode && res.StatusCode < 300:
		if res.StatusCode == http.StatusNoContent {
			return result, nil
		}
		body, err := io.ReadAll(res.Body)
		if err != nil {
			return empty, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		if len(body) == 0 {
			return result, nil
		}
		if err := json.Unmarshal(body, result); err != nil {
			return empty, err
		}
		return result, nil
	default:
		body, _ := io.ReadAll(res.Body)
		return empty, fmt.Errorf(
			"%s %s status %d: %s",
			req.Method,
			req.URL.Path,
			res.StatusCode,
			strings.TrimSpace(string(body)),
		)
	}
}

type CachingClientSettings struct {
	PageTtl time.Duration
}

func DefaultCachingClientSettings() *CachingClientSettings {
	return &CachingClientSettings{
		PageTtl: 30 * time.Second,
	}
}

// CachingClient decorates a NotificationClient with the store: page reads
// are served from cache inside the TTL, and every mutation writes through
// and then invalidates the user's cached pages.
type CachingClient struct {
	client NotificationClient
	store  Store
	userId Id

	settings *CachingClientSettings
}

func NewCachingClientWithDefaults(client NotificationClient, store Store, userId Id) *CachingClient {
	return NewCachingClient(client, store, userId, DefaultCachingClientSettings())
}

func NewCachingClient(
	client NotificationClient,
	store Store,
	userId Id,
	settings *CachingClientSettings,
) *CachingClient {
	return &CachingClient{
		client:   client,
		store:    store,
		userId:   userId,
		settings: settings,
	}
}

func (self *CachingClient) GetNotifications(ctx context.Context, query *NotificationQuery) (*NotificationPage, error) {
	if query == nil {
		query = DefaultNotificationQuery()
	}
	key := pageKey(self.userId, query)

	if value, ok, err := self.store.Get(key); err == nil && ok {
		page := &NotificationPage{}
		if err := json.Unmarshal(value, page); err == nil {
			glog.V(2).Infof("[api]cache hit %s\n", key)
			return page.normalized(), nil
		}
		// a cached row that does not decode is a stale format. drop it.
		self.store.Delete(key)
	}

	page, err := self.client.GetNotifications(ctx, query)
	if err != nil {
		return nil, err
	}

	if value, err := json.Marshal(page); err == nil {
		if err := self.store.Set(key, value, self.settings.PageTtl); err != nil {
			glog.Warningf("[api]cache set %s error = %s\n", key, err)
		}
	}
	return page, nil
}

func (self *CachingClient) MarkAsSeen(ctx context.Context, notificationId Id) (*NotificationRecord, error) {
	record, err := self.client.MarkAsSeen(ctx, notificationId)
	if err != nil {
		return nil, err
	}
	self.invalidatePages()
	return record, nil
}

func (self *CachingClient) MarkAsUnseen(ctx context.Context, notificationId Id) (*NotificationRecord, error) {
	record, err := self.client.MarkAsUnseen(ctx, notificationId)
	if err != nil {
		return nil, err
	}
	self.invalidatePages()
	return record, nil
}

func (self *CachingClient) DeleteNotification(ctx context.Context, notificationId Id) error {
	if err := self.client.DeleteNotification(ctx, notificationId); err != nil {
		return err
	}
	self.invalidatePages()
	return nil
}

func (self *CachingClient) invalidatePages() {
	if err := self.store.InvalidatePattern(pagePattern(self.userId)); err != nil {
		glog.Warningf("[api]cache invalidate error = %s\n", err)
	}
}

func pageKey(userId Id, query *NotificationQuery) string {
	key := fmt.Sprintf("notify/page/%s/%d/%d", userId, query.PageNumber, query.PageSize)
	if query.UnseenOnly {
		key += "/unseen"
	}
	return key
}

func pagePattern(userId Id) string {
	return fmt.Sprintf("notify/page/%s/*", userId)
}
