package notify

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"golang.org/x/exp/slices"
)

// CallbackList is an ordered callback registry. Funcs are not comparable,
// so Add returns a callback id that removes the entry. Get returns a
// snapshot in registration order that is safe to iterate outside locks.
type CallbackList[T any] struct {
	mutex       sync.Mutex
	callbackIds []Id
	callbacks   map[Id]T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbackIds: []Id{},
		callbacks:   map[Id]T{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbacks := make([]T, 0, len(self.callbackIds))
	for _, callbackId := range self.callbackIds {
		callbacks = append(callbacks, self.callbacks[callbackId])
	}
	return callbacks
}

func (self *CallbackList[T]) Add(callback T) Id {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := NewId()
	self.callbackIds = append(self.callbackIds, callbackId)
	self.callbacks[callbackId] = callback
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId Id) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := slices.Index(self.callbackIds, callbackId)
	if i < 0 {
		// not present
		return
	}
	self.callbackIds = slices.Delete(self.callbackIds, i, i+1)
	delete(self.callbacks, callbackId)
}

// safeCallback keeps a panic in listener code from killing the caller's
// loop. The panic is logged and suppressed.
func safeCallback(tag string, callback func()) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("[%s]listener panic = %v\n", tag, r)
		}
	}()
	callback()
}

// Reconnect schedules the next connect attempt relative to when the
// previous attempt started.
type Reconnect struct {
	delay     time.Duration
	startTime time.Time
}

func NewReconnect(delay time.Duration) *Reconnect {
	return &Reconnect{
		delay:     delay,
		startTime: time.Now(),
	}
}

func (self *Reconnect) After() <-chan time.Time {
	return time.After(self.delay - time.Since(self.startTime))
}
