package notify

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestPageInvariants(t *testing.T) {
	a := testRecord(NotificationTypeFollow, false)
	b := testRecord(NotificationTypeLike, true)

	page := NewNotificationPage([]NotificationRecord{a, b}, 0, 20, 50, false)
	assert.Equal(t, page.NumberOfElements, 2)
	assert.Equal(t, page.Empty, false)
	assert.Equal(t, page.TotalElements, 50)
	assert.Equal(t, page.Last, false)

	empty := EmptyNotificationPage(1, 10)
	assert.Equal(t, empty.NumberOfElements, 0)
	assert.Equal(t, empty.Empty, true)
	assert.Equal(t, empty.PageNumber, 1)
	assert.Equal(t, empty.PageSize, 10)
	assert.Equal(t, empty.Last, true)

	// totals never undercount the page content
	clamped := NewNotificationPage([]NotificationRecord{a, b}, 0, 20, 1, true)
	assert.Equal(t, clamped.TotalElements, 2)
}

func TestPageFind(t *testing.T) {
	a := testRecord(NotificationTypeFollow, false)
	b := testRecord(NotificationTypeLike, false)
	page := NewNotificationPage([]NotificationRecord{a, b}, 0, 20, 2, true)

	assert.Equal(t, page.IndexOf(b.NotificationId), 1)
	assert.Equal(t, page.IndexOf(NewId()), -1)

	record, ok := page.Find(a.NotificationId)
	assert.Equal(t, ok, true)
	assert.Equal(t, record.NotificationId, a.NotificationId)

	// the returned record is a copy
	record.IsSeen = true
	assert.Equal(t, page.Content[0].IsSeen, false)

	_, ok = page.Find(NewId())
	assert.Equal(t, ok, false)
}

func TestPageMerges(t *testing.T) {
	a := testRecord(NotificationTypeFollow, false)
	b := testRecord(NotificationTypeLike, false)
	c := testRecord(NotificationTypeComment, false)

	page := NewNotificationPage([]NotificationRecord{a, b}, 0, 20, 10, false)

	prepended := page.WithPrepended(c)
	assert.Equal(t, prepended.NumberOfElements, 3)
	assert.Equal(t, prepended.TotalElements, 11)
	assert.Equal(t, prepended.Content[0].NotificationId, c.NotificationId)
	// the input page is untouched
	assert.Equal(t, page.NumberOfElements, 2)

	seen := a
	seen.IsSeen = true
	replaced := page.WithReplaced(seen)
	assert.Equal(t, replaced.Content[0].IsSeen, true)
	assert.Equal(t, replaced.TotalElements, 10)
	assert.Equal(t, page.Content[0].IsSeen, false)

	// merges that change nothing return the receiver
	assert.Equal(t, page.WithReplaced(c) == page, true)
	assert.Equal(t, page.WithRemoved(c.NotificationId) == page, true)
	assert.Equal(t, page.WithSubstituted(c.NotificationId, c) == page, true)

	removed := page.WithRemoved(a.NotificationId)
	assert.Equal(t, removed.NumberOfElements, 1)
	assert.Equal(t, removed.TotalElements, 9)
	assert.Equal(t, removed.IndexOf(a.NotificationId), -1)

	restored := removed.WithInserted(0, a)
	assert.Equal(t, restored.Content[0].NotificationId, a.NotificationId)
	assert.Equal(t, restored.NumberOfElements, 2)
	assert.Equal(t, restored.TotalElements, 10)

	// out of range indexes clamp to the tail
	tail := removed.WithInserted(99, a)
	assert.Equal(t, tail.Content[len(tail.Content)-1].NotificationId, a.NotificationId)

	swapped := page.WithSubstituted(a.NotificationId, c)
	assert.Equal(t, swapped.IndexOf(c.NotificationId), 0)
	assert.Equal(t, swapped.IndexOf(a.NotificationId), -1)
	assert.Equal(t, swapped.NumberOfElements, 2)
	assert.Equal(t, swapped.TotalElements, 10)
}

func TestQueryValues(t *testing.T) {
	query := &NotificationQuery{PageNumber: 2, PageSize: 50, UnseenOnly: true}
	values := query.values()
	assert.Equal(t, values.Get("page"), "2")
	assert.Equal(t, values.Get("size"), "50")
	assert.Equal(t, values.Get("unseenOnly"), "true")

	defaults := DefaultNotificationQuery().values()
	assert.Equal(t, defaults.Get("page"), "0")
	assert.Equal(t, defaults.Get("size"), "20")
	assert.Equal(t, defaults.Has("unseenOnly"), false)
}
