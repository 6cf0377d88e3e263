package notify

import (
	"net/url"
	"strconv"

	"golang.org/x/exp/slices"
)

// NotificationPage is one immutable snapshot of the notification list.
// Merges rebuild a new page instead of mutating in place, so a page value
// handed to a reader never changes under it.
//
// Invariants, restored by every constructor in this file:
//
//	NumberOfElements == len(Content)
//	Empty == (len(Content) == 0)
type NotificationPage struct {
	Content          []NotificationRecord `json:"content"`
	PageNumber       int                  `json:"pageNumber"`
	PageSize         int                  `json:"pageSize"`
	TotalElements    int                  `json:"totalElements"`
	NumberOfElements int                  `json:"numberOfElements"`
	Last             bool                 `json:"last"`
	Empty            bool                 `json:"empty"`
}

func NewNotificationPage(
	content []NotificationRecord,
	pageNumber int,
	pageSize int,
	totalElements int,
	last bool,
) *NotificationPage {
	if totalElements < len(content) {
		totalElements = len(content)
	}
	return &NotificationPage{
		Content:          slices.Clone(content),
		PageNumber:       pageNumber,
		PageSize:         pageSize,
		TotalElements:    totalElements,
		NumberOfElements: len(content),
		Last:             last,
		Empty:            len(content) == 0,
	}
}

func EmptyNotificationPage(pageNumber int, pageSize int) *NotificationPage {
	return NewNotificationPage([]NotificationRecord{}, pageNumber, pageSize, 0, true)
}

// rebuild keeps the pagination identity and recomputes the derived fields
// for new content.
func (self *NotificationPage) rebuild(content []NotificationRecord, totalElements int) *NotificationPage {
	if totalElements < 0 {
		totalElements = 0
	}
	return NewNotificationPage(content, self.PageNumber, self.PageSize, totalElements, self.Last)
}

func (self *NotificationPage) IndexOf(notificationId Id) int {
	return slices.IndexFunc(self.Content, func(record NotificationRecord) bool {
		return record.NotificationId == notificationId
	})
}

// Find returns a copy of the matching record.
func (self *NotificationPage) Find(notificationId Id) (*NotificationRecord, bool) {
	i := self.IndexOf(notificationId)
	if i < 0 {
		return nil, false
	}
	record := self.Content[i]
	return &record, true
}

func (self *NotificationPage) WithPrepended(record NotificationRecord) *NotificationPage {
	content := make([]NotificationRecord, 0, len(self.Content)+1)
	content = append(content, record)
	content = append(content, self.Content...)
	return self.rebuild(content, self.TotalElements+1)
}

// WithInserted places the record back at a known index, clamped to the
// current content. Used to restore a rolled back deletion.
func (self *NotificationPage) WithInserted(index int, record NotificationRecord) *NotificationPage {
	if index < 0 {
		index = 0
	}
	if len(self.Content) < index {
		index = len(self.Content)
	}
	content := slices.Clone(self.Content)
	content = slices.Insert(content, index, record)
	return self.rebuild(content, self.TotalElements+1)
}

// WithReplaced swaps the record with the same id. Unchanged when the id is
// not on this page.
func (self *NotificationPage) WithReplaced(record NotificationRecord) *NotificationPage {
	i := self.IndexOf(record.NotificationId)
	if i < 0 {
		return self
	}
	content := slices.Clone(self.Content)
	content[i] = record
	return self.rebuild(content, self.TotalElements)
}

// WithSubstituted swaps the record at the position of fromId for a record
// that may carry a different id, which is how a confirmed optimistic
// creation adopts its server id in place. Unchanged when fromId is not on
// this page.
func (self *NotificationPage) WithSubstituted(fromId Id, record NotificationRecord) *NotificationPage {
	i := self.IndexOf(fromId)
	if i < 0 {
		return self
	}
	content := slices.Clone(self.Content)
	content[i] = record
	return self.rebuild(content, self.TotalElements)
}

// WithRemoved drops the record with the given id. Removing an id that is not
// on this page is a no-op, which keeps repeated delete events idempotent.
func (self *NotificationPage) WithRemoved(notificationId Id) *NotificationPage {
	i := self.IndexOf(notificationId)
	if i < 0 {
		return self
	}
	content := slices.Delete(slices.Clone(self.Content), i, i+1)
	return self.rebuild(content, self.TotalElements-1)
}

// normalized restores the derived fields after a wire decode.
func (self *NotificationPage) normalized() *NotificationPage {
	return NewNotificationPage(self.Content, self.PageNumber, self.PageSize, self.TotalElements, self.Last)
}

type NotificationQuery struct {
	PageNumber int
	PageSize   int
	UnseenOnly bool
}

func DefaultNotificationQuery() *NotificationQuery {
	return &NotificationQuery{
		PageNumber: 0,
		PageSize:   20,
	}
}

func (self *NotificationQuery) values() url.Values {
	values := url.Values{}
	values.Set("page", strconv.Itoa(self.PageNumber))
	values.Set("size", strconv.Itoa(self.PageSize))
	if self.UnseenOnly {
		values.Set("unseenOnly", "true")
	}
	return values
}
