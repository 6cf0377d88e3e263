// Package notify keeps a locally rendered notification page consistent with
// the Chirpwire platform across three sources: paginated fetches, optimistic
// local mutations, and the realtime channel.
package notify

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// comparable
type Id [16]byte

// ids are ulids, so ids created by the same source are time-ordered.
// the optimistic layer relies on this to apply operations in issue order.
func NewId() Id {
	return Id(ulid.Make())
}

func ParseId(idStr string) (Id, error) {
	return parseUuid(idStr)
}

func (self Id) Bytes() []byte {
	return self[0:16]
}

func (self Id) String() string {
	return encodeUuid(self)
}

func (self Id) LessThan(b Id) bool {
	return bytes.Compare(self[0:16], b[0:16]) < 0
}

func (self *Id) MarshalJSON() ([]byte, error) {
	var buf [16]byte
	copy(buf[0:16], self[0:16])
	var buff bytes.Buffer
	buff.WriteByte('"')
	buff.WriteString(encodeUuid(buf))
	buff.WriteByte('"')
	b := buff.Bytes()
	return b, nil
}

func (self *Id) UnmarshalJSON(src []byte) error {
	if len(src) != 38 {
		return fmt.Errorf("invalid length for UUID: %v", len(src))
	}
	buf, err := parseUuid(string(src[1 : len(src)-1]))
	if err != nil {
		return err
	}
	*self = buf
	return nil
}

func parseUuid(src string) (dst [16]byte, err error) {
	switch len(src) {
	case 36:
		src = src[0:8] + src[9:13] + src[14:18] + src[19:23] + src[24:]
	case 32:
		// dashes already stripped, assume valid
	default:
		// assume invalid.
		return dst, fmt.Errorf("cannot parse UUID %v", src)
	}

	buf, err := hex.DecodeString(src)
	if err != nil {
		return dst, err
	}

	copy(dst[:], buf)
	return dst, err
}

func encodeUuid(src [16]byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", src[0:4], src[4:6], src[6:8], src[8:10], src[10:16])
}

type NotificationType string

const (
	NotificationTypeFollow  NotificationType = "follow"
	NotificationTypeLike    NotificationType = "like"
	NotificationTypeComment NotificationType = "comment"
	NotificationTypeMention NotificationType = "mention"
	NotificationTypeRepost  NotificationType = "repost"
)

// NotificationRecord is one entry of the notification list. Identity is
// `NotificationId` once server-assigned; before confirmation an optimistically
// created record carries a client-generated id and the `IsOptimistic` marker.
// Records are values. Mutation happens by replacing the record in a rebuilt
// page, never in place.
type NotificationRecord struct {
	NotificationId Id               `json:"id"`
	ActorId        Id               `json:"actorId"`
	ContentId      Id               `json:"contentId"`
	Type           NotificationType `json:"type"`
	IsSeen         bool             `json:"isSeen"`
	CreateDate     time.Time        `json:"createDate"`
	UpdateDate     time.Time        `json:"updateDate"`
	IsOptimistic   bool             `json:"isOptimistic,omitempty"`
}

func (self *NotificationRecord) Clone() *NotificationRecord {
	clone := *self
	return &clone
}

// strictly newer by millisecond epoch. equal timestamps are not newer,
// which makes the server win ties.
func (self *NotificationRecord) UpdatedAfter(other *NotificationRecord) bool {
	return self.UpdateDate.UnixMilli() > other.UpdateDate.UnixMilli()
}
