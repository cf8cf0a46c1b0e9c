package document

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	DataCreated string = "DataCreated"
	DataUpdated string = "DataUpdated"
	DataDeleted string = "DataDeleted"
)

// Notification is posted to subscribers when data changes
type Notification struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Family     string     `json:"family"`
	NotifiedAt string     `json:"notifiedAt"`
	Data       []Document `json:"data,omitempty"`
	Deleted    []int64    `json:"deleted,omitempty"`
}

func newNotification(notificationType, family string) *Notification {
	return &Notification{
		ID:         fmt.Sprintf("urn:eav:Notification:%s", uuid.New().String()),
		Type:       notificationType,
		Family:     family,
		NotifiedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func NewChangeNotification(notificationType string, doc Document) *Notification {
	n := newNotification(notificationType, doc.Family)
	n.Data = []Document{doc}
	return n
}

func NewDeleteNotification(family string, ids []int64) *Notification {
	n := newNotification(DataDeleted, family)
	n.Deleted = ids
	return n
}
