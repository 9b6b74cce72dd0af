package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sjsage522/noticewatcher/internal/adapter"

	"github.com/google/uuid"
)

// Notifier delivers a rendered message for a new item
type Notifier interface {
	// Send delivers the message. A nil error means delivery was accepted.
	Send(ctx context.Context, msg Message) error

	// Name identifies the notifier in logs
	Name() string
}

// Trimmer is implemented by notifiers that keep a bounded backlog
type Trimmer interface {
	TrimStreams(ctx context.Context) error
}

// Message is a notification about one new item
type Message struct {
	ID         string    `json:"id"`
	SourceID   string    `json:"source_id"`
	SourceName string    `json:"source_name"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	Title      string    `json:"title"`
	Link       string    `json:"link,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// RenderMessage builds the notification for item found on a source
func RenderMessage(sourceID, sourceName string, item adapter.ObservedItem) Message {
	if sourceName == "" {
		sourceName = sourceID
	}

	var body strings.Builder
	body.WriteString("새 글이 등록되었습니다!\n\n")
	fmt.Fprintf(&body, "[%s]\n", sourceName)
	fmt.Fprintf(&body, "제목: %s\n", item.Title)
	if item.Link != "" {
		fmt.Fprintf(&body, "링크: %s\n", item.Link)
	}
	if date := item.Extra["date"]; date != "" {
		fmt.Fprintf(&body, "작성일: %s\n", date)
	}

	observedAt := item.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now()
	}

	return Message{
		ID:         uuid.NewString(),
		SourceID:   sourceID,
		SourceName: sourceName,
		Subject:    fmt.Sprintf("[새 글 알림] %s", sourceName),
		Body:       body.String(),
		Title:      item.Title,
		Link:       item.Link,
		ObservedAt: observedAt,
	}
}
