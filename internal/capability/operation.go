// Package capability performs productivity operations (documents, mail,
// tasks, calendar) against the provider a user authorized, behind one
// Operation/Record shape.
package capability

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antoniostano/workmate/internal/provider"
)

var (
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrUnauthorized means the provider rejected the access token.
	ErrUnauthorized = errors.New("provider rejected access token")
	ErrNotFound     = errors.New("resource not found")
	ErrUnsupported  = errors.New("operation not supported by provider")
)

type Kind string

const (
	DocumentCreate      Kind = "document.create"
	DocumentRead        Kind = "document.read"
	DocumentUpdate      Kind = "document.update"
	MailSend            Kind = "mail.send"
	MailList            Kind = "mail.list"
	TaskCreate          Kind = "task.create"
	TaskList            Kind = "task.list"
	CalendarEventCreate Kind = "calendar.event.create"
)

const (
	defaultMailFolder = "inbox"
	defaultListLimit  = 10
	maxListLimit      = 50
)

// Operation describes one capability call. Only the fields relevant to Kind
// are read.
type Operation struct {
	Kind Kind `json:"kind"`

	DocumentID string `json:"document_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Content    string `json:"content,omitempty"`
	FolderID   string `json:"folder_id,omitempty"`

	To      []string `json:"to,omitempty"`
	Cc      []string `json:"cc,omitempty"`
	Bcc     []string `json:"bcc,omitempty"`
	Subject string   `json:"subject,omitempty"`
	Body    string   `json:"body,omitempty"`
	Folder  string   `json:"folder,omitempty"`
	Query   string   `json:"query,omitempty"`
	Limit   int      `json:"limit,omitempty"`

	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Due         *time.Time `json:"due,omitempty"`
	ListID      string     `json:"list_id,omitempty"`
	Status      string     `json:"status,omitempty"`

	Start     time.Time `json:"start,omitempty"`
	End       time.Time `json:"end,omitempty"`
	Attendees []string  `json:"attendees,omitempty"`
	Location  string    `json:"location,omitempty"`
}

// Validate checks the fields Kind needs and fills list defaults.
func (op *Operation) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidOperation, op.Kind, fmt.Sprintf(format, args...))
	}
	switch op.Kind {
	case DocumentCreate:
		if strings.TrimSpace(op.Name) == "" {
			return bad("name is required")
		}
	case DocumentRead:
		if strings.TrimSpace(op.DocumentID) == "" {
			return bad("document_id is required")
		}
	case DocumentUpdate:
		if strings.TrimSpace(op.DocumentID) == "" {
			return bad("document_id is required")
		}
	case MailSend:
		if len(op.To) == 0 {
			return bad("at least one recipient is required")
		}
		if strings.TrimSpace(op.Subject) == "" {
			return bad("subject is required")
		}
	case MailList:
		if op.Folder == "" {
			op.Folder = defaultMailFolder
		}
		op.Limit = clampLimit(op.Limit)
	case TaskCreate:
		if strings.TrimSpace(op.Title) == "" {
			return bad("title is required")
		}
	case TaskList:
	case CalendarEventCreate:
		if strings.TrimSpace(op.Title) == "" {
			return bad("title is required")
		}
		if op.Start.IsZero() || op.End.IsZero() {
			return bad("start and end are required")
		}
		if !op.End.After(op.Start) {
			return bad("end must be after start")
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
	}
	return nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultListLimit
	case n > maxListLimit:
		return maxListLimit
	default:
		return n
	}
}

type Document struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Content      string `json:"content,omitempty"`
	WebURL       string `json:"web_url,omitempty"`
	Created      string `json:"created,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

type Message struct {
	ID       string `json:"id"`
	Subject  string `json:"subject"`
	From     string `json:"from"`
	Received string `json:"received"`
	Body     string `json:"body"`
	IsRead   bool   `json:"is_read"`
}

type Task struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	DueDate    string `json:"due_date,omitempty"`
	Importance string `json:"importance,omitempty"`
}

type Event struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Start  string `json:"start"`
	End    string `json:"end"`
	WebURL string `json:"web_url,omitempty"`
}

// Record is the provider-neutral result of an Operation.
type Record struct {
	Provider  provider.ID `json:"provider"`
	Kind      Kind        `json:"kind"`
	Status    string      `json:"status,omitempty"`
	MessageID string      `json:"message_id,omitempty"`
	Document  *Document   `json:"document,omitempty"`
	Messages  []Message   `json:"messages,omitempty"`
	Task      *Task       `json:"task,omitempty"`
	Tasks     []Task      `json:"tasks,omitempty"`
	Event     *Event      `json:"event,omitempty"`
}
