package capability

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/antoniostano/workmate/internal/provider"
)

const (
	DefaultGoogleBaseURL = "https://www.googleapis.com"

	googleDocMime  = "application/vnd.google-apps.document"
	driveFileField = "id,name,webViewLink,createdTime,modifiedTime"
)

// Google runs operations against Drive v3, Gmail v1, Tasks v1 and Calendar v3.
type Google struct {
	rest *restClient
}

func NewGoogle(baseURL string, client *http.Client) *Google {
	if baseURL == "" {
		baseURL = DefaultGoogleBaseURL
	}
	return &Google{rest: newRESTClient(provider.Google, baseURL, client)}
}

func (g *Google) Provider() provider.ID { return provider.Google }

func (g *Google) Execute(ctx context.Context, token string, op Operation) (Record, error) {
	rec := Record{Provider: provider.Google, Kind: op.Kind}
	var err error
	switch op.Kind {
	case DocumentCreate:
		rec.Document, err = g.createDocument(ctx, token, op)
	case DocumentRead:
		rec.Document, err = g.readDocument(ctx, token, op.DocumentID)
	case DocumentUpdate:
		rec.Document, err = g.updateDocument(ctx, token, op)
	case MailSend:
		rec.MessageID, err = g.sendMail(ctx, token, op)
		rec.Status = "sent"
	case MailList:
		rec.Messages, err = g.listMail(ctx, token, op)
	case TaskCreate:
		rec.Task, err = g.createTask(ctx, token, op)
	case TaskList:
		rec.Tasks, err = g.listTasks(ctx, token, op)
	case CalendarEventCreate:
		rec.Event, err = g.createEvent(ctx, token, op)
	default:
		return Record{}, fmt.Errorf("%w: %s", ErrUnsupported, op.Kind)
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

type driveFile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	WebViewLink  string `json:"webViewLink"`
	CreatedTime  string `json:"createdTime"`
	ModifiedTime string `json:"modifiedTime"`
}

func (f driveFile) document(content string) *Document {
	return &Document{
		ID:           f.ID,
		Name:         f.Name,
		Content:      content,
		WebURL:       f.WebViewLink,
		Created:      f.CreatedTime,
		LastModified: f.ModifiedTime,
	}
}

// multipartRelated builds a Drive multipart upload body: JSON metadata then
// the plain text media.
func multipartRelated(meta any, content string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	metaPart, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return nil, "", err
	}
	if err := json.NewEncoder(metaPart).Encode(meta); err != nil {
		return nil, "", err
	}
	mediaPart, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=UTF-8"}})
	if err != nil {
		return nil, "", err
	}
	if _, err := mediaPart.Write([]byte(content)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "multipart/related; boundary=" + w.Boundary(), nil
}

func (g *Google) createDocument(ctx context.Context, token string, op Operation) (*Document, error) {
	meta := map[string]any{"name": op.Name, "mimeType": googleDocMime}
	if op.FolderID != "" {
		meta["parents"] = []string{op.FolderID}
	}
	body, contentType, err := multipartRelated(meta, op.Content)
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	c := call{
		method:      http.MethodPost,
		path:        "/upload/drive/v3/files",
		query:       url.Values{"uploadType": {"multipart"}, "fields": {driveFileField}},
		body:        body,
		contentType: contentType,
	}
	var f driveFile
	if err := g.rest.do(ctx, token, c, &f); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	return f.document(op.Content), nil
}

func (g *Google) readDocument(ctx context.Context, token, id string) (*Document, error) {
	path := "/drive/v3/files/" + url.PathEscape(id)
	var f driveFile
	meta := call{method: http.MethodGet, path: path, query: url.Values{"fields": {driveFileField}}}
	if err := g.rest.do(ctx, token, meta, &f); err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	var content []byte
	export := call{method: http.MethodGet, path: path + "/export", query: url.Values{"mimeType": {"text/plain"}}}
	if err := g.rest.do(ctx, token, export, &content); err != nil {
		return nil, fmt.Errorf("export document: %w", err)
	}
	return f.document(string(content)), nil
}

func (g *Google) updateDocument(ctx context.Context, token string, op Operation) (*Document, error) {
	c := call{
		method:      http.MethodPatch,
		path:        "/upload/drive/v3/files/" + url.PathEscape(op.DocumentID),
		query:       url.Values{"uploadType": {"media"}, "fields": {driveFileField}},
		body:        []byte(op.Content),
		contentType: "text/plain",
	}
	var f driveFile
	if err := g.rest.do(ctx, token, c, &f); err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	return f.document(op.Content), nil
}

// rawMessage renders an RFC 5322 HTML message for the Gmail send API.
func rawMessage(op Operation) string {
	var b strings.Builder
	header := func(k, v string) {
		if v != "" {
			b.WriteString(k + ": " + v + "\r\n")
		}
	}
	header("To", strings.Join(op.To, ", "))
	header("Cc", strings.Join(op.Cc, ", "))
	header("Bcc", strings.Join(op.Bcc, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", op.Subject))
	header("MIME-Version", "1.0")
	header("Content-Type", "text/html; charset=UTF-8")
	b.WriteString("\r\n")
	b.WriteString(op.Body)
	return base64.URLEncoding.EncodeToString([]byte(b.String()))
}

func (g *Google) sendMail(ctx context.Context, token string, op Operation) (string, error) {
	c, err := jsonCall(http.MethodPost, "/gmail/v1/users/me/messages/send", map[string]string{"raw": rawMessage(op)})
	if err != nil {
		return "", err
	}
	var res struct {
		ID string `json:"id"`
	}
	if err := g.rest.do(ctx, token, c, &res); err != nil {
		return "", fmt.Errorf("send mail: %w", err)
	}
	return res.ID, nil
}

type gmailPart struct {
	MimeType string `json:"mimeType"`
	Headers  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
	Body struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []gmailPart `json:"parts"`
}

func (p gmailPart) header(name string) string {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// text returns the first text/plain body, falling back to text/html.
func (p gmailPart) text() string {
	if plain := p.find("text/plain"); plain != "" {
		return plain
	}
	return p.find("text/html")
}

func (p gmailPart) find(mimeType string) string {
	if strings.HasPrefix(p.MimeType, mimeType) && p.Body.Data != "" {
		raw, err := base64.URLEncoding.DecodeString(p.Body.Data)
		if err != nil {
			raw, err = base64.RawURLEncoding.DecodeString(p.Body.Data)
		}
		if err == nil {
			return string(raw)
		}
	}
	for _, child := range p.Parts {
		if s := child.find(mimeType); s != "" {
			return s
		}
	}
	return ""
}

func (g *Google) listMail(ctx context.Context, token string, op Operation) ([]Message, error) {
	q := "in:" + op.Folder
	if op.Query != "" {
		q += " " + op.Query
	}
	list := call{
		method: http.MethodGet,
		path:   "/gmail/v1/users/me/messages",
		query:  url.Values{"q": {q}, "maxResults": {strconv.Itoa(op.Limit)}},
	}
	var ids struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := g.rest.do(ctx, token, list, &ids); err != nil {
		return nil, fmt.Errorf("list mail: %w", err)
	}

	out := make([]Message, 0, len(ids.Messages))
	for _, m := range ids.Messages {
		get := call{
			method: http.MethodGet,
			path:   "/gmail/v1/users/me/messages/" + url.PathEscape(m.ID),
			query:  url.Values{"format": {"full"}},
		}
		var msg struct {
			ID           string    `json:"id"`
			LabelIDs     []string  `json:"labelIds"`
			InternalDate string    `json:"internalDate"`
			Payload      gmailPart `json:"payload"`
		}
		if err := g.rest.do(ctx, token, get, &msg); err != nil {
			return nil, fmt.Errorf("get message %s: %w", m.ID, err)
		}
		out = append(out, Message{
			ID:       msg.ID,
			Subject:  msg.Payload.header("Subject"),
			From:     msg.Payload.header("From"),
			Received: gmailReceived(msg.InternalDate),
			Body:     msg.Payload.text(),
			IsRead:   !containsString(msg.LabelIDs, "UNREAD"),
		})
	}
	return out, nil
}

func gmailReceived(internalDate string) string {
	ms, err := strconv.ParseInt(internalDate, 10, 64)
	if err != nil {
		return internalDate
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

type googleTask struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
	Due    string `json:"due"`
}

func (t googleTask) task() Task {
	return Task{ID: t.ID, Title: t.Title, Status: t.Status, DueDate: t.Due}
}

func taskListPath(listID string) string {
	if listID == "" {
		listID = "@default"
	}
	return "/tasks/v1/lists/" + url.PathEscape(listID) + "/tasks"
}

func (g *Google) createTask(ctx context.Context, token string, op Operation) (*Task, error) {
	payload := map[string]any{"title": op.Title, "status": "needsAction"}
	if op.Description != "" {
		payload["notes"] = op.Description
	}
	if op.Due != nil {
		payload["due"] = op.Due.UTC().Format(time.RFC3339)
	}
	c, err := jsonCall(http.MethodPost, taskListPath(op.ListID), payload)
	if err != nil {
		return nil, err
	}
	var created googleTask
	if err := g.rest.do(ctx, token, c, &created); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	t := created.task()
	return &t, nil
}

func (g *Google) listTasks(ctx context.Context, token string, op Operation) ([]Task, error) {
	q := url.Values{"showCompleted": {strconv.FormatBool(op.Status == "" || op.Status == "completed")}}
	c := call{method: http.MethodGet, path: taskListPath(op.ListID), query: q}
	var res struct {
		Items []googleTask `json:"items"`
	}
	if err := g.rest.do(ctx, token, c, &res); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]Task, 0, len(res.Items))
	for _, t := range res.Items {
		if op.Status != "" && t.Status != op.Status {
			continue
		}
		out = append(out, t.task())
	}
	return out, nil
}

type googleEventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

func (g *Google) createEvent(ctx context.Context, token string, op Operation) (*Event, error) {
	attendees := make([]map[string]string, 0, len(op.Attendees))
	for _, a := range op.Attendees {
		attendees = append(attendees, map[string]string{"email": a})
	}
	payload := map[string]any{
		"summary":     op.Title,
		"description": op.Description,
		"start":       googleEventTime{DateTime: op.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		"end":         googleEventTime{DateTime: op.End.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		"attendees":   attendees,
	}
	if op.Location != "" {
		payload["location"] = op.Location
	}
	c, err := jsonCall(http.MethodPost, "/calendar/v3/calendars/primary/events", payload)
	if err != nil {
		return nil, err
	}
	var res struct {
		ID       string          `json:"id"`
		Summary  string          `json:"summary"`
		HTMLLink string          `json:"htmlLink"`
		Start    googleEventTime `json:"start"`
		End      googleEventTime `json:"end"`
	}
	if err := g.rest.do(ctx, token, c, &res); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return &Event{ID: res.ID, Title: res.Summary, Start: res.Start.DateTime, End: res.End.DateTime, WebURL: res.HTMLLink}, nil
}
