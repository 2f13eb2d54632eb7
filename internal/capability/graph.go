package capability

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/antoniostano/workmate/internal/provider"
)

const DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// Graph runs operations against Microsoft Graph (OneDrive, Outlook, To Do).
type Graph struct {
	rest *restClient
}

func NewGraph(baseURL string, client *http.Client) *Graph {
	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}
	return &Graph{rest: newRESTClient(provider.Microsoft, baseURL, client)}
}

func (g *Graph) Provider() provider.ID { return provider.Microsoft }

func (g *Graph) Execute(ctx context.Context, token string, op Operation) (Record, error) {
	rec := Record{Provider: provider.Microsoft, Kind: op.Kind}
	var err error
	switch op.Kind {
	case DocumentCreate:
		rec.Document, err = g.createDocument(ctx, token, op)
	case DocumentRead:
		rec.Document, err = g.readDocument(ctx, token, op.DocumentID)
	case DocumentUpdate:
		rec.Document, err = g.updateDocument(ctx, token, op)
	case MailSend:
		err = g.sendMail(ctx, token, op)
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

type graphDriveItem struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	WebURL               string `json:"webUrl"`
	CreatedDateTime      string `json:"createdDateTime"`
	LastModifiedDateTime string `json:"lastModifiedDateTime"`
}

func (i graphDriveItem) document(content string) *Document {
	return &Document{
		ID:           i.ID,
		Name:         i.Name,
		Content:      content,
		WebURL:       i.WebURL,
		Created:      i.CreatedDateTime,
		LastModified: i.LastModifiedDateTime,
	}
}

func textCall(method, path, content string) call {
	return call{method: method, path: path, body: []byte(content), contentType: "text/plain"}
}

func (g *Graph) createDocument(ctx context.Context, token string, op Operation) (*Document, error) {
	parent := "/me/drive/root"
	if op.FolderID != "" {
		parent = "/me/drive/items/" + url.PathEscape(op.FolderID)
	}
	c := textCall(http.MethodPut, parent+":/"+url.PathEscape(op.Name)+":/content", op.Content)
	c.query = url.Values{"@microsoft.graph.conflictBehavior": {"rename"}}
	c.creates = true
	var item graphDriveItem
	if err := g.rest.do(ctx, token, c, &item); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	return item.document(op.Content), nil
}

func (g *Graph) readDocument(ctx context.Context, token, id string) (*Document, error) {
	path := "/me/drive/items/" + url.PathEscape(id)
	var item graphDriveItem
	if err := g.rest.do(ctx, token, call{method: http.MethodGet, path: path}, &item); err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	var content []byte
	if err := g.rest.do(ctx, token, call{method: http.MethodGet, path: path + "/content"}, &content); err != nil {
		return nil, fmt.Errorf("read document content: %w", err)
	}
	return item.document(string(content)), nil
}

func (g *Graph) updateDocument(ctx context.Context, token string, op Operation) (*Document, error) {
	c := textCall(http.MethodPut, "/me/drive/items/"+url.PathEscape(op.DocumentID)+"/content", op.Content)
	var item graphDriveItem
	if err := g.rest.do(ctx, token, c, &item); err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	return item.document(op.Content), nil
}

type graphEmail struct {
	EmailAddress struct {
		Address string `json:"address"`
		Name    string `json:"name,omitempty"`
	} `json:"emailAddress"`
}

func graphRecipients(addrs []string) []graphEmail {
	out := make([]graphEmail, 0, len(addrs))
	for _, a := range addrs {
		var r graphEmail
		r.EmailAddress.Address = a
		out = append(out, r)
	}
	return out
}

type graphItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

func (g *Graph) sendMail(ctx context.Context, token string, op Operation) error {
	payload := map[string]any{
		"message": map[string]any{
			"subject":       op.Subject,
			"body":          graphItemBody{ContentType: "HTML", Content: op.Body},
			"toRecipients":  graphRecipients(op.To),
			"ccRecipients":  graphRecipients(op.Cc),
			"bccRecipients": graphRecipients(op.Bcc),
		},
		"saveToSentItems": true,
	}
	c, err := jsonCall(http.MethodPost, "/me/sendMail", payload)
	if err != nil {
		return err
	}
	if err := g.rest.do(ctx, token, c, nil); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (g *Graph) listMail(ctx context.Context, token string, op Operation) ([]Message, error) {
	q := url.Values{"$top": {strconv.Itoa(op.Limit)}}
	if op.Query != "" {
		// $search cannot be combined with $orderby.
		q.Set("$search", strconv.Quote(op.Query))
	} else {
		q.Set("$orderby", "receivedDateTime desc")
	}
	c := call{method: http.MethodGet, path: "/me/mailFolders/" + url.PathEscape(op.Folder) + "/messages", query: q}
	var res struct {
		Value []struct {
			ID               string        `json:"id"`
			Subject          string        `json:"subject"`
			From             graphEmail    `json:"from"`
			ReceivedDateTime string        `json:"receivedDateTime"`
			Body             graphItemBody `json:"body"`
			IsRead           bool          `json:"isRead"`
		} `json:"value"`
	}
	if err := g.rest.do(ctx, token, c, &res); err != nil {
		return nil, fmt.Errorf("list mail: %w", err)
	}
	out := make([]Message, 0, len(res.Value))
	for _, m := range res.Value {
		out = append(out, Message{
			ID:       m.ID,
			Subject:  m.Subject,
			From:     m.From.EmailAddress.Address,
			Received: m.ReceivedDateTime,
			Body:     m.Body.Content,
			IsRead:   m.IsRead,
		})
	}
	return out, nil
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

func graphUTC(t time.Time) graphDateTime {
	return graphDateTime{DateTime: t.UTC().Format("2006-01-02T15:04:05"), TimeZone: "UTC"}
}

type graphTask struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Status      string         `json:"status"`
	Importance  string         `json:"importance"`
	DueDateTime *graphDateTime `json:"dueDateTime"`
}

func (t graphTask) task() Task {
	out := Task{ID: t.ID, Title: t.Title, Status: t.Status, Importance: t.Importance}
	if t.DueDateTime != nil {
		out.DueDate = t.DueDateTime.DateTime
	}
	return out
}

// taskList returns listID or the user's first To Do list.
func (g *Graph) taskList(ctx context.Context, token, listID string) (string, error) {
	if listID != "" {
		return listID, nil
	}
	var res struct {
		Value []struct {
			ID string `json:"id"`
		} `json:"value"`
	}
	if err := g.rest.do(ctx, token, call{method: http.MethodGet, path: "/me/todo/lists"}, &res); err != nil {
		return "", fmt.Errorf("list task lists: %w", err)
	}
	if len(res.Value) == 0 {
		return "", fmt.Errorf("%w: no task list", ErrNotFound)
	}
	return res.Value[0].ID, nil
}

func (g *Graph) createTask(ctx context.Context, token string, op Operation) (*Task, error) {
	listID, err := g.taskList(ctx, token, op.ListID)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"title":      op.Title,
		"importance": "normal",
		"status":     "notStarted",
	}
	if op.Description != "" {
		payload["body"] = graphItemBody{ContentType: "text", Content: op.Description}
	}
	if op.Due != nil {
		payload["dueDateTime"] = graphUTC(*op.Due)
	}
	c, err := jsonCall(http.MethodPost, "/me/todo/lists/"+url.PathEscape(listID)+"/tasks", payload)
	if err != nil {
		return nil, err
	}
	var created graphTask
	if err := g.rest.do(ctx, token, c, &created); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	t := created.task()
	return &t, nil
}

func (g *Graph) listTasks(ctx context.Context, token string, op Operation) ([]Task, error) {
	listID, err := g.taskList(ctx, token, op.ListID)
	if err != nil {
		return nil, err
	}
	c := call{method: http.MethodGet, path: "/me/todo/lists/" + url.PathEscape(listID) + "/tasks"}
	if op.Status != "" {
		c.query = url.Values{"$filter": {"status eq '" + op.Status + "'"}}
	}
	var res struct {
		Value []graphTask `json:"value"`
	}
	if err := g.rest.do(ctx, token, c, &res); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]Task, 0, len(res.Value))
	for _, t := range res.Value {
		out = append(out, t.task())
	}
	return out, nil
}

func (g *Graph) createEvent(ctx context.Context, token string, op Operation) (*Event, error) {
	attendees := make([]map[string]any, 0, len(op.Attendees))
	for _, r := range graphRecipients(op.Attendees) {
		attendees = append(attendees, map[string]any{"emailAddress": r.EmailAddress, "type": "required"})
	}
	payload := map[string]any{
		"subject":   op.Title,
		"body":      graphItemBody{ContentType: "HTML", Content: op.Description},
		"start":     graphUTC(op.Start),
		"end":       graphUTC(op.End),
		"attendees": attendees,
	}
	if op.Location != "" {
		payload["location"] = map[string]string{"displayName": op.Location}
	}
	c, err := jsonCall(http.MethodPost, "/me/events", payload)
	if err != nil {
		return nil, err
	}
	var res struct {
		ID      string        `json:"id"`
		Subject string        `json:"subject"`
		WebLink string        `json:"webLink"`
		Start   graphDateTime `json:"start"`
		End     graphDateTime `json:"end"`
	}
	if err := g.rest.do(ctx, token, c, &res); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return &Event{ID: res.ID, Title: res.Subject, Start: res.Start.DateTime, End: res.End.DateTime, WebURL: res.WebLink}, nil
}
