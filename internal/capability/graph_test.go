package capability

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/antoniostano/workmate/internal/reliability"
)

func newTestGraph(t *testing.T, h http.HandlerFunc) *Graph {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	g := NewGraph(srv.URL, srv.Client())
	g.rest.retry = reliability.Policy{Attempts: 3, Base: time.Millisecond, Cap: 5 * time.Millisecond}
	return g
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestGraphCreateDocument(t *testing.T) {
	g := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/me/drive/root:/notes.txt:/content", r.URL.Path)
		require.Equal(t, "rename", r.URL.Query().Get("@microsoft.graph.conflictBehavior"))
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, "hello", string(body))
		writeJSON(t, w, map[string]string{
			"id":                   "item-1",
			"name":                 "notes.txt",
			"webUrl":               "https://onedrive.example/item-1",
			"createdDateTime":      "2024-05-01T10:00:00Z",
			"lastModifiedDateTime": "2024-05-01T10:00:00Z",
		})
	})

	rec, err := g.Execute(context.Background(), "tok", Operation{Kind: DocumentCreate, Name: "notes.txt", Content: "hello"})
	require.NoError(t, err)
	require.Equal(t, "item-1", rec.Document.ID)
	require.Equal(t, "hello", rec.Document.Content)
	require.Equal(t, "https://onedrive.example/item-1", rec.Document.WebURL)
}

func TestGraphReadDocumentFetchesContent(t *testing.T) {
	g := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/me/drive/items/item-1":
			writeJSON(t, w, map[string]string{"id": "item-1", "name": "plan.txt"})
		case "/me/drive/items/item-1/content":
			_, _ = w.Write([]byte("quarterly plan"))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	rec, err := g.Execute(context.Background(), "tok", Operation{Kind: DocumentRead, DocumentID: "item-1"})
	require.NoError(t, err)
	require.Equal(t, "plan.txt", rec.Document.Name)
	require.Equal(t, "quarterly plan", rec.Document.Content)
}

func TestGraphSendMail(t *testing.T) {
	g := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/me/sendMail", r.URL.Path)
		var payload struct {
			Message struct {
				Subject string `json:"subject"`
				Body    struct {
					ContentType string `json:"contentType"`
				} `json:"body"`
				ToRecipients []graphEmail `json:"toRecipients"`
			} `json:"message"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "Status", payload.Message.Subject)
		require.Equal(t, "HTML", payload.Message.Body.ContentType)
		require.Len(t, payload.Message.ToRecipients, 1)
		require.Equal(t, "ana@example.com", payload.Message.ToRecipients[0].EmailAddress.Address)
		w.WriteHeader(http.StatusAccepted)
	})

	rec, err := g.Execute(context.Background(), "tok", Operation{
		Kind: MailSend, To: []string{"ana@example.com"}, Subject: "Status", Body: "<p>done</p>",
	})
	require.NoError(t, err)
	require.Equal(t, "sent", rec.Status)
}

func TestGraphListMailOrdersNewestFirst(t *testing.T) {
	g := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/me/mailFolders/inbox/messages", r.URL.Path)
		require.Equal(t, "10", r.URL.Query().Get("$top"))
		require.Equal(t, "receivedDateTime desc", r.URL.Query().Get("$orderby"))
		writeJSON(t, w, map[string]any{"value": []map[string]any{{
			"id":               "m1",
			"subject":          "Hi",
			"from":             map[string]any{"emailAddress": map[string]string{"address": "bo@example.com"}},
			"receivedDateTime": "2024-05-01T09:00:00Z",
			"body":             map[string]string{"contentType": "text", "content": "hey"},
			"isRead":           true,
		}}})
	})

	op := Operation{Kind: MailList}
	require.NoError(t, op.Validate())
	rec, err := g.Execute(context.Background(), "tok", op)
	require.NoError(t, err)
	require.Equal(t, []Message{{ID: "m1", Subject: "Hi", From: "bo@example.com", Received: "2024-05-01T09:00:00Z", Body: "hey", IsRead: true}}, rec.Messages)
}

func TestGraphCreateTaskUsesFirstList(t *testing.T) {
	due := time.Date(2024, 6, 1, 17, 0, 0, 0, time.UTC)
	g := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/me/todo/lists":
			writeJSON(t, w, map[string]any{"value": []map[string]string{{"id": "list-a"}, {"id": "list-b"}}})
		case "/me/todo/lists/list-a/tasks":
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			require.Equal(t, "notStarted", payload["status"])
			require.Equal(t, "normal", payload["importance"])
			require.Equal(t, map[string]any{"dateTime": "2024-06-01T17:00:00", "timeZone": "UTC"}, payload["dueDateTime"])
			writeJSON(t, w, map[string]any{
				"id": "t1", "title": payload["title"], "status": "notStarted",
				"dueDateTime": map[string]string{"dateTime": "2024-06-01T17:00:00", "timeZone": "UTC"},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	rec, err := g.Execute(context.Background(), "tok", Operation{Kind: TaskCreate, Title: "Ship it", Due: &due})
	require.NoError(t, err)
	require.Equal(t, &Task{ID: "t1", Title: "Ship it", Status: "notStarted", DueDate: "2024-06-01T17:00:00"}, rec.Task)
}

func TestGraphCreateTaskWithoutListsIsNotFound(t *testing.T) {
	g := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"value": []any{}})
	})
	_, err := g.Execute(context.Background(), "tok", Operation{Kind: TaskCreate, Title: "x"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGraphUnauthorizedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	g := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"code":"InvalidAuthenticationToken"}}`, http.StatusUnauthorized)
	})

	_, err := g.Execute(context.Background(), "tok", Operation{Kind: DocumentRead, DocumentID: "x"})
	require.ErrorIs(t, err, ErrUnauthorized)
	require.True(t, IsStatus(err, http.StatusUnauthorized))
	require.Equal(t, int32(1), calls.Load())
}

func TestGraphRetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	g := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(t, w, map[string]any{"value": []any{}})
	})

	rec, err := g.Execute(context.Background(), "tok", Operation{Kind: TaskList, ListID: "l1"})
	require.NoError(t, err)
	require.Empty(t, rec.Tasks)
	require.Equal(t, int32(3), calls.Load())
}

func TestGraphSendMailIsNotReplayedAfterServerError(t *testing.T) {
	var sends atomic.Int32
	g := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		sends.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := g.Execute(context.Background(), "tok", Operation{
		Kind: MailSend, To: []string{"a@example.com"}, Subject: "hi", Body: "hello",
	})
	require.True(t, IsStatus(err, http.StatusBadGateway))
	require.Equal(t, int32(1), sends.Load())
}

func TestGraphSendMailRetriesWhenThrottled(t *testing.T) {
	var sends atomic.Int32
	g := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		if sends.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	rec, err := g.Execute(context.Background(), "tok", Operation{
		Kind: MailSend, To: []string{"a@example.com"}, Subject: "hi", Body: "hello",
	})
	require.NoError(t, err)
	require.Equal(t, "sent", rec.Status)
	require.Equal(t, int32(2), sends.Load())
}

func TestGraphCreateDocumentIsNotReplayed(t *testing.T) {
	var puts atomic.Int32
	g := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		puts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := g.Execute(context.Background(), "tok", Operation{Kind: DocumentCreate, Name: "a.txt", Content: "x"})
	require.Error(t, err)
	require.Equal(t, int32(1), puts.Load())
}

func TestGraphUpdateDocumentRetriesServerError(t *testing.T) {
	var puts atomic.Int32
	g := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		if puts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(t, w, map[string]any{"id": "d1", "name": "a.txt"})
	})

	rec, err := g.Execute(context.Background(), "tok", Operation{Kind: DocumentUpdate, DocumentID: "d1", Content: "x"})
	require.NoError(t, err)
	require.Equal(t, "d1", rec.Document.ID)
	require.Equal(t, int32(2), puts.Load())
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	got := truncate("aé", 2)
	require.Equal(t, "a...", got)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, "short", truncate("  short ", 10))
}

func TestGraphPermanentErrorRedactsBody(t *testing.T) {
	g := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `bad request for Bearer abcdefghijklmnopqrstuvwxyz0123456789`, http.StatusBadRequest)
	})

	_, err := g.Execute(context.Background(), "tok", Operation{Kind: DocumentRead, DocumentID: "x"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusBadRequest, se.Status)
	require.NotContains(t, se.Body, "abcdefghijklmnopqrstuvwxyz0123456789")
}

func TestGraphCreateEvent(t *testing.T) {
	start := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	g := newTestGraph(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/me/events", r.URL.Path)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "Standup", payload["subject"])
		require.Equal(t, map[string]any{"displayName": "Room 1"}, payload["location"])
		require.Len(t, payload["attendees"], 2)
		writeJSON(t, w, map[string]any{
			"id": "e1", "subject": "Standup", "webLink": "https://outlook.example/e1",
			"start": map[string]string{"dateTime": "2024-06-03T09:00:00"},
			"end":   map[string]string{"dateTime": "2024-06-03T09:15:00"},
		})
	})

	rec, err := g.Execute(context.Background(), "tok", Operation{
		Kind: CalendarEventCreate, Title: "Standup", Start: start, End: start.Add(15 * time.Minute),
		Attendees: []string{"a@example.com", "b@example.com"}, Location: "Room 1",
	})
	require.NoError(t, err)
	require.Equal(t, "e1", rec.Event.ID)
	require.Equal(t, "https://outlook.example/e1", rec.Event.WebURL)
}
