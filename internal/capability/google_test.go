package capability

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antoniostano/workmate/internal/reliability"
)

func newTestGoogle(t *testing.T, h http.HandlerFunc) *Google {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	g := NewGoogle(srv.URL, srv.Client())
	g.rest.retry = reliability.Policy{Attempts: 2, Base: time.Millisecond, Cap: time.Millisecond}
	return g
}

func TestGoogleCreateDocumentUploadsMultipart(t *testing.T) {
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/upload/drive/v3/files", r.URL.Path)
		require.Equal(t, "multipart", r.URL.Query().Get("uploadType"))

		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		require.Equal(t, "multipart/related", mediaType)
		mr := multipart.NewReader(r.Body, params["boundary"])

		metaPart, err := mr.NextPart()
		require.NoError(t, err)
		var meta map[string]any
		require.NoError(t, json.NewDecoder(metaPart).Decode(&meta))
		require.Equal(t, "Minutes", meta["name"])
		require.Equal(t, googleDocMime, meta["mimeType"])
		require.Equal(t, []any{"folder-9"}, meta["parents"])

		mediaPart, err := mr.NextPart()
		require.NoError(t, err)
		content, _ := io.ReadAll(mediaPart)
		require.Equal(t, "agenda", string(content))

		writeJSON(t, w, map[string]string{"id": "doc-1", "name": "Minutes", "webViewLink": "https://docs.example/doc-1"})
	})

	rec, err := g.Execute(context.Background(), "tok", Operation{Kind: DocumentCreate, Name: "Minutes", Content: "agenda", FolderID: "folder-9"})
	require.NoError(t, err)
	require.Equal(t, &Document{ID: "doc-1", Name: "Minutes", Content: "agenda", WebURL: "https://docs.example/doc-1"}, rec.Document)
}

func TestGoogleReadDocumentExportsPlainText(t *testing.T) {
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/drive/v3/files/doc-1":
			writeJSON(t, w, map[string]string{"id": "doc-1", "name": "Minutes"})
		case "/drive/v3/files/doc-1/export":
			require.Equal(t, "text/plain", r.URL.Query().Get("mimeType"))
			_, _ = w.Write([]byte("line one"))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	rec, err := g.Execute(context.Background(), "tok", Operation{Kind: DocumentRead, DocumentID: "doc-1"})
	require.NoError(t, err)
	require.Equal(t, "line one", rec.Document.Content)
}

func TestGoogleUpdateDocumentPatchesMedia(t *testing.T) {
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/upload/drive/v3/files/doc-1", r.URL.Path)
		require.Equal(t, "media", r.URL.Query().Get("uploadType"))
		writeJSON(t, w, map[string]string{"id": "doc-1", "name": "Minutes", "modifiedTime": "2024-05-02T00:00:00Z"})
	})

	rec, err := g.Execute(context.Background(), "tok", Operation{Kind: DocumentUpdate, DocumentID: "doc-1", Content: "v2"})
	require.NoError(t, err)
	require.Equal(t, "2024-05-02T00:00:00Z", rec.Document.LastModified)
}

func TestGoogleSendMailEncodesRawMessage(t *testing.T) {
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/gmail/v1/users/me/messages/send", r.URL.Path)
		var payload struct {
			Raw string `json:"raw"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		raw, err := base64.URLEncoding.DecodeString(payload.Raw)
		require.NoError(t, err)
		msg := string(raw)
		require.Contains(t, msg, "To: ana@example.com, bo@example.com\r\n")
		require.Contains(t, msg, "Cc: cy@example.com\r\n")
		require.Contains(t, msg, "Subject: Weekly\r\n")
		require.True(t, strings.HasSuffix(msg, "\r\n\r\n<b>hi</b>"))
		writeJSON(t, w, map[string]string{"id": "gm-1"})
	})

	rec, err := g.Execute(context.Background(), "tok", Operation{
		Kind: MailSend, To: []string{"ana@example.com", "bo@example.com"}, Cc: []string{"cy@example.com"},
		Subject: "Weekly", Body: "<b>hi</b>",
	})
	require.NoError(t, err)
	require.Equal(t, "sent", rec.Status)
	require.Equal(t, "gm-1", rec.MessageID)
}

func TestGoogleListMailFetchesEachMessage(t *testing.T) {
	body := base64.URLEncoding.EncodeToString([]byte("plain body"))
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gmail/v1/users/me/messages":
			require.Equal(t, "in:inbox from:bo", r.URL.Query().Get("q"))
			require.Equal(t, "5", r.URL.Query().Get("maxResults"))
			writeJSON(t, w, map[string]any{"messages": []map[string]string{{"id": "a"}}})
		case "/gmail/v1/users/me/messages/a":
			writeJSON(t, w, map[string]any{
				"id":           "a",
				"labelIds":     []string{"INBOX", "UNREAD"},
				"internalDate": "1714554000000",
				"payload": map[string]any{
					"mimeType": "multipart/alternative",
					"headers": []map[string]string{
						{"name": "Subject", "value": "Lunch"},
						{"name": "From", "value": "bo@example.com"},
					},
					"parts": []map[string]any{
						{"mimeType": "text/html", "body": map[string]string{"data": base64.URLEncoding.EncodeToString([]byte("<p>html</p>"))}},
						{"mimeType": "text/plain", "body": map[string]string{"data": body}},
					},
				},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	op := Operation{Kind: MailList, Query: "from:bo", Limit: 5}
	require.NoError(t, op.Validate())
	rec, err := g.Execute(context.Background(), "tok", op)
	require.NoError(t, err)
	require.Equal(t, []Message{{
		ID: "a", Subject: "Lunch", From: "bo@example.com",
		Received: "2024-05-01T09:00:00Z", Body: "plain body", IsRead: false,
	}}, rec.Messages)
}

func TestGoogleCreateTaskDefaultsToDefaultList(t *testing.T) {
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tasks/v1/lists/@default/tasks", r.URL.Path)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "needsAction", payload["status"])
		require.Equal(t, "call back", payload["notes"])
		writeJSON(t, w, map[string]string{"id": "gt1", "title": "Call", "status": "needsAction"})
	})

	rec, err := g.Execute(context.Background(), "tok", Operation{Kind: TaskCreate, Title: "Call", Description: "call back"})
	require.NoError(t, err)
	require.Equal(t, &Task{ID: "gt1", Title: "Call", Status: "needsAction"}, rec.Task)
}

func TestGoogleListTasksFiltersStatus(t *testing.T) {
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "false", r.URL.Query().Get("showCompleted"))
		writeJSON(t, w, map[string]any{"items": []map[string]string{
			{"id": "1", "title": "a", "status": "needsAction"},
			{"id": "2", "title": "b", "status": "completed"},
		}})
	})

	rec, err := g.Execute(context.Background(), "tok", Operation{Kind: TaskList, Status: "needsAction"})
	require.NoError(t, err)
	require.Equal(t, []Task{{ID: "1", Title: "a", Status: "needsAction"}}, rec.Tasks)
}

func TestGoogleCreateEvent(t *testing.T) {
	start := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/calendar/v3/calendars/primary/events", r.URL.Path)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "Review", payload["summary"])
		require.Equal(t, map[string]any{"dateTime": "2024-06-03T09:00:00Z", "timeZone": "UTC"}, payload["start"])
		require.Equal(t, []any{map[string]any{"email": "a@example.com"}}, payload["attendees"])
		writeJSON(t, w, map[string]any{
			"id": "ev1", "summary": "Review", "htmlLink": "https://calendar.example/ev1",
			"start": map[string]string{"dateTime": "2024-06-03T09:00:00Z"},
			"end":   map[string]string{"dateTime": "2024-06-03T10:00:00Z"},
		})
	})

	rec, err := g.Execute(context.Background(), "tok", Operation{
		Kind: CalendarEventCreate, Title: "Review", Start: start, End: start.Add(time.Hour), Attendees: []string{"a@example.com"},
	})
	require.NoError(t, err)
	require.Equal(t, &Event{ID: "ev1", Title: "Review", Start: "2024-06-03T09:00:00Z", End: "2024-06-03T10:00:00Z", WebURL: "https://calendar.example/ev1"}, rec.Event)
}

func TestGoogleNotFound(t *testing.T) {
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	_, err := g.Execute(context.Background(), "tok", Operation{Kind: DocumentRead, DocumentID: "missing"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGoogleCreateEventRetriesOnlyRefusals(t *testing.T) {
	var posts int
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		posts++
		switch posts {
		case 1:
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})

	start := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	_, err := g.Execute(context.Background(), "tok", Operation{
		Kind: CalendarEventCreate, Title: "sync", Start: start, End: start.Add(time.Hour),
	})
	require.True(t, IsStatus(err, http.StatusServiceUnavailable))
	require.Equal(t, 2, posts)
}
