package export

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-galina/internal/log"
	"github.com/teslashibe/go-galina/pkg/reply"
	"golang.org/x/oauth2"
)

func sampleTranscript() Transcript {
	start := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	return Transcript{
		CallID:    "call-1",
		StartedAt: start,
		EndedAt:   start.Add(95 * time.Second),
		Profile:   &reply.Profile{CaseType: "семейное право", DiscussedTopics: `["развод"]`},
		Messages: []reply.Message{
			reply.NewSystemMessage("hidden"),
			reply.NewAssistantMessage(reply.Greeting),
			reply.NewUserMessage("Хочу подать на развод"),
			reply.NewAssistantMessage("Понимаю. Есть ли у вас дети?"),
		},
	}
}

func TestTranscriptFormat(t *testing.T) {
	tr := sampleTranscript()
	text := tr.Format()

	for _, want := range []string{
		"Консультация 2026-03-14 10:30",
		"Звонок: call-1",
		"Длительность: 1m35s",
		"Тип дела: семейное право",
		"Темы: развод",
		"Клиент: Хочу подать на развод",
		"Галина: Понимаю. Есть ли у вас дети?",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Format() missing %q", want)
		}
	}
	if strings.Contains(text, "hidden") {
		t.Error("system messages must not be exported")
	}
	if tr.Empty() {
		t.Error("Empty() = true with a user message")
	}

	greetingOnly := Transcript{Messages: []reply.Message{reply.NewAssistantMessage(reply.Greeting)}}
	if !greetingOnly.Empty() {
		t.Error("Empty() = false without user messages")
	}
}

func TestNewGoogleDocs(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		if _, err := NewGoogleDocs(GoogleConfig{}); err != ErrNoCredentials {
			t.Errorf("error = %v, want ErrNoCredentials", err)
		}
	})

	t.Run("unauthenticated", func(t *testing.T) {
		g, err := NewGoogleDocs(GoogleConfig{
			ClientID:     "id",
			ClientSecret: "secret",
			TokenPath:    filepath.Join(t.TempDir(), "token.json"),
			Logger:       log.Discard(),
		})
		if err != nil {
			t.Fatal(err)
		}
		if g.IsAuthenticated() {
			t.Error("expected not authenticated without token")
		}
		status := g.GetStatus()
		if status.Connected || !strings.Contains(status.AuthURL, "accounts.google.com") {
			t.Errorf("status = %+v", status)
		}
		if _, err := g.Export(context.Background(), sampleTranscript()); err != ErrNotAuthenticated {
			t.Errorf("Export() error = %v, want ErrNotAuthenticated", err)
		}
	})

	t.Run("loads saved token", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token.json")
		data, _ := json.Marshal(&oauth2.Token{AccessToken: "saved", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)})
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatal(err)
		}
		g, err := NewGoogleDocs(GoogleConfig{ClientID: "id", ClientSecret: "secret", TokenPath: path, Logger: log.Discard()})
		if err != nil {
			t.Fatal(err)
		}
		if !g.IsAuthenticated() {
			t.Error("expected saved token to authenticate")
		}
		if err := g.Disconnect(); err != nil {
			t.Fatal(err)
		}
		if g.IsAuthenticated() {
			t.Error("still authenticated after Disconnect")
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("token file should be removed")
		}
	})
}

func TestGoogleDocsExport(t *testing.T) {
	var (
		mu       sync.Mutex
		title    string
		inserted string
		auth     string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/v1/documents"):
			var doc struct {
				Title string `json:"title"`
			}
			json.NewDecoder(r.Body).Decode(&doc)
			title = doc.Title
			json.NewEncoder(w).Encode(map[string]string{"documentId": "doc-42", "title": doc.Title})

		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":batchUpdate"):
			var req struct {
				Requests []struct {
					InsertText struct {
						Text string `json:"text"`
					} `json:"insertText"`
				} `json:"requests"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			if len(req.Requests) > 0 {
				inserted = req.Requests[0].InsertText.Text
			}
			json.NewEncoder(w).Encode(map[string]string{"documentId": "doc-42"})

		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g, err := NewGoogleDocs(GoogleConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenPath:    filepath.Join(t.TempDir(), "token.json"),
		Endpoint:     srv.URL + "/",
		Logger:       log.Discard(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.SetToken(&oauth2.Token{AccessToken: "access", Expiry: time.Now().Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	url, err := g.Export(context.Background(), sampleTranscript())
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if url != DocURL("doc-42") {
		t.Errorf("url = %q", url)
	}

	mu.Lock()
	defer mu.Unlock()
	if title != "Консультация 2026-03-14 10:30" {
		t.Errorf("title = %q", title)
	}
	if !strings.Contains(inserted, "Клиент: Хочу подать на развод") {
		t.Errorf("inserted text = %q", inserted)
	}
	if auth != "Bearer access" {
		t.Errorf("Authorization = %q", auth)
	}
}
