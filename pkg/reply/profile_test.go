package reply

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/teslashibe/go-galina/internal/log"
)

func TestProfileMemory(t *testing.T) {
	p := &Profile{
		Name:                  "Иван",
		LegalConcerns:         "долг по расписке",
		CaseType:              "банковское право",
		PreviousConsultations: "2",
		Interests:             []string{"кредиты", "суды"},
		DiscussedTopics:       `["финансы","судебные процессы"]`,
	}
	want := "Имя клиента: Иван\n" +
		"Юридические вопросы: долг по расписке\n" +
		"Тип дела: банковское право\n" +
		"Предыдущие консультации: 2\n" +
		"Интересы: кредиты, суды\n" +
		"Обсужденные темы: финансы, судебные процессы"
	if got := p.Memory(); got != want {
		t.Errorf("Memory() =\n%s\nwant\n%s", got, want)
	}

	t.Run("malformed topics are ignored", func(t *testing.T) {
		p := &Profile{Name: "Иван", DiscussedTopics: "not json"}
		if got := p.Memory(); got != "Имя клиента: Иван" {
			t.Errorf("Memory() = %q", got)
		}
	})

	t.Run("nil profile", func(t *testing.T) {
		var p *Profile
		if p.Memory() != "" {
			t.Error("nil profile should render empty")
		}
	})
}

func TestClassifyCase(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Как взыскать Алименты?", "семейное право"},
		{"Работодатель не платит", "трудовое право"},
		{"Банк требует долг", "банковское право"},
		{"Аренда квартиры", "жилищное право"},
		{"Попал в ДТП", "страховое право"},
		{"Оспорить завещание", "наследственное право"},
		{"Добрый день", ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := ClassifyCase(tt.text); got != tt.want {
				t.Errorf("ClassifyCase(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractTopics(t *testing.T) {
	got := ExtractTopics("Суд по договору займа и налог на доход")
	want := []string{"судебные процессы", "договорное право", "налоговое право"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractTopics() = %v, want %v", got, want)
	}
	if ExtractTopics("привет") != nil {
		t.Error("expected no topics")
	}
}

func TestProfileObserve(t *testing.T) {
	p := &Profile{DiscussedTopics: `["финансы"]`}
	if !p.Observe("Взял кредит в банке") {
		t.Fatal("expected change")
	}
	if p.CaseType != "банковское право" {
		t.Errorf("CaseType = %q", p.CaseType)
	}
	if !reflect.DeepEqual(p.Topics(), []string{"финансы"}) {
		t.Errorf("topics = %v", p.Topics())
	}
	if p.Observe("Снова про кредит") {
		t.Error("repeat observation should not change the profile")
	}
}

func TestGatewayProfiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/user/profile" || r.Method != http.MethodGet {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"name":"Мария","caseType":"трудовое право","interests":["зарплата"]}`)
	}))
	defer server.Close()

	store, err := NewGatewayProfiles(WithBaseURL(server.URL), WithAPIKey("tok"), WithLogger(log.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	p, err := store.LoadProfile(context.Background())
	if err != nil {
		t.Fatalf("LoadProfile() error = %v", err)
	}
	if p.Name != "Мария" || p.CaseType != "трудовое право" || len(p.Interests) != 1 {
		t.Errorf("profile = %+v", p)
	}

	t.Run("service keeps memory", func(t *testing.T) {
		s := fastService(NewMock("ok"))
		if err := s.LoadProfile(context.Background(), store); err != nil {
			t.Fatal(err)
		}
		if s.Profile().Name != "Мария" {
			t.Error("profile not stored")
		}
	})

	t.Run("unauthorized", func(t *testing.T) {
		bad, _ := NewGatewayProfiles(WithBaseURL(server.URL), WithLogger(log.Discard()))
		s := fastService(NewMock("ok"))
		err := s.LoadProfile(context.Background(), bad)
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsUnauthorized() {
			t.Errorf("error = %v", err)
		}
		if s.Profile() != nil {
			t.Error("failed load should leave no profile")
		}
	})
}
