package reply

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/teslashibe/go-galina/internal/httpc"
)

// Profile is what the product knows about the client. DiscussedTopics is
// a JSON array encoded as a string, as the gateway stores it.
type Profile struct {
	Name                  string   `json:"name,omitempty"`
	LegalConcerns         string   `json:"legalConcerns,omitempty"`
	CaseType              string   `json:"caseType,omitempty"`
	PreviousConsultations string   `json:"previousConsultations,omitempty"`
	Interests             []string `json:"interests,omitempty"`
	DiscussedTopics       string   `json:"discussedTopics,omitempty"`
}

// Topics decodes DiscussedTopics. Malformed values yield nil.
func (p *Profile) Topics() []string {
	if p.DiscussedTopics == "" {
		return nil
	}
	var topics []string
	if err := json.Unmarshal([]byte(p.DiscussedTopics), &topics); err != nil {
		return nil
	}
	return topics
}

// Memory renders the profile as the context block given to the model.
func (p *Profile) Memory() string {
	if p == nil {
		return ""
	}
	var parts []string
	if p.Name != "" {
		parts = append(parts, "Имя клиента: "+p.Name)
	}
	if p.LegalConcerns != "" {
		parts = append(parts, "Юридические вопросы: "+p.LegalConcerns)
	}
	if p.CaseType != "" {
		parts = append(parts, "Тип дела: "+p.CaseType)
	}
	if p.PreviousConsultations != "" {
		parts = append(parts, "Предыдущие консультации: "+p.PreviousConsultations)
	}
	if len(p.Interests) > 0 {
		parts = append(parts, "Интересы: "+strings.Join(p.Interests, ", "))
	}
	if topics := p.Topics(); len(topics) > 0 {
		parts = append(parts, "Обсужденные темы: "+strings.Join(topics, ", "))
	}
	return strings.Join(parts, "\n")
}

// Observe updates the case type and discussed topics from a user message.
// It reports whether anything changed.
func (p *Profile) Observe(userText string) bool {
	changed := false
	if caseType := ClassifyCase(userText); caseType != "" && caseType != p.CaseType {
		p.CaseType = caseType
		changed = true
	}

	found := ExtractTopics(userText)
	if len(found) == 0 {
		return changed
	}
	topics := p.Topics()
	for _, t := range found {
		if !slices.Contains(topics, t) {
			topics = append(topics, t)
			changed = true
		}
	}
	if changed {
		data, _ := json.Marshal(topics)
		p.DiscussedTopics = string(data)
	}
	return changed
}

type keywordRule struct {
	label    string
	keywords []string
}

var caseRules = []keywordRule{
	{"семейное право", []string{"развод", "алименты", "раздел имущества"}},
	{"трудовое право", []string{"увольнение", "работодатель", "зарплата"}},
	{"банковское право", []string{"кредит", "банк", "долг"}},
	{"жилищное право", []string{"квартира", "недвижимость", "аренда"}},
	{"страховое право", []string{"дтп", "авария", "страховка"}},
	{"наследственное право", []string{"наследство", "завещание"}},
}

var topicRules = []keywordRule{
	{"семейное право", []string{"развод", "брак"}},
	{"трудовое право", []string{"работа", "увольнение", "трудовой"}},
	{"недвижимость", []string{"квартира", "дом", "недвижимость"}},
	{"финансы", []string{"кредит", "долг", "банк"}},
	{"судебные процессы", []string{"суд", "иск", "жалоба"}},
	{"договорное право", []string{"договор", "контракт"}},
	{"налоговое право", []string{"налог", "фнс"}},
}

func (r keywordRule) matches(lower string) bool {
	for _, k := range r.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// ClassifyCase returns the first matching case type, or "".
func ClassifyCase(text string) string {
	lower := strings.ToLower(text)
	for _, r := range caseRules {
		if r.matches(lower) {
			return r.label
		}
	}
	return ""
}

// ExtractTopics returns every topic the text touches, in rule order.
func ExtractTopics(text string) []string {
	lower := strings.ToLower(text)
	var topics []string
	for _, r := range topicRules {
		if r.matches(lower) {
			topics = append(topics, r.label)
		}
	}
	return topics
}

// ProfileStore loads the client profile. It is optional: a conversation
// without one runs with no memory block.
type ProfileStore interface {
	LoadProfile(ctx context.Context) (*Profile, error)
}

// GatewayProfiles loads the profile from the product gateway.
type GatewayProfiles struct {
	client *http.Client
	logger *slog.Logger
	url    string
	token  string
}

// NewGatewayProfiles creates a store reading {BaseURL}/api/user/profile
// with APIKey as the bearer token.
func NewGatewayProfiles(opts ...Option) (*GatewayProfiles, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = httpc.NewClient(cfg.Timeout)
	}
	return &GatewayProfiles{
		client: client,
		logger: cfg.Logger.With("component", "reply.profiles"),
		url:    strings.TrimSuffix(cfg.BaseURL, "/") + "/api/user/profile",
		token:  cfg.APIKey,
	}, nil
}

// LoadProfile fetches the profile.
func (g *GatewayProfiles) LoadProfile(ctx context.Context) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		return nil, WrapError(providerGateway, fmt.Errorf("create request: %w", err))
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, WrapError(providerGateway, fmt.Errorf("profile request: %w", err))
	}
	body, err := httpc.ReadBody(resp, maxReplyBody)
	if err != nil {
		return nil, WrapError(providerGateway, fmt.Errorf("read profile: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body)), Provider: providerGateway}
	}

	var p Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, WrapError(providerGateway, fmt.Errorf("decode profile: %w", err))
	}
	g.logger.Debug("profile loaded", "has_name", p.Name != "")
	return &p, nil
}
