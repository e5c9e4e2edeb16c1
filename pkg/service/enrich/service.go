package enrich

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"text/template"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/cyberscope/pkg/domain/model"
	"github.com/secmon-lab/cyberscope/pkg/domain/types"
)

// Error tags for categorization
var (
	ErrTagInvalidJSON   = goerr.NewTag("invalid_json")
	ErrTagEmptyResponse = goerr.NewTag("empty_response")
	ErrTagQuotaExceeded = goerr.NewTag("quota_exceeded")
)

//go:embed templates/*.md
var templateFS embed.FS

// Rough chars-per-token ratio used for budgeting and cost estimates
const charsPerToken = 4

// Upper bound on cached results; keyed by threat ID and description
// hash, so long-running processes would otherwise grow without limit
const defaultCacheSize = 2048

// Service wraps the external LLM with token budgeting, prompt
// truncation, result caching and a deterministic fallback. Enrich
// never returns an error: provider failures are captured in the
// enrichment record so ingestion throughput is never coupled to the
// availability of an external paid service.
type Service struct {
	llmClient    gollem.LLMClient
	quota        *TokenQuota
	promptBudget int
	timeout      time.Duration
	now          func() time.Time
	cacheSize    int

	cache *lru.Cache[string, *model.Enrichment]
}

// Option configures a Service
type Option func(*Service)

// WithPromptBudget sets the prompt token budget
func WithPromptBudget(tokens int) Option {
	return func(s *Service) {
		if tokens > 0 {
			s.promptBudget = tokens
		}
	}
}

// WithTimeout sets the per-call LLM timeout
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides the clock (for tests)
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithCacheSize bounds the number of cached enrichment results
func WithCacheSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.cacheSize = n
		}
	}
}

// New creates a new enrichment Service. A nil llmClient is allowed and
// routes every request to the fallback path.
func New(llmClient gollem.LLMClient, quota *TokenQuota, opts ...Option) *Service {
	s := &Service{
		llmClient:    llmClient,
		quota:        quota,
		promptBudget: 2000,
		timeout:      30 * time.Second,
		now:          time.Now,
		cacheSize:    defaultCacheSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	// lru.New only fails on a non-positive size, which the option guards
	s.cache, _ = lru.New[string, *model.Enrichment](s.cacheSize)
	return s
}

// analysisPayload is the structured response expected from the LLM
type analysisPayload struct {
	Summary    string `json:"summary"`
	Mitigation string `json:"mitigation_advice"`
	Narrative  string `json:"risk_narrative"`
}

// promptData is the template input for the analysis prompt
type promptData struct {
	ID            string
	Title         string
	Description   string
	SeverityScore float64
	SeverityTier  string
	Published     string
	Source        string
}

// Enrich produces the enrichment for a threat. Cache hits return the
// previously generated result at no token cost. Quota exhaustion,
// timeouts and provider errors all resolve to the deterministic
// fallback with status FAILED.
func (s *Service) Enrich(ctx context.Context, threat *model.Threat) *model.Enrichment {
	key := cacheKey(threat)

	if cached, ok := s.cache.Get(key); ok && cached.Status == types.EnrichmentComplete {
		hit := *cached
		hit.TokenCost = 0
		return &hit
	}

	enrichment, err := s.analyze(ctx, threat)
	if err != nil {
		ctxlog.From(ctx).Warn("enrichment fell back to rule-based summary",
			"threatID", threat.ID,
			"error", err,
		)
		return s.fallback(threat)
	}

	s.cache.Add(key, enrichment)

	result := *enrichment
	return &result
}

func (s *Service) analyze(ctx context.Context, threat *model.Threat) (*model.Enrichment, error) {
	if s.llmClient == nil {
		return nil, goerr.New("no LLM client configured",
			goerr.T(model.ErrTagEnrichmentFailed))
	}

	prompt, err := s.buildPrompt(threat)
	if err != nil {
		return nil, err
	}

	estimate := int64(len(prompt) / charsPerToken)
	if s.quota != nil && !s.quota.TryConsume(estimate, s.now()) {
		return nil, goerr.New("daily token quota exhausted",
			goerr.T(ErrTagQuotaExceeded),
			goerr.T(model.ErrTagEnrichmentFailed),
			goerr.V("estimate", estimate))
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session, err := s.llmClient.NewSession(callCtx, gollem.WithSessionContentType(gollem.ContentTypeJSON))
	if err != nil {
		s.refund(estimate)
		return nil, goerr.Wrap(err, "failed to create LLM session",
			goerr.T(model.ErrTagEnrichmentFailed))
	}

	response, err := session.GenerateContent(callCtx, gollem.Text(prompt))
	if err != nil {
		s.refund(estimate)
		return nil, goerr.Wrap(err, "failed to generate LLM response",
			goerr.T(model.ErrTagEnrichmentFailed))
	}
	if len(response.Texts) == 0 || response.Texts[0] == "" {
		s.refund(estimate)
		return nil, goerr.New("empty response from LLM",
			goerr.T(ErrTagEmptyResponse),
			goerr.T(model.ErrTagEnrichmentFailed))
	}

	var payload analysisPayload
	if err := json.Unmarshal([]byte(response.Texts[0]), &payload); err != nil {
		return nil, goerr.Wrap(err, "failed to parse LLM response as JSON",
			goerr.T(ErrTagInvalidJSON),
			goerr.T(model.ErrTagEnrichmentFailed),
			goerr.V("response", response.Texts[0]))
	}
	if payload.Summary == "" {
		return nil, goerr.New("LLM response missing summary",
			goerr.T(model.ErrTagEnrichmentFailed))
	}

	cost := estimate + int64(len(response.Texts[0])/charsPerToken)
	if s.quota != nil {
		// Charge the response on top of the prompt reservation
		s.quota.TryConsume(cost-estimate, s.now())
	}

	return &model.Enrichment{
		ThreatID:        threat.ID,
		Summary:         payload.Summary,
		Mitigation:      payload.Mitigation,
		Narrative:       payload.Narrative,
		Provider:        types.ProviderLLM,
		Status:          types.EnrichmentComplete,
		TokenCost:       int(cost),
		DescriptionHash: model.HashDescription(threat.Description),
		GeneratedAt:     s.now(),
	}, nil
}

// buildPrompt renders the analysis template with the description
// truncated from the end to fit the token budget. The title is never
// truncated.
func (s *Service) buildPrompt(threat *model.Threat) (string, error) {
	content, err := templateFS.ReadFile("templates/threat_analysis.md")
	if err != nil {
		return "", goerr.Wrap(err, "failed to read analysis template")
	}

	tmpl, err := template.New("threat_analysis").Parse(string(content))
	if err != nil {
		return "", goerr.Wrap(err, "failed to parse analysis template")
	}

	data := promptData{
		ID:            threat.ID.String(),
		Title:         threat.Title,
		Description:   threat.Description,
		SeverityScore: threat.SeverityScore,
		SeverityTier:  threat.SeverityTier.String(),
		Published:     threat.PublishedAt.Format(time.RFC3339),
		Source:        threat.Source,
	}

	budgetChars := s.promptBudget * charsPerToken
	overhead := len(content) + len(threat.Title) + len(threat.ID)
	if room := budgetChars - overhead; room > 0 && len(data.Description) > room {
		data.Description = truncateUTF8(data.Description, room)
	} else if room <= 0 {
		data.Description = ""
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", goerr.Wrap(err, "failed to execute analysis template")
	}
	return buf.String(), nil
}

// fallback builds the deterministic rule-based enrichment used when
// the provider is unavailable, times out or the quota is exhausted.
// The summary is always non-empty.
func (s *Service) fallback(threat *model.Threat) *model.Enrichment {
	tier := threat.SeverityTier

	summary := truncateUTF8(threat.Description, 500)
	if summary == "" {
		summary = threat.Title
	}

	mitigation := "Monitor vendor advisories and strengthen monitoring."
	if tier == types.SeverityCritical || tier == types.SeverityHigh {
		mitigation = "Apply vendor patches immediately and review compensating controls."
	}

	return &model.Enrichment{
		ThreatID:        threat.ID,
		Summary:         summary,
		Mitigation:      mitigation,
		Narrative:       fmt.Sprintf("%s severity issue from %s; assessment generated without model analysis.", tier, threat.Source),
		Provider:        types.ProviderFallback,
		Status:          types.EnrichmentFailed,
		TokenCost:       0,
		DescriptionHash: model.HashDescription(threat.Description),
		GeneratedAt:     s.now(),
	}
}

func (s *Service) refund(n int64) {
	if s.quota != nil {
		s.quota.Refund(n)
	}
}

func cacheKey(threat *model.Threat) string {
	return threat.ID.String() + ":" + model.HashDescription(threat.Description)
}

// truncateUTF8 cuts s to at most limit bytes without splitting a
// multi-byte rune
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
