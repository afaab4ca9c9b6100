package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/noahsdonaldson/prospector/internal/config"
	"github.com/noahsdonaldson/prospector/internal/llm"
	"github.com/noahsdonaldson/prospector/internal/model"
	"github.com/noahsdonaldson/prospector/internal/search"
)

const company = "Acme"

// stageOf identifies which prompt a request carries.
func stageOf(prompt string) string {
	switch {
	case strings.HasPrefix(prompt, "CRITICAL RETRY"):
		return "retry"
	case strings.Contains(prompt, "Strategic Objectives & Initiatives: "+company):
		return "step1"
	case strings.Contains(prompt, "Business-Unit Strategic Alignment: "+company):
		return "step2"
	case strings.Contains(prompt, "Business Unit Deep-Dive: "):
		return "step3"
	case strings.Contains(prompt, "AI Alignment & Use Case Mapping: "+company):
		return "step4"
	case strings.Contains(prompt, "Persona Mapping: "+company):
		return "step5"
	case strings.Contains(prompt, "Value Realization: "+company):
		return "step6"
	case strings.Contains(prompt, "Personalized Outreach Email: "+company):
		return "step7"
	default:
		return "unknown"
	}
}

const (
	step1JSON = `{"company":"Acme","industry":"Financial Services","objectives":[{"objective":"Grow"}]}`
	step2JSON = `{"business_units":[{"name":"Retail"},{"name":"Wholesale"}]}`
	step3JSON = `{"objectives":["a"],"metrics":["b"]}`
	step4JSON = `{"use_cases":[{"use_case":"claims triage"}]}`
	step5JSON = `{"personas":[{"name":"Jane Doe","title":"CFO"},{"name":"John Roe","title":"CTO"}]}`
	step6JSON = `{"value_map":[{"persona":"CFO","use_case":"claims triage"}]}`
	step7JSON = `{"subject":"Hello","body":"Hi Jane"}`
)

// fakeLLM answers by stage. Overrides in responses take precedence over
// the defaults; a stage in errs fails instead.
type fakeLLM struct {
	mu        sync.Mutex
	responses map[string][]string
	errs      map[string]error
	prompts   []string
	usage     llm.Usage
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		responses: map[string][]string{},
		errs:      map[string]error{},
		usage:     llm.Usage{InputTokens: 100, OutputTokens: 50},
	}
}

var defaults = map[string]string{
	"step1": step1JSON,
	"step2": step2JSON,
	"step3": step3JSON,
	"step4": step4JSON,
	"step5": step5JSON,
	"retry": step5JSON,
	"step6": step6JSON,
	"step7": step7JSON,
}

func (f *fakeLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, req.Prompt)

	st := stageOf(req.Prompt)
	if err := f.errs[st]; err != nil {
		return nil, err
	}
	text := defaults[st]
	if queue := f.responses[st]; len(queue) > 0 {
		text = queue[0]
		if len(queue) > 1 {
			f.responses[st] = queue[1:]
		}
	}
	return &llm.Response{Text: text, Usage: f.usage, Model: "gpt-4o-2024-11-20"}, nil
}

func (f *fakeLLM) Provider() string { return llm.ProviderOpenAI }
func (f *fakeLLM) Model() string    { return "gpt-4o-2024-11-20" }

func (f *fakeLLM) stages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.prompts))
	for _, p := range f.prompts {
		out = append(out, stageOf(p))
	}
	return out
}

func (f *fakeLLM) promptFor(stage string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.prompts {
		if stageOf(p) == stage {
			return p
		}
	}
	return ""
}

// mockLLM is a testify mock for call-level expectations.
type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Response), args.Error(1)
}

func (m *mockLLM) Provider() string { return llm.ProviderAnthropic }
func (m *mockLLM) Model() string    { return "claude-sonnet-4-20250514" }

// mockSearch is a testify mock of search.Client.
type mockSearch struct {
	mock.Mock
}

func (m *mockSearch) Search(ctx context.Context, query string, maxResults int) search.Result {
	args := m.Called(ctx, query, maxResults)
	return args.Get(0).(search.Result)
}

func (m *mockSearch) SearchExecutivesMulti(ctx context.Context, company string, roles []string) search.Result {
	args := m.Called(ctx, company, roles)
	return args.Get(0).(search.Result)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LLM.MaxTokens = 4000
	cfg.Search.Provider = "tavily"
	cfg.Search.MaxResults = 5
	cfg.Search.ExecutiveRoles = config.DefaultExecutiveRoles
	cfg.Pipeline.MaxBusinessUnits = 3
	return cfg
}

func drain(events <-chan model.Event) []model.Event {
	var out []model.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func terminals(events []model.Event) []model.Event {
	var out []model.Event
	for _, ev := range events {
		if ev.Type.Terminal() {
			out = append(out, ev)
		}
	}
	return out
}
