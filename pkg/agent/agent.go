package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/llm"
)

// DefaultMaxRounds bounds the model/tool exchanges of one question.
const DefaultMaxRounds = 12

// DefaultMaxHistory bounds the messages carried between questions. Older
// questions are dropped whole, together with their tool traffic.
const DefaultMaxHistory = 40

const defaultTemperature = 0.2

// Step is one executed tool call.
type Step struct {
	Round    int           `json:"round"`
	Call     ToolCall      `json:"call"`
	Result   string        `json:"result"`
	Duration time.Duration `json:"duration"`
}

// Answer is the outcome of one question.
type Answer struct {
	Text       string `json:"text"`
	Steps      []Step `json:"steps"`
	Rounds     int    `json:"rounds"`
	Incomplete bool   `json:"incomplete,omitempty"`
}

// Listener observes tool steps as they complete.
type Listener func(Step)

// Agent holds one conversation with the model. Questions are answered one at
// a time; the history carries over between them.
type Agent struct {
	client    llm.Client
	tools     *Toolbox
	logger    zerolog.Logger
	maxRounds  int
	maxHistory int

	mu        sync.Mutex
	history   []llm.Message
	questions []int // history index of each question
	listeners []Listener
}

// Option configures an Agent.
type Option func(*Agent)

// WithMaxRounds overrides DefaultMaxRounds.
func WithMaxRounds(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxRounds = n
		}
	}
}

// WithMaxHistory overrides DefaultMaxHistory.
func WithMaxHistory(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxHistory = n
		}
	}
}

// WithListener registers l for every step.
func WithListener(l Listener) Option {
	return func(a *Agent) {
		a.listeners = append(a.listeners, l)
	}
}

// New creates an agent.
func New(client llm.Client, tools *Toolbox, logger zerolog.Logger, opts ...Option) *Agent {
	a := &Agent{
		client:    client,
		tools:     tools,
		logger:    logger.With().Str("component", "agent").Logger(),
		maxRounds:  DefaultMaxRounds,
		maxHistory: DefaultMaxHistory,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Ask sends a question and runs tool calls until the model replies without
// any, or the round limit is hit.
func (a *Agent) Ask(ctx context.Context, question string) (*Answer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := len(a.history)
	a.history = append(a.history, llm.Message{Role: llm.RoleUser, Content: question})
	a.questions = append(a.questions, start)
	defer a.trim()
	answer := &Answer{Steps: []Step{}}

	for round := 1; round <= a.maxRounds; round++ {
		answer.Rounds = round

		reply, err := a.client.Complete(ctx, llm.Request{
			System:      a.systemPrompt(),
			Messages:    a.history,
			Temperature: defaultTemperature,
		})
		if err != nil {
			a.logger.Error().Err(err).Int("round", round).Msg("Model call failed")
			a.history = a.history[:start]
			a.questions = a.questions[:len(a.questions)-1]
			return nil, err
		}
		a.history = append(a.history, llm.Message{Role: llm.RoleAssistant, Content: reply})
		answer.Text = reply

		calls, err := ParseToolCalls(reply)
		if err != nil {
			a.history = append(a.history, llm.Message{Role: llm.RoleUser, Content: "Error: " + err.Error()})
			continue
		}
		if len(calls) == 0 {
			return answer, nil
		}

		var results strings.Builder
		results.WriteString("Tool results:")
		for _, call := range calls {
			start := time.Now()
			step := Step{Round: round, Call: call, Result: a.tools.Call(ctx, call), Duration: time.Since(start)}
			answer.Steps = append(answer.Steps, step)
			for _, l := range a.listeners {
				l(step)
			}
			fmt.Fprintf(&results, "\n\n### %s\n%s", call.Function, step.Result)
		}
		a.history = append(a.history, llm.Message{Role: llm.RoleUser, Content: results.String()})
	}

	a.logger.Warn().Int("max_rounds", a.maxRounds).Msg("Round limit reached")
	answer.Incomplete = true
	return answer, nil
}

// trim drops the oldest questions until the history fits maxHistory. The
// latest question is always kept.
func (a *Agent) trim() {
	drop := 0
	for drop < len(a.questions)-1 && len(a.history)-a.questions[drop] > a.maxHistory {
		drop++
	}
	if drop == 0 {
		return
	}
	cut := a.questions[drop]
	a.history = append([]llm.Message(nil), a.history[cut:]...)
	a.questions = a.questions[drop:]
	for i := range a.questions {
		a.questions[i] -= cut
	}
	a.logger.Debug().Int("dropped_questions", drop).Int("messages", len(a.history)).Msg("Trimmed history")
}

// History returns a copy of the conversation.
func (a *Agent) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Message(nil), a.history...)
}

// Reset clears the conversation.
func (a *Agent) Reset() {
	a.mu.Lock()
	a.history = nil
	a.questions = nil
	a.mu.Unlock()
}

func (a *Agent) systemPrompt() string {
	kind := a.tools.explorer.EntityKind()
	var b strings.Builder
	fmt.Fprintf(&b, "You answer questions about the %s database %q.\n",
		a.tools.explorer.Backend(), a.tools.explorer.DatabaseName())
	b.WriteString("Call functions by replying with fenced json blocks of the form ")
	b.WriteString("{\"function\": \"<name>\", \"args\": {...}}. Reply without a json block to give the final answer.\n")
	fmt.Fprintf(&b, "Functions and their args (%s is the %s name):\n", kind, kind)
	for _, sig := range a.tools.Signatures() {
		fmt.Fprintf(&b, "- %s\n", sig)
	}
	return b.String()
}
