package parse

import (
	"context"
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/syncpad/syncpad/internal/schema"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-3-5-haiku-latest"

const systemPrompt = `You extract structured task fields from a short piece of text.
Respond with exactly three tagged lines and nothing else:
<title>the task title with all date, time, and urgency words removed</title>
<date>the due date in RFC3339, or none</date>
<urgency>a number from 1 to 5 with at most one decimal, where 1 is default and 5 is critical</urgency>
The title must never contain date or time information. Resolve relative
dates like "tomorrow" against the current time given in the user message.`

var (
	titleTag   = regexp.MustCompile(`(?s)<title>(.*?)</title>`)
	dateTag    = regexp.MustCompile(`(?s)<date>(.*?)</date>`)
	urgencyTag = regexp.MustCompile(`(?s)<urgency>(.*?)</urgency>`)
)

// AI parses input with a language model. Any model failure falls back to the
// local heuristic parser so quick-add keeps working offline.
type AI struct {
	client   anthropic.Client
	model    anthropic.Model
	fallback *Heuristic
	logger   *log.Logger
}

// NewAI creates a model-backed parser. The model name defaults to
// DefaultModel when empty.
func NewAI(apiKey, model string, logger *log.Logger) *AI {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[parse] ", log.LstdFlags)
	}
	return &AI{
		client:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:    anthropic.Model(model),
		fallback: NewHeuristic(),
		logger:   logger,
	}
}

// Parse implements Parser.
func (a *AI) Parse(ctx context.Context, input string, base time.Time) (*Result, error) {
	res, err := a.parseModel(ctx, input, base)
	if err != nil {
		a.logger.Printf("Model parse failed, using heuristic: %v", err)
		return a.fallback.Parse(ctx, input, base)
	}
	return res, nil
}

func (a *AI) parseModel(ctx context.Context, input string, base time.Time) (*Result, error) {
	user := fmt.Sprintf("Current time: %s\nText: %s", base.Format(time.RFC3339), input)

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 256,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("message request failed: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return parseTagged(text)
}

// parseTagged extracts the three tagged fields from a model response.
func parseTagged(text string) (*Result, error) {
	title := tagValue(titleTag, text)
	if title == "" {
		return nil, fmt.Errorf("response missing title: %q", text)
	}

	res := &Result{Title: title, Urgency: schema.MinUrgency}

	due, err := parseDate(tagValue(dateTag, text))
	if err != nil {
		return nil, err
	}
	res.DueDate = due

	if raw := tagValue(urgencyTag, text); raw != "" {
		u, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("bad urgency %q: %w", raw, err)
		}
		res.Urgency = clampUrgency(u)
	}
	return res, nil
}

func tagValue(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

var _ Parser = (*AI)(nil)
