// Package qualify adapts the Anthropic messages API into the pipeline's
// binary qualification decision. The adapter is synchronous and fallible;
// retry policy belongs to the caller.
package qualify

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/scoutline/leadharvest/pkg/anthropic"
)

// VerdictQualified is the verdict prefix that counts as an accept. Any other
// reply is a reject; an adapter error leaves the verdict unknown.
const VerdictQualified = "Qualified"

const systemSuffix = "\n\nAnswer with exactly one word: \"Qualified\" or \"Unqualified\"."

// Qualifier returns a verdict string for a contributor's bio text against a
// configured prompt.
type Qualifier interface {
	Qualify(ctx context.Context, bio, prompt string) (string, error)
}

// Config holds the qualifier model settings.
type Config struct {
	Model     string
	MaxTokens int64
}

type anthropicQualifier struct {
	client anthropic.Client
	cfg    Config
}

// New creates a Qualifier backed by the Anthropic API.
func New(client anthropic.Client, cfg Config) Qualifier {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 16
	}
	return &anthropicQualifier{client: client, cfg: cfg}
}

func (q *anthropicQualifier) Qualify(ctx context.Context, bio, prompt string) (string, error) {
	if strings.TrimSpace(bio) == "" {
		// Nothing to judge; an empty bio never matches a prompt.
		return "Unqualified", nil
	}

	resp, err := q.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     q.cfg.Model,
		MaxTokens: q.cfg.MaxTokens,
		System:    prompt + systemSuffix,
		Messages: []anthropic.Message{
			{Role: "user", Content: bio},
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "qualify: adapter call")
	}

	verdict := strings.TrimSpace(resp.Text())
	if verdict == "" {
		return "", eris.New("qualify: empty verdict")
	}
	return verdict, nil
}

// Accepted reports whether a verdict string counts as an accept.
func Accepted(verdict string) bool {
	return strings.HasPrefix(strings.TrimSpace(verdict), VerdictQualified)
}
