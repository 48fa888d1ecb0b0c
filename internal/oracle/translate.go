package oracle

import (
	"context"
	"fmt"
	"strings"

	"zenus/internal/intent"
	"zenus/internal/logging"
)

// Catalog enumerates the operations the oracle may plan with.
type Catalog interface {
	intent.Catalog
	Keys() []string
}

const translateSystemPrompt = `You translate natural-language commands into a JSON execution plan.
Respond with a single JSON object and nothing else:
{"goal": "<restated goal>", "steps": [{"tool": "<Tool>", "action": "<action>", "args": {...}, "risk": <0-3>, "goal": "<step goal>"}]}
Risk levels: 0 read-only, 1 create/move, 2 overwrite, 3 destructive.
Only use operations from the catalog. Use absolute paths where possible.`

// Translate asks the oracle for a plan and validates it against the catalog.
func Translate(ctx context.Context, client LLMClient, catalog Catalog, utterance, contextBlock string) (*intent.Intent, error) {
	return translate(ctx, client, catalog, utterance, contextBlock, nil)
}

// TranslateStream is Translate over a streaming backend: chunks flow through
// onChunk as they arrive and the accumulated buffer is parsed at the end.
// Clients without streaming support fall back to a blocking call.
func TranslateStream(ctx context.Context, client LLMClient, catalog Catalog, utterance, contextBlock string, onChunk func(string)) (*intent.Intent, error) {
	return translate(ctx, client, catalog, utterance, contextBlock, onChunk)
}

func translate(ctx context.Context, client LLMClient, catalog Catalog, utterance, contextBlock string, onChunk func(string)) (*intent.Intent, error) {
	var prompt strings.Builder
	prompt.WriteString("Operation catalog:\n")
	for _, key := range catalog.Keys() {
		parts := strings.SplitN(key, ".", 2)
		required := catalog.RequiredArgs(parts[0], parts[1])
		fmt.Fprintf(&prompt, "- %s (required args: %s)\n", key, strings.Join(required, ", "))
	}
	if contextBlock != "" {
		prompt.WriteString("\nEnvironment:\n")
		prompt.WriteString(contextBlock)
		prompt.WriteString("\n")
	}
	prompt.WriteString("\nCommand: ")
	prompt.WriteString(utterance)

	var raw string
	var err error
	if streamer, ok := client.(StreamingClient); ok && onChunk != nil {
		raw, err = streamer.CompleteStream(ctx, translateSystemPrompt, prompt.String(), onChunk)
	} else {
		raw, err = client.CompleteWithSystem(ctx, translateSystemPrompt, prompt.String())
	}
	if err != nil {
		return nil, fmt.Errorf("oracle unavailable: %w", err)
	}

	in, err := intent.Parse(raw)
	if err != nil {
		logging.OracleDebug("unparseable oracle response: %s", truncate(raw, 500))
		return nil, &TranslationError{Utterance: utterance, Raw: raw, Cause: err}
	}
	if err := intent.Validate(in, catalog); err != nil {
		return nil, &TranslationError{Utterance: utterance, Raw: raw, Cause: err}
	}
	logging.Oracle("translated %q into %d step(s)", utterance, len(in.Steps))
	return in, nil
}
