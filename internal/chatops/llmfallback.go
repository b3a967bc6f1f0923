package chatops

import "context"

// LLMFallback is the intent router's escape hatch for an utterance none
// of the regex routes recognize: a call out to a language model to
// interpret free-form phrasing, the way the original chat service fell
// back to its OpenAI client when its own keyword rules came up empty.
// No provider is wired in by default - Orchestrator.llm is nil and the
// escape hatch is skipped, matching the out-of-scope status of any real
// LLM integration here. A provider only needs to satisfy this function
// type to be plugged in with WithLLMFallback.
type LLMFallback func(ctx context.Context, utterance string) (string, error)

// WithLLMFallback wires an LLMFallback into the orchestrator's router
// escape hatch. Unset, the escape hatch is a no-op and unrecognized
// utterances simply get the generic clarification card.
func (o *Orchestrator) WithLLMFallback(fn LLMFallback) *Orchestrator {
	o.llm = fn
	return o
}

// tryLLMFallback calls the configured LLMFallback under its own timeout,
// mirroring the teacher's context.WithTimeout pattern around outbound
// calls. It reports ok=false whenever no fallback is configured, the
// call errors, or the timeout elapses, so the caller falls back to the
// plain clarification card.
func (o *Orchestrator) tryLLMFallback(ctx context.Context, utterance string) (text string, ok bool) {
	if o.llm == nil {
		return "", false
	}
	cctx, cancel := context.WithTimeout(ctx, o.llmTimeout)
	defer cancel()

	text, err := o.llm(cctx, utterance)
	if err != nil {
		return "", false
	}
	return text, true
}
