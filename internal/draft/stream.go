package draft

import (
	"context"

	"github.com/c360studio/changeops/internal/diff"
	"github.com/c360studio/changeops/internal/errs"
	"github.com/c360studio/changeops/internal/llmgen"
	"github.com/c360studio/changeops/internal/pkgmodel"
	"github.com/c360studio/changeops/internal/tenantctx"
)

func buildStreamRequest(messages []llmgen.Message) llmgen.Request {
	return llmgen.Request{Capability: llmgen.CapabilityDraftGeneration, Messages: messages, MaxTokens: 4096}
}

func diffCandidate(baseline, candidate *pkgmodel.Package) diff.Result {
	return diff.Diff(baseline, candidate)
}

// streamBufferSize bounds the event channel so a slow SSE consumer
// applies back-pressure to the generator rather than the generator
// buffering unboundedly in memory.
const streamBufferSize = 16

// PreviewStream implements preview/stream: a lazy sequence of stage
// events generation -> validation -> (repair)* -> projection -> diff ->
// complete, or error. The channel is closed after exactly one of
// complete/error is sent. Cancelling ctx stops the generator and closes
// the channel with a "canceled" error event.
func (e *Engine) PreviewStream(ctx context.Context, tc tenantctx.Context, projectID, environmentID, prompt, appName string) <-chan StreamEvent {
	events := make(chan StreamEvent, streamBufferSize)

	go func() {
		defer close(events)
		e.runPreviewStream(ctx, tc, projectID, environmentID, prompt, appName, 0, events)
	}()

	return events
}

// PreviewStreamMulti multiplexes generate-multi variants over one
// channel; each variant's stage events carry its VariantIndex, and each
// variant's "complete" event arrives exactly once, in any order relative
// to other variants.
func (e *Engine) PreviewStreamMulti(ctx context.Context, tc tenantctx.Context, projectID, environmentID, prompt, appName string, count int) <-chan StreamEvent {
	events := make(chan StreamEvent, streamBufferSize*count)

	go func() {
		defer close(events)
		done := make(chan struct{}, count)
		for i := 0; i < count; i++ {
			go func(variantIndex int) {
				defer func() { done <- struct{}{} }()
				e.runPreviewStream(ctx, tc, projectID, environmentID, prompt, appName, variantIndex, events)
			}(i)
		}
		for i := 0; i < count; i++ {
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events
}

func (e *Engine) runPreviewStream(ctx context.Context, tc tenantctx.Context, projectID, environmentID, prompt, appName string, variantIndex int, events chan<- StreamEvent) {
	emit := func(ev StreamEvent) bool {
		ev.VariantIndex = variantIndex
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			events <- StreamEvent{Stage: StageError, VariantIndex: variantIndex, Err: "canceled"}
			return false
		}
	}

	if !emit(StreamEvent{Stage: StageGeneration}) {
		return
	}

	messages := buildGenerateMessages(prompt, appName)
	var (
		candidate *pkgmodel.Package
		problems  []*errs.CodeError
		attempt   int
	)

	for attempt = 1; attempt <= maxRepairAttempts; attempt++ {
		if ctx.Err() != nil {
			emit(StreamEvent{Stage: StageError, Err: "canceled"})
			return
		}

		resp, err := e.client.Complete(ctx, buildStreamRequest(messages))
		if err != nil {
			emit(StreamEvent{Stage: StageError, Err: err.Error()})
			return
		}

		candidate, err = extractPackageJSON(resp.Content)
		if err != nil {
			problems = []*errs.CodeError{errs.Newf(errs.CodeValidationError, "malformed producer output: %v", err)}
		} else {
			if !emit(StreamEvent{Stage: StageValidation}) {
				return
			}
			problems = candidate.Validate()
		}

		if len(problems) == 0 {
			break
		}

		if attempt == maxRepairAttempts {
			break
		}
		if !emit(StreamEvent{Stage: StageRepair}) {
			return
		}
		messages = buildRepairMessages(messages, candidate, problems)
	}

	result := &RepairResult{
		Package:          candidate,
		ValidationErrors: problems,
		Attempts:         attempt,
		Success:          len(problems) == 0,
	}
	if result.Success {
		result.Checksum = pkgmodel.Checksum(candidate)
	}

	if !emit(StreamEvent{Stage: StageProjection}) {
		return
	}

	if result.Success && e.baselines != nil {
		if baseline, _, err := e.baselines.GetBaseline(ctx, tc.Tenant.ID, environmentID); err == nil {
			if baseline == nil {
				baseline = &pkgmodel.Package{}
			}
			d := diffCandidate(baseline, candidate)
			result.Diff = &d
		}
	}

	emit(StreamEvent{Stage: StageDiff})
	emit(StreamEvent{Stage: StageComplete, Result: result})
}
