package draft

import (
	"encoding/json"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/c360studio/changeops/internal/errs"
	"github.com/c360studio/changeops/internal/llmgen"
	"github.com/c360studio/changeops/internal/pkgmodel"
)

const systemPrompt = `You are a package generator for a ChangeOps control plane. Given a
prompt describing a business application, emit exactly one JSON object
(no prose, no markdown fences) matching this shape:

{
  "packageKey": string,
  "version": string,
  "recordTypes": [{"key","name","baseType?","fields":[{"name","type","required?","default?","reference?"}]}],
  "slaPolicies": [{"recordTypeKey","durationMinutes"}],
  "assignmentRules": [{"recordTypeKey","strategyType","config":{"groupKey?","userId?","field?"}}],
  "workflows": [{"key","name","recordTypeKey","triggerEvent?","steps":[{"name","stepType","ordering","config?"}]}],
  "roles": [{"key","name"}]
}`

var htmlNormalizer = md.NewConverter("", true, nil)

// normalizePrompt runs free-text prompt fields through the HTML-to-
// markdown converter before they reach the producer. Operators
// sometimes paste requirements out of a rich-text ticket system; this
// keeps embedded markup from confusing the model the way raw HTML tags
// would.
func normalizePrompt(prompt string) string {
	if !strings.ContainsAny(prompt, "<>") {
		return prompt
	}
	converted, err := htmlNormalizer.ConvertString(prompt)
	if err != nil {
		return prompt
	}
	return converted
}

// buildGenerateMessages constructs the initial generation turn.
func buildGenerateMessages(prompt, appName string) []llmgen.Message {
	userPrompt := normalizePrompt(prompt)
	if appName != "" {
		userPrompt = fmt.Sprintf("Application name: %s\n\n%s", appName, userPrompt)
	}
	return []llmgen.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}
}

// buildRefineMessages seeds generation with the prior package plus a new
// instruction, per spec §4.5 refine semantics.
func buildRefineMessages(prior *pkgmodel.Package, prompt string) []llmgen.Message {
	priorJSON, _ := json.Marshal(prior)
	return []llmgen.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("Current package:\n%s", string(priorJSON))},
		{Role: "user", Content: normalizePrompt(prompt)},
	}
}

// buildRepairMessages sends validation errors from the previous attempt
// back to the producer alongside the rejected candidate.
func buildRepairMessages(base []llmgen.Message, candidate *pkgmodel.Package, problems []*errs.CodeError) []llmgen.Message {
	candidateJSON, _ := json.Marshal(candidate)

	var errLines strings.Builder
	for _, p := range problems {
		fmt.Fprintf(&errLines, "- %s: %s", p.Code, p.Message)
		if p.RecordTypeID != "" {
			fmt.Fprintf(&errLines, " (recordType=%s)", p.RecordTypeID)
		}
		errLines.WriteByte('\n')
	}

	repair := fmt.Sprintf(
		"The previous candidate failed validation:\n%s\nValidation errors:\n%sReturn a corrected JSON package object only.",
		string(candidateJSON), errLines.String(),
	)

	out := make([]llmgen.Message, len(base), len(base)+1)
	copy(out, base)
	return append(out, llmgen.Message{Role: "user", Content: repair})
}

// extractPackageJSON pulls the JSON object out of a producer response,
// tolerating the common case where the model wraps it in a markdown
// code fence despite being told not to.
func extractPackageJSON(content string) (*pkgmodel.Package, error) {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object found in producer response")
	}
	text = text[start : end+1]

	var pkg pkgmodel.Package
	if err := json.Unmarshal([]byte(text), &pkg); err != nil {
		return nil, fmt.Errorf("unmarshal candidate package: %w", err)
	}
	return &pkg, nil
}
