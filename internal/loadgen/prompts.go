// internal/loadgen/prompts.go
package loadgen

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/mwiater/qosflow/internal/appconfig"
	"github.com/mwiater/qosflow/internal/schema"
)

// maxPromptLine bounds one JSONL prompt row.
const maxPromptLine = 4 << 20

// Classify assigns a length bucket from the prompt's character count.
func Classify(text string, th appconfig.LengthThresholds) schema.LengthBucket {
	n := utf8.RuneCountInString(text)
	switch {
	case n <= th.ShortMaxChars:
		return schema.BucketShort
	case n <= th.MedMaxChars:
		return schema.BucketMed
	default:
		return schema.BucketLong
	}
}

// LoadPrompts reads a JSONL prompt file. Unknown fields are rejected and every
// prompt is classified into a length bucket.
func LoadPrompts(path string, th appconfig.LengthThresholds) ([]schema.PromptInput, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open prompts %q: %w", path, err)
	}
	defer file.Close()

	var prompts []schema.PromptInput
	seen := make(map[string]int)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxPromptLine)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		var p schema.PromptInput
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("prompts %q line %d: %w", path, line, err)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("prompts %q line %d: %w", path, line, err)
		}
		if prev, dup := seen[p.PromptID]; dup {
			return nil, fmt.Errorf("prompts %q line %d: duplicate prompt_id %q (first on line %d)", path, line, p.PromptID, prev)
		}
		seen[p.PromptID] = line
		p.LengthBucket = Classify(p.Text, th)
		prompts = append(prompts, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read prompts %q: %w", path, err)
	}
	if len(prompts) == 0 {
		return nil, errors.New("prompt file contains no prompts")
	}
	return prompts, nil
}

// ReferenceAnswers maps prompt ids to their expected answers.
func ReferenceAnswers(prompts []schema.PromptInput) map[string]string {
	refs := make(map[string]string)
	for _, p := range prompts {
		if p.Expected != nil {
			refs[p.PromptID] = *p.Expected
		}
	}
	return refs
}
