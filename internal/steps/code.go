package steps

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/terra-clan/quiz-solver/internal/models"
)

// runCode hands the input to the code runner as JSON on stdin and decodes
// whatever the snippet printed.
func runCode(ctx context.Context, runner CodeRunner, code string, input any) (any, error) {
	if runner == nil {
		return nil, models.Permanent(ErrCodeDisabled)
	}

	var payload any
	switch v := input.(type) {
	case *models.Media:
		payload = base64.StdEncoding.EncodeToString(v.Data)
	case []byte:
		payload = string(v)
	default:
		payload = v
	}

	stdin, err := json.Marshal(payload)
	if err != nil {
		return nil, models.Permanent(fmt.Errorf("failed to encode code input: %w", err))
	}

	out, err := runner.Run(ctx, code, stdin)
	if err != nil {
		return nil, err
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return nil, models.Permanent(fmt.Errorf("code produced no output"))
	}

	var decoded any
	if err := json.Unmarshal([]byte(out), &decoded); err == nil {
		if items, ok := decoded.([]any); ok {
			if t := tableFromRecords(items); t != nil {
				return t, nil
			}
		}
		return decoded, nil
	}
	return out, nil
}
