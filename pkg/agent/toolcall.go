// Package agent answers questions about a database by letting an LLM issue
// structured tool calls against a DatabaseExplorer.
package agent

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/llm"
)

// ToolCall is one function invocation requested by the model, written as a
// fenced JSON block: {"function": "execute_query", "args": {...}}.
type ToolCall struct {
	Function string          `json:"function"`
	Args     json.RawMessage `json:"args,omitempty"`
}

// ParseToolCalls extracts tool calls from a model reply. A block may hold one
// call or an array of calls. Untagged blocks that are not tool calls are
// ignored; a json block that does not decode is an error.
func ParseToolCalls(reply string) ([]ToolCall, error) {
	var calls []ToolCall
	for _, block := range llm.ExtractBlocks(reply) {
		if block.Lang != "json" && block.Lang != "" {
			continue
		}
		parsed, err := decodeCalls(block.Code)
		if err != nil {
			if block.Lang == "json" {
				return nil, errors.Wrap(err, errors.CodeInvalidRequest, "invalid tool call")
			}
			continue
		}
		calls = append(calls, parsed...)
	}
	return calls, nil
}

func decodeCalls(code string) ([]ToolCall, error) {
	data := []byte(strings.TrimSpace(code))
	var calls []ToolCall
	if bytes.HasPrefix(data, []byte("[")) {
		if err := json.Unmarshal(data, &calls); err != nil {
			return nil, err
		}
	} else {
		var call ToolCall
		if err := json.Unmarshal(data, &call); err != nil {
			return nil, err
		}
		calls = []ToolCall{call}
	}

	out := calls[:0]
	for _, c := range calls {
		if c.Function != "" {
			out = append(out, c)
		}
	}
	return out, nil
}
