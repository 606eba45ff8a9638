package roles

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/playbookd/internal/playbook"
)

// Decode errors. Both surface to the caller; decode failures are never
// silently retried.
var (
	// ErrMalformedResponse means the agent's content was not valid JSON.
	ErrMalformedResponse = errors.New("agent returned non-JSON payload")

	// ErrInvalidResponseShape means the content parsed but was not an object.
	ErrInvalidResponseShape = errors.New("agent result must be a JSON object")
)

// ParseToolContent normalizes the three content shapes a remote agent can
// emit into one decoded JSON object:
//
//   - an already-structured object is returned as-is
//   - a string is parsed as JSON
//   - a list of fragments has its "text" parts concatenated, then parsed
//
// Empty content decodes to an empty object rather than an error; field
// defaults are the decoder's concern.
func ParseToolContent(content interface{}) (map[string]interface{}, error) {
	if m, ok := content.(map[string]interface{}); ok {
		return m, nil
	}

	var text string
	switch v := content.(type) {
	case string:
		text = strings.TrimSpace(v)
	case []interface{}:
		var parts []string
		for _, item := range v {
			if frag, ok := item.(map[string]interface{}); ok {
				if t, ok := frag["text"].(string); ok {
					parts = append(parts, t)
				}
			}
		}
		text = strings.TrimSpace(strings.Join(parts, ""))
	}

	if text == "" {
		return map[string]interface{}{}, nil
	}

	var data interface{}
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedResponse, truncate(text, 200))
	}
	obj, ok := data.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w, got %T", ErrInvalidResponseShape, data)
	}
	return obj, nil
}

// DecodeProducer maps a decoded object onto a ProducerOutput. Missing fields
// default to empty values; Raw always preserves the full object.
func DecodeProducer(data map[string]interface{}) ProducerOutput {
	out := ProducerOutput{
		Reasoning:   textField(data, "reasoning"),
		FinalAnswer: textField(data, "final_answer", "finalAnswer"),
		Raw:         data,
	}
	for _, key := range []string{"used_item_ids", "usedItemIds", "bullet_ids", "bulletIds"} {
		list, ok := data[key].([]interface{})
		if !ok {
			continue
		}
		for _, item := range list {
			switch v := item.(type) {
			case string:
				out.UsedItemIDs = append(out.UsedItemIDs, v)
			case float64:
				out.UsedItemIDs = append(out.UsedItemIDs, strconv.FormatFloat(v, 'f', -1, 64))
			}
		}
		break
	}
	return out
}

// DecodeCritic maps a decoded object onto a CriticOutput.
func DecodeCritic(data map[string]interface{}) CriticOutput {
	out := CriticOutput{
		Reasoning:           textField(data, "reasoning"),
		ErrorIdentification: textField(data, "error_identification", "errorIdentification"),
		RootCauseAnalysis:   textField(data, "root_cause_analysis", "rootCauseAnalysis"),
		CorrectApproach:     textField(data, "correct_approach", "correctApproach"),
		KeyInsight:          textField(data, "key_insight", "keyInsight"),
		Raw:                 data,
	}
	for _, key := range []string{"item_tags", "itemTags", "bullet_tags", "bulletTags"} {
		list, ok := data[key].([]interface{})
		if !ok {
			continue
		}
		for _, item := range list {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			id, hasID := m["id"].(string)
			tag, hasTag := m["tag"].(string)
			if !hasID || !hasTag {
				continue
			}
			out.ItemTags = append(out.ItemTags, ItemTag{
				ID:  id,
				Tag: TagKind(strings.ToLower(tag)),
			})
		}
		break
	}
	return out
}

// DecodeCurator maps a decoded object onto a CuratorOutput. The delta may
// live under a "delta" key or be the object itself. Unlike the other two
// decoders this one can fail: a curator response without a usable delta
// batch is a decode error, not an empty default.
func DecodeCurator(data map[string]interface{}) (CuratorOutput, error) {
	target := data
	if nested, ok := data["delta"].(map[string]interface{}); ok {
		target = nested
	}
	batch, err := playbook.DecodeDeltaBatch(target)
	if err != nil {
		return CuratorOutput{}, fmt.Errorf("decode curator delta: %w", err)
	}
	return CuratorOutput{Delta: batch, Raw: data}, nil
}

// textField returns the first present key coerced to string.
func textField(data map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		v, ok := data[key]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			return s
		default:
			return fmt.Sprintf("%v", s)
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
