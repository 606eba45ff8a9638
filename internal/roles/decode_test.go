package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/playbookd/internal/playbook"
)

func TestParseToolContent_Object(t *testing.T) {
	in := map[string]interface{}{"final_answer": "42"}
	out, err := ParseToolContent(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseToolContent_String(t *testing.T) {
	out, err := ParseToolContent(`  {"finalAnswer":"42","bulletIds":["b-1"]}  `)
	require.NoError(t, err)
	assert.Equal(t, "42", out["finalAnswer"])
}

func TestParseToolContent_FragmentList(t *testing.T) {
	fragments := []interface{}{
		map[string]interface{}{"type": "text", "text": `{"reasoning":`},
		map[string]interface{}{"type": "text", "text": `"split across fragments"}`},
		map[string]interface{}{"type": "image", "data": "ignored"},
	}
	out, err := ParseToolContent(fragments)
	require.NoError(t, err)
	assert.Equal(t, "split across fragments", out["reasoning"])
}

func TestParseToolContent_Empty(t *testing.T) {
	out, err := ParseToolContent("")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = ParseToolContent(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestParseToolContent_MalformedJSON(t *testing.T) {
	_, err := ParseToolContent("{not json")
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestParseToolContent_NonObject(t *testing.T) {
	_, err := ParseToolContent(`["just", "a", "list"]`)
	require.ErrorIs(t, err, ErrInvalidResponseShape)

	_, err = ParseToolContent(`"just a string"`)
	require.ErrorIs(t, err, ErrInvalidResponseShape)
}

func TestDecodeProducer(t *testing.T) {
	data, err := ParseToolContent(`{"finalAnswer":"42","bulletIds":["b-1"]}`)
	require.NoError(t, err)

	out := DecodeProducer(data)
	assert.Equal(t, "42", out.FinalAnswer)
	assert.Equal(t, []string{"b-1"}, out.UsedItemIDs)
	assert.Equal(t, data, out.Raw)
}

func TestDecodeProducer_MissingFieldsDefault(t *testing.T) {
	out := DecodeProducer(map[string]interface{}{"unexpected": true})
	assert.Empty(t, out.FinalAnswer)
	assert.Empty(t, out.Reasoning)
	assert.Empty(t, out.UsedItemIDs)
	require.NotNil(t, out.Raw)
	assert.Equal(t, true, out.Raw["unexpected"])
}

func TestDecodeProducer_NumericItemIDs(t *testing.T) {
	out := DecodeProducer(map[string]interface{}{
		"bullet_ids": []interface{}{"b-1", float64(4), 4.5},
	})
	assert.Equal(t, []string{"b-1", "4", "4.5"}, out.UsedItemIDs)
}

func TestDecodeProducer_Idempotent(t *testing.T) {
	data := map[string]interface{}{
		"reasoning":    "because",
		"final_answer": "4",
		"bullet_ids":   []interface{}{"b-1", "b-2"},
	}
	first := DecodeProducer(data)
	second := DecodeProducer(first.Raw)
	assert.Equal(t, first.FinalAnswer, second.FinalAnswer)
	assert.Equal(t, first.Reasoning, second.Reasoning)
	assert.Equal(t, first.UsedItemIDs, second.UsedItemIDs)
}

func TestDecodeCritic(t *testing.T) {
	data := map[string]interface{}{
		"reasoning":            "r",
		"error_identification": "e",
		"root_cause_analysis":  "rc",
		"correct_approach":     "ca",
		"key_insight":          "ki",
		"bullet_tags": []interface{}{
			map[string]interface{}{"id": "b-1", "tag": "HELPFUL"},
			map[string]interface{}{"id": "b-2", "tag": "harmful"},
			map[string]interface{}{"tag": "orphan"}, // no id: skipped
		},
	}
	out := DecodeCritic(data)
	assert.Equal(t, "r", out.Reasoning)
	assert.Equal(t, "ki", out.KeyInsight)
	require.Len(t, out.ItemTags, 2)
	assert.Equal(t, TagHelpful, out.ItemTags[0].Tag)
	assert.Equal(t, TagHarmful, out.ItemTags[1].Tag)
}

func TestDecodeCurator_NestedDelta(t *testing.T) {
	data := map[string]interface{}{
		"delta": map[string]interface{}{
			"ops": []interface{}{
				map[string]interface{}{"kind": "ADD", "content": "new strategy"},
			},
		},
	}
	out, err := DecodeCurator(data)
	require.NoError(t, err)
	require.Len(t, out.Delta.Ops, 1)
	assert.Equal(t, playbook.OpAdd, out.Delta.Ops[0].Kind)
	assert.Equal(t, data, out.Raw)
}

func TestDecodeCurator_TopLevelDelta(t *testing.T) {
	data := map[string]interface{}{
		"ops": []interface{}{
			map[string]interface{}{"kind": "REMOVE", "target": "b-1"},
		},
	}
	out, err := DecodeCurator(data)
	require.NoError(t, err)
	require.Len(t, out.Delta.Ops, 1)
}

func TestDecodeCurator_InvalidDelta(t *testing.T) {
	_, err := DecodeCurator(map[string]interface{}{
		"ops": []interface{}{map[string]interface{}{"kind": "EXPLODE"}},
	})
	require.Error(t, err)
}
