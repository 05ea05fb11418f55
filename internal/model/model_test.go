package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloneContent_IsDeep(t *testing.T) {
	doc := ChatContent{
		"title": "Test",
		"history": map[string]interface{}{
			"messages": map[string]interface{}{
				"m1": map[string]interface{}{"content": "hello"},
			},
		},
		"messages": []interface{}{
			map[string]interface{}{"content": "world"},
		},
		"literal": []map[string]interface{}{{"content": "typed"}},
	}

	clone := CloneContent(doc)
	require.Equal(t, doc, clone)

	clone["history"].(map[string]interface{})["messages"].(map[string]interface{})["m1"].(map[string]interface{})["content"] = "changed"
	clone["messages"].([]interface{})[0].(map[string]interface{})["content"] = "changed"
	clone["literal"].([]map[string]interface{})[0]["content"] = "changed"

	require.Equal(t, "hello", doc["history"].(map[string]interface{})["messages"].(map[string]interface{})["m1"].(map[string]interface{})["content"])
	require.Equal(t, "world", doc["messages"].([]interface{})[0].(map[string]interface{})["content"])
	require.Equal(t, "typed", doc["literal"].([]map[string]interface{})[0]["content"])
}

func TestCloneContent_ChatContentShapes(t *testing.T) {
	doc := ChatContent{
		"history": ChatContent{
			"messages": map[string]ChatContent{"m1": {"content": "hello"}},
		},
		"messages": []ChatContent{{"content": "world"}},
	}

	clone := CloneContent(doc)
	require.Equal(t, doc, clone)

	clone["history"].(ChatContent)["messages"].(map[string]ChatContent)["m1"]["content"] = "changed"
	clone["messages"].([]ChatContent)[0]["content"] = "changed"

	require.Equal(t, "hello", doc["history"].(ChatContent)["messages"].(map[string]ChatContent)["m1"]["content"])
	require.Equal(t, "world", doc["messages"].([]ChatContent)[0]["content"])
}

func TestCloneContent_Nil(t *testing.T) {
	require.Nil(t, CloneContent(nil))
}

func TestTitle(t *testing.T) {
	require.Equal(t, "Hi", ChatContent{"title": "Hi"}.Title())
	require.Equal(t, "", ChatContent{"title": 3}.Title())
	require.Equal(t, "", ChatContent{}.Title())
}
