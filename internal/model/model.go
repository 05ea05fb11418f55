package model

// ChatContent is the JSON document stored in the chat column. Its
// content-bearing branches are history.messages (message id to message) and
// messages (ordered list); everything else is opaque.
type ChatContent map[string]interface{}

// Title returns the document's title field, or "" when absent or not a string.
func (c ChatContent) Title() string {
	title, _ := c["title"].(string)
	return title
}

// Chat is a row of the chat table.
type Chat struct {
	ID        string      `json:"id"        gorm:"primaryKey"`
	UserID    string      `json:"userId"    gorm:"not null;index"`
	Title     string      `json:"title"     gorm:"not null;default:''"`
	Chat      ChatContent `json:"chat"      gorm:"type:json;serializer:json"`
	Archived  bool        `json:"archived"  gorm:"not null;default:false"`
	CreatedAt int64       `json:"createdAt" gorm:"not null;autoCreateTime:false"`
	UpdatedAt int64       `json:"updatedAt" gorm:"not null;autoUpdateTime:false"`
}

func (Chat) TableName() string { return "chat" }

// CloneContent deep-copies a JSON-shaped document. Maps and slices are copied
// recursively; scalars are shared. Callers that must keep a plaintext copy
// clone before handing a document to the in-place codec.
func CloneContent(doc ChatContent) ChatContent {
	if doc == nil {
		return nil
	}
	return ChatContent(cloneMap(doc))
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case ChatContent:
		return ChatContent(cloneMap(t))
	case map[string]map[string]interface{}:
		out := make(map[string]map[string]interface{}, len(t))
		for k, m := range t {
			out[k] = cloneMap(m)
		}
		return out
	case map[string]ChatContent:
		out := make(map[string]ChatContent, len(t))
		for k, m := range t {
			out[k] = ChatContent(cloneMap(m))
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]interface{}:
		out := make([]map[string]interface{}, len(t))
		for i, m := range t {
			out[i] = cloneMap(m)
		}
		return out
	case []ChatContent:
		out := make([]ChatContent, len(t))
		for i, m := range t {
			out[i] = ChatContent(cloneMap(m))
		}
		return out
	default:
		return v
	}
}
