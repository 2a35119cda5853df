package decision

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// 单条决策对象的 JSON Schema。整组数组不会因个别坏条目失败：
// 逐条校验，坏条目由解析层替换为 hold。

const decisionItemSchema = `{
	"type": "object",
	"required": ["npc_id", "action"],
	"properties": {
		"npc_id": {"type": "string", "minLength": 1},
		"action": {"type": "string", "minLength": 1},
		"ticker": {"type": "string"},
		"market_id": {"type": "string"},
		"amount": {"type": ["number", "string"]},
		"leverage": {"type": ["integer", "number", "string"]},
		"position_id": {"type": "string"},
		"confidence": {"type": ["integer", "number"]},
		"reasoning": {"type": "string"}
	}
}`

var (
	schemaOnce sync.Once
	itemSchema *jsonschema.Schema
)

func compiledItemSchema() *jsonschema.Schema {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("decision_item.json", strings.NewReader(decisionItemSchema)); err != nil {
			panic(err)
		}
		itemSchema = c.MustCompile("decision_item.json")
	})
	return itemSchema
}

// PrecheckArray 对提取出的 JSON 文本做廉价结构检查：必须是非空对象数组。
func PrecheckArray(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("empty json")
	}
	if !gjson.Valid(raw) {
		return fmt.Errorf("invalid json")
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsArray() {
		return fmt.Errorf("root must be a json array")
	}
	count := 0
	objects := true
	parsed.ForEach(func(_, value gjson.Result) bool {
		count++
		if !value.IsObject() {
			objects = false
			return false
		}
		return true
	})
	if count == 0 {
		return fmt.Errorf("decision array is empty")
	}
	if !objects {
		return fmt.Errorf("decision array contains non-object items")
	}
	return nil
}

// validateItem runs the JSON Schema against one decoded array element.
func validateItem(item any) error {
	return compiledItemSchema().Validate(item)
}
