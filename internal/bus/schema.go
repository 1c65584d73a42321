package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"aegis/internal/types"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// 各类消息体的 JSON Schema。
const (
	SchemaMarketSignal = `{
  "type": "object",
  "required": ["symbol", "source", "score", "confidence", "timestamp"],
  "properties": {
    "symbol": {"type": "string", "minLength": 1},
    "source": {"type": "string", "minLength": 1},
    "score": {"type": "number", "minimum": -1, "maximum": 1},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "timestamp": {"type": "string"},
    "ttl_ms": {"type": "integer", "minimum": 0},
    "price": {"type": "number", "minimum": 0}
  }
}`
	SchemaTradeIntent = `{
  "type": "object",
  "required": ["intent_id", "symbol", "side", "quantity_fraction", "config_version", "generated_at"],
  "properties": {
    "intent_id": {"type": "string", "minLength": 1},
    "symbol": {"type": "string", "minLength": 1},
    "side": {"enum": ["BUY", "SELL"]},
    "quantity_fraction": {"type": "number", "minimum": 0, "maximum": 1},
    "config_version": {"type": "integer", "minimum": 1},
    "reference_price": {"type": "number", "minimum": 0},
    "generated_at": {"type": "string"}
  }
}`
	SchemaApprovedTrade = `{
  "type": "object",
  "required": ["intent_id", "symbol", "side", "quantity", "entry_price", "stop_loss_price", "take_profit_price", "risk_amount"],
  "properties": {
    "intent_id": {"type": "string", "minLength": 1},
    "side": {"enum": ["BUY", "SELL"]},
    "quantity": {"type": "number", "exclusiveMinimum": 0},
    "entry_price": {"type": "number", "exclusiveMinimum": 0},
    "risk_amount": {"type": "number", "minimum": 0}
  }
}`
	SchemaRiskAlert = `{
  "type": "object",
  "required": ["intent_id", "reason"],
  "properties": {
    "intent_id": {"type": "string", "minLength": 1},
    "reason": {"enum": ["PriceUnavailable", "RiskBudgetExceeded", "ConcurrencyConflict", "DailyLossLimit"]}
  }
}`
	SchemaTradeReport = `{
  "type": "object",
  "required": ["trade_id", "symbol", "side", "entry_price", "quantity", "opened_at"],
  "properties": {
    "trade_id": {"type": "string", "minLength": 1},
    "intent_id": {"type": "string"},
    "side": {"enum": ["BUY", "SELL"]},
    "entry_price": {"type": "number", "exclusiveMinimum": 0},
    "quantity": {"type": "number", "exclusiveMinimum": 0},
    "exit_price": {"type": ["number", "null"]},
    "realized_pnl": {"type": ["number", "null"]},
    "risk_amount": {"type": "number", "minimum": 0}
  }
}`
	SchemaOptimizationAlert = `{
  "type": "object",
  "required": ["version", "changes", "rationale"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "changes": {"type": "array"},
    "rationale": {"type": "string"}
  }
}`
)

// SchemaRegistry 按主题保存已编译的 schema。
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]*jsonschema.Schema)}
}

// Register 编译并绑定 topic 的 schema。
func (r *SchemaRegistry) Register(topic, schema string) error {
	compiler := jsonschema.NewCompiler()
	url := topic + ".json"
	if err := compiler.AddResource(url, strings.NewReader(schema)); err != nil {
		return fmt.Errorf("schema %s: %w", topic, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("schema %s: %w", topic, err)
	}
	r.mu.Lock()
	r.schemas[topic] = compiled
	r.mu.Unlock()
	return nil
}

// Validate 校验消息体；未注册 schema 的主题只检查 JSON 合法性。
func (r *SchemaRegistry) Validate(topic string, payload []byte) error {
	if !gjson.ValidBytes(payload) {
		return fmt.Errorf("%w: %s payload is not valid json", types.ErrMalformedMessage, topic)
	}
	if !gjson.ParseBytes(payload).IsObject() {
		return fmt.Errorf("%w: %s payload must be an object", types.ErrMalformedMessage, topic)
	}
	r.mu.RLock()
	schema := r.schemas[topic]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrMalformedMessage, topic, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrMalformedMessage, topic, err)
	}
	return nil
}

// Middleware 在处理前校验消息体，失败的消息被直接丢弃。
func (r *SchemaRegistry) Middleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) error {
			if err := r.Validate(msg.Topic, msg.Payload); err != nil {
				return Permanent(err)
			}
			return next(ctx, msg)
		}
	}
}

// PeekKey 不完整解码即读取消息体中的分区键字段。
func PeekKey(payload []byte, field string) string {
	return gjson.GetBytes(payload, field).String()
}
