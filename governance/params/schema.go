package params

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FieldType 字段类型
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
	TypeEnum    FieldType = "enum"
)

// Field 参数字段声明
type Field struct {
	Name        string    `yaml:"name" json:"name"`
	Type        FieldType `yaml:"type" json:"type"`
	Required    bool      `yaml:"required" json:"required"`
	Default     any       `yaml:"default" json:"default,omitempty"`
	Min         *float64  `yaml:"min" json:"min,omitempty"`
	Max         *float64  `yaml:"max" json:"max,omitempty"`
	Enum        []string  `yaml:"enum" json:"enum,omitempty"`
	Description string    `yaml:"description" json:"description,omitempty"`
}

// Schema 一个下游操作的参数声明
type Schema struct {
	Name   string  `yaml:"name" json:"name"`
	Fields []Field `yaml:"fields" json:"fields"`
}

// Field 按名称查找字段
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Defaults 声明了默认值的字段
func (s Schema) Defaults() Values {
	out := make(Values)
	for _, f := range s.Fields {
		if f.Default != nil {
			out[f.Name] = f.Default
		}
	}
	return out
}

// Registry 操作名 → Schema
type Registry map[string]Schema

// Lookup 查找 Schema，未声明的操作返回空 Schema
func (r Registry) Lookup(operation string) (Schema, bool) {
	s, ok := r[operation]
	if !ok {
		return Schema{Name: operation}, false
	}
	return s, true
}

// LoadRegistry 从 YAML 读取 Schema 列表
//
//	schemas:
//	  - name: assistant_report
//	    fields:
//	      - {name: status, type: enum, enum: [pending, shipped]}
func LoadRegistry(r io.Reader) (Registry, error) {
	var doc struct {
		Schemas []Schema `yaml:"schemas"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode schemas: %w", err)
	}
	reg := make(Registry, len(doc.Schemas))
	for _, s := range doc.Schemas {
		if s.Name == "" {
			return nil, fmt.Errorf("schema without name")
		}
		for _, f := range s.Fields {
			if err := f.check(); err != nil {
				return nil, fmt.Errorf("schema %s: %w", s.Name, err)
			}
		}
		reg[s.Name] = s
	}
	return reg, nil
}

// check 校验字段声明本身
func (f Field) check() error {
	switch f.Type {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeDate:
	case TypeEnum:
		if len(f.Enum) == 0 {
			return fmt.Errorf("field %s: enum without values", f.Name)
		}
	default:
		return fmt.Errorf("field %s: unknown type %q", f.Name, f.Type)
	}
	if f.Name == "" {
		return fmt.Errorf("field without name")
	}
	return nil
}

// coerce 把值转换为字段类型。返回的错误信息面向用户。
func (f Field) coerce(v any, loc *time.Location) (any, error) {
	switch f.Type {
	case TypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		case fmt.Stringer:
			return x.String(), nil
		case int, int32, int64, float64, bool:
			return fmt.Sprint(x), nil
		}
		return nil, fmt.Errorf("must be a string")

	case TypeInteger:
		i, ok := toInt(v)
		if !ok {
			return nil, fmt.Errorf("must be an integer")
		}
		if err := f.checkRange(float64(i)); err != nil {
			return nil, err
		}
		return i, nil

	case TypeNumber:
		n, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("must be a number")
		}
		if err := f.checkRange(n); err != nil {
			return nil, err
		}
		return n, nil

	case TypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err == nil {
				return b, nil
			}
		}
		return nil, fmt.Errorf("must be true or false")

	case TypeDate:
		switch x := v.(type) {
		case time.Time:
			return x.In(loc), nil
		case string:
			s := strings.TrimSpace(x)
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t.In(loc), nil
			}
			if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("must be a date (YYYY-MM-DD or RFC 3339)")

	case TypeEnum:
		s, ok := v.(string)
		if ok {
			for _, allowed := range f.Enum {
				if s == allowed {
					return s, nil
				}
			}
		}
		return nil, fmt.Errorf("must be one of: %s", strings.Join(f.Enum, ", "))
	}
	return nil, fmt.Errorf("unsupported field type %q", f.Type)
}

func (f Field) checkRange(n float64) error {
	if f.Min != nil && n < *f.Min {
		return fmt.Errorf("must be at least %s", strconv.FormatFloat(*f.Min, 'f', -1, 64))
	}
	if f.Max != nil && n > *f.Max {
		return fmt.Errorf("must be at most %s", strconv.FormatFloat(*f.Max, 'f', -1, 64))
	}
	return nil
}

// toInt 整数优先按整数解析，避免经 float64 丢失 2^53 以上的精度
func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return i, true
		}
	}

	n, ok := toFloat(v)
	// float64(math.MaxInt64) 等于 2^63，本身已越界
	if !ok || n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
		return 0, false
	}
	return int64(n), true
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, !math.IsNaN(x) && !math.IsInf(x, 0)
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}
