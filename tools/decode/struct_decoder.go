package decode

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Options 用于定制 Decode 行为。
type Options struct {
	// 宽松解码（默认 true）："123" -> int、1.0 -> int64 等
	WeaklyTypedInput bool
	// 读取哪个 tag（默认 json）
	TagName string
}

func DefaultOptions() Options {
	return Options{WeaklyTypedInput: true, TagName: "json"}
}

// DecodeMap decodes a loosely typed map (JWT claims, JSON objects) into T.
func DecodeMap[T any](m map[string]any, opts ...Options) (*T, error) {
	if m == nil {
		return nil, fmt.Errorf("map is nil")
	}
	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
		if cfg.TagName == "" {
			cfg.TagName = "json"
		}
	}

	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          cfg.TagName,
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			floatToIntHook(),
			scalarToStringSliceHook(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("decode map: %w", err)
	}
	return &out, nil
}

// float64 -> int/int32/int64，JSON 数字默认是 float64
func floatToIntHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		switch to {
		case reflect.Int:
			return int(data.(float64)), nil
		case reflect.Int32:
			return int32(data.(float64)), nil
		case reflect.Int64:
			return int64(data.(float64)), nil
		}
		return data, nil
	}
}

// scope 既可能是 "a b" 也可能是 ["a","b"]；目标为 []string 时统一成切片
func scalarToStringSliceHook() mapstructure.DecodeHookFunc {
	strSlice := reflect.TypeOf([]string(nil))
	return func(from, to reflect.Type, data any) (any, error) {
		if to != strSlice {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if v == "" {
				return []string{}, nil
			}
			return splitFields(v), nil
		case []any:
			out := make([]string, 0, len(v))
			for _, it := range v {
				switch s := it.(type) {
				case string:
					out = append(out, s)
				default:
					b, _ := json.Marshal(s)
					out = append(out, string(b))
				}
			}
			return out, nil
		}
		return data, nil
	}
}

func splitFields(s string) []string {
	out := make([]string, 0, 4)
	start := -1
	for i, r := range s {
		if r == ' ' || r == ',' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}
