package decode

import (
	"reflect"
	"testing"
)

type sample struct {
	UserID string   `json:"userId"`
	Exp    int64    `json:"exp"`
	Scope  []string `json:"scope"`
}

func TestDecodeMap(t *testing.T) {
	cases := []struct {
		name string
		in   map[string]any
		want sample
	}{
		{
			name: "json numbers and array scope",
			in:   map[string]any{"userId": "u1", "exp": float64(1700000000), "scope": []any{"read", "write"}},
			want: sample{UserID: "u1", Exp: 1700000000, Scope: []string{"read", "write"}},
		},
		{
			name: "space separated scope",
			in:   map[string]any{"userId": "u2", "scope": "read  write"},
			want: sample{UserID: "u2", Scope: []string{"read", "write"}},
		},
		{
			name: "weak typed id",
			in:   map[string]any{"userId": 42},
			want: sample{UserID: "42"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeMap[sample](tc.in)
			if err != nil {
				t.Fatalf("DecodeMap: %v", err)
			}
			if !reflect.DeepEqual(*got, tc.want) {
				t.Fatalf("got %+v, want %+v", *got, tc.want)
			}
		})
	}
}

func TestDecodeMapNil(t *testing.T) {
	if _, err := DecodeMap[sample](nil); err == nil {
		t.Fatal("expected error for nil map")
	}
}
