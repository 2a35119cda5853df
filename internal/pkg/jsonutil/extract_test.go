package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSONArray(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{
			name: "bare array",
			in:   `[{"a": 1}]`,
			want: `[{"a": 1}]`,
			ok:   true,
		},
		{
			name: "fenced with language tag",
			in:   "前面是解释文字\n```json\n[{\"a\": 1}]\n```\n后面还有话",
			want: `[{"a": 1}]`,
			ok:   true,
		},
		{
			name: "fence without language tag",
			in:   "```\n[1, 2, 3]\n```",
			want: `[1, 2, 3]`,
			ok:   true,
		},
		{
			name: "prose before array",
			in:   `Here are the decisions: [{"npc_id": "a"}] hope that helps`,
			want: `[{"npc_id": "a"}]`,
			ok:   true,
		},
		{
			name: "nested arrays balanced",
			in:   `[[1, [2]], [3]] trailing`,
			want: `[[1, [2]], [3]]`,
			ok:   true,
		},
		{
			name: "brackets inside strings ignored",
			in:   `[{"note": "a ] tricky [ string"}]`,
			want: `[{"note": "a ] tricky [ string"}]`,
			ok:   true,
		},
		{
			name: "escaped quote inside string",
			in:   `[{"note": "he said \"]\" loudly"}]`,
			want: `[{"note": "he said \"]\" loudly"}]`,
			ok:   true,
		},
		{
			name: "unterminated array",
			in:   `[{"a": 1}`,
			ok:   false,
		},
		{
			name: "no array at all",
			in:   "I decline to answer.",
			ok:   false,
		},
		{
			name: "empty input",
			in:   "   ",
			ok:   false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractJSONArray(tc.in)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}
