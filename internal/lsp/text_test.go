package lsp

import "testing"

func TestApplyChanges(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		changes []textDocumentContentChangeEvent
		want    string
	}{
		{
			name:    "full replace",
			text:    "BeginProg\nEndProg\n",
			changes: []textDocumentContentChangeEvent{{Text: "x"}},
			want:    "x",
		},
		{
			name: "insert at line start",
			text: "Public T\nBeginProg\n",
			changes: []textDocumentContentChangeEvent{{
				Range: &lspRange{Start: position{Line: 1}, End: position{Line: 1}},
				Text:  "'comment\n",
			}},
			want: "Public T\n'comment\nBeginProg\n",
		},
		{
			name: "replace across surrogate pair",
			text: "a😀b\n",
			changes: []textDocumentContentChangeEvent{{
				Range: &lspRange{Start: position{Character: 1}, End: position{Character: 3}},
				Text:  "-",
			}},
			want: "a-b\n",
		},
		{
			name: "clamps past end",
			text: "ab",
			changes: []textDocumentContentChangeEvent{{
				Range: &lspRange{Start: position{Line: 0, Character: 99}, End: position{Line: 7, Character: 1}},
				Text:  "c",
			}},
			want: "abc",
		},
		{
			name: "sequential edits",
			text: "abc",
			changes: []textDocumentContentChangeEvent{
				{Range: &lspRange{Start: position{Character: 0}, End: position{Character: 1}}, Text: "X"},
				{Range: &lspRange{Start: position{Character: 3}, End: position{Character: 3}}, Text: "!"},
			},
			want: "Xbc!",
		},
	}
	for _, tc := range cases {
		if got := applyChanges(tc.text, tc.changes); got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}
