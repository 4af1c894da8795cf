package mention

import (
	"reflect"
	"testing"
)

func TestExtractHandles(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Match
	}{
		{
			name: "handle followed by space",
			text: "hello @alice how are you",
			want: []Match{{User: "alice", Offset: 6}},
		},
		{
			name: "handle at start",
			text: "@alice hi",
			want: []Match{{User: "alice", Offset: 0}},
		},
		{
			name: "handle at end of text",
			text: "ping @alice",
			want: []Match{{User: "alice", Offset: 5}},
		},
		{
			name: "longer handle is its own reference, not alice",
			text: "hey @alice2",
			want: []Match{{User: "alice2", Offset: 4}},
		},
		{
			name: "multiple distinct handles",
			text: "@alice meet @bob",
			want: []Match{{User: "alice", Offset: 0}, {User: "bob", Offset: 12}},
		},
		{
			name: "repeated handle deduplicates to first occurrence",
			text: "@bob and again @bob",
			want: []Match{{User: "bob", Offset: 0}},
		},
		{
			name: "underscore and digits are word characters",
			text: "cc @dev_01",
			want: []Match{{User: "dev_01", Offset: 3}},
		},
		{
			name: "bare at sign yields nothing",
			text: "meet @ noon",
			want: nil,
		},
		{
			name: "empty text yields nothing",
			text: "",
			want: nil,
		},
		{
			name: "offsets are counted in code points",
			text: "こんにちは @alice",
			want: []Match{{User: "alice", Offset: 6}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.text, DefaultAliases)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Extract(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractAliases(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Match
	}{
		{
			name: "alias with at sign",
			text: "@山田 元気？",
			want: []Match{{User: "山田", Offset: 1}},
		},
		{
			name: "alias with honorific suffix",
			text: "山田さんこんにちは",
			want: []Match{{User: "山田", Offset: 0}},
		},
		{
			name: "bare alias without honorific is not a mention",
			text: "山田は元気",
			want: nil,
		},
		{
			name: "katakana alias",
			text: "ヤマダさんへ",
			want: []Match{{User: "ヤマダ", Offset: 0}},
		},
		{
			name: "alias offset points at first occurrence",
			text: "今日は山田さんと@山田",
			want: []Match{{User: "山田", Offset: 3}},
		},
		{
			name: "handle and alias in one text",
			text: "@alice と山田さん",
			want: []Match{{User: "alice", Offset: 0}, {User: "山田", Offset: 8}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.text, DefaultAliases)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Extract(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractDeterministic(t *testing.T) {
	// Extraction runs again during backfill; two runs over the same input
	// must agree exactly.
	text := "@bob 山田さん @alice @bob やまだ @alice2"
	first := Extract(text, DefaultAliases)
	for i := 0; i < 10; i++ {
		if got := Extract(text, DefaultAliases); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %v vs %v", i, got, first)
		}
	}
}

func TestReplaceHandle(t *testing.T) {
	tests := []struct {
		name string
		text string
		old  string
		new  string
		want string
	}{
		{
			name: "mention followed by space",
			text: "hello @alice how are you",
			old:  "alice", new: "bob",
			want: "hello @bob how are you",
		},
		{
			name: "mention at end of text",
			text: "hello @alice",
			old:  "alice", new: "bob",
			want: "hello @bob",
		},
		{
			name: "prefix of longer handle is untouched",
			text: "@alice2 hi",
			old:  "alice", new: "bob",
			want: "@alice2 hi",
		},
		{
			name: "punctuation terminates the handle",
			text: "thanks @alice!",
			old:  "alice", new: "bob",
			want: "thanks @bob!",
		},
		{
			name: "every boundary-terminated occurrence is rewritten",
			text: "@alice and @alice again",
			old:  "alice", new: "bob",
			want: "@bob and @bob again",
		},
		{
			name: "mixed: boundary hit and prefix miss in one body",
			text: "@alice sees @alice2 and @alice",
			old:  "alice", new: "bob",
			want: "@bob sees @alice2 and @bob",
		},
		{
			name: "leading edge is not inspected",
			text: "mail@alice bounced",
			old:  "alice", new: "bob",
			want: "mail@bob bounced",
		},
		{
			name: "multibyte rune after the name is a boundary",
			text: "@alice さん",
			old:  "alice", new: "bob",
			want: "@bob さん",
		},
		{
			name: "no occurrence leaves text untouched",
			text: "nothing here",
			old:  "alice", new: "bob",
			want: "nothing here",
		},
		{
			name: "rename to longer name",
			text: "cc @al",
			old:  "al", new: "alexander",
			want: "cc @alexander",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReplaceHandle(tt.text, tt.old, tt.new); got != tt.want {
				t.Errorf("ReplaceHandle(%q, %q, %q) = %q, want %q", tt.text, tt.old, tt.new, got, tt.want)
			}
		})
	}
}

func TestExtractHashtags(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "single tag",
			text: "loving #golang today",
			want: []string{"#golang"},
		},
		{
			name: "tags are case-folded and deduplicated",
			text: "#Go #go #GO",
			want: []string{"#go"},
		},
		{
			name: "hash alone is not a tag",
			text: "issue # 42",
			want: nil,
		},
		{
			name: "multiple tags keep first-seen order",
			text: "#beta ships before #alpha",
			want: []string{"#beta", "#alpha"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractHashtags(tt.text); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractHashtags(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
