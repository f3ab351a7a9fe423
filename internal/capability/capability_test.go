package capability

import (
	"reflect"
	"testing"

	"github.com/n0madic/go-claudebridge/internal/config"
)

func allOff() config.Options {
	o := config.DefaultOptions()
	o.EnablePromptCaching = false
	o.EnableWebSearch = false
	o.EnableCodeExecution = false
	o.EnableExtendedThinking = false
	return o
}

func TestNegotiate(t *testing.T) {
	prefsAll := config.Preferences{EnableWebSearch: true, EnableCodeExecution: true}

	tests := []struct {
		name  string
		opts  func() config.Options
		prefs config.Preferences
		want  []string
	}{
		{
			name:  "nothing enabled",
			opts:  allOff,
			prefs: prefsAll,
			want:  nil,
		},
		{
			name: "caching short ttl",
			opts: func() config.Options {
				o := allOff()
				o.EnablePromptCaching = true
				return o
			},
			want: []string{PromptCaching},
		},
		{
			name: "caching long ttl",
			opts: func() config.Options {
				o := allOff()
				o.EnablePromptCaching = true
				o.CacheTTL = config.CacheTTL1Hour
				return o
			},
			want: []string{PromptCaching, ExtendedCacheTTL},
		},
		{
			name: "search needs session allow",
			opts: func() config.Options {
				o := allOff()
				o.EnableWebSearch = true
				return o
			},
			prefs: config.Preferences{EnableWebSearch: false},
			want:  nil,
		},
		{
			name: "reasoning alone adds nothing",
			opts: func() config.Options {
				o := allOff()
				o.EnableExtendedThinking = true
				return o
			},
			prefs: prefsAll,
			want:  nil,
		},
		{
			name: "search with reasoning adds interleaved",
			opts: func() config.Options {
				o := allOff()
				o.EnableWebSearch = true
				o.EnableExtendedThinking = true
				return o
			},
			prefs: prefsAll,
			want:  []string{WebSearch, InterleavedThinking},
		},
		{
			name: "full set in order",
			opts: func() config.Options {
				o := config.DefaultOptions()
				o.CacheTTL = config.CacheTTL1Hour
				o.EnableCodeExecution = true
				return o
			},
			prefs: prefsAll,
			want: []string{
				PromptCaching, ExtendedCacheTTL, WebSearch,
				CodeExecution, Skills, FilesAPI, InterleavedThinking,
			},
		},
		{
			name: "execution without bundles or raw execution",
			opts: func() config.Options {
				o := allOff()
				o.EnableCodeExecution = true
				o.AllowRawCodeExecution = false
				o.EnableSkillXLSX, o.EnableSkillPPTX, o.EnableSkillDOCX, o.EnableSkillPDF = false, false, false, false
				return o
			},
			prefs: prefsAll,
			want:  nil,
		},
		{
			name: "execution with custom bundle only",
			opts: func() config.Options {
				o := allOff()
				o.EnableCodeExecution = true
				o.AllowRawCodeExecution = false
				o.EnableSkillXLSX, o.EnableSkillPPTX, o.EnableSkillDOCX, o.EnableSkillPDF = false, false, false, false
				o.CustomSkillIDs = []string{"skill_x"}
				return o
			},
			prefs: prefsAll,
			want:  []string{CodeExecution, Skills, FilesAPI},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts()
			got := Negotiate(&opts, tt.prefs)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNegotiateNilOptions(t *testing.T) {
	if got := Negotiate(nil, config.DefaultPreferences()); len(got) != 0 {
		t.Fatalf("got %v, want empty", got)
	}
}

func TestNegotiateDeterministic(t *testing.T) {
	o := config.DefaultOptions()
	o.EnableCodeExecution = true
	prefs := config.Preferences{EnableWebSearch: true, EnableCodeExecution: true}
	first := Header(Negotiate(&o, prefs))
	for i := 0; i < 10; i++ {
		if got := Header(Negotiate(&o, prefs)); got != first {
			t.Fatalf("run %d: got %q, want %q", i, got, first)
		}
	}
}

func TestHeader(t *testing.T) {
	if got := Header(nil); got != "" {
		t.Errorf("Header(nil): got %q", got)
	}
	if got := Header([]string{PromptCaching, WebSearch}); got != PromptCaching+","+WebSearch {
		t.Errorf("Header: got %q", got)
	}
}
