package widget

import "testing"

func TestDetectPreview(t *testing.T) {
	rules := PreviewRules{QueryParam: "optinbot_preview", Referrers: []string{"app.optinbot.io"}}

	tests := []struct {
		name string
		cfg  Config
		page PageContext
		want bool
	}{
		{name: "explicit flag", cfg: Config{IsPreview: true}, page: PageContext{URL: "https://shop.example.com"}, want: true},
		{name: "plain page", page: PageContext{URL: "https://shop.example.com/products"}, want: false},
		{name: "query marker", page: PageContext{URL: "https://shop.example.com/?optinbot_preview=1"}, want: true},
		{name: "bare query marker", page: PageContext{URL: "https://shop.example.com/?optinbot_preview"}, want: true},
		{name: "disabled query marker", page: PageContext{URL: "https://shop.example.com/?optinbot_preview=false"}, want: false},
		{name: "localhost", page: PageContext{URL: "http://localhost:3000/"}, want: true},
		{name: "loopback ip", page: PageContext{URL: "http://127.0.0.1:8080/demo"}, want: true},
		{name: "builder referrer", page: PageContext{URL: "https://shop.example.com", Referrer: "https://app.optinbot.io/builder"}, want: true},
		{name: "builder subdomain referrer", page: PageContext{URL: "https://shop.example.com", Referrer: "https://eu.app.optinbot.io/"}, want: true},
		{name: "lookalike referrer", page: PageContext{URL: "https://shop.example.com", Referrer: "https://notapp.optinbot.io.evil.com/"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectPreview(tt.cfg, tt.page, rules); got != tt.want {
				t.Fatalf("DetectPreview() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGatingStateValid(t *testing.T) {
	for _, s := range []GatingState{GatingActive, GatingInactive, GatingPreview} {
		if !s.Valid() {
			t.Fatalf("expected %q to be valid", s)
		}
	}
	if GatingState("trial").Valid() {
		t.Fatal("raw remote status must not be a gating state")
	}
}
