package schema

import "testing"

func TestResolveSessionID(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want SessionID
		ok   bool
	}{
		{name: "plain", url: "https://meet.example.com/abc-defg-hij", want: "abc-defg-hij", ok: true},
		{name: "uppercase host and path", url: "https://MEET.EXAMPLE.COM/ABC-123", want: "abc-123", ok: true},
		{name: "trailing slash", url: "https://meet.example.com/abc123/", want: "abc123", ok: true},
		{name: "query ignored", url: "https://meet.example.com/abc123?hs=187", want: "abc123", ok: true},
		{name: "wrong host", url: "https://example.com/abc123", ok: false},
		{name: "nested path", url: "https://meet.example.com/abc/def", ok: false},
		{name: "empty path", url: "https://meet.example.com/", ok: false},
		{name: "illegal characters", url: "https://meet.example.com/abc_123", ok: false},
		{name: "not a url", url: "://", ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ResolveSessionID(tc.url, "meet.example.com")
			if ok != tc.ok {
				t.Fatalf("ResolveSessionID(%q) ok = %v, want %v", tc.url, ok, tc.ok)
			}
			if got != tc.want {
				t.Fatalf("ResolveSessionID(%q) = %q, want %q", tc.url, got, tc.want)
			}
		})
	}
}

func TestResolveSessionIDDefaultHost(t *testing.T) {
	if _, ok := ResolveSessionID("https://"+DefaultMeetHost+"/room-1", ""); !ok {
		t.Fatal("default host should resolve")
	}
}

func TestValidateSessionID(t *testing.T) {
	if err := ValidateSessionID("abc-123"); err != nil {
		t.Fatalf("valid id rejected: %v", err)
	}
	for _, id := range []SessionID{"", "ABC", "a b", "a/b"} {
		if err := ValidateSessionID(id); err == nil {
			t.Fatalf("invalid id %q accepted", id)
		}
	}
}
