package storage

import "testing"

func TestScopeFromURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.nseindia.com/option-chain", "www.nseindia.com_option-chain"},
		{"https://www.nseindia.com/option-chain?symbol=BANKNIFTY#top", "www.nseindia.com_option-chain"},
		{"https://www.nseindia.com/", "www.nseindia.com"},
		{"http://127.0.0.1:8000/get-quotes/derivatives/", "127.0.0.1-8000_get-quotes_derivatives"},
	}
	for _, tt := range tests {
		got, err := ScopeFromURL(tt.in)
		if err != nil {
			t.Fatalf("ScopeFromURL(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ScopeFromURL(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}

	if _, err := ScopeFromURL("option-chain"); err == nil {
		t.Fatal("ScopeFromURL() accepted a URL without host")
	}
}

func TestScopedKey(t *testing.T) {
	if got := ScopedKey("www.nseindia.com_option-chain", "history"); got != "www.nseindia.com_option-chain.history" {
		t.Fatalf("ScopedKey() = %q", got)
	}
	if got := ScopedKey("", "history"); got != "history" {
		t.Fatalf("ScopedKey() without scope = %q", got)
	}
}
