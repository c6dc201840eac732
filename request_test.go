package resilientcall

import "testing"

func TestFingerprint_QueryOrderIndependent(t *testing.T) {
	a := Request{URL: "https://api.example.com/data?b=2&a=1"}
	b := Request{URL: "https://api.example.com/data?a=1&b=2"}

	fa, err := a.Fingerprint()
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	fb, err := b.Fingerprint()
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if fa != fb {
		t.Error("query parameter order must not change the fingerprint")
	}
}

func TestFingerprint_MethodDistinguishes(t *testing.T) {
	get := Request{URL: "https://api.example.com/data"}
	head := Request{URL: "https://api.example.com/data", Method: "HEAD"}

	fg, _ := get.Fingerprint()
	fh, _ := head.Fingerprint()
	if fg == fh {
		t.Error("different methods must produce different fingerprints")
	}
}

func TestFingerprint_PathDistinguishes(t *testing.T) {
	a := Request{URL: "https://api.example.com/a"}
	b := Request{URL: "https://api.example.com/b"}

	fa, _ := a.Fingerprint()
	fb, _ := b.Fingerprint()
	if fa == fb {
		t.Error("different paths must produce different fingerprints")
	}
}

func TestOrigin_Normalization(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://API.Example.com/v1/data", "https://api.example.com"},
		{"https://api.example.com:443/data", "https://api.example.com"},
		{"http://api.example.com:80/data", "http://api.example.com"},
		{"http://api.example.com:8080/data", "http://api.example.com:8080"},
		{"https://api.example.com:8443/x?q=1", "https://api.example.com:8443"},
	}

	for _, tc := range cases {
		got, err := Request{URL: tc.url}.origin()
		if err != nil {
			t.Errorf("%s: %v", tc.url, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: origin = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestOrigin_RejectsRelativeURL(t *testing.T) {
	if _, err := (Request{URL: "/v1/data"}).origin(); err == nil {
		t.Error("expected error for relative URL")
	}
	if _, err := (Request{URL: "nonsense"}).origin(); err == nil {
		t.Error("expected error for schemeless URL")
	}
}

func TestIdempotent(t *testing.T) {
	for _, method := range []string{"", "GET", "get", "HEAD", "OPTIONS"} {
		if !(Request{Method: method}).idempotent() {
			t.Errorf("%q should be idempotent", method)
		}
	}
	for _, method := range []string{"POST", "PUT", "PATCH", "DELETE"} {
		if (Request{Method: method}).idempotent() {
			t.Errorf("%q should not be idempotent", method)
		}
	}
}
