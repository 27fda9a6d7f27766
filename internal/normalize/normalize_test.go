package normalize

import "testing"

func TestHost(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"Example.COM.", "example.com", false},
		{"https://sub.example.com:8443/path", "sub.example.com", false},
		{"user@host.example.com", "host.example.com", false},
		{"not_a_valid_host!!", "", true},
		{"-bad.example.com", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := Host(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("Host(%q): expected error, got %q", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Host(%q): unexpected error %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("Host(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestIP(t *testing.T) {
	if _, err := IP("127.0.0.1", IPOptions{}); err == nil {
		t.Error("expected loopback ip to be rejected by default")
	}
	if _, err := IP("127.0.0.1", IPOptions{AllowPrivate: true}); err != nil {
		t.Errorf("expected loopback ip allowed when AllowPrivate set: %v", err)
	}
	got, err := IP("2001:0db8:0000:0000:0000:0000:0000:0001", IPOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "2001:db8::1" {
		t.Errorf("expected zero-compressed form, got %q", got)
	}
	if _, err := IP("not-an-ip", IPOptions{}); err == nil {
		t.Error("expected error for invalid ip")
	}
}

func TestURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"HTTPS://Example.COM:443/a/../b/", "https://example.com/b"},
		{"http://example.com:8080/path", "http://example.com:8080/path"},
		{"https://example.com/", "https://example.com/"},
		{"https://example.com?x=1#frag", "https://example.com?x=1#frag"},
	}
	for _, c := range cases {
		got, err := URL(c.in)
		if err != nil {
			t.Errorf("URL(%q): unexpected error %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("URL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
	if _, err := URL("not a url"); err == nil {
		t.Error("expected error for invalid url")
	}
}

func TestService(t *testing.T) {
	host, port, proto, err := Service("Example.com.", "443", "TCP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != "example.com" || port != 443 || proto != "tcp" {
		t.Errorf("got (%q, %d, %q)", host, port, proto)
	}
	if _, _, _, err := Service("example.com", "99999", "tcp"); err == nil {
		t.Error("expected error for out-of-range port")
	}
	if _, _, _, err := Service("example.com", "80", "sctp"); err == nil {
		t.Error("expected error for unsupported proto")
	}
}
