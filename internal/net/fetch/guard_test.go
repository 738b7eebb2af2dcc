package fetch

import (
	"context"
	"net"
	"testing"
)

func fakeGuard(ips ...string) *HostGuard {
	parsed := make([]net.IP, len(ips))
	for i, s := range ips {
		parsed[i] = net.ParseIP(s)
	}
	return &HostGuard{resolve: func(_ context.Context, _ string) ([]net.IP, error) {
		return parsed, nil
	}}
}

func TestClassifyScheme(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://example.com/resource", false},
		{"http://example.com", false},
		{"ftp://example.com", true},
		{"file:///etc/passwd", true},
		{"javascript:alert(1)", true},
		{"://broken", true},
	}

	for _, tc := range tests {
		t.Run(tc.url, func(t *testing.T) {
			_, err := ClassifyScheme(tc.url)
			if tc.wantErr && err == nil {
				t.Fatalf("ClassifyScheme(%q): expected error, got nil", tc.url)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("ClassifyScheme(%q): unexpected error: %v", tc.url, err)
			}
		})
	}
}

func TestHostGuard_ClassifyHost(t *testing.T) {
	tests := []struct {
		name string
		ips  []string
		want Verdict
	}{
		{"public", []string{"93.184.216.34"}, VerdictAllow},
		{"loopback", []string{"127.0.0.1"}, VerdictWarn},
		{"unspecified", []string{"0.0.0.0"}, VerdictWarn},
		{"class-a-private", []string{"10.1.2.3"}, VerdictWarn},
		{"class-b-private", []string{"192.168.1.1"}, VerdictWarn},
		{"link-local", []string{"169.254.169.254"}, VerdictWarn},
		{"ipv6-loopback", []string{"::1"}, VerdictWarn},
		{"mixed-one-reserved", []string{"93.184.216.34", "10.0.0.1"}, VerdictWarn},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := fakeGuard(tc.ips...)
			got, err := g.ClassifyHost(context.Background(), "host.example")
			if err != nil {
				t.Fatalf("ClassifyHost: unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("ClassifyHost(%v) = %v, want %v", tc.ips, got, tc.want)
			}
		})
	}
}

func TestHostGuard_ClassifyHost_NoAddresses(t *testing.T) {
	g := fakeGuard()
	if _, err := g.ClassifyHost(context.Background(), "nowhere.example"); err == nil {
		t.Error("expected error for host with no resolved addresses")
	}
}

func TestHostGuard_ClassifyHost_ResolveError(t *testing.T) {
	g := &HostGuard{resolve: func(_ context.Context, _ string) ([]net.IP, error) {
		return nil, net.UnknownNetworkError("boom")
	}}
	if _, err := g.ClassifyHost(context.Background(), "broken.example"); err == nil {
		t.Error("expected error when resolver fails")
	}
}
