package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"cliprelay/proxypool/model"
)

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "proxies.txt"))
	eps, err := fs.Load()
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if len(eps) != 0 {
		t.Errorf("Load on missing file returned %d endpoints, want 0", len(eps))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.txt")
	fs := NewFileStore(path)

	in := []*model.Endpoint{
		{
			Host: "1.2.3.4", Port: 8080, Scheme: model.SchemeHTTP,
			Source: "unit", Country: "DE", Active: true,
			FailureCount: 1, SuccessCount: 4, LatencyMs: 120,
			AddedAt: time.Unix(1700000000, 0),
		},
		{
			Host: "5.6.7.8", Port: 1080, Scheme: model.SchemeSOCKS5,
			Username: "user", Password: "secret",
			Source: "unit", Active: false,
			AddedAt: time.Unix(1700000100, 0),
		},
	}
	if err := fs.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := fs.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("Load returned %d endpoints, want 2", len(out))
	}

	// Save sorts by key, so 1.2.3.4 comes first.
	first, second := out[0], out[1]
	if first.Key() != "1.2.3.4:8080" || second.Key() != "5.6.7.8:1080" {
		t.Fatalf("unexpected order: %s, %s", first.Key(), second.Key())
	}
	if first.FailureCount != 1 || first.SuccessCount != 4 || first.LatencyMs != 120 {
		t.Errorf("health fields lost in round trip: %+v", first)
	}
	if !first.Active || second.Active {
		t.Errorf("active flags lost in round trip")
	}
	if second.Username != "user" || second.Password != "secret" {
		t.Errorf("credentials lost in round trip")
	}
	if !first.AddedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("added_at lost in round trip: %v", first.AddedAt)
	}
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.txt")
	content := "http|1.2.3.4|8080|||unit|DE|true|0|0|0|1700000000\n" +
		"garbage line\n" +
		"http|5.6.7.8|notaport|||unit||true|0|0|0|1700000000\n" +
		"\n" +
		"socks5|9.9.9.9|1080|||unit||false|2|0|0|1700000000\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	fs := NewFileStore(path)
	eps, err := fs.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(eps) != 2 {
		t.Fatalf("Load returned %d endpoints, want 2 valid ones", len(eps))
	}
	if eps[0].Key() != "1.2.3.4:8080" || eps[1].Key() != "9.9.9.9:1080" {
		t.Errorf("unexpected endpoints survived: %s, %s", eps[0].Key(), eps[1].Key())
	}
}

func TestSaveReplacesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.txt")
	fs := NewFileStore(path)

	if err := fs.Save([]*model.Endpoint{
		{Host: "1.2.3.4", Port: 8080, Scheme: model.SchemeHTTP, Active: true, AddedAt: time.Unix(1, 0)},
	}); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := fs.Save([]*model.Endpoint{
		{Host: "5.6.7.8", Port: 9090, Scheme: model.SchemeHTTP, Active: true, AddedAt: time.Unix(2, 0)},
	}); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	eps, err := fs.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(eps) != 1 || eps[0].Key() != "5.6.7.8:9090" {
		t.Errorf("second Save did not replace the file: %+v", eps)
	}
}

func TestSaveCreatesMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "proxies.txt")
	fs := NewFileStore(path)

	if err := fs.Save([]*model.Endpoint{
		{Host: "1.2.3.4", Port: 8080, Scheme: model.SchemeHTTP, Active: true, AddedAt: time.Unix(1, 0)},
	}); err != nil {
		t.Fatalf("Save into missing directory: %v", err)
	}

	eps, err := fs.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(eps) != 1 {
		t.Errorf("Load returned %d endpoints, want 1", len(eps))
	}
}
