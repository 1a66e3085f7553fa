package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseObject(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "blank", in: "  ", want: `{}`},
		{name: "object", in: `{"id":"u_1","n":2}`, want: `{"id":"u_1","n":2}`},
		{name: "nested", in: `{"a":{"b":[1,2]}}`, want: `{"a":{"b":[1,2]}}`},
		{name: "array", in: `[1,2]`, wantErr: true},
		{name: "null", in: `null`, wantErr: true},
		{name: "garbage", in: `{id:`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseObject(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			data, _ := json.Marshal(got)
			if string(data) != tt.want {
				t.Errorf("got %s, want %s", data, tt.want)
			}
		})
	}
}

func TestParseMeta(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    string
		wantErr bool
	}{
		{name: "nil input", pairs: nil, want: "null"},
		{name: "plain strings", pairs: []string{"region=eu", "team=billing"}, want: `{"region":"eu","team":"billing"}`},
		{name: "typed values", pairs: []string{"retry=true", "count=3"}, want: `{"count":3,"retry":true}`},
		{name: "value with equals", pairs: []string{"q=a=b"}, want: `{"q":"a=b"}`},
		{name: "not json", pairs: []string{"version=1.2.3"}, want: `{"version":"1.2.3"}`},
		{name: "missing equals", pairs: []string{"region"}, wantErr: true},
		{name: "empty key", pairs: []string{"=x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMeta(tt.pairs)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			data, _ := json.Marshal(got)
			if string(data) != tt.want {
				t.Errorf("got %s, want %s", data, tt.want)
			}
		})
	}
}

func TestReadInput(t *testing.T) {
	got, err := readInput(strings.NewReader("from stdin"), "-")
	if err != nil || string(got) != "from stdin" {
		t.Fatalf("stdin: got %q, %v", got, err)
	}

	path := filepath.Join(t.TempDir(), "body.json")
	if err := os.WriteFile(path, []byte(`{"a":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = readInput(nil, path)
	if err != nil || string(got) != `{"a":1}` {
		t.Fatalf("file: got %q, %v", got, err)
	}

	if _, err := readInput(nil, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
