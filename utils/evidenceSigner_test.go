package utils

import (
	"strings"
	"testing"
)

func TestSignerFromCredentialsJSON(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{"ok", `{"client_email":"sa@p.iam.gserviceaccount.com","private_key":"-----BEGIN\\nKEY"}`, ""},
		{"not json", `{`, "invalid GCS_CREDENTIALS_JSON"},
		{"missing key", `{"client_email":"sa@p.iam.gserviceaccount.com"}`, "missing client_email or private_key"},
	}
	for _, c := range cases {
		s, err := signerFromCredentialsJSON(c.raw)
		if c.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), c.wantErr) {
				t.Fatalf("%s: expected %q, got %v", c.name, c.wantErr, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error %v", c.name, err)
		}
		if s.accessID != "sa@p.iam.gserviceaccount.com" || string(s.privateKey) != "-----BEGIN\nKEY" {
			t.Fatalf("%s: unexpected signer %+v", c.name, s)
		}
	}
}

func TestBuildObjectAccessURL(t *testing.T) {
	cases := []struct {
		base   string
		bucket string
		expect string
	}{
		{"https://cdn.example.com/", "", "https://cdn.example.com/investigations/1/a.png"},
		{"https://cdn.example.com/o?k={objectKey}", "", "https://cdn.example.com/o?k=investigations/1/a.png"},
		{"", "evidence", "https://storage.googleapis.com/evidence/investigations/1/a.png"},
		{"", "", "investigations/1/a.png"},
	}
	for _, c := range cases {
		t.Setenv("STORAGE_ACCESS_BASE_URL", c.base)
		t.Setenv("GCS_BUCKET", c.bucket)
		if got := BuildObjectAccessURL("investigations/1/a.png"); got != c.expect {
			t.Fatalf("base=%q bucket=%q: expected %s, got %s", c.base, c.bucket, c.expect, got)
		}
	}
}
