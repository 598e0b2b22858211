package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

const validTemplate = `key: short_visit
title: Short visit
sections:
  - key: personal_data
    title: Personal data
    required: true
    order: 1
    fields:
      - key: full_name
        label: Full name
        type: text
        required: true
      - key: monthly_income
        label: Monthly income
        type: currency
        required: true
        threshold:
          max_percentage: 20
`

const badThreshold = `key: broken
title: Broken
sections:
  - key: personal_data
    title: Personal data
    fields:
      - key: full_name
        label: Full name
        type: text
        threshold:
          max_percentage: 20
`

func TestTemplateValidate(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return path
	}

	cases := []struct {
		name    string
		args    []string
		wantErr string
		wantOut string
	}{
		{"embedded", []string{"template", "validate"}, "", "field_verification_v1: ok (4 sections, 22 fields)"},
		{"file", []string{"template", "validate", write("ok.yaml", validTemplate)}, "", "short_visit: ok (1 sections, 2 fields)"},
		{"threshold on text", []string{"template", "validate", write("bad.yaml", badThreshold)}, "threshold only applies to number or currency", ""},
		{"missing file", []string{"template", "validate", filepath.Join(dir, "nope.yaml")}, "no such file", ""},
	}
	for _, c := range cases {
		out, err := runCmd(t, c.args...)
		if c.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), c.wantErr) {
				t.Fatalf("%s: expected error containing %q, got %v", c.name, c.wantErr, err)
			}
			continue
		}
		if err != nil || !strings.Contains(out, c.wantOut) {
			t.Fatalf("%s: expected output %q, got %q (%v)", c.name, c.wantOut, out, err)
		}
	}
}

func TestCommandsNeedDatabase(t *testing.T) {
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_NAME", "")
	if _, err := runCmd(t, "migrate"); err == nil || !strings.Contains(err.Error(), "db.host") {
		t.Fatalf("migrate: expected missing db error, got %v", err)
	}
	if _, err := runCmd(t, "report", "--id", "0"); err == nil || !strings.Contains(err.Error(), "--id") {
		t.Fatalf("report: expected id error, got %v", err)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	if _, err := runCmd(t, "--loglevel", "loud", "template", "validate"); err == nil {
		t.Fatalf("expected invalid log level error")
	}
}
