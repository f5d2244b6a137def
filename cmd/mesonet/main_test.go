package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigCommandLayering(t *testing.T) {
	t.Setenv("MESONET_PATIENCE", "9")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"config", "--epochs", "3", "--env-file", filepath.Join(t.TempDir(), "none.env")})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	text := out.String()
	for _, want := range []string{"epochs              : 3", "patience            : 9", "learning_rate       : 0.0001"} {
		if !strings.Contains(text, want) {
			t.Errorf("config output missing %q:\n%s", want, text)
		}
	}
}

func TestInvalidFlagValue(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"config", "--epochs", "0", "--env-file", ""})
	if err := root.Execute(); err == nil {
		t.Error("expected a validation error for zero epochs")
	}
}

func TestSummaryCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"summary", "--env-file", ""})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Linear") {
		t.Errorf("unexpected summary:\n%s", out.String())
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("debug") != -4 || parseLevel("bogus") != 0 {
		t.Error("parseLevel mapping is wrong")
	}
}

func TestClassWeightsFlag(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"config", "--class-weights", "1,3", "--env-file", ""})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "class_weights       : [1 3]") {
		t.Errorf("class weights not applied:\n%s", out.String())
	}
}
