package main

import "testing"

func TestNewRootCmdWiresSubcommandsAndFlags(t *testing.T) {
	cmd := newRootCmd()
	if cmd.Use != "cubestored" {
		t.Errorf("expected Use=cubestored, got %s", cmd.Use)
	}
	for _, name := range []string{"config", "data-dir"} {
		if cmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("expected a %q persistent flag", name)
		}
	}

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"serve", "verify-index"} {
		if !names[want] {
			t.Errorf("expected a %q subcommand, got %v", want, names)
		}
	}
}

func TestVerifyIndexRequiresExactlyOneArg(t *testing.T) {
	var configPath, dataDir string
	cmd := newVerifyIndexCmd(&configPath, &dataDir)
	if err := cmd.Args(cmd, nil); err == nil {
		t.Error("expected an error with zero args")
	}
	if err := cmd.Args(cmd, []string{"1", "2"}); err == nil {
		t.Error("expected an error with two args")
	}
	if err := cmd.Args(cmd, []string{"1"}); err != nil {
		t.Errorf("expected one arg to be accepted, got %v", err)
	}
}

func TestVerifyIndexRejectsNonNumericArg(t *testing.T) {
	var configPath, dataDir string
	cmd := newVerifyIndexCmd(&configPath, &dataDir)
	cmd.SetArgs([]string{"not-a-number"})
	if err := cmd.Execute(); err == nil {
		t.Error("expected a non-numeric index id to be rejected")
	}
}
