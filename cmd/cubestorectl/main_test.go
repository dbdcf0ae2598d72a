package main

import "testing"

func TestNewRootCmdWiresSubcommandsAndFlags(t *testing.T) {
	cmd := newRootCmd()
	if cmd.Use != "cubestorectl" {
		t.Errorf("expected Use=cubestorectl, got %s", cmd.Use)
	}
	if cmd.PersistentFlags().Lookup("data-dir") == nil {
		t.Error("expected a data-dir persistent flag")
	}

	var found bool
	for _, sub := range cmd.Commands() {
		if sub.Name() == "verify-index" {
			found = true
		}
	}
	if !found {
		t.Error("expected a verify-index subcommand")
	}
}

func TestVerifyIndexRequiresExactlyOneArg(t *testing.T) {
	var dataDir string
	cmd := newVerifyIndexCmd(&dataDir)
	if err := cmd.Args(cmd, nil); err == nil {
		t.Error("expected an error with zero args")
	}
	if err := cmd.Args(cmd, []string{"1"}); err != nil {
		t.Errorf("expected one arg to be accepted, got %v", err)
	}
}

func TestVerifyIndexRejectsNonNumericArg(t *testing.T) {
	var dataDir string
	cmd := newVerifyIndexCmd(&dataDir)
	cmd.SetArgs([]string{"not-a-number"})
	if err := cmd.Execute(); err == nil {
		t.Error("expected a non-numeric index id to be rejected")
	}
}
