package main

import (
	"testing"
)

// TestNewRootCmd tests the root command creation.
func TestNewRootCmd(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()

	t.Run("has correct use", func(t *testing.T) {
		t.Parallel()
		if cmd.Use != "skrob" {
			t.Errorf("expected use 'skrob', got %q", cmd.Use)
		}
	})

	t.Run("has long description", func(t *testing.T) {
		t.Parallel()
		if cmd.Long == "" {
			t.Error("expected non-empty long description")
		}
	})

	t.Run("has version", func(t *testing.T) {
		t.Parallel()
		if cmd.Version == "" {
			t.Error("expected non-empty version")
		}
	})

	t.Run("has global flags", func(t *testing.T) {
		t.Parallel()
		verbose := cmd.PersistentFlags().Lookup("verbose")
		if verbose == nil {
			t.Fatal("expected verbose flag")
		}
		if verbose.Shorthand != "v" {
			t.Errorf("expected shorthand 'v', got %q", verbose.Shorthand)
		}
		format := cmd.PersistentFlags().Lookup("log-format")
		if format == nil {
			t.Fatal("expected log-format flag")
		}
		if format.DefValue != "text" {
			t.Errorf("expected default 'text', got %q", format.DefValue)
		}
	})

	t.Run("has subcommands", func(t *testing.T) {
		t.Parallel()
		want := map[string]bool{"run": false, "explain": false, "history": false, "init": false, "version": false}
		for _, sub := range cmd.Commands() {
			if _, ok := want[sub.Name()]; ok {
				want[sub.Name()] = true
			}
		}
		for name, found := range want {
			if !found {
				t.Errorf("expected %s subcommand", name)
			}
		}
	})

	t.Run("silences usage and errors", func(t *testing.T) {
		t.Parallel()
		if !cmd.SilenceUsage {
			t.Error("expected SilenceUsage to be true")
		}
		if !cmd.SilenceErrors {
			t.Error("expected SilenceErrors to be true")
		}
	})
}

func TestGlobalFlagsReachSubcommands(t *testing.T) {
	t.Run("defaults when the command stands alone", func(t *testing.T) {
		cmd := NewRunCmd()
		if getVerboseFlag(cmd) {
			t.Error("expected false when flag not set")
		}
		if got := getLogFormatFlag(cmd); got != "text" {
			t.Errorf("expected 'text', got %q", got)
		}
	})

	t.Run("values from the root command", func(t *testing.T) {
		root := NewRootCmd()
		_ = root.PersistentFlags().Set("verbose", "true")
		_ = root.PersistentFlags().Set("log-format", "json")

		runCmd, _, err := root.Find([]string{"run"})
		if err != nil {
			t.Fatalf("failed to find run command: %v", err)
		}

		if !getVerboseFlag(runCmd) {
			t.Error("expected true from parent verbose flag")
		}
		if got := getLogFormatFlag(runCmd); got != "json" {
			t.Errorf("expected 'json' from parent, got %q", got)
		}
	})
}
