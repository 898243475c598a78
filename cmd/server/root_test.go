package main

import (
	"testing"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	want := []string{"serve", "migrate", "trigger", "seed"}
	for _, name := range want {
		t.Run(name, func(t *testing.T) {
			cmd, _, err := rootCmd.Find([]string{name})
			if err != nil {
				t.Fatalf("Find(%q) error = %v", name, err)
			}
			if cmd.Name() != name {
				t.Errorf("Find(%q) = %q", name, cmd.Name())
			}
		})
	}
}

func TestTriggerFlags(t *testing.T) {
	typeFlag := triggerCmd.Flags().Lookup("type")
	if typeFlag == nil || typeFlag.DefValue != "birthday" {
		t.Fatalf("--type flag missing or default changed: %+v", typeFlag)
	}
	if triggerCmd.Flags().Lookup("hour") == nil {
		t.Fatal("--hour flag missing")
	}
}

func TestDemoUsersAreDistinct(t *testing.T) {
	seen := map[string]bool{}
	for _, d := range demoUsers {
		if seen[d.email] {
			t.Errorf("duplicate demo email %s", d.email)
		}
		seen[d.email] = true
		if d.dob.IsZero() {
			t.Errorf("demo user %s has no date of birth", d.email)
		}
	}
}
