package main

import (
	"testing"
)

func TestNewRootCmd_RegistersSubcommands(t *testing.T) {
	root := newRootCmd()

	want := []string{"health", "doctor", "keystore", "events", "admin", "pay"}
	got := map[string]bool{}
	for _, c := range root.Commands() {
		got[c.Name()] = true
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("expected root command to register %q, got %v", name, got)
		}
	}
}

func TestNewKeystoreCmd_HasInspectAndRotate(t *testing.T) {
	ks := newKeystoreCmd()
	var names []string
	for _, c := range ks.Commands() {
		names = append(names, c.Name())
	}
	found := map[string]bool{}
	for _, n := range names {
		found[n] = true
	}
	if !found["inspect"] || !found["rotate"] {
		t.Errorf("expected inspect and rotate subcommands, got %v", names)
	}
}

func TestNewAdminCmd_MintTokenRequiresSecret(t *testing.T) {
	admin := newAdminCmd()
	mint, _, err := admin.Find([]string{"mint-token"})
	if err != nil {
		t.Fatalf("find mint-token: %v", err)
	}
	if mint.RunE == nil {
		t.Fatal("expected mint-token to have a RunE handler")
	}
}
