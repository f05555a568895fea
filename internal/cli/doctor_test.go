package cli

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"oraclegate/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: config.EnvDevelopment,
		Server:      config.ServerConfig{Port: "0"},
		Database:    config.DatabaseConfig{Host: "127.0.0.1", Port: "1"},
		Admin:       config.AdminConfig{},
		Keystore:    config.KeystoreConfig{Dir: t.TempDir()},
	}
}

func TestCheckKeystoreDir_MissingIsWarn(t *testing.T) {
	cfg := testConfig(t)
	cfg.Keystore.Dir = filepath.Join(cfg.Keystore.Dir, "does-not-exist")

	result := checkKeystoreDir(cfg)
	if result.Status != CheckWarn {
		t.Errorf("status = %s, want WARN for a not-yet-created keystore dir", result.Status)
	}
}

func TestCheckKeystoreDir_WritableIsPass(t *testing.T) {
	cfg := testConfig(t)

	result := checkKeystoreDir(cfg)
	if result.Status != CheckPass {
		t.Errorf("status = %s, want PASS for a writable temp dir: %s", result.Status, result.Message)
	}
}

func TestCheckKeystoreDir_NotADirectoryIsFail(t *testing.T) {
	cfg := testConfig(t)
	file := filepath.Join(cfg.Keystore.Dir, "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0600); err != nil {
		t.Fatalf("setup: %v", err)
	}
	cfg.Keystore.Dir = file

	result := checkKeystoreDir(cfg)
	if result.Status != CheckFail {
		t.Errorf("status = %s, want FAIL when the keystore path is a file", result.Status)
	}
}

func TestCheckAdminSecret(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		env    config.Environment
		wantSt CheckStatus
	}{
		{"long secret passes", "01234567890123456789012345678901", config.EnvDevelopment, CheckPass},
		{"short secret warns outside prod", "short", config.EnvDevelopment, CheckWarn},
		{"short secret fails in prod", "short", config.EnvProduction, CheckFail},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Environment = tc.env
			cfg.Admin.JWTSecret = tc.secret

			result := checkAdminSecret(cfg)
			if result.Status != tc.wantSt {
				t.Errorf("status = %s, want %s", result.Status, tc.wantSt)
			}
		})
	}
}

func TestCheckPort_FreePortPasses(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("setup listener: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	port := addr.Port
	ln.Close()

	cfg := testConfig(t)
	cfg.Server.Port = strconv.Itoa(port)

	result := checkPort(cfg)
	if result.Status != CheckPass {
		t.Errorf("status = %s, want PASS for a freed port: %s", result.Status, result.Message)
	}
}

func TestCheckPort_InUseWarns(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("setup listener: %v", err)
	}
	defer ln.Close()
	addr := ln.Addr().(*net.TCPAddr)

	cfg := testConfig(t)
	cfg.Server.Port = strconv.Itoa(addr.Port)

	result := checkPort(cfg)
	if result.Status != CheckWarn {
		t.Errorf("status = %s, want WARN for a port already bound", result.Status)
	}
}

func TestCheckDatabase_UnreachableFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Host = "127.0.0.1"
	cfg.Database.Port = "1" // reserved, nothing listens here

	result := checkDatabase(cfg)
	if result.Status != CheckFail {
		t.Errorf("status = %s, want FAIL for an unreachable database", result.Status)
	}
}
