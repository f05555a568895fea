package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/term"
)

// TOTPSecret lives in the CLI config so that oraclectl's destructive
// keystore operations can require a time-based one-time code from
// whoever holds the operator's authenticator, independent of whatever
// terminal session they're in.
func (c *CLIConfig) ensureTOTPSecret(issuer string) (*otp.Key, error) {
	if c.TOTPSecret != "" {
		return otp.NewKeyFromURL(c.TOTPSecret)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: "oraclectl",
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	c.TOTPSecret = key.URL()
	if err := c.Save(); err != nil {
		return nil, fmt.Errorf("persist totp secret: %w", err)
	}
	return key, nil
}

// confirmDestructive requires a valid TOTP code before a destructive
// keystore operation proceeds. On first use it prints the secret's
// enrollment URI so the operator can add it to an authenticator app.
func confirmDestructive(cfg *CLIConfig, action string) error {
	key, err := cfg.ensureTOTPSecret(totpIssuer(cfg))
	if err != nil {
		return err
	}

	fmt.Printf("%s requires a TOTP confirmation code.\n", action)
	fmt.Printf("If this is the first time, enroll this secret in an authenticator app:\n  %s\n", key.URL())
	fmt.Print("Enter 6-digit code: ")

	code, err := readTOTPCode()
	if err != nil {
		return fmt.Errorf("read code: %w", err)
	}

	secret, err := otp.NewKeyFromURL(cfg.TOTPSecret)
	if err != nil {
		return fmt.Errorf("parse stored totp secret: %w", err)
	}
	ok, err := totp.ValidateCustom(code, secret.Secret(), time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return fmt.Errorf("validate code: %w", err)
	}
	if !ok {
		return fmt.Errorf("invalid or expired TOTP code, %s aborted", action)
	}
	return nil
}

// readTOTPCode masks the code as it's typed when stdin is a terminal, same
// as a password prompt. Piped/non-interactive stdin (tests, CI) falls back
// to a plain line read since there's no terminal to put in raw mode.
func readTOTPCode() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	raw, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func totpIssuer(cfg *CLIConfig) string {
	if cfg.TOTPIssuer != "" {
		return cfg.TOTPIssuer
	}
	return "oraclegate"
}
