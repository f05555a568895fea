package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"oraclegate/internal/config"
	"oraclegate/internal/wallet"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
)

// CheckResult is the outcome of a single prerequisite check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // how to fix, when failed or warned
}

// CheckStatus is a check's pass/warn/fail outcome.
type CheckStatus int

const (
	CheckPass CheckStatus = iota
	CheckWarn
	CheckFail
)

func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "PASS"
	case CheckWarn:
		return "WARN"
	case CheckFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

const doctorDialTimeout = 3 * time.Second

type doctorCheck struct {
	name string
	fn   func(cfg *config.Config) CheckResult
}

var doctorChecks = []doctorCheck{
	{"Keystore Directory", checkKeystoreDir},
	{"Route Table", checkRouteTable},
	{"Database", checkDatabase},
	{"Lightning Node", checkLightningNode},
	{"Admin JWT Secret", checkAdminSecret},
	{"Gateway Port Available", checkPort},
	{"OS Keyring", checkKeyring},
}

// Doctor runs the oracle's deployment prerequisite checks: the checks a
// careful operator would want to run before starting the gateway or
// backend for the first time on a new host. In a terminal it renders as
// an interactive spinner-driven checklist; otherwise it falls back to
// plain sequential output, since there's no TTY to animate against.
func Doctor() error {
	cfg := config.Load()

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return doctorPlain(cfg)
	}

	model := newDoctorModel(cfg)
	p := tea.NewProgram(model)
	final, err := p.Run()
	if err != nil {
		return err
	}

	m := final.(*doctorModel)
	if m.failCount() > 0 {
		return fmt.Errorf("%d prerequisite check(s) failed", m.failCount())
	}
	return nil
}

// doctorPlain runs the checks without the TUI, for piped stdout or CI logs.
func doctorPlain(cfg *config.Config) error {
	fmt.Println()
	fmt.Println("oraclectl doctor")
	fmt.Println()

	passCount, warnCount, failCount := 0, 0, 0
	for _, dc := range doctorChecks {
		result := dc.fn(cfg)
		switch result.Status {
		case CheckPass:
			fmt.Printf("%s %s\n", successStyle.Render("✓"), result.Name)
			passCount++
		case CheckWarn:
			fmt.Printf("%s %s: %s\n", warningStyle.Render("⚠"), result.Name, result.Message)
			warnCount++
		case CheckFail:
			fmt.Printf("%s %s: %s\n", errorStyle.Render("✗"), result.Name, result.Message)
			if result.Fix != "" {
				fmt.Printf("  → %s\n", infoStyle.Render(result.Fix))
			}
			failCount++
		}
	}

	fmt.Println()
	printDoctorSummary(passCount, warnCount, failCount)
	if failCount > 0 {
		return fmt.Errorf("%d prerequisite check(s) failed", failCount)
	}
	return nil
}

func printDoctorSummary(passCount, warnCount, failCount int) {
	fmt.Println("Summary:")
	fmt.Printf("  %s %d checks passed\n", successStyle.Render("✓"), passCount)
	if warnCount > 0 {
		fmt.Printf("  %s %d warnings\n", warningStyle.Render("⚠"), warnCount)
	}
	if failCount > 0 {
		fmt.Printf("  %s %d checks failed\n", errorStyle.Render("✗"), failCount)
	}
	fmt.Println()
	switch {
	case failCount > 0:
		fmt.Println(errorStyle.Render("Not ready to serve: fix the failed checks above."))
	case warnCount > 0:
		fmt.Println(warningStyle.Render("Ready, with warnings worth reviewing."))
	default:
		fmt.Println(successStyle.Render("Ready."))
	}
}

// checkDoneMsg carries the result of the check at index Index.
type checkDoneMsg struct {
	Index  int
	Result CheckResult
}

type doctorModel struct {
	cfg     *config.Config
	spinner spinner.Model
	results []*CheckResult // nil entry means still running
	current int
	done    bool
}

func newDoctorModel(cfg *config.Config) *doctorModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = infoStyle
	return &doctorModel{
		cfg:     cfg,
		spinner: s,
		results: make([]*CheckResult, len(doctorChecks)),
	}
}

func (m *doctorModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.runCheck(0))
}

func (m *doctorModel) runCheck(index int) tea.Cmd {
	return func() tea.Msg {
		result := doctorChecks[index].fn(m.cfg)
		return checkDoneMsg{Index: index, Result: result}
	}
}

func (m *doctorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.done && (msg.String() == "enter" || msg.String() == "q") {
			return m, tea.Quit
		}

	case checkDoneMsg:
		result := msg.Result
		m.results[msg.Index] = &result
		m.current = msg.Index + 1
		if m.current >= len(doctorChecks) {
			m.done = true
			return m, nil
		}
		return m, m.runCheck(m.current)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *doctorModel) View() string {
	out := "\n" + titleStyle.Render("oraclectl doctor") + "\n\n"

	for i, dc := range doctorChecks {
		result := m.results[i]
		switch {
		case result == nil && i == m.current:
			out += fmt.Sprintf("%s %s\n", m.spinner.View(), dc.name)
		case result == nil:
			out += fmt.Sprintf("  %s\n", infoStyle.Render(dc.name))
		case result.Status == CheckPass:
			out += fmt.Sprintf("%s %s\n", successStyle.Render("✓"), result.Name)
		case result.Status == CheckWarn:
			out += fmt.Sprintf("%s %s: %s\n", warningStyle.Render("⚠"), result.Name, result.Message)
		case result.Status == CheckFail:
			out += fmt.Sprintf("%s %s: %s\n", errorStyle.Render("✗"), result.Name, result.Message)
			if result.Fix != "" {
				out += fmt.Sprintf("  → %s\n", infoStyle.Render(result.Fix))
			}
		}
	}

	if m.done {
		out += "\n"
		pass, warn, fail := m.counts()
		out += fmt.Sprintf("%s %d passed", successStyle.Render("✓"), pass)
		if warn > 0 {
			out += fmt.Sprintf("  %s %d warnings", warningStyle.Render("⚠"), warn)
		}
		if fail > 0 {
			out += fmt.Sprintf("  %s %d failed", errorStyle.Render("✗"), fail)
		}
		out += "\n\n"
		switch {
		case fail > 0:
			out += errorStyle.Render("Not ready to serve: fix the failed checks above.")
		case warn > 0:
			out += warningStyle.Render("Ready, with warnings worth reviewing.")
		default:
			out += successStyle.Render("Ready.")
		}
		out += "\n\n" + infoStyle.Render("Press enter to exit") + "\n"
	}

	return out
}

func (m *doctorModel) counts() (pass, warn, fail int) {
	for _, r := range m.results {
		if r == nil {
			continue
		}
		switch r.Status {
		case CheckPass:
			pass++
		case CheckWarn:
			warn++
		case CheckFail:
			fail++
		}
	}
	return
}

func (m *doctorModel) failCount() int {
	_, _, fail := m.counts()
	return fail
}

func checkKeystoreDir(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "Keystore Directory"}
	dir := cfg.Keystore.Dir

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		result.Status = CheckWarn
		result.Message = fmt.Sprintf("%s does not exist yet", dir)
		result.Fix = "It will be created with mode 0700 the first time the oracle starts"
		return result
	}
	if err != nil {
		result.Status = CheckFail
		result.Message = err.Error()
		return result
	}
	if !info.IsDir() {
		result.Status = CheckFail
		result.Message = fmt.Sprintf("%s exists but is not a directory", dir)
		return result
	}

	probe := dir + "/.doctor-write-probe"
	if err := os.WriteFile(probe, []byte("ok"), 0600); err != nil {
		result.Status = CheckFail
		result.Message = fmt.Sprintf("directory is not writable: %v", err)
		result.Fix = fmt.Sprintf("Check ownership/permissions on %s", dir)
		return result
	}
	_ = os.Remove(probe)

	result.Status = CheckPass
	result.Message = fmt.Sprintf("%s is writable", dir)
	return result
}

func checkRouteTable(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "Route Table"}
	if err := cfg.LoadRoutes(); err != nil {
		result.Status = CheckFail
		result.Message = err.Error()
		result.Fix = fmt.Sprintf("Fix %s and validate its YAML", cfg.Oracle.RouteTablePath)
		return result
	}
	result.Status = CheckPass
	result.Message = fmt.Sprintf("%s parses with %d routes", cfg.Oracle.RouteTablePath, len(cfg.Routes.Routes))
	return result
}

func checkDatabase(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "Database"}
	if cfg.Database.Password == "" && cfg.IsDevelopment() {
		result.Status = CheckWarn
		result.Message = "DB_PASSWORD unset, assuming local trust auth"
	}

	ctx, cancel := context.WithTimeout(context.Background(), doctorDialTimeout)
	defer cancel()

	addr := net.JoinHostPort(cfg.Database.Host, cfg.Database.Port)
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		result.Status = CheckFail
		result.Message = fmt.Sprintf("cannot reach %s: %v", addr, err)
		result.Fix = "Confirm DB_HOST/DB_PORT and that postgres is running"
		return result
	}
	_ = conn.Close()

	result.Status = CheckPass
	result.Message = fmt.Sprintf("%s is reachable", addr)
	return result
}

func checkLightningNode(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "Lightning Node"}
	if cfg.Lightning.NodeURL == "" {
		if cfg.IsProduction() {
			result.Status = CheckFail
			result.Message = "LN_NODE_URL is unset in production"
			result.Fix = "Set LN_NODE_URL and LN_MACAROON_ADMIN"
			return result
		}
		result.Status = CheckWarn
		result.Message = "LN_NODE_URL unset, the lightning rail is unusable"
		return result
	}

	ctx, cancel := context.WithTimeout(context.Background(), doctorDialTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Lightning.NodeURL, nil)
	if err != nil {
		result.Status = CheckFail
		result.Message = err.Error()
		return result
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Status = CheckFail
		result.Message = err.Error()
		result.Fix = "Confirm the lightning node's REST endpoint is reachable from this host"
		return result
	}
	_ = resp.Body.Close()

	result.Status = CheckPass
	result.Message = fmt.Sprintf("%s responded (HTTP %d)", cfg.Lightning.NodeURL, resp.StatusCode)
	return result
}

func checkAdminSecret(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "Admin JWT Secret"}
	switch {
	case len(cfg.Admin.JWTSecret) >= 32:
		result.Status = CheckPass
		result.Message = "ADMIN_JWT_SECRET is set and long enough"
	case cfg.IsProduction():
		result.Status = CheckFail
		result.Message = "ADMIN_JWT_SECRET must be at least 32 characters in production"
		result.Fix = "Set ADMIN_JWT_SECRET to a random 32+ byte value"
	default:
		result.Status = CheckWarn
		result.Message = "ADMIN_JWT_SECRET is short or unset, fine outside production"
	}
	return result
}

func checkPort(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "Gateway Port Available"}
	addr := net.JoinHostPort("", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		result.Status = CheckWarn
		result.Message = fmt.Sprintf("port %s is already in use", cfg.Server.Port)
		result.Fix = "Expected if the gateway is already running"
		return result
	}
	_ = ln.Close()

	result.Status = CheckPass
	result.Message = fmt.Sprintf("port %s is free", cfg.Server.Port)
	return result
}

// checkKeyring probes the OS keyring the self-test payer wallet stores
// its key in. A host that never runs `oraclectl pay` can ignore a WARN
// here; the gateway and backend daemons do not touch the keyring.
func checkKeyring(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "OS Keyring"}

	available, backend, err := wallet.CheckKeyringAvailability()
	if !available {
		result.Status = CheckWarn
		result.Message = err.Error()
		result.Fix = "Install gnome-keyring, kwallet, or pass if you plan to use `oraclectl pay`"
		return result
	}

	result.Status = CheckPass
	result.Message = fmt.Sprintf("keyring available (%s)", backend)
	return result
}
