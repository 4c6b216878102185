package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/pdm-core/internal/audit"
	"github.com/nerrad567/pdm-core/internal/auth"
	"github.com/nerrad567/pdm-core/internal/infrastructure/database"
)

const vanLayout = "../layout/testdata/van.yaml"

const testSecret = "cli-test-secret-at-least-32-bytes-long"

// execute runs pdmsim with args and returns stdout and the command error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

// decodeData unmarshals the data field of a JSON success envelope.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decoding output: %v\n%s", err, out)
	}
	if resp.Status != "ok" {
		t.Fatalf("status = %q, want ok\n%s", resp.Status, out)
	}
	if err := json.Unmarshal(resp.Data, v); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

// ─── Root ──────────────────────────────────────────────────────────

func TestRoot_InvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "validate", vanLayout)
	if err == nil {
		t.Fatal("expected error for invalid format")
	}
	if !strings.Contains(err.Error(), "invalid format") {
		t.Errorf("error = %v, want invalid format", err)
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"exit error", NewExitError(ExitCommandError, "bad"), ExitCommandError},
		{"wrapped", WrapExitError(ExitSuccess, "ok", os.ErrNotExist), ExitSuccess},
		{"plain", os.ErrNotExist, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetExitCode(tt.err); got != tt.want {
				t.Errorf("GetExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

// ─── Validate ──────────────────────────────────────────────────────

func TestValidate_Text(t *testing.T) {
	out, err := execute(t, "validate", vanLayout)
	if err != nil {
		t.Fatalf("validate error = %v\n%s", err, out)
	}
	for _, want := range []string{"is valid", "camper-van", "slots:    4", "outputs:  2", "bridges:  1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestValidate_JSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", vanLayout)
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	var res ValidateResult
	decodeData(t, out, &res)

	if res.Name != "camper-van" || res.Mode != "replace" {
		t.Errorf("name/mode = %q/%q", res.Name, res.Mode)
	}
	if res.Channels != 9 || res.Slots != 4 || res.Outputs != 2 || res.Bridges != 1 {
		t.Errorf("counts = %+v", res)
	}
	if len(res.Checksum) != 64 {
		t.Errorf("checksum = %q, want hex sha256", res.Checksum)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     func(t *testing.T) string
		wantExit int
		wantCode string
	}{
		{
			name:     "missing file",
			path:     func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") },
			wantExit: ExitCommandError,
			wantCode: ErrCodeLoad,
		},
		{
			name:     "not yaml",
			path:     func(t *testing.T) string { return writeFile(t, "bad.yaml", "version: [1\n") },
			wantExit: ExitFailure,
			wantCode: ErrCodeInvalid,
		},
		{
			name: "schema violation",
			path: func(t *testing.T) string {
				return writeFile(t, "schema.yaml", "version: 1\nchannels:\n  - { id: 5, class: bogus, name: x }\n")
			},
			wantExit: ExitFailure,
			wantCode: ErrCodeInvalid,
		},
		{
			name: "unresolved input",
			path: func(t *testing.T) string {
				return writeFile(t, "unresolved.yaml", `version: 1
channels:
  - { id: 200, class: virtual_logic, name: out }
slots:
  - output: out
    kind: compare
    inputs: [missing]
    config: { op: gt, constant: 1 }
`)
			},
			wantExit: ExitFailure,
			wantCode: ErrCodeInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "--format", "json", "validate", tt.path(t))
			if err == nil {
				t.Fatalf("expected error\n%s", out)
			}
			if got := GetExitCode(err); got != tt.wantExit {
				t.Errorf("exit = %d, want %d (%v)", got, tt.wantExit, err)
			}
			var resp CLIResponse
			if err := json.Unmarshal([]byte(out), &resp); err != nil {
				t.Fatalf("decoding error output: %v\n%s", err, out)
			}
			if resp.Status != "error" || resp.Error == nil || resp.Error.Code != tt.wantCode {
				t.Errorf("response = %+v, want error %s", resp, tt.wantCode)
			}
		})
	}
}

// ─── Simulate ──────────────────────────────────────────────────────

type simOutput struct {
	Index     int    `json:"index"`
	State     string `json:"state"`
	Fault     string `json:"fault"`
	CurrentMA int32  `json:"current_ma"`
	Trips     uint64 `json:"trips"`
}

type simResult struct {
	HardwareTicks uint64 `json:"hardware_ticks"`
	LogicTicks    uint64 `json:"logic_ticks"`
	SafeState     bool   `json:"safe_state"`
	Channels      []struct {
		ID    int    `json:"id"`
		Name  string `json:"name"`
		Value int32  `json:"value"`
	} `json:"channels"`
	Outputs []simOutput `json:"outputs"`
	Events  []struct {
		Kind  string `json:"kind"`
		Name  string `json:"name"`
		Fault string `json:"fault"`
		At    string `json:"at"`
	} `json:"events"`
}

func (r simResult) value(t *testing.T, name string) int32 {
	t.Helper()
	for _, c := range r.Channels {
		if c.Name == name {
			return c.Value
		}
	}
	t.Fatalf("channel %q not in result", name)
	return 0
}

func simulate(t *testing.T, args ...string) simResult {
	t.Helper()
	out, err := execute(t, append([]string{"--format", "json", "simulate", vanLayout}, args...)...)
	if err != nil {
		t.Fatalf("simulate error = %v\n%s", err, out)
	}
	var res simResult
	decodeData(t, out, &res)
	return res
}

func TestSimulate_FanRunsOnHealthyLoad(t *testing.T) {
	res := simulate(t, "--set", "coolant_temp=100", "--load", "0=1000", "--duration", "500ms")

	if res.HardwareTicks != 500 || res.LogicTicks != 250 {
		t.Errorf("ticks = %d/%d, want 500/250", res.HardwareTicks, res.LogicTicks)
	}
	if got := res.value(t, "fan_request"); got != 1 {
		t.Errorf("fan_request = %d, want 1", got)
	}
	if res.Outputs[0].State != "on" {
		t.Errorf("output 0 state = %q, want on", res.Outputs[0].State)
	}
	if res.Outputs[0].CurrentMA != 13800 {
		t.Errorf("output 0 current = %d, want 13800", res.Outputs[0].CurrentMA)
	}
	if res.Outputs[1].State != "off" {
		t.Errorf("output 1 state = %q, want off with ignition low", res.Outputs[1].State)
	}
	if len(res.Events) != 0 {
		t.Errorf("events = %+v, want none", res.Events)
	}
}

func TestSimulate_ShortedLoadTrips(t *testing.T) {
	res := simulate(t, "--set", "coolant_temp=100", "--load", "0=100", "--duration", "500ms")

	o := res.Outputs[0]
	if o.State != "retry_wait" || o.Trips != 1 {
		t.Errorf("output 0 = %+v, want one trip then retry_wait", o)
	}
	if len(res.Events) != 1 {
		t.Fatalf("events = %+v, want one trip", res.Events)
	}
	e := res.Events[0]
	if e.Kind != string(audit.KindTrip) || e.Name != "fan" || e.Fault != "overcurrent" {
		t.Errorf("event = %+v", e)
	}
	if res.SafeState {
		t.Error("an output trip must not enter the safe state")
	}
}

func TestSimulate_TimedStimulus(t *testing.T) {
	res := simulate(t,
		"--set", "coolant_temp=100",
		"--set", "coolant_temp=70@300ms",
		"--load", "0=1000",
		"--duration", "500ms",
	)
	if got := res.value(t, "fan_request"); got != 0 {
		t.Errorf("fan_request = %d, want 0 after cooling down", got)
	}
	if got := res.value(t, "coolant_temp"); got != 70 {
		t.Errorf("coolant_temp = %d, want 70", got)
	}
	if res.Outputs[0].State != "off" {
		t.Errorf("output 0 state = %q, want off", res.Outputs[0].State)
	}
}

func TestSimulate_EventsDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	simulate(t, "--set", "coolant_temp=100", "--load", "0=100", "--duration", "500ms", "--events-db", path)

	db, err := database.Open(database.Config{Path: path})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	list, err := audit.NewSQLiteRepository(db.DB).List(t.Context(), audit.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if list.Total != 1 || list.Events[0].Kind != audit.KindTrip {
		t.Errorf("recorded = %+v, want one trip", list)
	}
}

func TestSimulate_TextTable(t *testing.T) {
	out, err := execute(t, "simulate", vanLayout, "--set", "coolant_temp=100", "--load", "0=100", "--duration", "200ms")
	if err != nil {
		t.Fatalf("simulate error = %v\n%s", err, out)
	}
	for _, want := range []string{"NAME", "fan_request", "OUTPUT", "BRIDGE", "trip", "overcurrent"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "low_supply") {
		t.Error("hidden channel listed without --all")
	}
}

func TestSimulate_BadArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"set without value", []string{"--set", "coolant_temp"}},
		{"unknown channel", []string{"--set", "nope=1"}},
		{"bad value", []string{"--set", "coolant_temp=hot"}},
		{"bad offset", []string{"--set", "coolant_temp=1@soon"}},
		{"readonly channel", []string{"--set", "sys.supply_mv=1"}},
		{"load index", []string{"--load", "99=1000"}},
		{"load resistance", []string{"--load", "0=0"}},
		{"logic period", []string{"--logic-period", "1500us"}},
		{"duration", []string{"--duration", "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"simulate", vanLayout}, tt.args...)...)
			if err == nil {
				t.Fatalf("expected error\n%s", out)
			}
			if got := GetExitCode(err); got != ExitCommandError {
				t.Errorf("exit = %d, want %d (%v)", got, ExitCommandError, err)
			}
		})
	}
}

// ─── Token ─────────────────────────────────────────────────────────

func TestToken_Secret(t *testing.T) {
	t.Setenv("PDM_JWT_SECRET", "")
	out, err := execute(t, "token", "--secret", testSecret, "--role", "admin", "--subject", "bench", "--ttl", "1h")
	if err != nil {
		t.Fatalf("token error = %v", err)
	}
	claims, err := auth.ParseToken(strings.TrimSpace(out), testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "bench" || claims.Role != auth.RoleAdmin {
		t.Errorf("claims = %s/%s, want bench/admin", claims.Subject, claims.Role)
	}
	if d := time.Until(claims.ExpiresAt.Time); d < 59*time.Minute {
		t.Errorf("expires in %v, want ~1h", d)
	}
}

func TestToken_EnvAndJSON(t *testing.T) {
	t.Setenv("PDM_JWT_SECRET", testSecret)
	out, err := execute(t, "--format", "json", "token", "--role", "viewer")
	if err != nil {
		t.Fatalf("token error = %v", err)
	}
	var res TokenResult
	decodeData(t, out, &res)
	if res.Role != auth.RoleViewer || res.Subject != "pdmsim" {
		t.Errorf("result = %+v", res)
	}
	if _, err := auth.ParseToken(res.Token, testSecret); err != nil {
		t.Errorf("ParseToken() error = %v", err)
	}
}

func TestToken_ConfigFile(t *testing.T) {
	t.Setenv("PDM_JWT_SECRET", "")
	path := writeFile(t, "config.yaml", "security:\n  jwt:\n    secret: \""+testSecret+"\"\n")
	out, err := execute(t, "token", "--config", path)
	if err != nil {
		t.Fatalf("token error = %v\n%s", err, out)
	}
	if _, err := auth.ParseToken(strings.TrimSpace(out), testSecret); err != nil {
		t.Errorf("ParseToken() error = %v", err)
	}
}

func TestToken_Errors(t *testing.T) {
	t.Setenv("PDM_JWT_SECRET", "")
	tests := []struct {
		name string
		args []string
	}{
		{"no secret", []string{"token"}},
		{"bad role", []string{"token", "--secret", testSecret, "--role", "root"}},
		{"bad ttl", []string{"token", "--secret", testSecret, "--ttl", "-1m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := GetExitCode(err); got != ExitCommandError {
				t.Errorf("exit = %d, want %d", got, ExitCommandError)
			}
		})
	}
}
