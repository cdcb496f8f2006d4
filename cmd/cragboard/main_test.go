package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abrezinsky/cragboard/internal/models"
	"github.com/abrezinsky/cragboard/internal/ranking"
	"github.com/abrezinsky/cragboard/internal/syncclient"
	"github.com/abrezinsky/cragboard/internal/testutil"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

const samplePayload = `{
  "categorie": "U16 Female",
  "route_count": 2,
  "scores": {
    "Ana":  [10, 5],
    "Bea":  [8, 8],
    "Cara": [8, null]
  },
  "clubs": {"Ana": "Crux", "Bea": "Jug"},
  "use_time_tiebreak": false
}`

func writePayload(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scores.json")
	require.NoError(t, os.WriteFile(path, []byte(samplePayload), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "cragboard dev\n", out)
}

func TestRankCommand_Table(t *testing.T) {
	out, err := execute(t, "", "rank", "--file", writePayload(t))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "U16 Female", lines[0])
	assert.Contains(t, lines[2], "RANK")
	assert.Contains(t, lines[2], "R2")
	assert.True(t, strings.HasPrefix(lines[3], "1"), lines[3])
	assert.Contains(t, lines[3], "Ana")
	assert.Contains(t, lines[3], "10 (1)")
	assert.Contains(t, lines[5], "Cara")
	assert.Contains(t, lines[5], "-")
}

func TestRankCommand_JSONFromStdin(t *testing.T) {
	out, err := execute(t, samplePayload, "rank", "--file", "-", "--json", "--podium", "2")
	require.NoError(t, err)

	var res ranking.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "Ana", res.Rows[0].Name)
	assert.Equal(t, 1, res.Rows[0].Rank)
	assert.Equal(t, 3, res.NCompetitors)
}

func TestRankCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
	noRoutes := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(noRoutes, []byte(`{"route_count":0}`), 0o600))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing flag", []string{"rank"}, "required flag"},
		{"missing file", []string{"rank", "--file", filepath.Join(dir, "nope.json")}, "read payload"},
		{"malformed", []string{"rank", "--file", bad}, "parse payload"},
		{"no routes", []string{"rank", "--file", noRoutes}, "route_count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, "", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRankingInput_TimesOnlyWithTiebreak(t *testing.T) {
	times := map[string][]*float64{"Ana": {models.Float(12)}}
	p := models.ResultsPayload{RouteCount: 1, Times: times}

	assert.Nil(t, rankingInput(p).Times)
	p.UseTimeTiebreak = true
	assert.NotNil(t, rankingInput(p).Times)
}

func TestBoxSocketURL(t *testing.T) {
	tests := []struct {
		server  string
		box     int
		want    string
		wantErr bool
	}{
		{"http://localhost:8081", 0, "ws://localhost:8081/ws/0", false},
		{"https://comp.example.org/", 3, "wss://comp.example.org/ws/3", false},
		{"http://10.0.0.5:8081/board", 2, "ws://10.0.0.5:8081/board/ws/2", false},
		{"ftp://localhost", 0, "", true},
		{"localhost:8081", 0, "", true},
		{"http://localhost:8081", -1, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.server, func(t *testing.T) {
			got, err := boxSocketURL(tt.server, tt.box)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveConfig_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("CRAGBOARD_ADDR", ":9000")
	t.Setenv("CRAGBOARD_DB", "env.db")
	t.Setenv("CRAGBOARD_HEARTBEAT_INTERVAL", "15")

	opts := &serveOptions{}
	cmd := newServeCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--db", "flag.db", "--timer-sync", "0s"}))
	opts.envFile = filepath.Join(t.TempDir(), "missing.env")

	cfg, err := resolveConfig(cmd, opts)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr, "unset flag keeps the environment value")
	assert.Equal(t, "flag.db", cfg.DBPath)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval)
	assert.Zero(t, cfg.TimerSyncInterval)
}

func TestResolveConfig_Invalid(t *testing.T) {
	opts := &serveOptions{}
	cmd := newServeCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--log-format", "xml", "--env-file", ""}))

	_, err := resolveConfig(cmd, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestPrintView(t *testing.T) {
	clock := testutil.NewFakeClock()
	p := syncclient.NewProjection(0, clock)
	p.Replace(models.Snapshot{BoxID: 0, Category: "Open Male"})

	var buf bytes.Buffer
	printView(&buf, "STATE_SNAPSHOT", p)
	assert.Equal(t, "[STATE_SNAPSHOT] Open Male: waiting for route\n", buf.String())

	end := clock.Now().Add(90 * time.Second).UnixMilli()
	p.Replace(models.Snapshot{
		BoxID:          0,
		Category:       "Open Male",
		Initiated:      true,
		RouteIndex:     1,
		RoutesCount:    2,
		HoldsCount:     25,
		HoldCount:      7.1,
		CurrentClimber: "Dan",
		TimerState:     models.TimerRunning,
		TimerEndEpoch:  &end,
	})
	buf.Reset()
	printView(&buf, "PROGRESS_UPDATE", p)
	assert.Equal(t, "[PROGRESS_UPDATE] Open Male route 1/2 | climbing: Dan (7.1/25) | next: - | timer: running 90s\n", buf.String())
}

func TestPrintLogo(t *testing.T) {
	var buf bytes.Buffer
	printLogo(&buf)
	assert.Contains(t, buf.String(), "╔")
	assert.Equal(t, 9, strings.Count(buf.String(), "\n"))
}
