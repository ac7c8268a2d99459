package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsurvey/netsurvey/internal/config"
	"github.com/netsurvey/netsurvey/internal/database"
	"github.com/netsurvey/netsurvey/internal/model"
	"github.com/netsurvey/netsurvey/pkg/session"
	"github.com/netsurvey/netsurvey/pkg/transfer"
	"github.com/netsurvey/netsurvey/pkg/transport"
	"github.com/netsurvey/netsurvey/pkg/transport/transporttest"
)

func testConfig(dest string) *config.Config {
	return &config.Config{
		Survey: config.SurveyConfig{
			User:            "admin",
			Password:        "secret",
			Timeout:         300 * time.Millisecond,
			ExitGrace:       50 * time.Millisecond,
			Workers:         4,
			Retries:         1,
			RetryInterval:   10 * time.Millisecond,
			Perms:           "0644",
			DestDir:         dest,
			FailedHostsFile: "failed_hosts.yaml",
		},
	}
}

// brocadeSCP 返回 brocade 设备的 scp 源端
func brocadeSCP(payload string) transporttest.Factory {
	return func(t transport.Target) *transporttest.Fake {
		name := filepath.Base(t.Command[len("scp -f "):])
		return transporttest.SCPDevice(fmt.Sprintf("C0644 %d %s\n", len(payload), name), payload+"\x00")
	}
}

// aristaExec 按 show 命令返回不同配置
func aristaExec(running, startup string) transporttest.Factory {
	return func(t transport.Target) *transporttest.Fake {
		switch t.Command {
		case "show running-config | no-more":
			return transporttest.ExecDevice("! Command: show running-config\n"+running, 0)
		case "show startup-config | no-more":
			return transporttest.ExecDevice("! Command: show startup-config\n"+startup, 0)
		}
		return transporttest.ExecDevice("% Invalid input\n", 1)
	}
}

type recordingMirror struct {
	mu    sync.Mutex
	hosts []string
	err   error
}

func (m *recordingMirror) Mirror(_ context.Context, runID string, art *transfer.Artifact) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.hosts = append(m.hosts, art.Host)
	return "minio://netsurvey/" + runID + "/" + filepath.Base(art.Dest), nil
}

func resultFor(t *testing.T, results []HostResult, host string) HostResult {
	t.Helper()
	for _, r := range results {
		if r.Host == host {
			return r
		}
	}
	t.Fatalf("no result for %s", host)
	return HostResult{}
}

func TestDump(t *testing.T) {
	dir := t.TempDir()
	router := &transporttest.Router{Hosts: map[string]transporttest.Factory{
		"core1": brocadeSCP("ver 08.0.30\nhostname core1\n"),
		"leaf1": aristaExec("hostname leaf1-run\n", "hostname leaf1\n"),
	}}
	mirror := &recordingMirror{}
	svc := NewSurveyService(testConfig(dir), router, nil, mirror)

	resp, err := svc.Dump(context.Background(), &DumpRequest{
		Devices: []DeviceRef{
			{Host: "core1", Dialect: "brocade"},
			{Host: "leaf1", Dialect: "arista"},
			{Host: "down1", Dialect: "brocade"},
		},
		WriteFailed: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 1, resp.Failed)
	assert.Equal(t, []string{"down1"}, resp.FailedHosts)

	got, err := os.ReadFile(filepath.Join(dir, "core1.cfg"))
	require.NoError(t, err)
	assert.Equal(t, "ver 08.0.30\nhostname core1\n", string(got))
	got, err = os.ReadFile(filepath.Join(dir, "leaf1.cfg"))
	require.NoError(t, err)
	assert.Equal(t, "hostname leaf1\n", string(got), "默认导出启动配置")

	core := resultFor(t, resp.Results, "core1")
	assert.True(t, core.Success)
	assert.Equal(t, 1, core.Attempts)
	assert.Contains(t, core.ObjectURI, "minio://netsurvey/")
	assert.Equal(t, "scp -f startConfig", router.Opens("core1")[0].Command)
	assert.ElementsMatch(t, []string{"core1", "leaf1"}, mirror.hosts)

	down := resultFor(t, resp.Results, "down1")
	assert.False(t, down.Success)
	assert.Equal(t, session.ConnectError.String(), down.ErrorKind)
	assert.Equal(t, 2, down.Attempts, "连接失败重试一次")
	assert.Len(t, router.Opens("down1"), 2)
	_, statErr := os.Stat(filepath.Join(dir, "down1.cfg"))
	assert.True(t, os.IsNotExist(statErr))

	require.Equal(t, filepath.Join(dir, "failed_hosts.yaml"), resp.FailedFile)
	report, err := ReadFailedReport(resp.FailedFile)
	require.NoError(t, err)
	assert.Equal(t, model.RunKindDump, report.Kind)
	assert.Equal(t, resp.RunID, report.RunID)
	require.Len(t, report.Hosts, 1)
	assert.Equal(t, "down1", report.Hosts[0].Host)
	assert.Equal(t, []DeviceRef{{Host: "down1", Dialect: "brocade"}}, report.Refs())
}

func TestDumpRunningConfig(t *testing.T) {
	dir := t.TempDir()
	router := &transporttest.Router{Hosts: map[string]transporttest.Factory{
		"core1": brocadeSCP("hostname core1\n"),
	}}
	svc := NewSurveyService(testConfig(dir), router, nil, nil)

	resp, err := svc.Dump(context.Background(), &DumpRequest{
		Devices: []DeviceRef{{Host: "core1"}},
		Dialect: "brocade",
		Running: true,
		Pattern: "%s-run.cfg",
	})
	require.NoError(t, err)
	assert.Zero(t, resp.Failed)
	assert.Empty(t, resp.FailedFile, "无失败时不写清单")
	assert.Equal(t, "scp -f runConfig", router.Opens("core1")[0].Command)
	assert.FileExists(t, filepath.Join(dir, "core1-run.cfg"))
}

func TestDumpMirrorFailureKeepsResult(t *testing.T) {
	dir := t.TempDir()
	router := &transporttest.Router{Hosts: map[string]transporttest.Factory{
		"core1": brocadeSCP("hostname core1\n"),
	}}
	svc := NewSurveyService(testConfig(dir), router, nil, &recordingMirror{err: errors.New("bucket gone")})

	resp, err := svc.Dump(context.Background(), &DumpRequest{Devices: []DeviceRef{{Host: "core1", Dialect: "brocade"}}})
	require.NoError(t, err)
	assert.True(t, resp.Results[0].Success)
	assert.Empty(t, resp.Results[0].ObjectURI)
}

func TestDumpDestDirMissing(t *testing.T) {
	router := &transporttest.Router{}
	svc := NewSurveyService(testConfig(t.TempDir()), router, nil, nil)

	_, err := svc.Dump(context.Background(), &DumpRequest{
		Devices: []DeviceRef{{Host: "core1", Dialect: "brocade"}},
		DestDir: filepath.Join(t.TempDir(), "missing"),
	})
	assert.ErrorIs(t, err, ErrDestDirMissing)
	assert.Empty(t, router.Opens("core1"), "目录不存在时不连接设备")
}

func TestResolve(t *testing.T) {
	cfg := testConfig(".")
	cfg.Survey.Port = 2222
	cfg.Devices = []config.DeviceConfig{
		{Host: "core1", Dialect: "brocade"},
		{Host: "leaf1", Dialect: "arista", Port: 22},
	}

	devs, err := resolve(cfg, nil, "")
	require.NoError(t, err)
	require.Len(t, devs, 2)
	assert.Equal(t, "brocade", devs[0].dialect.Name())
	assert.Equal(t, 2222, devs[0].port)
	assert.Equal(t, 22, devs[1].port)

	devs, err = resolve(cfg, []DeviceRef{{Host: "LEAF1"}, {Host: "ts1"}}, "digi-cp")
	require.NoError(t, err)
	assert.Equal(t, "arista", devs[0].dialect.Name(), "清单中的方言优先于请求默认值")
	assert.Equal(t, "digi-cp", devs[1].dialect.Name())

	_, err = resolve(cfg, []DeviceRef{{Host: "ts1"}}, "")
	assert.Error(t, err)
	_, err = resolve(cfg, []DeviceRef{{Host: "ts1", Dialect: "nope"}}, "")
	assert.Error(t, err)
	_, err = resolve(&config.Config{}, nil, "cisco")
	assert.Error(t, err)
}

func TestAudit(t *testing.T) {
	router := &transporttest.Router{Hosts: map[string]transporttest.Factory{
		"leaf1": aristaExec("hostname leaf1\n", "hostname leaf1\n"),
		"leaf2": aristaExec("hostname leaf2\nvlan 10\n", "hostname leaf2\n"),
		"leaf3": func(t transport.Target) *transporttest.Fake {
			return transporttest.ExecDevice("% Invalid input\n", 1)
		},
	}}
	svc := NewSurveyService(testConfig("."), router, nil, nil)

	resp, err := svc.Audit(context.Background(), &AuditRequest{
		Devices: []DeviceRef{{Host: "leaf1"}, {Host: "leaf2"}, {Host: "leaf3"}},
		Dialect: "arista",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 2, resp.Problems)

	byHost := map[string]AuditResult{}
	for _, r := range resp.Results {
		byHost[r.Host] = r
	}
	assert.Equal(t, model.AuditMatch, byHost["leaf1"].Result)
	assert.Equal(t, model.AuditUnsaved, byHost["leaf2"].Result)
	assert.Equal(t, model.AuditUnfetchable, byHost["leaf3"].Result)
	assert.NotEmpty(t, byHost["leaf3"].Detail)

	// 运行配置失败后不再获取启动配置
	assert.Len(t, router.Opens("leaf3"), 1)
	opens := router.Opens("leaf1")
	require.Len(t, opens, 2)
	assert.Equal(t, "show running-config | no-more", opens[0].Command)
	assert.Equal(t, "show startup-config | no-more", opens[1].Command)
}

func TestCommands(t *testing.T) {
	router := &transporttest.Router{Hosts: map[string]transporttest.Factory{
		"sw1": func(transport.Target) *transporttest.Fake {
			return transporttest.ShellDevice("sw1#", "\n", map[string]string{
				"show clock":   "12:00:00 UTC\r\n",
				"show version": "Cisco IOS 15.2\r\n",
			})
		},
		"sw2": func(transport.Target) *transporttest.Fake {
			f := transporttest.NewFake("\n", func(f *transporttest.Fake, line string) {
				switch line {
				case "exit":
					f.Hangup(3)
				default:
					f.Emit(line + "\r\nok\r\nsw2#")
				}
			})
			f.Greeting = "sw2#"
			return f
		},
		"sw3": func(transport.Target) *transporttest.Fake {
			f := transporttest.NewFake("\n", func(f *transporttest.Fake, line string) {
				switch line {
				case "show clock":
					f.Emit("show clock\r\n12:00\r\n")
				default:
					f.Emit(line + "\r\nsw3#")
				}
			})
			f.Greeting = "sw3#"
			return f
		},
	}}
	svc := NewSurveyService(testConfig("."), router, nil, nil)

	resp, err := svc.Commands(context.Background(), &CommandsRequest{
		Devices:  []DeviceRef{{Host: "sw1"}, {Host: "sw2"}, {Host: "sw3"}},
		Dialect:  "cisco",
		Commands: []string{"show clock", "show version"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 2, resp.Failed)

	byHost := map[string]CommandResult{}
	for _, r := range resp.Results {
		byHost[r.Host] = r
	}

	sw1 := byHost["sw1"]
	assert.True(t, sw1.Success)
	assert.Equal(t, []session.Result{
		{Command: "show clock", Output: "12:00:00 UTC\n"},
		{Command: "show version", Output: "Cisco IOS 15.2\n"},
	}, sw1.Results)

	sw2 := byHost["sw2"]
	assert.False(t, sw2.Success, "非零退出码视为失败")
	assert.Equal(t, 3, sw2.Status)
	assert.Len(t, sw2.Results, 2)

	sw3 := byHost["sw3"]
	assert.False(t, sw3.Success)
	assert.True(t, sw3.Partial)
	assert.Equal(t, session.ProtocolTimeout.String(), sw3.ErrorKind)
	assert.Equal(t, 1, sw3.Attempts, "超时不重试")
	require.NotEmpty(t, sw3.Results)
	assert.Equal(t, "12:00\n", sw3.Results[0].Output)
}

func TestCommandsRejectsEmpty(t *testing.T) {
	svc := NewSurveyService(testConfig("."), &transporttest.Router{}, nil, nil)
	_, err := svc.Commands(context.Background(), &CommandsRequest{Devices: []DeviceRef{{Host: "sw1", Dialect: "cisco"}}})
	assert.Error(t, err)
	_, err = svc.Commands(context.Background(), nil)
	assert.Error(t, err)
}

func TestRetryOnlyTransient(t *testing.T) {
	svc := NewSurveyService(testConfig("."), nil, nil, nil)

	calls := 0
	attempts, err := svc.retry(context.Background(), "sw1", func() error {
		calls++
		return &session.Error{Kind: session.ProtocolFraming, Host: "sw1", Err: errors.New("bad header")}
	})
	assert.ErrorIs(t, err, session.ProtocolFraming)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)

	calls = 0
	attempts, err = svc.retry(context.Background(), "sw1", func() error {
		calls++
		if calls == 1 {
			return &session.Error{Kind: session.TransportError, Host: "sw1", Err: errors.New("reset")}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestForEachSkipsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	ran, skippedIdx := []int{}, []int{}

	forEach(ctx, 1, 4, func(ctx context.Context, i int) {
		mu.Lock()
		ran = append(ran, i)
		mu.Unlock()
		cancel()
	}, func(i int, err error) {
		assert.ErrorIs(t, err, context.Canceled)
		mu.Lock()
		skippedIdx = append(skippedIdx, i)
		mu.Unlock()
	})

	assert.Equal(t, []int{0}, ran)
	assert.Equal(t, []int{1, 2, 3}, skippedIdx)
}

func TestFailedReportRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFailedHostsFile)
	in := FailedReport{
		Kind:        model.RunKindAudit,
		RunID:       "r1",
		GeneratedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Hosts:       []FailedHost{{Host: "sw1", Dialect: "cisco", ErrorKind: "connect error", Error: "refused"}},
	}
	require.NoError(t, WriteFailedReport(path, in))

	out, err := ReadFailedReport(path)
	require.NoError(t, err)
	assert.Equal(t, in.Hosts, out.Hosts)
	assert.True(t, in.GeneratedAt.Equal(out.GeneratedAt))

	_, err = ReadFailedReport(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestHistoryPersistsRuns(t *testing.T) {
	db, err := database.Open(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "history.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	router := &transporttest.Router{Hosts: map[string]transporttest.Factory{
		"core1": brocadeSCP("hostname core1\n"),
	}}
	svc := NewSurveyService(testConfig(t.TempDir()), router, NewHistory(db), nil)
	resp, err := svc.Dump(context.Background(), &DumpRequest{Devices: []DeviceRef{
		{Host: "core1", Dialect: "brocade"},
		{Host: "down1", Dialect: "brocade"},
	}})
	require.NoError(t, err)

	runs, err := svc.History().ListRuns(model.RunKindDump, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, resp.RunID, runs[0].ID)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.Equal(t, 1, runs[0].Failed)

	detail, err := svc.History().GetRun(resp.RunID)
	require.NoError(t, err)
	require.Len(t, detail.Fetches, 2)
	for _, f := range detail.Fetches {
		assert.Equal(t, "startConfig", f.Source)
		if f.Host == "core1" {
			assert.True(t, f.Success)
			assert.Len(t, f.Checksum, 64)
		} else {
			assert.Equal(t, session.ConnectError.String(), f.ErrorKind)
		}
	}

	_, err = svc.History().GetRun("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)

	runs, err = svc.History().ListRuns(model.RunKindAudit, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestHistoryWithoutDatabase(t *testing.T) {
	h := NewHistory(nil)
	run := h.StartRun(model.RunKindCommands, 2)
	assert.NotEmpty(t, run.ID)
	h.FinishRun(run, 0, nil)
	assert.Equal(t, model.RunStatusSuccess, run.Status)

	runs, err := h.ListRuns("", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	_, err = h.GetRun(run.ID)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestUpdateConfig(t *testing.T) {
	svc := NewSurveyService(testConfig("."), nil, nil, nil)
	next := testConfig("/tmp")
	svc.UpdateConfig(next)
	assert.Same(t, next, svc.Config())
}
