package simulate

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/netsurvey/netsurvey/addone/dialect"
	"github.com/netsurvey/netsurvey/pkg/session"
	"github.com/netsurvey/netsurvey/pkg/transfer"
	"github.com/netsurvey/netsurvey/pkg/transport"
)

var creds = transport.Credentials{Username: "admin", Password: "secret"}

func startDevice(t *testing.T, d Device) (*Manager, *Device) {
	t.Helper()
	d.Username, d.Password = creds.Username, creds.Password
	dev, err := NewDevice(d)
	require.NoError(t, err)
	m, err := Start(dev, Options{Listen: "127.0.0.1"})
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m, dev
}

func portOf(t *testing.T, addr string) int {
	t.Helper()
	_, p, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	n, err := strconv.Atoi(p)
	require.NoError(t, err)
	return n
}

func mustDialect(t *testing.T, name string) *dialect.Dialect {
	t.Helper()
	d, err := dialect.Get(name)
	require.NoError(t, err)
	return d
}

func dialer() *transport.Dialer {
	return transport.NewDialer(transport.Options{
		ConnectTimeout: 2 * time.Second,
		SSH:            transport.SSHOptions{InsecureSkipVerify: true},
	}, nil)
}

func fetcher(opener transport.Opener) *transfer.Fetcher {
	return transfer.NewFetcher(opener, transfer.Options{
		Credentials: creds,
		Timeout:     2 * time.Second,
		ExitGrace:   200 * time.Millisecond,
	})
}

func TestSSHShellWithPaging(t *testing.T) {
	dir := t.TempDir()
	var lines []string
	for i := 1; i <= 7; i++ {
		lines = append(lines, "ethernet 1/1/"+strconv.Itoa(i)+" is up")
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "show_interfaces_brief.txt"), []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	m, _ := startDevice(t, Device{Dialect: "brocade", Hostname: "core1", PageLines: 3, CommandsDir: dir})

	out, err := session.Run(context.Background(), dialer(), session.Config{
		Dialect:     mustDialect(t, "brocade"),
		Host:        "127.0.0.1",
		Port:        portOf(t, m.SSHAddr()),
		Credentials: creds,
		Timeout:     2 * time.Second,
		ExitGrace:   200 * time.Millisecond,
	}, []string{"show interfaces brief", "show version"})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Status)
	require.Len(t, out.Results, 2)
	assert.Equal(t, strings.Join(lines, "\n")+"\n", out.Results[0].Output, "分页内容应完整拼接")
	assert.Equal(t, "core1 simulated brocade device\n", out.Results[1].Output)
}

func TestSCPSource(t *testing.T) {
	m, dev := startDevice(t, Device{Dialect: "brocade", Hostname: "core1"})
	dest := filepath.Join(t.TempDir(), "core1.cfg")

	art, err := fetcher(dialer()).Fetch(context.Background(), transfer.Request{
		Host: "127.0.0.1", Port: portOf(t, m.SSHAddr()), Dialect: mustDialect(t, "brocade"),
		Source: "startConfig", Dest: dest,
	})
	require.NoError(t, err)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, dev.StartConfig, string(got))
	assert.Equal(t, int64(len(dev.StartConfig)), art.Size)

	_, err = fetcher(dialer()).Fetch(context.Background(), transfer.Request{
		Host: "127.0.0.1", Port: portOf(t, m.SSHAddr()), Dialect: mustDialect(t, "brocade"),
		Source: "missing", Dest: dest,
	})
	assert.ErrorIs(t, err, session.ProtocolFraming)
}

func TestExecShow(t *testing.T) {
	m, _ := startDevice(t, Device{
		Dialect:     "arista",
		Hostname:    "leaf1",
		StartConfig: "hostname leaf1\n!\nend\n",
		RunConfig:   "hostname leaf1\nvlan 10\n!\nend\n",
	})
	dir := t.TempDir()
	port := portOf(t, m.SSHAddr())

	art, err := fetcher(dialer()).Fetch(context.Background(), transfer.Request{
		Host: "127.0.0.1", Port: port, Dialect: mustDialect(t, "arista"),
		Source: "startup-config", Dest: filepath.Join(dir, "start.cfg"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Thu Jan  1 00:00:00 2026", art.ModTime)
	got, _ := os.ReadFile(filepath.Join(dir, "start.cfg"))
	assert.Equal(t, "hostname leaf1\n!\nend\n", string(got))

	_, err = fetcher(dialer()).Fetch(context.Background(), transfer.Request{
		Host: "127.0.0.1", Port: port, Dialect: mustDialect(t, "arista"),
		Source: "running-config", Dest: filepath.Join(dir, "run.cfg"),
	})
	require.NoError(t, err)
	got, _ = os.ReadFile(filepath.Join(dir, "run.cfg"))
	assert.Equal(t, "hostname leaf1\nvlan 10\n!\nend\n", string(got))
}

func TestCiscoEnableShellShow(t *testing.T) {
	m, _ := startDevice(t, Device{Dialect: "cisco", Hostname: "sw1", PageLines: 2})
	dest := filepath.Join(t.TempDir(), "sw1.cfg")

	_, err := fetcher(dialer()).Fetch(context.Background(), transfer.Request{
		Host: "127.0.0.1", Port: portOf(t, m.SSHAddr()), Dialect: mustDialect(t, "cisco"),
		Source: "startup-config", Dest: dest,
	})
	require.NoError(t, err)
	got, _ := os.ReadFile(dest)
	assert.Equal(t, "!\nversion 15.2\nhostname sw1\n!\nend\n", string(got))
}

func TestTelnetLogin(t *testing.T) {
	m, _ := startDevice(t, Device{Dialect: "digi-ps", Hostname: "ts1"})

	out, err := session.Run(context.Background(), dialer(), session.Config{
		Dialect:     mustDialect(t, "digi-ps"),
		Host:        "127.0.0.1",
		Port:        portOf(t, m.TelnetAddr()),
		Credentials: creds,
		Timeout:     2 * time.Second,
		ExitGrace:   200 * time.Millisecond,
	}, []string{"cpconf term"})
	require.NoError(t, err)
	assert.Equal(t, []session.Result{{Command: "cpconf term", Output: "set user=root\nset port=1 ipaddr=ts1\n"}}, out.Results)
}

func TestSSHRejectsBadPassword(t *testing.T) {
	m, _ := startDevice(t, Device{Dialect: "brocade"})
	_, err := session.Run(context.Background(), dialer(), session.Config{
		Dialect:     mustDialect(t, "brocade"),
		Host:        "127.0.0.1",
		Port:        portOf(t, m.SSHAddr()),
		Credentials: transport.Credentials{Username: "admin", Password: "wrong"},
		Timeout:     2 * time.Second,
	}, []string{"show version"})
	assert.ErrorIs(t, err, session.ConnectError)
}

func TestKnownHosts(t *testing.T) {
	m, _ := startDevice(t, Device{Dialect: "brocade", Hostname: "core1"})
	path := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(path, []byte(knownhosts.Line([]string{m.SSHAddr()}, m.HostKey())+"\n"), 0o600))

	d := transport.NewDialer(transport.Options{
		ConnectTimeout: 2 * time.Second,
		SSH:            transport.SSHOptions{KnownHostsPath: path},
	}, nil)
	_, err := session.Run(context.Background(), d, session.Config{
		Dialect:     mustDialect(t, "brocade"),
		Host:        "127.0.0.1",
		Port:        portOf(t, m.SSHAddr()),
		Credentials: creds,
		Timeout:     2 * time.Second,
		ExitGrace:   200 * time.Millisecond,
	}, []string{"show version"})
	require.NoError(t, err)

	other, _ := startDevice(t, Device{Dialect: "brocade", Hostname: "core2"})
	require.NoError(t, os.WriteFile(path, []byte(knownhosts.Line([]string{other.SSHAddr()}, m.HostKey())+"\n"), 0o600))
	_, err = session.Run(context.Background(), d, session.Config{
		Dialect:     mustDialect(t, "brocade"),
		Host:        "127.0.0.1",
		Port:        portOf(t, other.SSHAddr()),
		Credentials: creds,
		Timeout:     2 * time.Second,
	}, []string{"show version"})
	assert.ErrorIs(t, err, session.ConnectError, "主机密钥不匹配时拒绝连接")
}

func TestNewDeviceRejectsUnknownDialect(t *testing.T) {
	_, err := NewDevice(Device{Dialect: "nope"})
	assert.Error(t, err)
}

func TestStopIsIdempotent(t *testing.T) {
	dev, err := NewDevice(Device{Dialect: "cisco"})
	require.NoError(t, err)
	m, err := Start(dev, Options{SSHPort: 0, TelnetPort: -1})
	require.NoError(t, err)
	assert.Empty(t, m.TelnetAddr())
	m.Stop()
	m.Stop()
}
