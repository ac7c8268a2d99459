package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinDialectsRegistered(t *testing.T) {
	names := Names()
	for _, want := range []string{"arista", "brocade", "cisco", "digi-cp", "digi-ps", "icx", "ruckus"} {
		assert.Contains(t, names, want, "内置方言应已注册")
	}

	_, err := Get("juniper")
	assert.Error(t, err)
}

func TestNewDefaults(t *testing.T) {
	d, err := New(Spec{Name: "plain", PromptTemplate: `^{host}\$(?P<cmd>.*)`})
	require.NoError(t, err)

	assert.Equal(t, ProtocolSSH, d.Protocol())
	assert.Equal(t, 22, d.DefaultPort())
	assert.Equal(t, "\n", d.Terminator())
	assert.Equal(t, " ", d.ContinueKeys())
	assert.Equal(t, []ExitStep{{Command: "exit"}}, d.ExitSequence())
	assert.Equal(t, "show running-config", d.ShowCommand("running-config"))
	assert.Equal(t, TransferShellShow, d.Transfer())
}

func TestNewRejectsInvalidSpecs(t *testing.T) {
	cases := map[string]Spec{
		"missing name":     {PromptTemplate: `^x(?P<cmd>.*)`},
		"no cmd group":     {Name: "a", PromptTemplate: `^{host}#`},
		"bad regex":        {Name: "b", PromptTemplate: `^{host}(#(?P<cmd>.*)`},
		"bad paging":       {Name: "c", PromptTemplate: `^{host}#(?P<cmd>.*)`, PagingPattern: `(`},
		"telnet no prompt": {Name: "d", Protocol: ProtocolTelnet, PromptTemplate: `^#>(?P<cmd>.*)`},
		"bad banner":       {Name: "e", PromptTemplate: `^{host}#(?P<cmd>.*)`, BannerTemplate: `^!(%s`},
	}
	for name, spec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(spec)
			assert.Error(t, err)
		})
	}
}

func TestPromptFor(t *testing.T) {
	d, err := Get("cisco")
	require.NoError(t, err)

	re, err := d.PromptFor("core-sw1.example.net")
	require.NoError(t, err)
	m := re.FindStringSubmatch("core-sw1#show version")
	require.NotNil(t, m)
	assert.Equal(t, "show version", m[re.SubexpIndex("cmd")])
	assert.False(t, re.MatchString("other-sw#show version"), "其他主机名不应匹配")

	// IP 地址退化为通配
	re, err = d.PromptFor("10.0.0.1")
	require.NoError(t, err)
	assert.True(t, re.MatchString("anything#"))
}

func TestPromptHost(t *testing.T) {
	assert.Equal(t, "sw1", PromptHost("sw1.lab.local"))
	assert.Equal(t, "sw1", PromptHost(" sw1 "))
	assert.Equal(t, "", PromptHost("192.168.1.10"))
	assert.Equal(t, "", PromptHost("fe80::1"))
}

func TestBrocadePromptVariants(t *testing.T) {
	d, err := Get("brocade")
	require.NoError(t, err)
	re, err := d.PromptFor("edge1")
	require.NoError(t, err)

	assert.True(t, re.MatchString("SSH@edge1#"))
	assert.True(t, re.MatchString("SSH@edge1(config-if-e1000-1/1/1)#show"))
	assert.Equal(t, "\r\n", d.Terminator())
	assert.Equal(t, []ExitStep{{Command: "exit"}, {Command: "exit", Optional: true}}, d.ExitSequence())
	assert.Equal(t, TransferSCP, d.Transfer())
}

func TestMatchPaging(t *testing.T) {
	d, err := Get("icx")
	require.NoError(t, err)

	banner := "--More--, next page: Space, next line: Return key, quit: Control-c"
	assert.True(t, d.AwaitingPage(banner))

	data, ok := d.MatchPaging(banner + "\x08\x08\x08   \x08\x08\x08interface ethernet 1/1/1")
	assert.True(t, ok)
	assert.Equal(t, "interface ethernet 1/1/1", data)

	_, ok = d.MatchPaging("interface ethernet 1/1/2")
	assert.False(t, ok)

	arista, err := Get("arista")
	require.NoError(t, err)
	_, ok = arista.MatchPaging(banner)
	assert.False(t, ok, "未配置分页的方言永不匹配")
	assert.False(t, arista.AwaitingPage(banner))
}

func TestAristaBannerAndSuffix(t *testing.T) {
	d, err := Get("arista")
	require.NoError(t, err)

	assert.Equal(t, "show version | no-more", d.Command("show version"))
	assert.Equal(t, "show running-config | no-more", d.ShowCommand("running-config"))

	banner := d.Banner("running-config")
	require.NotNil(t, banner)
	assert.True(t, banner.MatchString("! Command: show running-config"))
	assert.False(t, banner.MatchString("! Command: show startup-config"))

	m := d.ModTimePattern().FindStringSubmatch("! Startup-config last modified at Mon Jan 1 00:00:00 2024 by admin")
	require.NotNil(t, m)
	assert.Equal(t, "Mon Jan 1 00:00:00 2024", m[d.ModTimePattern().SubexpIndex("date")])
}

func TestCiscoTransferPreamble(t *testing.T) {
	d, err := Get("cisco")
	require.NoError(t, err)

	assert.Equal(t, []string{"terminal length 0"}, d.Preamble())
	assert.Equal(t, []string{"enable", "terminal length 0"}, d.TransferPreamble())
	assert.True(t, d.EnablePrompt().MatchString("Password:"))
	assert.True(t, d.StartPattern().MatchString("!"))
	assert.True(t, d.StopAtBlank())

	// 副本修改不影响方言
	p := d.Preamble()
	p[0] = "x"
	assert.Equal(t, "terminal length 0", d.Preamble()[0])
}

func TestDigiDialects(t *testing.T) {
	ps, err := Get("digi-ps")
	require.NoError(t, err)
	assert.Equal(t, ProtocolTelnet, ps.Protocol())
	assert.Equal(t, 23, ps.DefaultPort())
	assert.Equal(t, 1, ps.EchoBlankLines())
	assert.True(t, ps.LoginPrompt().MatchString("login: "))
	assert.True(t, ps.PasswordPrompt().MatchString("password: "))
	assert.Equal(t, "cpconf term", ps.ShowCommand("cpconf term"))

	re, err := ps.PromptFor("ts1")
	require.NoError(t, err)
	m := re.FindStringSubmatch("#> show config")
	require.NotNil(t, m)
	assert.Equal(t, "show config", m[re.SubexpIndex("cmd")])

	cp, err := Get("digi-cp")
	require.NoError(t, err)
	assert.Equal(t, 0, cp.EchoBlankLines())
}
