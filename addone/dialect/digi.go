package dialect

// Digi 终端服务器只支持 telnet，提示符不含主机名
func init() {
	base := Spec{
		Protocol:       ProtocolTelnet,
		LoginPrompt:    `(?i)login:\s*$`,
		PasswordPrompt: `(?i)password:\s*$`,
		PromptTemplate: `^#>\s?(?P<cmd>.*)`,
		Terminator:     "\n",
		Transfer:       TransferShellShow,
		// 配置导出命令本身由调用方给出
		ShowTemplate: "%s",
	}

	// PortServer 在命令回显后多输出一个空行
	ps := base
	ps.Name = "digi-ps"
	ps.EchoBlankLines = 1
	Register(MustNew(ps))

	cp := base
	cp.Name = "digi-cp"
	Register(MustNew(cp))
}
