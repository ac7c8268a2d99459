package dialect

func init() {
	Register(MustNew(Spec{
		Name:           "cisco",
		PromptTemplate: `^{host}[>#](?P<cmd>.*)`,
		PagingPattern:  `^\s*--More--\s*[\x08 ]*(?P<data>.*)$`,
		PagingPrompt:   `--More--`,
		Terminator:     "\n",
		Preamble:       []string{"terminal length 0"},
		EnablePrompt:   `(?:P|p)assword:`,
		Transfer:       TransferShellShow,

		// 特权模式下才能输出 startup-config
		TransferPreamble: []string{"enable", "terminal length 0"},
		StartPattern:     `^!\s*$`,
		StopAtBlank:      true,
	}))

	Register(MustNew(Spec{
		Name:           "arista",
		PromptTemplate: `^{host}(?:\.ARISTA)?[>#](?P<cmd>.*)`,
		Terminator:     "\n",
		CommandSuffix:  " | no-more",
		Transfer:       TransferExecShow,
		ShowTemplate:   "show %s | no-more",
		BannerTemplate: `^!\s*Command:\s*show\s+%s`,
		ModTimePattern: `^!\s*Startup-config\s+last\s+modified\s+at\s+(?P<date>.*)\s+by\s`,
	}))
}
