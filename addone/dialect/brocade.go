package dialect

// brocadePaging FastIron 系列分页提示，按键后设备用退格擦除提示并接着输出下一行
const brocadePaging = `--More--, next page: Space, next line: Return key, quit: Control-c\x08[ \x08]+\x08(?P<data>.*)`

// 首个 exit 后设备可能不关闭通道，需再发一次
var doubleExit = []ExitStep{{Command: "exit"}, {Command: "exit", Optional: true}}

func init() {
	Register(MustNew(Spec{
		Name:           "brocade",
		PromptTemplate: `^SSH@{host}(?:\([\w-]*\))?[>#](?P<cmd>.*)`,
		PagingPattern:  brocadePaging,
		PagingPrompt:   `--More--, next page`,
		Terminator:     "\r\n",
		ExitSequence:   doubleExit,
		Transfer:       TransferSCP,
	}))

	Register(MustNew(Spec{
		Name:           "ruckus",
		PromptTemplate: `^SSH@{host}(?:\([\w-]*\))?[>#](?P<cmd>.*)`,
		PagingPattern:  brocadePaging,
		PagingPrompt:   `--More--, next page`,
		Terminator:     "\n",
		ExitSequence:   doubleExit,
		Transfer:       TransferSCP,
	}))

	Register(MustNew(Spec{
		Name:           "icx",
		PromptTemplate: `^SSH@{host}(?:\([\w-]*\))?#(?P<cmd>.*)`,
		PagingPattern:  brocadePaging,
		PagingPrompt:   `--More--, next page`,
		Terminator:     "\r\n",
		ExitSequence:   doubleExit,
		Transfer:       TransferShellShow,
		StartPattern:   `^ver\s[\w.]+`,
	}))
}
