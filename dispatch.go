package seclink

// Executor is the captured cooperative dispatch context a Connection uses
// to trampoline delivery callbacks back onto the consumer's preferred
// context. Callbacks must not assume a fixed goroutine identity: they may
// run on either the reader goroutine (inlineExecutor) or whatever context
// Run trampolines onto.
type Executor interface {
	Run(fn func())
}

// inlineExecutor runs fn synchronously on the calling goroutine. It is the
// default used when no Executor is supplied to Wrap/Connect.
type inlineExecutor struct{}

func (inlineExecutor) Run(fn func()) {
	fn()
}
