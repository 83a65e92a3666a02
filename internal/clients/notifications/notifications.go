package notifications

// Notifier is told when a pipeline batch completes.
type Notifier interface {
	NotifyClassifyComplete(succeeded, failed, skipped int)
	NotifyDispatchComplete(succeeded, failed int)
	Test() error
}

// Nop drops every notification. It is used when no service is configured.
type Nop struct{}

func (Nop) NotifyClassifyComplete(int, int, int) {}
func (Nop) NotifyDispatchComplete(int, int)      {}
func (Nop) Test() error                          { return nil }
