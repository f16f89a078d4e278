package services

// Observer receives operational counters. metrics.Recorder implements it.
type Observer interface {
	AuditWritten(action string)
	AuditDropped(reason string)
	SignInOutcome(outcome string)
	CodeChecked(result string)
	CodeDelivered(ok bool)
}

type nopObserver struct{}

func (nopObserver) AuditWritten(string)  {}
func (nopObserver) AuditDropped(string)  {}
func (nopObserver) SignInOutcome(string) {}
func (nopObserver) CodeChecked(string)   {}
func (nopObserver) CodeDelivered(bool)   {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
