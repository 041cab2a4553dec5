package session

// Command is the closed set of supervisor-issued verbs from §4.7, each
// dispatched into the owning session's Loop input channel so ordering with
// router events is preserved ("takeover takes effect before its
// acknowledgement is sent", §5).
type Command interface {
	isCommand()
}

// TakeoverCmd requires status=ACTIVE; Reply carries the result.
type TakeoverCmd struct {
	SupervisorID string
	Reply        chan error
}

// HandbackCmd requires mode=HUMAN and caller is controller.
type HandbackCmd struct {
	SupervisorID string
	Context      string
	Reply        chan error
}

// InjectContextCmd requires mode=AI and aiBinding.state=READY.
type InjectContextCmd struct {
	Context string
	Reply   chan error
}

// SupervisorMessageCmd is valid only while HUMAN.
type SupervisorMessageCmd struct {
	SupervisorID string
	Content      string
}

// SupervisorAudioCmd is valid only while HUMAN, from the controller only.
type SupervisorAudioCmd struct {
	SupervisorID string
	Data         []byte
}

// EndCallCmd tears the session down and triggers summary persistence.
type EndCallCmd struct {
	Reply chan error
}

func (TakeoverCmd) isCommand()           {}
func (HandbackCmd) isCommand()           {}
func (InjectContextCmd) isCommand()      {}
func (SupervisorMessageCmd) isCommand()  {}
func (SupervisorAudioCmd) isCommand()    {}
func (EndCallCmd) isCommand()            {}
