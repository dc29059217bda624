package takeover

// Slave tracks the starting node's own view of one take-over (spec
// §4.5 "Slave state machine": Idle → Started → CreatePrepare →
// CopyFragCompleted → CreateCommit → CopyCompleted → Idle"). It is a
// thin driver rather than a Manager because a starting node only ever
// runs one of these per take-over slot, with no fan-out of its own.
type Slave struct {
	State SlaveState
}

func NewSlave() *Slave { return &Slave{State: SlaveIdle} }

func (s *Slave) OnStartTo() { s.State = SlaveStarted }

func (s *Slave) OnCreatePrepare() { s.State = SlaveCreatePrepare }

// OnCopyFragDone is reached once the copy node has streamed the
// fragment's data across.
func (s *Slave) OnCopyFragDone() { s.State = SlaveCopyFragCompleted }

func (s *Slave) OnCreateCommit() { s.State = SlaveCreateCommit }

func (s *Slave) OnCopyCompleted() { s.State = SlaveCopyCompleted }

// OnEndTo returns the slave to Idle, ready for its next take-over.
func (s *Slave) OnEndTo() { s.State = SlaveIdle }
