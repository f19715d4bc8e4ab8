package election

// RoleListener receives role changes. Calls for one binding are never
// concurrent and are made only on an actual change of role.
type RoleListener interface {
	// OnActive is called when the member becomes active. snapshot is nil for
	// stateless strategies; in stateful mode it is never nil but may be empty.
	OnActive(snapshot *Snapshot)
	// OnBackup is called when the member becomes backup.
	OnBackup()
}

// ListenerFuncs adapts plain functions to a RoleListener. Nil functions are
// skipped.
type ListenerFuncs struct {
	Active func(snapshot *Snapshot)
	Backup func()
}

var _ RoleListener = ListenerFuncs{}

func (l ListenerFuncs) OnActive(snapshot *Snapshot) {
	if l.Active != nil {
		l.Active(snapshot)
	}
}

func (l ListenerFuncs) OnBackup() {
	if l.Backup != nil {
		l.Backup()
	}
}
