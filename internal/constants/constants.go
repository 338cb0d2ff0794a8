package constants

// Advisory lock ids. Instances sharing a Postgres database serialize these sections.
const (
	MigrationLock = iota + 7301
	RecoveryLock
)

var Locks = []int{
	MigrationLock,
	RecoveryLock,
}

const (
	TaskIDLength = 8

	// MaxResultMessageLength bounds result_message after sanitizing.
	MaxResultMessageLength = 500
)
