package config

type StorageDriver int

const (
	File StorageDriver = iota + 1
	Postgres
	Redis
)

type MessageQueueDriver int

const (
	RabbitMQ MessageQueueDriver = iota + 1
	NATS
)

func (d MessageQueueDriver) String() string {
	switch d {
	case RabbitMQ:
		return "rabbitmq"
	case NATS:
		return "nats"
	default:
		return "unknown"
	}
}

// String converts the StorageDriver enum to a human-readable string.
func (d StorageDriver) String() string {
	switch d {
	case File:
		return "file"
	case Postgres:
		return "postgres"
	case Redis:
		return "redis"
	}
	return "unknown"
}

// ParseStorageDriver is the inverse of StorageDriver.String.
func ParseStorageDriver(name string) (StorageDriver, bool) {
	for _, d := range []StorageDriver{File, Postgres, Redis} {
		if d.String() == name {
			return d, true
		}
	}
	return 0, false
}

type TimeSyncMethod string

const (
	TimeSyncAuto TimeSyncMethod = "auto"
	TimeSyncNTP  TimeSyncMethod = "ntp"
	TimeSyncHTTP TimeSyncMethod = "http"
	TimeSyncNone TimeSyncMethod = "none"
)

func (m TimeSyncMethod) IsValid() bool {
	switch m {
	case TimeSyncAuto, TimeSyncNTP, TimeSyncHTTP, TimeSyncNone:
		return true
	}
	return false
}
