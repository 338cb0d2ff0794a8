package config

import "time"

const (
	DefaultStorageDriver = File
	DefaultTaskFile      = "data/tasks.json"
	DefaultTimezone      = "Europe/Berlin"
	DefaultHTTPPort      = 8000
	DefaultLogLevel      = "info"
	DefaultTicketCount   = 1

	DefaultAttemptLead    = 5 * time.Second
	DefaultWarmupLead     = 15 * time.Second
	DefaultImmediateDelay = 2 * time.Second

	DefaultRetryCount = 3
	DefaultRetryDelay = time.Second

	DefaultPollWindow   = 5 * time.Minute
	DefaultPollInterval = 500 * time.Millisecond

	DefaultMonitorInterval     = 15 * time.Second
	DefaultMonitorFastInterval = 2 * time.Second
	DefaultGoldenHour          = 60 * time.Minute

	DefaultPageWaitVariance = 0.25

	// A screening's tickets usually go on sale this many days ahead, at this local hour.
	DefaultSaleAdvanceDays = 3
	DefaultSaleHour        = 10

	DefaultFeedBaseURL    = "https://www.berlinale.de"
	DefaultFeedStatusPath = "/10am/10am_ticket_en.js"
	DefaultFeedTimeout    = 15 * time.Second
	DefaultFeedRateLimit  = 4.0
	DefaultFeedBurst      = 2

	DefaultPurchaseBaseURL = "https://www.eventim.de"
	DefaultPurchaseTimeout = 15 * time.Second

	DefaultTimeSyncMethod   = TimeSyncAuto
	DefaultTimeSyncInterval = 30 * time.Minute
)
