package models

const (
	CategoryInstallation          = "Instalasi"
	CategoryFiberTroubleshooting  = "Troubleshoot FO"
	CategoryWirelessTroubleshoots = "Troubleshoot Wireless"
)

// DefaultCategories is used when no categories file is configured.
var DefaultCategories = []string{
	CategoryInstallation,
	CategoryFiberTroubleshooting,
	CategoryWirelessTroubleshoots,
}

const (
	DateKeyLayout   = "2006-01-02"
	SheetDateLayout = "02/01/2006"
	SheetTimeLayout = "15:04"
)

const (
	SyncStatusPending    = "pending"
	SyncStatusCompleted  = "completed"
	SyncStatusFailed     = "failed"
	SyncStatusSuperseded = "superseded"
)

const (
	// DefaultSheetName вкладка таблицы, куда пишется журнал работ
	DefaultSheetName = "Sheet1"

	// WorkerQueueSize размер очереди воркера
	WorkerQueueSize = 128

	// DefaultSyncBatchSize сколько задач забирать из sync_queue за один опрос
	DefaultSyncBatchSize = 20

	// DefaultLockTTL время жизни блокировки таблицы в миллисекундах
	DefaultLockTTL = 2 * 60 * 1000
)
