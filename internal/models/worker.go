package models

import "time"

type WorkerModel struct {
	Name          string `json:"name"`
	WalletAddress string `json:"walletAddress"`
	Os            string `json:"os"`
	Cpu           string `json:"cpu"`
	CpuNb         int    `json:"cpuNb"`
	MemorySize    int    `json:"memorySize"`
	TeeEnabled    bool   `json:"teeEnabled"`
	GpuEnabled    bool   `json:"gpuEnabled"`
}

// TaskSummary is the local view of an in-flight task.
type TaskSummary struct {
	ChainTaskId      string               `json:"chain_task_id"`
	LastNotification TaskNotificationType `json:"last_notification"`
	LastStatus       ReplicateStatus      `json:"last_status"`
	IsTeeTask        bool                 `json:"is_tee_task"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

type VersionInfo struct {
	Version         string `json:"version"`
	OperatingSystem string `json:"operating_system"`
	Architecture    string `json:"architecture"`
	CPUCores        int    `json:"cpu_cores"`
}
