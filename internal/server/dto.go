package server

import (
	"time"

	"github.com/Soochol/WF-EOL-TESTER-sub007/orchestrator"
)

type APIError struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	OK        bool      `json:"ok"`
	Timestamp time.Time `json:"timestamp"`
}

type StatusResponse struct {
	Status  orchestrator.Status   `json:"status"`
	Running bool                  `json:"running"`
	LastRun *orchestrator.TestRun `json:"last_run,omitempty"`
}

type StartRequest struct {
	SerialNumber string `json:"serial_number"`
}

type StartResponse struct {
	RunID string `json:"run_id"`
}

type StopResponse struct {
	OK bool `json:"ok"`
}
