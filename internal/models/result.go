package models

import "time"

// PingResult is the outcome of a reachability probe.
type PingResult struct {
	HostID       string        `json:"hostId,omitempty"`
	IsOnline     bool          `json:"isOnline"`
	ResponseTime time.Duration `json:"responseTime"`
	Banner       string        `json:"banner,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// PowerResult is the outcome of a wake or shutdown request.
type PowerResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}
