package server

// SSEEvent is serialised as JSON and pushed over the GET /events SSE stream.
type SSEEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Status is a live snapshot of the daemon state.
type Status struct {
	Running       bool   `json:"running"`
	DisplayOnline bool   `json:"display_online"`
	MasterOn      bool   `json:"master_on"`
	SleepModeOn   bool   `json:"sleep_mode_on"`
	OpenCircuits  int    `json:"open_circuits"`
	HistoryRows   int    `json:"history_rows"`
	LastUpdateAt  string `json:"last_update_at,omitempty"`
	LastGenerator string `json:"last_generator,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// countRow is a convenience struct for SELECT COUNT(*) AS n queries.
type countRow struct {
	N int `db:"n"`
}
