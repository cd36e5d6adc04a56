package api

import (
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

type healthResponse struct {
	Status        string  `json:"status"`
	Displays      int     `json:"displays"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	RSSBytes      uint64  `json:"rss_bytes,omitempty"`
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(s.started).Seconds(),
		RSSBytes:      residentMemory(),
	}
	if s.displays != nil {
		resp.Displays = s.displays.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

// residentMemory returns the RSS of this process, or 0 if it cannot be
// read on this platform.
func residentMemory() uint64 {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	mem, err := p.MemoryInfo()
	if err != nil || mem == nil {
		return 0
	}
	return mem.RSS
}
