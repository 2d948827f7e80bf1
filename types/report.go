package types

import "time"

// ScanReport is the archived record of a finished scan job.
type ScanReport struct {
	ID        string             `json:"id"`
	Status    JobStatus          `json:"status"`
	Files     map[string]Verdict `json:"files"`
	Clean     int                `json:"clean"`
	Dirty     int                `json:"dirty"`
	Engine    string             `json:"engine,omitempty"`
	Antivirus AntivirusInfo      `json:"antivirus"`
	Error     string             `json:"error,omitempty"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at"`
}

// CountVerdicts fills Clean and Dirty from Files.
func (r *ScanReport) CountVerdicts() {
	r.Clean, r.Dirty = 0, 0
	for _, v := range r.Files {
		if v == VerdictClean {
			r.Clean++
		} else {
			r.Dirty++
		}
	}
}
