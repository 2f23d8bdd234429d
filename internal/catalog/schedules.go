package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"malloy-publisher/internal/domain"
)

// SchedulesManifestName lists a package's declared schedules. Schedules are
// surfaced read-only; nothing in the server executes them.
const SchedulesManifestName = "publisher.schedules.json"

type scheduleManifestEntry struct {
	Resource   string `json:"resource"`
	Schedule   string `json:"schedule"`
	Action     string `json:"action"`
	Connection string `json:"connection"`
}

// loadSchedules parses publisher.schedules.json if present and computes the
// next fire time of each valid cron expression.
func (p *Package) loadSchedules() error {
	raw, err := os.ReadFile(filepath.Join(p.root, SchedulesManifestName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return domain.ErrConfig("read %s for package '%s': %v", SchedulesManifestName, p.name, err)
	}
	var entries []scheduleManifestEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return domain.ErrConfig("parse %s for package '%s': %v", SchedulesManifestName, p.name, err)
	}

	now := time.Now()
	p.schedules = make([]domain.Schedule, 0, len(entries))
	for _, e := range entries {
		s := domain.Schedule{
			Resource:   e.Resource,
			Schedule:   e.Schedule,
			Action:     e.Action,
			Connection: e.Connection,
		}
		if expr, err := cron.ParseStandard(e.Schedule); err == nil {
			next := expr.Next(now)
			s.NextRunTime = &next
		}
		p.schedules = append(p.schedules, s)
	}
	return nil
}
