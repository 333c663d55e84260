package app

import (
	"context"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/talkincode/wagateway/internal/gateway"
	"go.uber.org/zap"
)

const eventLogRetention = 30 * 24 * time.Hour

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() {
	loc, err := time.LoadLocation(a.appConfig.System.Location)
	if err != nil {
		loc = time.Local
	}
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	_, err = a.sched.AddFunc("@every 30s", func() {
		go a.SchedGatewayStatsTask()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@daily", func() {
		go a.SchedClearExpireData()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	a.sched.Start()
}

// StatusCounts tallies records per status.
func StatusCounts(records []gateway.Record) map[gateway.Status]int {
	counts := make(map[gateway.Status]int)
	for _, rec := range records {
		counts[rec.Status]++
	}
	return counts
}

// SchedGatewayStatsTask logs session counts and process memory, and writes
// the current snapshot of every account back to the ledger.
func (a *Application) SchedGatewayStatsTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	fields := make([]zap.Field, 0, 8)
	if stats := a.gatewayStats(); stats != nil {
		records := stats.Accounts()
		counts := StatusCounts(records)
		fields = append(fields,
			zap.Int("accounts", len(records)),
			zap.Int("open", counts[gateway.StatusOpen]),
			zap.Int("connecting", counts[gateway.StatusConnecting]),
			zap.Int("reconnecting", counts[gateway.StatusReconnecting]),
			zap.Int("closed", counts[gateway.StatusClosed]),
		)
		a.syncLedger(records)
	}

	p, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // G115: PID is always within int32 range
	if err == nil {
		if meminfo, err := p.MemoryInfo(); err == nil {
			fields = append(fields, zap.Uint64("rss_mb", meminfo.RSS/1024/1024))
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields = append(fields, zap.Float64("system_mem_percent", vm.UsedPercent))
	}
	zap.L().Info("gateway: stats", fields...)
}

func (a *Application) syncLedger(records []gateway.Record) {
	if a.accounts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	for _, rec := range records {
		if err := a.accounts.RecordStatus(ctx, rec.Snapshot()); err != nil {
			zap.L().Warn("ledger: sync status failed",
				zap.String("phone_id", rec.AccountID), zap.Error(err))
		}
	}
}

func (a *Application) SchedClearExpireData() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()
	n, err := a.accounts.PurgeEventLogs(context.Background(), time.Now().Add(-eventLogRetention))
	if err != nil {
		zap.S().Errorf("purge event logs error %s", err.Error())
		return
	}
	if n > 0 {
		zap.S().Infof("purged %d expired event logs", n)
	}
}
