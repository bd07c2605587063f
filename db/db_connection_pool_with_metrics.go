package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/bodasure/bodasure-backend/internal/monitor"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

const poolLabelName = "pool"

func NewDBConnectionPoolWithMetrics(ctx context.Context, dbConnectionPool DBConnectionPool, monitorServiceInterface monitor.MonitorServiceInterface) (*DBConnectionPoolWithMetrics, error) {
	sqlExec, err := NewSQLExecuterWithMetrics(dbConnectionPool, monitorServiceInterface)
	if err != nil {
		return nil, fmt.Errorf("error creating SQLExecuterWithMetrics: %w", err)
	}

	registerPoolMetrics(ctx, dbConnectionPool, monitorServiceInterface)

	return &DBConnectionPoolWithMetrics{
		dbConnectionPool:       dbConnectionPool,
		SQLExecuterWithMetrics: *sqlExec,
	}, nil
}

func registerPoolMetrics(ctx context.Context, dbConnectionPool DBConnectionPool, monitorServiceInterface monitor.MonitorServiceInterface) {
	labels := map[string]string{
		poolLabelName: "main",
	}

	db, err := dbConnectionPool.SqlDB(ctx)
	if err != nil {
		log.Ctx(ctx).Errorf("Error getting SQL DB for pool metrics: %s", err)
		return
	}

	gauges := map[monitor.MetricTag]struct {
		help string
		fn   func(sql.DBStats) float64
	}{
		monitor.DBOpenConnectionsTag: {
			help: "The number of established connections both in use and idle",
			fn:   func(s sql.DBStats) float64 { return float64(s.OpenConnections) },
		},
		monitor.DBInUseConnectionsTag: {
			help: "The number of connections currently in use",
			fn:   func(s sql.DBStats) float64 { return float64(s.InUse) },
		},
		monitor.DBIdleConnectionsTag: {
			help: "The number of idle connections",
			fn:   func(s sql.DBStats) float64 { return float64(s.Idle) },
		},
		monitor.DBMaxOpenConnectionsTag: {
			help: "Maximum number of open connections to the database",
			fn:   func(s sql.DBStats) float64 { return float64(s.MaxOpenConnections) },
		},
	}
	for tag, g := range gauges {
		fn := g.fn
		registerErr := monitorServiceInterface.RegisterFunctionMetric(
			monitor.FuncGaugeType,
			monitor.FuncMetricOptions{
				Namespace: monitor.DefaultNamespace, Subservice: string(monitor.DBSubservice), Name: string(tag),
				Help:     g.help,
				Labels:   labels,
				Function: func() float64 { return fn(db.Stats()) },
			})
		if registerErr != nil {
			log.Ctx(ctx).Errorf("Error registering DB pool gauge %s: %s", tag, registerErr)
		}
	}

	counters := map[monitor.MetricTag]struct {
		help string
		fn   func(sql.DBStats) float64
	}{
		monitor.DBWaitCountTotalTag: {
			help: "The total number of connections waited for",
			fn:   func(s sql.DBStats) float64 { return float64(s.WaitCount) },
		},
		monitor.DBWaitDurationSecondsTotalTag: {
			help: "The total time blocked waiting for a new connection",
			fn:   func(s sql.DBStats) float64 { return s.WaitDuration.Seconds() },
		},
		monitor.DBMaxIdleClosedTotalTag: {
			help: "The total number of connections closed due to SetMaxIdleConns",
			fn:   func(s sql.DBStats) float64 { return float64(s.MaxIdleClosed) },
		},
		monitor.DBMaxIdleTimeClosedTotalTag: {
			help: "The total number of connections closed due to SetConnMaxIdleTime",
			fn:   func(s sql.DBStats) float64 { return float64(s.MaxIdleTimeClosed) },
		},
		monitor.DBMaxLifetimeClosedTotalTag: {
			help: "The total number of connections closed due to SetConnMaxLifetime",
			fn:   func(s sql.DBStats) float64 { return float64(s.MaxLifetimeClosed) },
		},
	}
	for tag, c := range counters {
		fn := c.fn
		registerErr := monitorServiceInterface.RegisterFunctionMetric(
			monitor.FuncCounterType,
			monitor.FuncMetricOptions{
				Namespace: monitor.DefaultNamespace, Subservice: string(monitor.DBSubservice), Name: string(tag),
				Help:     c.help,
				Labels:   labels,
				Function: func() float64 { return fn(db.Stats()) },
			})
		if registerErr != nil {
			log.Ctx(ctx).Errorf("Error registering DB pool counter %s: %s", tag, registerErr)
		}
	}
}

// DBConnectionPoolWithMetrics is a wrapper around sqlx.DB that implements DBConnectionPool with the monitoring service.
type DBConnectionPoolWithMetrics struct {
	dbConnectionPool DBConnectionPool
	SQLExecuterWithMetrics
}

// make sure *DBConnectionPoolWithMetrics implements DBConnectionPool:
var _ DBConnectionPool = (*DBConnectionPoolWithMetrics)(nil)

func (dbc *DBConnectionPoolWithMetrics) BeginTxx(ctx context.Context, opts *sql.TxOptions) (DBTransaction, error) {
	dbTransaction, err := dbc.dbConnectionPool.BeginTxx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("error starting a new transaction: %w", err)
	}

	return NewDBTransactionWithMetrics(dbTransaction, dbc.monitorServiceInterface)
}

func (dbc *DBConnectionPoolWithMetrics) Close() error {
	return dbc.dbConnectionPool.Close()
}

func (dbc *DBConnectionPoolWithMetrics) Ping(ctx context.Context) error {
	return dbc.dbConnectionPool.Ping(ctx)
}

func (dbc *DBConnectionPoolWithMetrics) SqlDB(ctx context.Context) (*sql.DB, error) {
	return dbc.dbConnectionPool.SqlDB(ctx)
}

func (dbc *DBConnectionPoolWithMetrics) SqlxDB(ctx context.Context) (*sqlx.DB, error) {
	return dbc.dbConnectionPool.SqlxDB(ctx)
}

func (dbc *DBConnectionPoolWithMetrics) DSN(ctx context.Context) (string, error) {
	return dbc.dbConnectionPool.DSN(ctx)
}
