// Package metricstore implements the metric & command store gateway
// (C1): reading the last ≤15 minutes of sensor samples and writing
// control commands, twice, to the control-commands (audit) and
// locations (current-state) measurements. Backed by InfluxDB's
// line-protocol wire format per spec §6.
package metricstore

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/automatabms/corefabric/internal/controlalgo"
	"github.com/automatabms/corefabric/internal/eventlog"
	"github.com/automatabms/corefabric/internal/scalar"
	"github.com/automatabms/corefabric/internal/types"
)

// Config holds the InfluxDB connection parameters named in spec §6.
type Config struct {
	URL      string
	Token    string
	Database string // v1-compat bucket; org is left empty
}

// Gateway is the metric & command store gateway (C1).
type Gateway struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	queryAPI    api.QueryAPI
	database    string
	consecutiveReadFailures atomic.Int64
}

// New creates a Gateway backed by a real InfluxDB connection.
func New(cfg Config) *Gateway {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Gateway{
		client:   client,
		writeAPI: client.WriteAPIBlocking("", cfg.Database),
		queryAPI: client.QueryAPI(""),
		database: cfg.Database,
	}
}

// Close releases the underlying connection.
func (g *Gateway) Close() {
	g.client.Close()
}

const maxConsecutiveReadFailures = 2

// ReadLatestMetrics returns the most recent sample per field for
// equipmentID within the last windowMinutes (default 15), merged
// across the window. System/tag fields are never surfaced. After more
// than maxConsecutiveReadFailures consecutive read errors, degrades to
// the conservative fallback map rather than erroring (spec §4.1).
func (g *Gateway) ReadLatestMetrics(ctx context.Context, equipmentID, locationID string, windowMinutes int) (types.MetricMap, error) {
	if windowMinutes <= 0 {
		windowMinutes = 15
	}

	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == "metrics" and r.equipmentId == %q and r.locationId == %q)
  |> last()
`, g.database, windowMinutes, equipmentID, locationID)

	result, err := g.queryAPI.Query(ctx, flux)
	if err != nil {
		if g.consecutiveReadFailures.Add(1) > maxConsecutiveReadFailures {
			eventlog.Global().LogJobSkipped("", equipmentID, "metric read degraded to fallback: "+err.Error())
			return types.FallbackMetrics(), nil
		}
		return nil, fmt.Errorf("metricstore: query: %w", err)
	}
	g.consecutiveReadFailures.Store(0)
	defer result.Close()

	merged := types.MetricMap{}
	for result.Next() {
		rec := result.Record()
		field := rec.Field()
		if types.IsSystemTagField(field) {
			continue
		}
		merged[field] = scalar.FromAny(rec.Value())
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("metricstore: result iteration: %w", result.Err())
	}

	if len(merged) == 0 {
		return types.FallbackMetrics(), nil
	}
	return merged, nil
}

// ReadRecentUICommands returns the count of operator-originated
// commands within windowMinutes for equipmentID, used by the smart
// gate (C5) as a boolean "was this recently touched" signal.
func (g *Gateway) ReadRecentUICommands(ctx context.Context, equipmentID string, windowMinutes int) (int, error) {
	if windowMinutes <= 0 {
		windowMinutes = 5
	}
	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == "ControlCommands" and r.equipment_id == %q and r.source == "operator")
  |> count()
`, g.database, windowMinutes, equipmentID)

	result, err := g.queryAPI.Query(ctx, flux)
	if err != nil {
		return 0, fmt.Errorf("metricstore: query recent commands: %w", err)
	}
	defer result.Close()

	count := 0
	for result.Next() {
		count += int(scalar.ParseSafeNumber(scalar.FromAny(result.Record().Value()), 0))
	}
	return count, nil
}

// WriteCommands emits one timestamped row per command to both the
// ControlCommands (audit) and Locations (current-state) measurements,
// idempotent on replay. Errors are returned per-field; one malformed
// value never loses the rest of the batch (spec §4.1).
func (g *Gateway) WriteCommands(ctx context.Context, equipmentID, locationID, equipmentTypeTag string, commands []types.ControlCommand) []types.WriteResult {
	results := make([]types.WriteResult, 0, len(commands))
	for _, cmd := range commands {
		err := g.writeOne(ctx, equipmentID, locationID, equipmentTypeTag, cmd)
		res := types.WriteResult{Field: cmd.CommandType, OK: err == nil}
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results
}

func (g *Gateway) writeOne(ctx context.Context, equipmentID, locationID, equipmentTypeTag string, cmd types.ControlCommand) error {
	conv := controlalgo.FieldConvention(equipmentTypeTag, cmd.CommandType)
	value := wireValue(cmd.Value, conv)

	tags := map[string]string{
		"equipment_id":  equipmentID,
		"location_id":   locationID,
		"command_type":  cmd.CommandType,
		"equipment_type": equipmentTypeTag,
		"source":        cmd.SourceTag,
		"status":        cmd.StatusTag,
	}
	fields := map[string]interface{}{"value": value}
	ts := time.Unix(0, cmd.TimestampNs)

	writeRetry := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	op := func() error {
		for _, measurement := range []string{"ControlCommands", "Locations"} {
			point := influxdb2.NewPoint(measurement, tags, fields, ts)
			if err := g.writeAPI.WritePoint(ctx, point); err != nil {
				return err
			}
		}
		return nil
	}
	return backoff.Retry(op, writeRetry)
}

// wireValue coerces a Scalar to the wire representation the field's
// boolean convention expects. Numeric outputs are always coerced to
// float64 first; the two boolean conventions (1.0/0.0 vs quoted
// "true"/"false") are applied per field-by-field mapping rather than
// unified (spec §9 open question #1).
func wireValue(s scalar.Scalar, conv types.FieldConvention) interface{} {
	if !conv.IsBoolean {
		return scalar.ParseSafeNumber(s, 0)
	}
	b := scalar.ParseSafeBoolean(s, false)
	if conv.Convention == types.BoolAsQuotedString {
		if b {
			return "true"
		}
		return "false"
	}
	if b {
		return 1.0
	}
	return 0.0
}
