package workflow

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/mmdatafocus/mrv_backend/config"
	"github.com/mmdatafocus/mrv_backend/models"
	"github.com/mmdatafocus/mrv_backend/utils"
	"github.com/sirupsen/logrus"
)

const (
	defaultSensorHours = 24
	sensorReadingLimit = 500
)

// SensorSink receives a copy of every stored reading.
type SensorSink interface {
	WriteReading(ctx context.Context, reading models.SensorReading) error
	Close()
}

// InfluxSensorSink mirrors readings into an InfluxDB bucket for dashboards.
type InfluxSensorSink struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
}

// NewInfluxSensorSinkFromEnv returns nil when INFLUXDB_URL is not set.
//
// INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG, INFLUXDB_BUCKET (default mrv_sensors)
func NewInfluxSensorSinkFromEnv() *InfluxSensorSink {
	url := strings.TrimSpace(os.Getenv("INFLUXDB_URL"))
	if url == "" {
		return nil
	}
	bucket := os.Getenv("INFLUXDB_BUCKET")
	if bucket == "" {
		bucket = "mrv_sensors"
	}
	client := influxdb2.NewClient(url, os.Getenv("INFLUXDB_TOKEN"))
	return &InfluxSensorSink{
		client: client,
		writer: client.WriteAPIBlocking(os.Getenv("INFLUXDB_ORG"), bucket),
	}
}

func (s *InfluxSensorSink) WriteReading(ctx context.Context, r models.SensorReading) error {
	p := influxdb2.NewPointWithMeasurement("sensor_readings").
		AddTag("farmer_id", strconv.Itoa(r.FarmerId)).
		AddTag("sensor_id", r.SensorId).
		AddTag("sensor_type", string(r.SensorType)).
		AddField("value", r.Value).
		AddField("unit", r.Unit).
		AddField("latitude", r.Location.Latitude).
		AddField("longitude", r.Location.Longitude).
		SetTime(r.Timestamp)
	if r.Quality != "" {
		p = p.AddTag("quality", r.Quality)
	}
	if r.BatteryLevel != nil {
		p = p.AddField("battery_level", *r.BatteryLevel)
	}
	return s.writer.WritePoint(ctx, p)
}

func (s *InfluxSensorSink) Close() {
	s.client.Close()
}

type SensorRecorder struct {
	Store  models.Store
	Sink   SensorSink
	Logger *logrus.Logger

	now func() time.Time
}

func NewSensorRecorder(store models.Store, sink SensorSink, logger *logrus.Logger) *SensorRecorder {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &SensorRecorder{Store: store, Sink: sink, Logger: logger, now: time.Now}
}

func (s *SensorRecorder) AddSensorReading(ctx context.Context, farmerId int, input models.NewSensorReading) (*models.SensorReading, error) {
	ctx, _, err := authorizeFarmer(ctx, s.Store, farmerId)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.SensorType.IsValid() {
		return nil, fmt.Errorf("%w: unknown sensor type %q", models.ErrInvalidInput, input.SensorType)
	}
	if input.CropId != nil {
		crop, err := s.Store.GetCrop(ctx, *input.CropId)
		if err != nil {
			return nil, err
		}
		if crop.FarmerId != farmerId {
			return nil, models.ErrOwnership
		}
	}

	reading := &models.SensorReading{
		FarmerId:       farmerId,
		CropId:         input.CropId,
		SensorId:       input.SensorId,
		SensorType:     input.SensorType,
		Location:       input.Location,
		Timestamp:      s.clock().UTC(),
		Value:          input.Value,
		Unit:           input.Unit,
		Quality:        input.Quality,
		BatteryLevel:   input.BatteryLevel,
		SignalStrength: input.SignalStrength,
	}
	if err := s.Store.CreateSensorReading(ctx, reading); err != nil {
		return nil, err
	}
	if s.Sink != nil {
		if err := s.Sink.WriteReading(ctx, *reading); err != nil {
			config.LogError(s.Logger, "sensorWorkflow.go", "AddSensorReading", "WriteReading", reading.ID, err)
		}
	}
	return reading, nil
}

// ListSensorReadings returns the readings of the last hours, newest first.
func (s *SensorRecorder) ListSensorReadings(ctx context.Context, farmerId int, sensorType models.SensorType, hours int) ([]models.SensorReading, error) {
	ctx, _, err := authorizeFarmer(ctx, s.Store, farmerId)
	if err != nil {
		return nil, err
	}
	if hours <= 0 {
		hours = defaultSensorHours
	}
	return s.Store.ListSensorReadings(ctx, models.SensorQuery{
		FarmerId:   farmerId,
		SensorType: sensorType,
		Since:      s.clock().UTC().Add(-time.Duration(hours) * time.Hour),
		Limit:      sensorReadingLimit,
	})
}

func (s *SensorRecorder) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}
