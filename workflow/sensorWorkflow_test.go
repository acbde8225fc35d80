package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/mrv_backend/models"
)

type recordingSink struct {
	readings []models.SensorReading
	err      error
}

func (s *recordingSink) WriteReading(_ context.Context, r models.SensorReading) error {
	s.readings = append(s.readings, r)
	return s.err
}

func (s *recordingSink) Close() {}

func TestSensorReadingsWindowAndSink(t *testing.T) {
	env := newTestEnv(&countingAnalyzer{confidence: 90})
	farmer := seedFarmer(t, env.store, 11, "2")
	crop := seedCrop(t, env.store, farmer.ID, models.PracticeTypeSRI, "1")
	sink := &recordingSink{err: errors.New("influx down")}
	env.sensors.Sink = sink
	ctx := userCtx(11)

	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	env.sensors.now = func() time.Time { return base.Add(-30 * time.Hour) }
	if _, err := env.sensors.AddSensorReading(ctx, farmer.ID, models.NewSensorReading{
		SensorId: "m-1", SensorType: models.SensorTypeMethane, Value: 1.2, Unit: "ppm",
	}); err != nil {
		t.Fatalf("old reading: %v", err)
	}
	env.sensors.now = func() time.Time { return base.Add(-time.Hour) }
	if _, err := env.sensors.AddSensorReading(ctx, farmer.ID, models.NewSensorReading{
		CropId: &crop.ID, SensorId: "s-1", SensorType: models.SensorTypeSoilMoisture, Value: 41, Unit: "%", Quality: "good",
	}); err != nil {
		t.Fatalf("moisture reading: %v", err)
	}
	env.sensors.now = func() time.Time { return base.Add(-time.Minute) }
	if _, err := env.sensors.AddSensorReading(ctx, farmer.ID, models.NewSensorReading{
		SensorId: "m-1", SensorType: models.SensorTypeMethane, Value: 0.9, Unit: "ppm",
	}); err != nil {
		t.Fatalf("methane reading: %v", err)
	}
	// sink failures are logged, not returned
	if len(sink.readings) != 3 {
		t.Fatalf("expected 3 mirrored readings, got %d", len(sink.readings))
	}

	env.sensors.now = func() time.Time { return base }
	all, err := env.sensors.ListSensorReadings(ctx, farmer.ID, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].SensorType != models.SensorTypeMethane || all[1].SensorType != models.SensorTypeSoilMoisture {
		t.Fatalf("expected the two readings of the last day newest first, got %+v", all)
	}
	methane, err := env.sensors.ListSensorReadings(ctx, farmer.ID, models.SensorTypeMethane, 48)
	if err != nil {
		t.Fatalf("list methane: %v", err)
	}
	if len(methane) != 2 {
		t.Fatalf("expected both methane readings over 48h, got %d", len(methane))
	}
}

func TestSensorReadingValidation(t *testing.T) {
	env := newTestEnv(&countingAnalyzer{confidence: 90})
	farmer := seedFarmer(t, env.store, 12, "2")
	other := seedFarmer(t, env.store, 13, "2")
	foreignCrop := seedCrop(t, env.store, other.ID, models.PracticeTypeSRI, "1")
	ctx := userCtx(12)

	if _, err := env.sensors.AddSensorReading(ctx, farmer.ID, models.NewSensorReading{
		SensorId: "x", SensorType: "humidity", Value: 1,
	}); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown type, got %v", err)
	}
	if _, err := env.sensors.AddSensorReading(ctx, farmer.ID, models.NewSensorReading{
		CropId: &foreignCrop.ID, SensorId: "x", SensorType: models.SensorTypePh, Value: 6.5,
	}); !errors.Is(err, models.ErrOwnership) {
		t.Fatalf("expected ErrOwnership for another farmer's crop, got %v", err)
	}
	if _, err := env.sensors.AddSensorReading(userCtx(13), farmer.ID, models.NewSensorReading{
		SensorId: "x", SensorType: models.SensorTypePh, Value: 6.5,
	}); !errors.Is(err, models.ErrOwnership) {
		t.Fatalf("expected ErrOwnership for another user, got %v", err)
	}
}
