package privacy

import (
	"errors"
	"testing"
	"time"

	"github.com/onnwee/geoprivacy/internal/geo"
)

var nyc = geo.Point{
	Latitude:  40.7128,
	Longitude: -74.0060,
	Accuracy:  8,
	Timestamp: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
}

func TestAnonymize_Properties(t *testing.T) {
	points := []geo.Point{
		nyc,
		{Latitude: -33.8688, Longitude: 151.2093, Timestamp: time.Now()},
		{Latitude: 0, Longitude: 179.9999, Timestamp: time.Now()},
		{Latitude: 89.99, Longitude: 0, Timestamp: time.Now()},
	}

	for _, p := range points {
		for _, radius := range []float64{100, 1000, 5000} {
			first := Anonymize(p, radius)
			for i := 0; i < 200; i++ {
				got := Anonymize(p, radius)

				if got.AccuracyRadius != radius {
					t.Fatalf("AccuracyRadius = %v, want %v", got.AccuracyRadius, radius)
				}
				if !got.IsAnonymized {
					t.Fatal("IsAnonymized = false, want true")
				}
				if !got.Timestamp.Equal(p.Timestamp) {
					t.Fatalf("Timestamp = %v, want %v", got.Timestamp, p.Timestamp)
				}
				d := geo.Distance(p.Latitude, p.Longitude, got.ApproximateLatitude, got.ApproximateLongitude)
				if d > radius+1e-6 {
					t.Fatalf("Anonymize(%v, %v) moved %v meters", p, radius, d)
				}
				if got.ApproximateLatitude < -90 || got.ApproximateLatitude > 90 ||
					got.ApproximateLongitude < -180 || got.ApproximateLongitude > 180 {
					t.Fatalf("Anonymize produced out-of-range coordinates: %+v", got)
				}
			}

			second := Anonymize(p, radius)
			if first.ApproximateLatitude == second.ApproximateLatitude &&
				first.ApproximateLongitude == second.ApproximateLongitude {
				t.Errorf("Anonymize(%v, %v) returned identical coordinates twice", p, radius)
			}
			if first.ApproximateLatitude == p.Latitude && first.ApproximateLongitude == p.Longitude {
				t.Errorf("Anonymize(%v, %v) returned the original coordinates", p, radius)
			}
		}
	}
}

func TestAnonymize_GeohashNoFinerThanRadius(t *testing.T) {
	got := Anonymize(nyc, CityRadiusMeters)
	if want := geo.PrecisionForRadius(CityRadiusMeters); len(got.Geohash) != want {
		t.Errorf("Geohash = %q (len %d), want length %d", got.Geohash, len(got.Geohash), want)
	}
}

func TestFilter(t *testing.T) {
	withPrecision := func(level PrecisionLevel) Settings {
		s := DefaultSettings()
		s.PrecisionLevel = level
		return s
	}
	sharingOff := DefaultSettings()
	sharingOff.LocationSharingEnabled = false
	sharingOff.PrecisionLevel = PrecisionDisabled

	tests := []struct {
		name       string
		settings   Settings
		accessCtx  AccessContext
		wantErr    error
		wantExact  bool
		wantRadius float64
	}{
		{name: "exact returns point unchanged", settings: withPrecision(PrecisionExact), accessCtx: ContextNearby, wantExact: true},
		{name: "approximate uses 100m", settings: withPrecision(PrecisionApproximate), accessCtx: ContextTask, wantRadius: ApproximateRadiusMeters},
		{name: "city uses 5000m", settings: withPrecision(PrecisionCity), accessCtx: ContextNone, wantRadius: CityRadiusMeters},
		{name: "disabled precision", settings: withPrecision(PrecisionDisabled), accessCtx: ContextTask, wantErr: ErrPrecisionDisabled},
		{name: "unknown precision fails closed", settings: withPrecision("street"), accessCtx: ContextTask, wantErr: ErrPrecisionDisabled},
		{name: "sharing disabled", settings: sharingOff, accessCtx: ContextNearby, wantErr: ErrSharingDisabled},
		{name: "sharing disabled without context", settings: sharingOff, accessCtx: ContextNone, wantErr: ErrSharingDisabled},
		{name: "emergency overrides sharing and precision", settings: sharingOff, accessCtx: ContextEmergency, wantExact: true},
		{name: "emergency overrides city precision", settings: withPrecision(PrecisionCity), accessCtx: ContextEmergency, wantExact: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Filter(nyc, tt.settings, tt.accessCtx)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Filter() error = %v, want %v", err, tt.wantErr)
				}
				if got.Exact != nil || got.Approximate != nil {
					t.Errorf("Filter() returned a location alongside error: %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Filter() error = %v", err)
			}

			if tt.wantExact {
				if got.Exact == nil || *got.Exact != nyc {
					t.Errorf("Filter() = %+v, want exact %+v", got, nyc)
				}
				return
			}

			if got.Approximate == nil {
				t.Fatalf("Filter() = %+v, want anonymized location", got)
			}
			if got.Approximate.AccuracyRadius != tt.wantRadius {
				t.Errorf("AccuracyRadius = %v, want %v", got.Approximate.AccuracyRadius, tt.wantRadius)
			}
		})
	}
}

func TestFilter_ApproximateScenario(t *testing.T) {
	settings := Settings{PrecisionLevel: PrecisionApproximate, LocationSharingEnabled: true}

	got, err := Filter(nyc, settings, ContextNone)
	if err != nil {
		t.Fatalf("Filter() error = %v", err)
	}
	loc := got.Approximate
	if loc == nil {
		t.Fatal("expected anonymized location")
	}
	if loc.AccuracyRadius != 100 || !loc.IsAnonymized {
		t.Errorf("got radius %v anonymized %v, want 100 true", loc.AccuracyRadius, loc.IsAnonymized)
	}
	if d := geo.Distance(nyc.Latitude, nyc.Longitude, loc.ApproximateLatitude, loc.ApproximateLongitude); d > 100+1e-6 {
		t.Errorf("anonymized point is %v meters away, want <= 100", d)
	}
	if !loc.Timestamp.Equal(nyc.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", loc.Timestamp, nyc.Timestamp)
	}
}

func TestParseAccessContext(t *testing.T) {
	for _, c := range []AccessContext{ContextEmergency, ContextTask, ContextNearby} {
		got, err := ParseAccessContext(c.String())
		if err != nil || got != c {
			t.Errorf("ParseAccessContext(%q) = %v, %v", c.String(), got, err)
		}
	}
	if _, err := ParseAccessContext("EMERGENCY"); err == nil {
		t.Error("ParseAccessContext should reject unknown names")
	}
}
