package geo

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestCoords3857From4326_Origin(t *testing.T) {
	point, err := Coords3857From4326(0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	xy, ok := point.XY()
	if !ok {
		t.Fatal("expected non-empty point")
	}
	if math.Abs(xy.X) > 1e-3 || math.Abs(xy.Y) > 1e-3 {
		t.Errorf("expected origin, got %f,%f", xy.X, xy.Y)
	}
}

func TestCoords3857From4326_Berlin(t *testing.T) {
	point, err := Coords3857From4326(13.405, 52.52)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	xy, _ := point.XY()
	// 6378137 * lon in radians
	wantX := 6378137 * 13.405 * math.Pi / 180
	if math.Abs(xy.X-wantX) > 1 {
		t.Errorf("expected X=%f, got %f", wantX, xy.X)
	}
	if math.Abs(xy.Y-6894699.8) > 1 {
		t.Errorf("expected Y≈6894699.8, got %f", xy.Y)
	}
}

func TestCoords3857From4326_RejectsPolarLatitude(t *testing.T) {
	_, err := Coords3857From4326(0, 89.9)
	if !errors.Is(err, ErrInvalidCoordinates) {
		t.Errorf("expected ErrInvalidCoordinates, got %v", err)
	}
}

func TestCoords3857From4326_RejectsNaN(t *testing.T) {
	_, err := Coords3857From4326(math.NaN(), 10)
	if !errors.Is(err, ErrInvalidCoordinates) {
		t.Errorf("expected ErrInvalidCoordinates, got %v", err)
	}
}

func TestCoords3857From4326_RejectsLongitude(t *testing.T) {
	_, err := Coords3857From4326(181, 0)
	if !errors.Is(err, ErrInvalidCoordinates) {
		t.Errorf("expected ErrInvalidCoordinates, got %v", err)
	}
}

func TestProject(t *testing.T) {
	pos, err := Project(52.52, 13.405)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pos.Latitude != 52.52 || pos.Longitude != 13.405 {
		t.Errorf("unexpected WGS84 fix: %+v", pos)
	}
	if pos.X == 0 || pos.Y == 0 {
		t.Errorf("expected projected coordinates, got %f,%f", pos.X, pos.Y)
	}

	var gj struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	}
	if err := json.Unmarshal(pos.GeoJSON, &gj); err != nil {
		t.Fatalf("invalid geojson: %v", err)
	}
	if gj.Type != "Point" {
		t.Errorf("expected Point, got %s", gj.Type)
	}
	if len(gj.Coordinates) != 2 || gj.Coordinates[0] != 13.405 || gj.Coordinates[1] != 52.52 {
		t.Errorf("expected [lon,lat], got %v", gj.Coordinates)
	}
}

func TestProject_EncodesAsJSON(t *testing.T) {
	pos, err := Project(-33.86, 151.21)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := json.Marshal(pos)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"latitude", "longitude", "x", "y", "geojson"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing key %s", key)
		}
	}
	if pos.Y >= 0 {
		t.Errorf("southern hemisphere should project to negative Y, got %f", pos.Y)
	}
}

func TestProject_InvalidLatitude(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
	}{
		{"beyond mercator", 95, 0},
		{"south pole", -90, 0},
		{"longitude overflow", 52.52, 200},
		{"nan latitude", math.NaN(), 13.405},
		{"nan longitude", 52.52, math.NaN()},
		{"infinite latitude", math.Inf(1), 0},
		{"infinite longitude", 0, math.Inf(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, err := Project(tt.lat, tt.lon)
			if !errors.Is(err, ErrInvalidCoordinates) {
				t.Errorf("expected ErrInvalidCoordinates, got %v", err)
			}
			if pos.GeoJSON != nil {
				t.Errorf("expected empty position on error, got %s", pos.GeoJSON)
			}
			if _, err := Coords3857From4326(tt.lon, tt.lat); !errors.Is(err, ErrInvalidCoordinates) {
				t.Errorf("Coords3857From4326: expected ErrInvalidCoordinates, got %v", err)
			}
		})
	}
}
