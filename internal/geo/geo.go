// Package geo projects the simulated GPS fix for map clients.
package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// MaxMercatorLatitude bounds what EPSG:3857 can represent.
const MaxMercatorLatitude = 85.05112878

// Position is one fix in WGS84 and web mercator, plus its GeoJSON point.
type Position struct {
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	X         float64         `json:"x"`
	Y         float64         `json:"y"`
	GeoJSON   json.RawMessage `json:"geojson"`
}

var to3857 = wgs84.EPSG().Transform(4326, 3857)

// Coords3857From4326 creates a web mercator point from a longitude and latitude
func Coords3857From4326(
	longitude float64,
	latitude float64,
) (
	point geom.Point,
	err error,
) {
	if err := validate(longitude, latitude); err != nil {
		return geom.Point{}, err
	}
	x, y, _ := to3857(longitude, latitude, 0)
	point, err = geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: x, Y: y},
			Type: geom.DimXY,
		},
	)
	if err != nil {
		return geom.Point{}, fmt.Errorf("%w: %w", ErrInvalidCoordinates, err)
	}
	return point, nil
}

// Project converts a WGS84 fix into a Position.
func Project(latitude, longitude float64) (Position, error) {
	merc, err := Coords3857From4326(longitude, latitude)
	if err != nil {
		return Position{}, err
	}
	xy, _ := merc.XY()

	point, err := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: longitude, Y: latitude},
		Type: geom.DimXY,
	})
	if err != nil {
		return Position{}, fmt.Errorf("%w: %w", ErrInvalidCoordinates, err)
	}
	raw, err := point.MarshalJSON()
	if err != nil {
		return Position{}, fmt.Errorf("marshal geojson point: %w", err)
	}

	return Position{
		Latitude:  latitude,
		Longitude: longitude,
		X:         xy.X,
		Y:         xy.Y,
		GeoJSON:   raw,
	}, nil
}

func validate(longitude, latitude float64) error {
	switch {
	case math.IsNaN(longitude) || math.IsNaN(latitude):
		return ErrInvalidCoordinates
	case math.Abs(latitude) > MaxMercatorLatitude:
		return fmt.Errorf("%w: latitude %f outside web mercator range", ErrInvalidCoordinates, latitude)
	case math.Abs(longitude) > 180:
		return fmt.Errorf("%w: longitude %f", ErrInvalidCoordinates, longitude)
	}
	return nil
}
