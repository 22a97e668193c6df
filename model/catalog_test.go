package model

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/signalsfoundry/across/core"
)

func TestInstrumentValidateFootprint(t *testing.T) {
	t.Parallel()
	square := core.BodyPolygon{{X: -0.5, Y: -0.5}, {X: 0.5, Y: -0.5}, {X: 0.5, Y: 0.5}, {X: -0.5, Y: 0.5}}
	closed := append(append(core.BodyPolygon{}, square...), square[0])

	tests := []struct {
		name      string
		fov       FOVKind
		footprint core.Footprint
		wantErr   error
	}{
		{"polygon square", FOVPolygon, core.Footprint{square}, nil},
		{"polygon closed ring", FOVPolygon, core.Footprint{closed}, nil},
		{"polygon without rings", FOVPolygon, nil, ErrInvalidParameters},
		{"polygon empty ring", FOVPolygon, core.Footprint{{}}, ErrInvalidParameters},
		{"polygon two vertices", FOVPolygon, core.Footprint{{{X: 0, Y: 0}, {X: 1, Y: 0}}}, ErrInvalidParameters},
		{"polygon repeated vertices", FOVPolygon, core.Footprint{{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 0}, {X: 1, Y: 0}}}, ErrInvalidParameters},
		{"second ring too short", FOVPolygon, core.Footprint{square, {{X: 2, Y: 2}}}, ErrInvalidParameters},
		{"point", FOVPoint, nil, nil},
		{"point with footprint", FOVPoint, core.Footprint{square}, ErrInvalidParameters},
		{"unknown field of view", FOVKind("cone"), nil, ErrInvalidParameters},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			inst := Instrument{ID: uuid.New(), FieldOfView: tt.fov, Footprint: tt.footprint}
			if err := inst.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
