package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/transitatlas/isochrone-cache/internal/model"
)

func viewportBox() model.BBox {
	return model.BBox{MinLat: 40.70, MinLng: -74.02, MaxLat: 40.75, MaxLng: -73.95}
}

func TestIntersectionsInViewport(t *testing.T) {
	st, mock := newMockStore(t, nil)
	key := mockKey()
	bbox := viewportBox()

	rows := sqlmock.NewRows([]string{"id", "osm_node_id", "name", "lat", "lng", "borough", "sample_group", "is_computed"}).
		AddRow(1, 100, "Wall & Broad", 40.707, -74.011, "Manhattan", 0, true).
		AddRow(2, 101, "Pearl & Fulton", 40.709, -74.004, "Manhattan", 3, false)

	mock.ExpectQuery(`FROM intersections i`).
		WithArgs(bbox.MinLat, bbox.MaxLat, bbox.MinLng, bbox.MaxLng,
			key.Mode, key.Departure, key.DayType, nil, 500).
		WillReturnRows(rows)

	got, err := st.IntersectionsInViewport(context.Background(), bbox, 500, key, nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(got) != 2 || !got[0].IsComputed || got[1].IsComputed {
		t.Fatalf("got %+v", got)
	}
	expectDone(t, mock)
}

func TestIntersectionsInViewportSampleGroup(t *testing.T) {
	st, mock := newMockStore(t, nil)
	key := mockKey()
	bbox := viewportBox()
	sg := 2

	mock.ExpectQuery(`FROM intersections i`).
		WithArgs(bbox.MinLat, bbox.MaxLat, bbox.MinLng, bbox.MaxLng,
			key.Mode, key.Departure, key.DayType, &sg, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "osm_node_id", "name", "lat", "lng", "borough", "sample_group", "is_computed"}))

	if _, err := st.IntersectionsInViewport(context.Background(), bbox, 100, key, &sg); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	expectDone(t, mock)
}

func TestStopsNearbyUsesLngLatOrder(t *testing.T) {
	st, mock := newMockStore(t, nil)

	rows := sqlmock.NewRows([]string{"id", "gtfs_stop_id", "stop_name", "lat", "lng", "stop_type", "agency"}).
		AddRow(10, "R25", "Court St", 40.6941, -73.9918, "subway", "MTA")

	// PostGIS points are (lng, lat)
	mock.ExpectQuery(`ST_DWithin`).
		WithArgs(-73.99, 40.69, 500.0, 50).
		WillReturnRows(rows)

	stops, err := st.StopsNearby(context.Background(), 40.69, -73.99, 500, 50)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(stops) != 1 || stops[0].GTFSStopID != "R25" {
		t.Fatalf("stops: %+v", stops)
	}
	expectDone(t, mock)
}

func TestStopsInViewport(t *testing.T) {
	st, mock := newMockStore(t, nil)
	bbox := viewportBox()

	mock.ExpectQuery(`FROM transit_stops`).
		WithArgs(bbox.MinLat, bbox.MaxLat, bbox.MinLng, bbox.MaxLng, 200).
		WillReturnRows(sqlmock.NewRows([]string{"id", "gtfs_stop_id", "stop_name", "lat", "lng", "stop_type", "agency"}))

	if _, err := st.StopsInViewport(context.Background(), bbox, 200); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	expectDone(t, mock)
}
